package helpers

import "time"

// IntSecondDefault converts *_sec config fields, zero means unset.
func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Second
}
