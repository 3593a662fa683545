package helpers

import "encoding/hex"

// MustHex panics on bad input. For compile-time constants only:
// test fixtures and the TLS PSK from config.
func MustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
