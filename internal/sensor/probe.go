package sensor

import (
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// cpuUsage reads the aggregate cpu line of /proc/stat.
// Value is the non-idle share since boot, 0..100.
func (s *Source) cpuUsage() (float64, error) {
	b, err := ioutil.ReadFile(s.procStat)
	if err != nil {
		return 0, errors.Trace(err)
	}
	line := string(b)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, errors.Errorf("stat malformed line=%q", line)
	}
	var total, idle float64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, errors.Annotatef(err, "stat field=%q", f)
		}
		total += float64(v)
		if i == 3 {
			idle = float64(v)
		}
	}
	if total == 0 {
		return 0, errors.Errorf("stat total=0")
	}
	return round2(100 * (1 - idle/total)), nil
}

// memoryUsage reads /proc/meminfo. MemTotal and MemFree are the first
// two lines on every kernel this targets.
func (s *Source) memoryUsage() (float64, error) {
	b, err := ioutil.ReadFile(s.procMeminfo)
	if err != nil {
		return 0, errors.Trace(err)
	}
	lines := strings.SplitN(string(b), "\n", 3)
	if len(lines) < 2 {
		return 0, errors.Errorf("meminfo malformed")
	}
	total, err := meminfoKB(lines[0])
	if err != nil {
		return 0, errors.Trace(err)
	}
	free, err := meminfoKB(lines[1])
	if err != nil {
		return 0, errors.Trace(err)
	}
	if total == 0 {
		return 0, errors.Errorf("meminfo total=0")
	}
	return round2(100 * (1 - free/total)), nil
}

func meminfoKB(line string) (float64, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, errors.Errorf("meminfo malformed line=%q", line)
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, errors.Annotatef(err, "meminfo line=%q", line)
	}
	return float64(v), nil
}
