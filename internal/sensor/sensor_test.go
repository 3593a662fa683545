package sensor

import (
	"io/ioutil"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensord/log2"
)

func writeProc(t testing.TB, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, ioutil.WriteFile(p, []byte(content), 0600))
	return p
}

func TestSampleRanges(t *testing.T) {
	t.Parallel()
	s := NewSource(Options{
		Log:         log2.NewTest(t, log2.LDebug),
		ProcStat:    "/nonexistent/stat",
		ProcMeminfo: "/nonexistent/meminfo",
		Rand:        rand.New(rand.NewSource(42)),
	})
	motion := [2]int{}
	for i := 0; i < 200; i++ {
		d := s.Sample()
		assert.True(t, d.Temperature >= 20 && d.Temperature <= 30, "temperature=%v", d.Temperature)
		assert.True(t, d.Humidity >= 40 && d.Humidity <= 80, "humidity=%v", d.Humidity)
		assert.True(t, d.Pressure >= 1000 && d.Pressure <= 1020, "pressure=%v", d.Pressure)
		assert.True(t, d.Light >= 0 && d.Light <= 100, "light=%v", d.Light)
		assert.Equal(t, round2(d.Temperature), d.Temperature)
		assert.Equal(t, round2(d.Pressure), d.Pressure)
		assert.Equal(t, 0.0, d.CPUUsage)
		assert.Equal(t, 0.0, d.MemoryUsage)
		if d.MotionDetected {
			motion[1]++
		} else {
			motion[0]++
		}
	}
	assert.True(t, motion[0] > 0 && motion[1] > 0, "motion=%v", motion)
}

func TestCPUProbe(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		input  string
		expect float64
		err    string
	}{
		{"ok", "cpu  100 0 100 200 0 0 0 0 0 0\ncpu0 100 0 100 200 0 0 0 0 0 0\n", 50, ""},
		{"idle-only", "cpu 0 0 0 100\n", 0, ""},
		{"busy", "cpu 75 0 0 25\n", 75, ""},
		{"garbage", "hello world and more words\n", 0, "stat malformed"},
		{"not-number", "cpu one two three four\n", 0, "stat field"},
		{"short", "cpu 1 2 3\n", 0, "stat malformed"},
		{"zero-total", "cpu 0 0 0 0\n", 0, "stat total=0"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			s := NewSource(Options{
				Log:      log2.NewTest(t, log2.LDebug),
				ProcStat: writeProc(t, "stat", c.input),
			})
			v, err := s.cpuUsage()
			if c.err == "" {
				require.NoError(t, err)
				assert.Equal(t, c.expect, v)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.err)
				d := s.Sample()
				assert.Equal(t, 0.0, d.CPUUsage)
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		s := NewSource(Options{Log: log2.NewTest(t, log2.LDebug), ProcStat: "/nonexistent/stat"})
		_, err := s.cpuUsage()
		require.Error(t, err)
	})
}

func TestMemoryProbe(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		input  string
		expect float64
		err    string
	}{
		{"ok", "MemTotal:       1000 kB\nMemFree:         250 kB\nMemAvailable:    300 kB\n", 75, ""},
		{"all-free", "MemTotal: 4096 kB\nMemFree: 4096 kB\n", 0, ""},
		{"zero-total", "MemTotal: 0 kB\nMemFree: 0 kB\n", 0, "meminfo total=0"},
		{"one-line", "MemTotal: 1000 kB\n", 0, "meminfo malformed"},
		{"not-number", "MemTotal: many kB\nMemFree: few kB\n", 0, "meminfo line"},
		{"empty", "", 0, "meminfo malformed"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			s := NewSource(Options{
				Log:         log2.NewTest(t, log2.LDebug),
				ProcMeminfo: writeProc(t, "meminfo", c.input),
			})
			v, err := s.memoryUsage()
			if c.err == "" {
				require.NoError(t, err)
				assert.Equal(t, c.expect, v)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.err)
				d := s.Sample()
				assert.Equal(t, 0.0, d.MemoryUsage)
			}
		})
	}
}
