package log2

import (
	"bytes"
	"fmt"
	"log"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLog2(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fun  func(t testing.TB, l *Log) string
	}{
		{"caller/debug", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Debugf("sample rate=%d", 1000)
			return formatCallerShort(1) + "debug: sample rate=1000\n"
		}},
		{"caller/info", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Infof("listen addr=%s", "0.0.0.0:8080")
			return formatCallerShort(1) + "listen addr=0.0.0.0:8080\n"
		}},
		{"caller/error", func(t testing.TB, l *Log) string {
			l.SetFlags(log.Lshortfile)
			l.Errorf("problem")
			return formatCallerShort(1) + "error: problem\n"
		}},
		{"error-func/error", func(t testing.TB, l *Log) string {
			ech := make(chan error, 1)
			l.SetErrorFunc(func(e error) { ech <- e })
			l.SetFlags(0)
			exactError := fmt.Errorf("one particular issue")
			l.Error(exactError)
			close(ech)
			e := <-ech
			if l == nil {
				assert.Nil(t, e)
			} else {
				assert.Equal(t, exactError, e)
			}
			return "error: one particular issue\n"
		}},
		{"error-func/string", func(t testing.TB, l *Log) string {
			ech := make(chan error, 1)
			l.SetErrorFunc(func(e error) { ech <- e })
			l.SetFlags(0)
			l.Errorf("trouble var=%.1f", 3.4)
			close(ech)
			e := <-ech
			if l == nil {
				assert.Nil(t, e)
			} else {
				assert.Equal(t, "trouble var=3.4", e.Error())
			}
			return "error: trouble var=3.4\n"
		}},
		{"level-skip", func(t testing.TB, l *Log) string {
			l.SetFlags(0)
			l.SetLevel(LError)
			l.Debugf("should not appear")
			l.Infof("should not appear either")
			return ""
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name+"/logger=nil", func(t *testing.T) {
			c.fun(t, nil)
		})
		t.Run(c.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			l := NewWriter(buf, LAll)
			expect := c.fun(t, l)
			assert.Equal(t, expect, buf.String())
		})
	}
}

func TestClonePrefix(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	root := NewWriter(buf, LInfo)
	root.SetFlags(0)
	sub := root.Clone(LDebug)
	sub.SetFlags(0)
	sub.SetPrefix("net: ")
	sub.Debugf("child sees debug")
	root.Debugf("parent does not")
	assert.Equal(t, "net: debug: child sees debug\n", buf.String())
}

func callerShort(depth int) (file string, line int) {
	var ok bool
	_, file, line, ok = runtime.Caller(depth)
	if !ok {
		file = "???"
		line = 0
	}

	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	file = short

	return
}

func formatCallerShort(depth int) string {
	file, line := callerShort(depth + 1)
	return fmt.Sprintf("%s:%d: ", file, line-1)
}
