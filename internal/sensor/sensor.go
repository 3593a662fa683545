// Package sensor produces environment telemetry samples.
// Temperature, humidity, pressure and light are synthesized from
// plausible indoor ranges. CPU and memory load are read from procfs
// where available and degrade to zero everywhere else.
package sensor

import (
	"math"
	"math/rand"
	"sync"

	"github.com/temoto/sensord/helpers"
	"github.com/temoto/sensord/log2"
)

const (
	DefaultProcStat    = "/proc/stat"
	DefaultProcMeminfo = "/proc/meminfo"
)

type Data struct {
	Temperature    float64 `json:"temperature"`
	Humidity       float64 `json:"humidity"`
	Pressure       float64 `json:"pressure"`
	Light          float64 `json:"light"`
	MotionDetected bool    `json:"motion_detected"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
}

type Options struct {
	Log         *log2.Log
	ProcStat    string // default /proc/stat
	ProcMeminfo string // default /proc/meminfo
	Rand        *rand.Rand
}

// Source is safe for concurrent Sample calls.
type Source struct {
	mu          sync.Mutex
	log         *log2.Log
	procStat    string
	procMeminfo string
	rnd         *rand.Rand
}

func NewSource(opt Options) *Source {
	s := &Source{
		log:         opt.Log,
		procStat:    opt.ProcStat,
		procMeminfo: opt.ProcMeminfo,
		rnd:         opt.Rand,
	}
	if s.procStat == "" {
		s.procStat = DefaultProcStat
	}
	if s.procMeminfo == "" {
		s.procMeminfo = DefaultProcMeminfo
	}
	if s.rnd == nil {
		s.rnd = helpers.RandUnix()
	}
	return s
}

// Sample never fails. Probes that cannot be read contribute 0.0.
func (s *Source) Sample() *Data {
	d := &Data{}
	s.mu.Lock()
	d.Temperature = round2(20 + s.rnd.Float64()*10)
	d.Humidity = round2(40 + s.rnd.Float64()*40)
	d.Pressure = round2(1000 + s.rnd.Float64()*20)
	d.Light = round2(s.rnd.Float64() * 100)
	d.MotionDetected = s.rnd.Intn(2) == 1
	s.mu.Unlock()

	var err error
	if d.CPUUsage, err = s.cpuUsage(); err != nil {
		s.log.Debugf("sensor: cpu probe unavailable: %v", err)
		d.CPUUsage = 0.0
	}
	if d.MemoryUsage, err = s.memoryUsage(); err != nil {
		s.log.Debugf("sensor: memory probe unavailable: %v", err)
		d.MemoryUsage = 0.0
	}
	return d
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
