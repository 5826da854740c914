package monitor

import (
	"os"

	"github.com/fjl/memsize"
	"github.com/shirou/gopsutil/process"
)

// ProcessStats is a point-in-time resource snapshot, the CPU/RSS sampling
// role the DOMAIN STACK assigns to shirou/gopsutil for campaign stats.
type ProcessStats struct {
	CPUPercent float64
	RSSBytes   uint64
}

// SampleProcessStats reads the current process's CPU and resident memory
// usage, the same self-monitoring role go-ethereum's own metrics system
// samples through gopsutil.
func SampleProcessStats() (ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ProcessStats{}, err
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return ProcessStats{}, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return ProcessStats{}, err
	}
	return ProcessStats{CPUPercent: cpu, RSSBytes: mem.RSS}, nil
}

// MemsizeReport returns a human-readable heap-footprint breakdown of v,
// scanned via fjl/memsize the way go-ethereum's memsizeui reports a
// running node's retained-object graph.
func MemsizeReport(v interface{}) string {
	return memsize.Scan(v).Report()
}
