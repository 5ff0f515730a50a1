package frontier

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// currentRSSBytes reports this process's resident set size, the same
// gopsutil call the renderer's context pool uses to decide recycling.
func currentRSSBytes() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
