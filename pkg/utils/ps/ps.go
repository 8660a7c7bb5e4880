// Package ps reports host resource status for the acquisition daemon:
// CPU, memory and the data directory's disk headroom.
package ps

import (
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type CPU struct {
	Percent float64 `json:"percent"`
}

type Memory struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

type DataDisk struct {
	Path        string  `json:"path"`
	Used        uint64  `json:"used"`
	Total       uint64  `json:"total"`
	UsedPercent float64 `json:"usedPercent"`
	DirBytes    int64   `json:"dirBytes"`
}

func CPUStatus() (CPU, error) {
	list, err := cpu.Percent(time.Millisecond*50, false)
	if err != nil {
		return CPU{}, err
	}

	return CPU{Percent: list[0]}, nil
}

func MemoryStatus() (Memory, error) {
	memory, err := mem.VirtualMemory()
	if err != nil {
		return Memory{}, err
	}

	return Memory{
		Total:       memory.Total,
		Used:        memory.Used,
		UsedPercent: memory.UsedPercent,
	}, nil
}

// DataDiskStatus reports the filesystem headroom under the data root
// plus the bytes the root itself holds.
func DataDiskStatus(path string) (DataDisk, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DataDisk{}, err
	}
	dirBytes, err := dirSize(path)
	if err != nil {
		return DataDisk{}, err
	}

	return DataDisk{
		Path:        path,
		Used:        usage.Used,
		Total:       usage.Total,
		UsedPercent: usage.UsedPercent,
		DirBytes:    dirBytes,
	}, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return size, nil
}
