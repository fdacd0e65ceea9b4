package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Health is a point-in-time view of the process and its data directory.
type Health struct {
	AllocMB     uint64
	SysMB       uint64
	NumGC       uint32
	Goroutines  int
	DatabaseDir string
	DataSize    string
}

// Snapshot collects process health and the size of the directory holding the
// local database.
func Snapshot(databasePath string) Health {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dir := filepath.Dir(databasePath)
	return Health{
		AllocMB:     m.Alloc / 1024 / 1024,
		SysMB:       m.Sys / 1024 / 1024,
		NumGC:       m.NumGC,
		Goroutines:  runtime.NumGoroutine(),
		DatabaseDir: dir,
		DataSize:    humanSize(dirSize(dir)),
	}
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

func humanSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
