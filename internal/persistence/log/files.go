package log

import (
	"path/filepath"
	"sort"
	"time"
)

const (
	tickPrefix = "events"
	tickExt    = ".jsonl.zst"
	hourLayout = "2006-01-02-15"
)

// TickDir is where NewTickLogger puts its hourly files.
func TickDir(worldDir string) string { return filepath.Join(worldDir, tickPrefix) }

// tickFile names the file that holds entries written during t's UTC hour.
func tickFile(dir string, t time.Time) string {
	return filepath.Join(dir, tickPrefix+"-"+t.UTC().Format(hourLayout)+tickExt)
}

// TickFiles lists the hourly tick log files under dir in write order.
func TickFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, tickPrefix+"-*"+tickExt))
	if err != nil {
		return nil, err
	}
	// The hour stamp sorts lexically.
	sort.Strings(files)
	return files, nil
}
