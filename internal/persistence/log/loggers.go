package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"rollback.gg/internal/sim/runtime"
)

// TickLogger appends one JSON line per server tick to a zstd stream under
// TickDir, starting a new file each UTC hour.
type TickLogger struct {
	dir string
	now func() time.Time

	mu  sync.Mutex
	out *hourFile
}

func NewTickLogger(worldDir string) *TickLogger {
	return &TickLogger{dir: TickDir(worldDir), now: time.Now}
}

func (l *TickLogger) WriteTick(e runtime.TickLogEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	path := tickFile(l.dir, l.now())
	if l.out == nil || l.out.path != path {
		if err := l.closeOut(); err != nil {
			return err
		}
		out, err := openHourFile(l.dir, path)
		if err != nil {
			return err
		}
		l.out = out
	}
	return l.out.append(line)
}

func (l *TickLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeOut()
}

func (l *TickLogger) closeOut() error {
	if l.out == nil {
		return nil
	}
	err := l.out.close()
	l.out = nil
	return err
}

var _ runtime.TickLogger = (*TickLogger)(nil)

// hourFile is one open compressed log file. Reopening an hour appends a new
// zstd frame, which ReadTicks decodes as part of the same stream.
type hourFile struct {
	path string
	f    *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
}

func openHourFile(dir, path string) (*hourFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &hourFile{path: path, f: f, zw: zw, buf: bufio.NewWriterSize(zw, 64*1024)}, nil
}

// append writes line and flushes a complete zstd block, so a replay can read
// the current hour while the server is still writing it.
func (h *hourFile) append(line []byte) error {
	if _, err := h.buf.Write(line); err != nil {
		return err
	}
	if err := h.buf.Flush(); err != nil {
		return err
	}
	return h.zw.Flush()
}

func (h *hourFile) close() error {
	return errors.Join(h.buf.Flush(), h.zw.Close(), h.f.Close())
}
