package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"rollback.gg/internal/sim/runtime"
)

// ErrStop ends a ReadTicks walk early without reporting an error.
var ErrStop = errors.New("log: stop")

// ReadTicks calls fn for every entry in dir with Frame >= from, oldest file
// first. A truncated final line, as left by a crash mid-write, ends the walk
// quietly.
func ReadTicks(dir string, from uint64, fn func(runtime.TickLogEntry) error) error {
	files, err := TickFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := readTickFile(path, from, fn); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func readTickFile(path string, from uint64, fn func(runtime.TickLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			var e runtime.TickLogEntry
			if jerr := json.Unmarshal(line, &e); jerr != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), jerr)
			}
			if e.Frame >= from {
				if ferr := fn(e); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
}
