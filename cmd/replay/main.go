package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rollback.gg/internal/persistence/indexdb"
	persistlog "rollback.gg/internal/persistence/log"
	"rollback.gg/internal/persistence/snapshot"
	"rollback.gg/internal/sim/runtime"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		worldID    = flag.String("world", "arena", "world id")
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (default: latest under <data>/worlds/<world>/snapshots)")
		toFrame    = flag.Uint64("to_frame", 0, "stop after this frame (inclusive, optional)")
		checkIndex = flag.Bool("check_index", false, "also compare digests against the sqlite index")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)
	worldDir := filepath.Join(*dataDir, "worlds", *worldID)

	path := *snapPath
	if path == "" {
		var err error
		path, err = latestSnapshot(filepath.Join(worldDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "find snapshot:", err)
			os.Exit(1)
		}
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d world=%s frame=%d base=%d tick=%dHz window=%d objects=%d inputs=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Frame, snap.BaseFrame,
		snap.TickRate, snap.RollbackWindow, len(snap.Objects), len(snap.Inputs))

	r, err := runtime.NewReplayer(snap, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}

	var idx *indexdb.SQLiteIndex
	if *checkIndex {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "open index:", err)
			os.Exit(1)
		}
		defer idx.Close()
	}

	res, err := replay(context.Background(), r, persistlog.TickDir(worldDir), *toFrame, idx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if res.checked == 0 {
		fmt.Fprintln(os.Stderr, "no tick log entries after frame", snap.Header.Frame)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d frames (%d..%d) rollbacks=%d index_checked=%d\n",
		res.checked, res.first, res.last, res.rollbacks, res.indexChecked)
}

type result struct {
	first, last  uint64
	checked      uint64
	rollbacks    uint64
	indexChecked uint64
}

// replay feeds every logged tick from the replayer's frame onward and
// compares each resulting digest with the one the server recorded.
func replay(ctx context.Context, r *runtime.Replayer, tickDir string, toFrame uint64, idx *indexdb.SQLiteIndex) (result, error) {
	var res result
	err := persistlog.ReadTicks(tickDir, r.Frame(), func(e runtime.TickLogEntry) error {
		if toFrame != 0 && e.Frame > toFrame {
			return persistlog.ErrStop
		}
		got, err := r.Apply(e)
		if err != nil {
			return err
		}
		if got != e.Digest {
			return fmt.Errorf("digest mismatch at frame %d (%s): got=%s want=%s", e.Frame, e.Kind, got, e.Digest)
		}
		if idx != nil {
			want, ok, err := idx.TickDigest(ctx, e.Frame)
			if err != nil {
				return err
			}
			if ok {
				if want != got {
					return fmt.Errorf("index digest mismatch at frame %d: got=%s index=%s", e.Frame, got, want)
				}
				res.indexChecked++
			}
		}
		if res.checked == 0 {
			res.first = e.Frame
		}
		res.last = e.Frame
		res.checked++
		if e.Kind != "plain" {
			res.rollbacks++
		}
		return nil
	})
	return res, err
}

func latestSnapshot(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var frames []uint64
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		f, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return "", errors.New("no snapshots in " + dir)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	return snapshot.Path(dir, frames[len(frames)-1]), nil
}
