package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"rollback.gg/internal/persistence/snapshot"
	"rollback.gg/internal/sim/runtime"
	"rollback.gg/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of ticks, corrections and
// snapshots. Writes are queued and applied by one goroutine in batched
// transactions; the JSONL tick log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
	// reqSync asks the writer to commit and signal done.
	reqSync
)

type req struct {
	kind reqKind

	tick     runtime.TickLogEntry
	snapshot SnapshotRow
	done     chan struct{}
}

type SnapshotRow struct {
	Frame     uint64
	Path      string
	BaseFrame uint64
	Objects   int
	Inputs    int
	Digest    string
}

type RollbackRow struct {
	Frame uint64
	Kind  string
	Steps int
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// About a minute of ticks at 60 Hz.
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			frame INTEGER PRIMARY KEY,
			simulated INTEGER NOT NULL,
			kind TEXT NOT NULL,
			steps INTEGER NOT NULL,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			inputs INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS rollbacks (
			frame INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			steps INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS inputs (
			frame INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			player_id INTEGER NOT NULL,
			input_frame INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			PRIMARY KEY (frame, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_inputs_player_frame ON inputs(player_id, input_frame);`,
		`CREATE TABLE IF NOT EXISTS joins (
			frame INTEGER NOT NULL,
			player_id INTEGER NOT NULL,
			object_id TEXT NOT NULL,
			PRIMARY KEY (frame, player_id)
		);`,
		`CREATE TABLE IF NOT EXISTS leaves (
			frame INTEGER NOT NULL,
			object_id TEXT NOT NULL,
			PRIMARY KEY (frame, object_id)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			frame INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			base_frame INTEGER NOT NULL,
			objects INTEGER NOT NULL,
			inputs INTEGER NOT NULL,
			digest TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry runtime.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := SnapshotRow{
		Frame:     snap.Header.Frame,
		Path:      path,
		BaseFrame: snap.BaseFrame,
		Objects:   len(snap.Objects),
		Inputs:    len(snap.Inputs),
		Digest:    snap.Digest,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Sync blocks until every queued write is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s.closed.Load() {
		return errors.New("indexdb: closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertTuning stores the tuning actually applied, keyed by its digest.
func (s *SQLiteIndex) UpsertTuning(worldID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, kv := range [][2]string{
		{"schema_version", "1"},
		{"world_id", worldID},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
		{"updated_at", time.Now().UTC().Format(time.RFC3339Nano)},
	} {
		if _, err := stmt.Exec(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return v, err == nil, err
}

// Rollbacks lists the correction ticks with from <= frame <= to.
func (s *SQLiteIndex) Rollbacks(ctx context.Context, from, to uint64) ([]RollbackRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT frame, kind, steps FROM rollbacks WHERE frame >= ? AND frame <= ? ORDER BY frame`, int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RollbackRow
	for rows.Next() {
		var r RollbackRow
		var frame int64
		if err := rows.Scan(&frame, &r.Kind, &r.Steps); err != nil {
			return nil, err
		}
		r.Frame = uint64(frame)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the newest snapshot at or before frame.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context, frame uint64) (SnapshotRow, bool, error) {
	var r SnapshotRow
	var f, base int64
	err := s.db.QueryRowContext(ctx,
		`SELECT frame, path, base_frame, objects, inputs, digest FROM snapshots WHERE frame <= ? ORDER BY frame DESC LIMIT 1`,
		int64(frame),
	).Scan(&f, &r.Path, &base, &r.Objects, &r.Inputs, &r.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	r.Frame = uint64(f)
	r.BaseFrame = uint64(base)
	return r, true, nil
}

func (s *SQLiteIndex) TickDigest(ctx context.Context, frame uint64) (string, bool, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM ticks WHERE frame = ?`, int64(frame)).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return d, err == nil, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(frame,simulated,kind,steps,digest,joins,leaves,inputs,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertRollback, _ := s.db.Prepare(`INSERT OR REPLACE INTO rollbacks(frame,kind,steps) VALUES(?,?,?)`)
	insertInput, _ := s.db.Prepare(`INSERT OR REPLACE INTO inputs(frame,seq,player_id,input_frame,x,y) VALUES(?,?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO joins(frame,player_id,object_id) VALUES(?,?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT OR REPLACE INTO leaves(frame,object_id) VALUES(?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(frame,path,base_frame,objects,inputs,digest) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertRollback, insertInput, insertJoin, insertLeave, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			frame := int64(t.Frame)
			b, _ := json.Marshal(t)
			if !exec(insertTick, frame, int64(t.Simulated), t.Kind, t.Steps, t.Digest, len(t.Joins), len(t.Leaves), len(t.Inputs), string(b)) {
				continue
			}
			if t.Kind != "plain" {
				if !exec(insertRollback, frame, t.Kind, t.Steps) {
					continue
				}
			}
			for i, in := range t.Inputs {
				if !exec(insertInput, frame, i, int64(in.PlayerID), int64(in.Frame), in.X, in.Y) {
					break
				}
			}
			for _, j := range t.Joins {
				if !exec(insertJoin, frame, int64(j.PlayerID), j.ObjectID) {
					break
				}
			}
			for _, id := range t.Leaves {
				if !exec(insertLeave, frame, id) {
					break
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Frame), sn.Path, int64(sn.BaseFrame), sn.Objects, sn.Inputs, sn.Digest)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

var _ runtime.TickLogger = (*SQLiteIndex)(nil)
