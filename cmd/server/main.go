package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	persistlog "rollback.gg/internal/persistence/log"
	"rollback.gg/internal/persistence/snapshot"
	"rollback.gg/internal/protocol"
	"rollback.gg/internal/sim/rollback"
	"rollback.gg/internal/sim/runtime"
	"rollback.gg/internal/sim/tuning"
	"rollback.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "arena", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml if present)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite tick/snapshot index")
		disableLog = flag.Bool("disable_tick_log", false, "disable the zstd JSONL tick log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		if def := filepath.Join(*configDir, "tuning.yaml"); fileExists(def) {
			tp = def
		}
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if versionMismatch(tune) {
		logger.Printf("tuning protocol_version=%s differs from wire version %s", tune.ProtocolVersion, protocol.Version)
	}

	// Optional: read-model index (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(*worldID, tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	var sinks tickSinks
	if !*disableLog {
		tickLog := persistlog.NewTickLogger(worldDir)
		defer tickLog.Close()
		sinks = append(sinks, tickLog)
	}
	if idx != nil {
		sinks = append(sinks, idx)
	}

	snapCh := make(chan snapshot.SnapshotV1, 2)
	srv := runtime.NewServer(runtime.ServerConfig{
		WorldID:      *worldID,
		Tuning:       tune,
		Logger:       logger,
		TickLogger:   sinks,
		SnapshotSink: snapCh,
	})

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := snapshot.Path(filepath.Join(worldDir, "snapshots"), snap.Header.Frame)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	loopDone := runLoop(ctx, srv, cancel)

	wsSrv := ws.NewServer(srv, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newCollector(*worldID, srv, wsSrv, idx),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	enableAdminHTTP := envBool("RB_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("RB_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID   string              `json:"world_id"`
				Server    runtime.ServerStats `json:"server"`
				Transport ws.Stats            `json:"transport"`
				Tuning    tuning.Tuning       `json:"tuning"`
			}{
				WorldID:   *worldID,
				Server:    srv.Stats(),
				Transport: wsSrv.Stats(),
				Tuning:    tune,
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else {
		logger.Printf("admin endpoints disabled (RB_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (world=%s tick=%dHz window=%d)", *addr, *worldID, tune.TickRateHz, tune.RollbackWindow)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	if err := loopError(loopDone); err != nil {
		logger.Fatalf("server loop stopped: %v", err)
	}
}

type loopRunner interface {
	Run(ctx context.Context) error
}

// runLoop runs the tick loop and cancels ctx if it stops on its own. The
// returned channel yields the loop's error once it has exited.
func runLoop(ctx context.Context, r loopRunner, cancel context.CancelFunc) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := r.Run(ctx)
		done <- err
		if err != nil && !errors.Is(err, context.Canceled) {
			cancel()
		}
	}()
	return done
}

// loopError reports why the tick loop stopped, or nil for a normal shutdown.
// A loop that has not exited yet is still shutting down normally.
func loopError(done <-chan error) error {
	select {
	case err := <-done:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if rollback.IsFatal(err) {
			return fmt.Errorf("fatal: %w", err)
		}
		return err
	default:
		return nil
	}
}

// versionMismatch reports a tuning file pinned to another wire version. An
// empty protocol_version accepts whatever this build speaks.
func versionMismatch(t tuning.Tuning) bool {
	return t.ProtocolVersion != "" && t.ProtocolVersion != protocol.Version
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// tickSinks fans one tick entry out to every logger; a failing sink does not
// stop the others.
type tickSinks []runtime.TickLogger

func (s tickSinks) WriteTick(entry runtime.TickLogEntry) error {
	var first error
	for _, l := range s {
		if err := l.WriteTick(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
