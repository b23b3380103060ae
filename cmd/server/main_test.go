package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"rollback.gg/internal/protocol"
	"rollback.gg/internal/sim/rollback"
	"rollback.gg/internal/sim/tuning"
)

type runFunc func(ctx context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRunLoop_FatalErrorCancelsAndSurfaces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inv := &rollback.InvariantError{Frame: 42, Reason: "rollback with empty input"}

	done := runLoop(ctx, runFunc(func(context.Context) error { return inv }), cancel)
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("a failed loop did not cancel the process context")
	}

	err := loopError(done)
	var got *rollback.InvariantError
	if !errors.As(err, &got) || got.Frame != 42 {
		t.Fatalf("loopError = %v, want the invariant error", err)
	}
}

func TestRunLoop_NormalShutdownIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(ctx, runFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), cancel)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
		// Hand the result back the way main reads it.
		ch := make(chan error, 1)
		ch <- err
		if err := loopError(ch); err != nil {
			t.Fatalf("loopError = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop")
	}

	if err := loopError(make(chan error)); err != nil {
		t.Fatalf("still-running loop reported %v", err)
	}
}

func TestVersionMismatch(t *testing.T) {
	tu := tuning.Defaults()
	if tu.ProtocolVersion != protocol.Version {
		t.Fatalf("default protocol_version = %q, want %q", tu.ProtocolVersion, protocol.Version)
	}
	if versionMismatch(tu) {
		t.Fatalf("defaults reported as mismatched")
	}
	tu.ProtocolVersion = ""
	if versionMismatch(tu) {
		t.Fatalf("empty protocol_version should accept the wire version")
	}
	tu.ProtocolVersion = protocol.Version + ".9"
	if !versionMismatch(tu) {
		t.Fatalf("protocol_version %q not flagged", tu.ProtocolVersion)
	}
}
