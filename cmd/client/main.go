package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollback.gg/internal/sim/runtime"
	"rollback.gg/internal/sim/world"
	"rollback.gg/internal/transport/ws"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		playerID = flag.Uint64("player", 1, "player id (must be unique on the server)")
		name     = flag.String("name", "bot", "player name")
		pattern  = flag.String("pattern", "square", "scripted movement: idle, right, square, zigzag")
		every    = flag.Duration("report", 5*time.Second, "status log interval")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[client] ", log.LstdFlags|log.Lmicroseconds)

	input, err := scriptedInput(*pattern)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	c := runtime.NewClient(runtime.ClientConfig{
		PlayerID: world.PlayerID(*playerID),
		Name:     *name,
		Logger:   logger,
		Input:    input,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := ws.Dial(ctx, *url, c)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("connection closed: %v", err)
		}
		cancel()
	}()
	go report(ctx, logger, c, *every)

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("client stopped: %v", err)
	}
}

func report(ctx context.Context, logger *log.Logger, c *runtime.Client, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !c.Joined() {
				logger.Printf("waiting for GAME_SYNC")
				continue
			}
			st := c.Stats()
			tr, _ := c.LastPosition()
			logger.Printf("frame=%d pos=(%.2f, %.2f) rollbacks=%d resyncs=%d resimulated=%d",
				c.Frame(), tr.Translation.X(), tr.Translation.Y(), st.Rollbacks, st.Resyncs, st.Resimulated)
		}
	}
}
