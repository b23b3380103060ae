package runtime

import (
	"sync"
	"sync/atomic"
)

// Outbox is the per-peer send queue the transport writer drains. Reliable
// frames are never dropped: a peer that cannot keep up is closed instead.
// Unreliable frames keep only the latest when the queue is full.
type Outbox struct {
	reliable   chan []byte
	unreliable chan []byte
	done       chan struct{}
	once       sync.Once

	dropped  atomic.Uint64
	overflow atomic.Bool
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{
		reliable:   make(chan []byte, size),
		unreliable: make(chan []byte, size),
		done:       make(chan struct{}),
	}
}

func (o *Outbox) Reliable() <-chan []byte   { return o.reliable }
func (o *Outbox) Unreliable() <-chan []byte { return o.unreliable }
func (o *Outbox) Done() <-chan struct{}     { return o.done }
func (o *Outbox) Dropped() uint64           { return o.dropped.Load() }
func (o *Outbox) Overflowed() bool          { return o.overflow.Load() }

func (o *Outbox) Close() { o.once.Do(func() { close(o.done) }) }

func (o *Outbox) SendReliable(b []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.reliable <- b:
		return true
	default:
		o.overflow.Store(true)
		o.Close()
		return false
	}
}

func (o *Outbox) SendUnreliable(b []byte) {
	select {
	case <-o.done:
		return
	default:
	}
	select {
	case o.unreliable <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-o.unreliable:
		o.dropped.Add(1)
	default:
	}
	select {
	case o.unreliable <- b:
	default:
		o.dropped.Add(1)
	}
}
