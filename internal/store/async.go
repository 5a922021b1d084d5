package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// AsyncJournal decouples callers from a slow journal. Events are queued and
// written by a single goroutine; when the queue is full they are dropped.
type AsyncJournal struct {
	next    Journal
	ch      chan Event
	wg      sync.WaitGroup
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewAsyncJournal wraps next with a queue of the given size.
func NewAsyncJournal(next Journal, size int) *AsyncJournal {
	j := &AsyncJournal{
		next: next,
		ch:   make(chan Event, size),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j
}

// Record queues e without blocking.
func (j *AsyncJournal) Record(_ context.Context, e Event) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case j.ch <- e:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("journal queue full, dropping events", "dropped", n)
		}
	}
	return nil
}

// Recent reads from the wrapped journal.
func (j *AsyncJournal) Recent(ctx context.Context, limit int) ([]Event, error) {
	return j.next.Recent(ctx, limit)
}

// Dropped returns how many events were discarded.
func (j *AsyncJournal) Dropped() uint64 {
	return j.dropped.Load()
}

// Close drains the queue and closes the wrapped journal.
func (j *AsyncJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	return j.next.Close()
}

func (j *AsyncJournal) loop() {
	for e := range j.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := j.next.Record(ctx, e); err != nil {
			slog.Warn("failed to write journal event", "kind", e.Kind, "error", err)
		}
		cancel()
	}
}
