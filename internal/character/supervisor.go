package character

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// TaskStats describes one supervised task.
type TaskStats struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type task struct {
	mu    sync.Mutex
	stats TaskStats
}

func (t *task) snapshot() TaskStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Supervisor owns long-lived tasks, restarting them when they fail.
type Supervisor struct {
	ctx          context.Context
	group        *errgroup.Group
	restartDelay time.Duration

	mu    sync.RWMutex
	tasks map[string]*task
}

// NewSupervisor creates a supervisor whose tasks stop when ctx is cancelled.
// Failed tasks are restarted after restartDelay.
func NewSupervisor(ctx context.Context, restartDelay time.Duration) *Supervisor {
	group, gctx := errgroup.WithContext(ctx)
	return &Supervisor{
		ctx:          gctx,
		group:        group,
		restartDelay: restartDelay,
		tasks:        make(map[string]*task),
	}
}

// Go starts fn under supervision.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	t := &task{stats: TaskStats{Name: name, Running: true, StartedAt: time.Now()}}

	s.mu.Lock()
	s.tasks[name] = t
	s.mu.Unlock()

	s.group.Go(s.restartOnFailure(t, fn))
}

// Spawn runs a character's loop under supervision.
func (s *Supervisor) Spawn(c *Character) {
	s.Go(fmt.Sprintf("character-%d", c.ID()), c.Run)
}

// Tasks returns the stats of every task ordered by name.
func (s *Supervisor) Tasks() []TaskStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Wait blocks until every task has returned.
func (s *Supervisor) Wait() error {
	return s.group.Wait()
}

// restartOnFailure runs fn until the supervisor context is done. Panics and
// errors are logged and the task is restarted on its existing state.
func (s *Supervisor) restartOnFailure(t *task, fn func(ctx context.Context) error) func() error {
	return func() error {
		defer func() {
			t.mu.Lock()
			t.stats.Running = false
			t.mu.Unlock()
		}()

		for {
			err := runRecovered(s.ctx, fn)
			if s.ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("task returned before shutdown")
			}

			t.mu.Lock()
			t.stats.Restarts++
			t.stats.LastError = err.Error()
			t.mu.Unlock()
			slog.Error("task failed, restarting", "task", t.stats.Name, "error", err)

			select {
			case <-s.ctx.Done():
				return nil
			case <-time.After(s.restartDelay):
			}
		}
	}
}

func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
