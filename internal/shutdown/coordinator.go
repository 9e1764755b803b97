// Package shutdown implements the ordered teardown sequence run when the
// server receives a termination signal: each subsystem stops in ascending
// priority order, with a bounded budget per handler.
package shutdown

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// Handler is a single teardown step. It receives a context that is
// cancelled once its budget expires.
type Handler func(ctx context.Context) error

type registration struct {
	priority int
	name     string
	fn       Handler
}

// Coordinator runs registered handlers in ascending priority order,
// enforcing a per-handler time budget.
type Coordinator struct {
	budget context.Context
	cancel context.CancelFunc

	handlers []registration
	timeout  time.Duration
}

// NewCoordinator creates a Coordinator whose handlers each get timeoutSec
// seconds to complete before being treated as failed.
func NewCoordinator(timeoutSec int) *Coordinator {
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &Coordinator{timeout: time.Duration(timeoutSec) * time.Second}
}

// Register adds a teardown handler at the given priority. Lower priority
// numbers run first. Handlers registered at the same priority run in
// registration order.
func (c *Coordinator) Register(priority int, name string, fn Handler) {
	c.handlers = append(c.handlers, registration{priority: priority, name: name, fn: fn})
}

// Shutdown runs every registered handler in ascending priority order. Each
// handler gets its own timeout budget; a handler that exceeds it is logged
// as failed and the coordinator returns an error after running the
// remaining handlers, so one stuck subsystem doesn't block the others from
// tearing down.
func (c *Coordinator) Shutdown(parent context.Context) error {
	ordered := make([]registration, len(c.handlers))
	copy(ordered, c.handlers)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].priority < ordered[j].priority })

	var firstErr error
	for _, reg := range ordered {
		if err := c.runOne(parent, reg); err != nil {
			log.Printf("shutdown: %s (priority %d) failed: %v", reg.name, reg.priority, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", reg.name, err)
			}
			continue
		}
		log.Printf("shutdown: %s (priority %d) stopped", reg.name, reg.priority)
	}
	return firstErr
}

func (c *Coordinator) runOne(parent context.Context, reg registration) error {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- reg.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %s", c.timeout)
	}
}
