// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

// Runner is a long-lived consumer such as a worker.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns the queue and the pool of runners draining it.
type Dispatcher struct {
	queue   sheetsim.Queue
	runners []Runner
}

// New creates a Dispatcher.
func New(queue sheetsim.Queue, runners ...Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		runners: runners,
	}
}

// Run starts all runners and blocks until the context finishes and every
// runner has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue submits a job to the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item sheetsim.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
