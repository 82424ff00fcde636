// Package taskrunner implements a priority-laned cooperative scheduler: a
// small fixed worker pool shared across six priority lanes (P0
// user-initiated through P5 cloud full-download), with task continuation
// so a long scan can yield by re-enqueueing its remainder instead of
// blocking a worker for its whole duration.
//
// Built as a fixed pool of goroutines with atomic counters; failed tasks
// are logged and counted, not collected. One golang.org/x/sync/semaphore
// sized to the worker count caps the whole pool (there is no per-lane
// cap), and an errgroup runs the worker goroutines.
package taskrunner

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Priority is one of the six scheduling lanes. Lower numbers preempt
// scheduling of higher numbers, but never preempt a task already running.
type Priority int

const (
	// P0UserImmediate is visible-tree loads: the user is staring at a
	// spinner right now.
	P0UserImmediate Priority = iota
	// P1Latent is filter toggles and other quick recomputation.
	P1Latent
	// P2Background is deeper prefetch the user hasn't asked for yet.
	P2Background
	// P3LiveUpdate is applying a debounced external-change batch.
	P3LiveUpdate
	// P4BulkCrawl is a full disk crawl (an on-demand rescan).
	P4BulkCrawl
	// P5CloudFullDownload is the slowest, least urgent lane: a cold-start
	// full cloud tree download.
	P5CloudFullDownload

	numPriorities = int(P5CloudFullDownload) + 1
)

func (p Priority) String() string {
	names := [numPriorities]string{"P0", "P1", "P2", "P3", "P4", "P5"}
	if int(p) < 0 || int(p) >= numPriorities {
		return "P?"
	}

	return names[p]
}

// minWorkers floors the worker pool size on machines with very few CPUs.
const minWorkers = 4

// Task is one unit of cooperative work. Run executes a slice of the task
// and returns either nil (task fully done), an error (task failed), or a
// non-nil continuation Task representing the remaining work — the runner
// re-enqueues the continuation at the same priority rather than running it
// inline, so other lanes get a turn between slices.
type Task struct {
	Priority Priority
	Label    string
	Run      func(ctx context.Context) (next *Task, err error)
}

// Runner is a fixed-size worker pool dispatching Tasks from six priority
// lanes. Within the pool's capacity, a ready task at a lower-numbered lane
// is always picked over one at a higher-numbered lane; once a worker has
// started a task it runs to that task's next yield point uninterrupted.
type Runner struct {
	logger  *slog.Logger
	workers int

	lanes [numPriorities]chan *Task
	sem   *semaphore.Weighted

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	cancel context.CancelFunc
	group  *errgroup.Group
	ctx    context.Context
}

// laneBuf is the per-lane channel buffer so Submit from many goroutines
// never blocks under ordinary load.
const laneBuf = 4096

// New creates a Runner with workers goroutines and starts its dispatch
// loop. A workers value <= 0 means runtime.NumCPU(), floored at
// minWorkers; an explicit positive count is used as given. Call Stop to
// shut it down.
func New(workers int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if workers <= 0 {
		workers = max(runtime.NumCPU(), minWorkers)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	r := &Runner{
		logger:  logger,
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
		cancel:  cancel,
		group:   group,
		ctx:     gctx,
	}

	for i := range r.lanes {
		r.lanes[i] = make(chan *Task, laneBuf)
	}

	for i := 0; i < workers; i++ {
		r.group.Go(func() error {
			r.workerLoop()
			return nil
		})
	}

	return r
}

// Submit enqueues t on its priority lane. Non-blocking unless the lane
// buffer (very large) is full, in which case it briefly blocks the caller.
func (r *Runner) Submit(t *Task) {
	r.submitted.Add(1)
	r.lanes[t.Priority] <- t
}

// workerLoop repeatedly acquires a pool slot, picks the highest-priority
// ready task across all lanes, and runs it to its next yield point.
func (r *Runner) workerLoop() {
	for {
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return // context cancelled: shutting down
		}

		t, ok := r.nextTask()
		if !ok {
			r.sem.Release(1)
			return
		}

		r.run(t)
		r.sem.Release(1)
	}
}

// nextTask blocks until a task is ready on some lane or the runner is
// shutting down, preferring the lowest-numbered non-empty lane.
func (r *Runner) nextTask() (*Task, bool) {
	for {
		for i := range r.lanes {
			select {
			case t := <-r.lanes[i]:
				return t, true
			default:
			}
		}

		select {
		case <-r.ctx.Done():
			return nil, false
		case t := <-r.lanes[P0UserImmediate]:
			return t, true
		case t := <-r.lanes[P1Latent]:
			return t, true
		case t := <-r.lanes[P2Background]:
			return t, true
		case t := <-r.lanes[P3LiveUpdate]:
			return t, true
		case t := <-r.lanes[P4BulkCrawl]:
			return t, true
		case t := <-r.lanes[P5CloudFullDownload]:
			return t, true
		}
	}
}

func (r *Runner) run(t *Task) {
	next, err := t.Run(r.ctx)
	if err != nil {
		r.failed.Add(1)
		r.logger.Warn("taskrunner: task failed", "label", t.Label, "priority", t.Priority, "error", err)

		return
	}

	if next != nil {
		// Task continuation: re-enqueue the
		// remainder instead of looping inline, so a long scan yields to
		// other lanes between slices. Continuations inherit the parent's
		// lane and label unless the Run closure set its own.
		if next.Label == "" {
			next.Priority = t.Priority
			next.Label = t.Label
		}

		r.Submit(next)

		return
	}

	r.completed.Add(1)
}

// Stats reports cumulative submitted/completed/failed counts. Only tests
// read it; no command reports it.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Stats returns a snapshot of the runner's lifetime counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
	}
}

// Stop cancels all in-flight tasks' context and waits for every worker
// goroutine to exit.
func (r *Runner) Stop() {
	r.cancel()
	_ = r.group.Wait() //nolint:errcheck // workerLoop never returns an error
}
