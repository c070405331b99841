// Package taskrunner executes long-running jobs on a bounded worker pool
// and exposes their lifecycle (progress, cancellation, result retention)
// by task ID.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is a task's lifecycle stage.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateCancelled  State = "cancelled"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Terminal reports whether a task in this state will never change again.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateSucceeded || s == StateFailed
}

var (
	ErrNotFound   = errors.New("task not found")
	ErrOverloaded = errors.New("task queue at capacity")
	ErrNotDone    = errors.New("task not finished")
)

// Func is the unit of work. It must honor ctx and may report progress
// through report; both are safe to ignore.
type Func func(ctx context.Context, report func(pct int, stage string)) (any, error)

// Snapshot is a point-in-time copy of a task's externally visible state.
type Snapshot struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	State       State      `json:"state"`
	ProgressPct int        `json:"progress_pct"`
	Stage       string     `json:"stage,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type task struct {
	mu          sync.Mutex
	id          string
	kind        string
	state       State
	progressPct int
	stage       string
	submittedAt time.Time
	startedAt   *time.Time
	finishedAt  *time.Time
	result      any
	err         string

	fn     Func
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:          t.id,
		Kind:        t.kind,
		State:       t.state,
		ProgressPct: t.progressPct,
		Stage:       t.stage,
		SubmittedAt: t.submittedAt,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
		Result:      t.result,
		Error:       t.err,
	}
}

func (t *task) finish(state State, result any, errMsg string) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	t.state = state
	t.finishedAt = &now
	t.result = result
	t.err = errMsg
	if state == StateSucceeded {
		t.progressPct = 100
	}
	t.mu.Unlock()
	close(t.done)
}

// Options tune the pool. Zero values select the defaults.
type Options struct {
	Workers   int           // default runtime.NumCPU()
	Highwater int           // queued-task cap before Submit rejects; default 64
	ResultTTL time.Duration // retention of finished tasks; default 15m
}

const (
	defaultHighwater = 64
	defaultResultTTL = 15 * time.Minute
)

// Runner owns the worker pool and the task table.
type Runner struct {
	opts   Options
	queue  chan *task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	tasks map[string]*task
}

// New starts the workers and the retention sweeper.
func New(opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Highwater <= 0 {
		opts.Highwater = defaultHighwater
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = defaultResultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		opts:   opts,
		queue:  make(chan *task, opts.Highwater),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(1)
	go r.sweep()

	log.Debug().Int("workers", opts.Workers).Int("highwater", opts.Highwater).
		Dur("result_ttl", opts.ResultTTL).Msg("task runner started")
	return r
}

// Submit enqueues fn and returns the new task's ID. Fails with
// ErrOverloaded when the queue is at the highwater mark.
func (r *Runner) Submit(kind string, fn Func) (string, error) {
	t := &task{
		id:          uuid.NewString(),
		kind:        kind,
		state:       StatePending,
		submittedAt: time.Now(),
		fn:          fn,
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	r.tasks[t.id] = t
	r.mu.Unlock()

	select {
	case r.queue <- t:
		log.Debug().Str("task_id", t.id).Str("kind", kind).Msg("task queued")
		return t.id, nil
	default:
		r.mu.Lock()
		delete(r.tasks, t.id)
		r.mu.Unlock()
		return "", ErrOverloaded
	}
}

// Status returns a snapshot of the task.
func (r *Runner) Status(id string) (Snapshot, error) {
	t, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return t.snapshot(), nil
}

// Cancel stops a pending task outright and signals a running one; the
// running task turns cancelled once its Func returns. Cancelling a
// finished task is a no-op.
func (r *Runner) Cancel(id string) (Snapshot, error) {
	t, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	t.mu.Lock()
	switch t.state {
	case StatePending:
		// Terminal right away; the task may sit behind a full queue for a
		// long time and Result waiters must not block on it. The worker
		// skips terminal tasks when it drains them.
		now := time.Now()
		t.state = StateCancelled
		t.finishedAt = &now
		t.err = "cancelled before start"
		t.mu.Unlock()
		close(t.done)
	case StateRunning:
		t.state = StateCancelling
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	default:
		t.mu.Unlock()
	}
	return t.snapshot(), nil
}

// Result blocks until the task finishes or the timeout expires. On
// timeout it returns the current snapshot with ErrNotDone.
func (r *Runner) Result(ctx context.Context, id string, timeout time.Duration) (Snapshot, error) {
	t, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case <-t.done:
		return t.snapshot(), nil
	case <-timer:
		return t.snapshot(), ErrNotDone
	case <-ctx.Done():
		return t.snapshot(), ctx.Err()
	}
}

// Shutdown stops accepting work, cancels running tasks and waits for the
// workers, bounded by ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workers is the pool size.
func (r *Runner) Workers() int {
	return r.opts.Workers
}

// QueueDepth is the number of tasks waiting for a worker.
func (r *Runner) QueueDepth() int {
	return len(r.queue)
}

func (r *Runner) lookup(id string) (*task, error) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case t := <-r.queue:
			r.run(t)
		}
	}
}

func (r *Runner) run(t *task) {
	t.mu.Lock()
	if t.state.Terminal() {
		// Cancelled while still queued.
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	now := time.Now()
	t.state = StateRunning
	t.startedAt = &now
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	report := func(pct int, stage string) {
		t.mu.Lock()
		if pct > t.progressPct {
			t.progressPct = pct
		}
		t.stage = stage
		t.mu.Unlock()
	}

	result, err := r.invoke(ctx, t, report)
	switch {
	case err == nil:
		t.finish(StateSucceeded, result, "")
	case errors.Is(err, context.Canceled):
		t.finish(StateCancelled, nil, "cancelled")
	default:
		log.Warn().Str("task_id", t.id).Str("kind", t.kind).Err(err).Msg("task failed")
		t.finish(StateFailed, nil, err.Error())
	}
}

// invoke isolates panics in task funcs so a bad job cannot take a worker
// down.
func (r *Runner) invoke(ctx context.Context, t *task, report func(int, string)) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.fn(ctx, report)
}

// sweep drops finished tasks past their retention window.
func (r *Runner) sweep() {
	defer r.wg.Done()
	interval := r.opts.ResultTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-tick.C:
			r.sweepOnce(time.Now())
		}
	}
}

func (r *Runner) sweepOnce(now time.Time) {
	cutoff := now.Add(-r.opts.ResultTTL)
	r.mu.Lock()
	for id, t := range r.tasks {
		t.mu.Lock()
		expired := t.state.Terminal() && t.finishedAt != nil && t.finishedAt.Before(cutoff)
		t.mu.Unlock()
		if expired {
			delete(r.tasks, id)
		}
	}
	r.mu.Unlock()
}
