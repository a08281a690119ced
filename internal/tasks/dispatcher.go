package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/coaching-scheduler/internal/persistence"
)

// Handler delivers one task. Handlers must be idempotent since delivery is at least once.
type Handler interface {
	Handle(ctx context.Context, task persistence.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task persistence.Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task persistence.Task) error {
	return f(ctx, task)
}

// ErrPermanent marks a failure that retrying cannot fix.
var ErrPermanent = errors.New("tasks: permanent failure")

// Recorder observes delivery outcomes.
type Recorder interface {
	TaskDelivery(kind, outcome string)
}

// Config tunes the dispatcher.
type Config struct {
	// Schedule is a robfig/cron expression for the polling job.
	Schedule       string
	BatchSize      int
	MaxAttempts    int
	Lease          time.Duration
	HandlerTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "@every 5s"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 5 * time.Second
	}
	if c.Lease <= c.HandlerTimeout {
		c.Lease = 2 * c.HandlerTimeout
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = 5 * time.Minute
	}
	return c
}

// Dispatcher claims due tasks and hands them to the registered handlers.
type Dispatcher struct {
	repo     persistence.TaskRepository
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	recorder Recorder

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	runMu  sync.Mutex
	kick   chan struct{}
	cron   *cron.Cron
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher wires a dispatcher over repo.
func NewDispatcher(repo persistence.TaskRepository, cfg Config, logger *slog.Logger, now func() time.Time) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		repo:     repo,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "task_dispatcher"),
		now:      now,
		handlers: make(map[string]Handler),
		kick:     make(chan struct{}, 1),
	}
}

// SetRecorder installs a delivery observer.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// Register binds a handler to a task kind.
func (d *Dispatcher) Register(kind string, h Handler) {
	d.handlersMu.Lock()
	d.handlers[kind] = h
	d.handlersMu.Unlock()
}

// Kick requests a delivery pass without blocking the caller.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// RunOnce claims one batch of due tasks and delivers it. It returns the number
// of tasks delivered successfully.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	claimed, err := d.repo.ClaimDueTasks(ctx, d.now(), d.cfg.Lease, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("tasks: claim: %w", err)
	}

	delivered := 0
	for _, task := range claimed {
		if d.deliver(ctx, task) {
			delivered++
		}
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, task persistence.Task) bool {
	logger := d.logger.With("task_id", task.ID, "kind", task.Kind, "meeting_id", task.MeetingID, "attempt", task.Attempts)

	d.handlersMu.RLock()
	handler, ok := d.handlers[task.Kind]
	d.handlersMu.RUnlock()

	var err error
	if !ok {
		err = fmt.Errorf("no handler for kind %q: %w", task.Kind, ErrPermanent)
	} else {
		hctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
		err = handler.Handle(hctx, task)
		cancel()
	}

	now := d.now()
	if err == nil {
		if cerr := d.repo.CompleteTask(ctx, task.ID, now); cerr != nil {
			logger.Error("failed to mark task completed", "error", cerr)
		}
		d.record(task.Kind, "delivered")
		logger.Debug("task delivered")
		return true
	}

	dead := errors.Is(err, ErrPermanent) || task.Attempts >= d.cfg.MaxAttempts
	next := now.Add(d.backoff(task.Attempts))
	if ferr := d.repo.FailTask(ctx, task.ID, err.Error(), next, dead, now); ferr != nil {
		logger.Error("failed to record task failure", "error", ferr)
	}
	if dead {
		d.record(task.Kind, "dead")
		logger.Error("task abandoned", "error", err)
	} else {
		d.record(task.Kind, "retry")
		logger.Warn("task delivery failed", "error", err, "next_attempt_at", next)
	}
	return false
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return delay
}

func (d *Dispatcher) record(kind, outcome string) {
	if d.recorder != nil {
		d.recorder.TaskDelivery(kind, outcome)
	}
}

// Start schedules periodic polling with cron and serves kicks until Stop.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(d.cfg.Schedule, d.Kick); err != nil {
		cancel()
		return fmt.Errorf("tasks: invalid schedule %q: %w", d.cfg.Schedule, err)
	}

	d.cron = c
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.kick:
				if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
					d.logger.Error("task dispatch failed", "error", err)
				}
			}
		}
	}()

	c.Start()
	d.logger.Info("task dispatcher started", "schedule", d.cfg.Schedule)
	d.Kick()
	return nil
}

// Stop halts polling and waits for the in-flight batch.
func (d *Dispatcher) Stop() {
	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
	d.cancel()
	<-d.done
	d.logger.Info("task dispatcher stopped")
}
