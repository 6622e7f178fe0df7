// Package tasks runs sign, modify and install operations and reports them
// through their category's activity registry.
package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jaki95/ipa-library/internal/activity"
	"github.com/jaki95/ipa-library/internal/monitor"
	"github.com/jaki95/ipa-library/internal/operation"
)

// Work is the operation itself. It reports its completed fraction through
// report and must return when ctx is cancelled.
type Work func(ctx context.Context, report func(float64)) error

// Job describes the record shown while Work runs.
type Job struct {
	// ID keys the record; a new one is generated when empty.
	ID       string
	Name     string
	BundleID string
	IconRef  string

	// Resolver, if set, is consulted after Work returns without error.
	Resolver monitor.Resolver
}

// Runner runs jobs of one category.
type Runner struct {
	registry *activity.Registry
	ops      *operation.Table
	monitor  *monitor.Monitor

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(registry *activity.Registry, ops *operation.Table, mon *monitor.Monitor) *Runner {
	if mon == nil {
		mon = monitor.New(registry)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		registry: registry,
		ops:      ops,
		monitor:  mon,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Category returns the category of the runner's registry.
func (r *Runner) Category() activity.Category {
	return r.registry.Category()
}

// Run registers job and starts work in the background. It returns the id of
// the activity record, or ErrAlreadyRunning if a job with job.ID is live.
func (r *Runner) Run(job Job, work Work) (string, error) {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}

	h, ok := r.ops.TryBegin(r.ctx, id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	r.registry.Add(id, job.Name, job.BundleID, job.IconRef)
	r.registry.UpdateStatus(id, r.Category().ActiveStatus())

	slog.Info("Task started", "category", r.Category(), "id", id, "name", job.Name)

	go func() {
		defer r.ops.End(id)
		if err := work(h.Context(), h.Set); err != nil {
			h.Fail(err)
		}
	}()

	r.monitor.Go(r.ctx, monitor.Target{
		ID:       id,
		Source:   r.ops,
		Resolver: r.resolver(job),
	})
	return id, nil
}

// Cancel stops a running job and removes its record.
func (r *Runner) Cancel(id string) error {
	if !r.ops.Cancel(id) {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	r.registry.Remove(id)
	return nil
}

// Close cancels every job started by this runner.
func (r *Runner) Close() {
	r.cancel()
}

func (r *Runner) resolver(job Job) monitor.Resolver {
	return monitor.ResolverFunc(func(ctx context.Context, id string) (bool, error) {
		if err := r.ops.TakeErr(id); err != nil {
			return false, err
		}
		if job.Resolver == nil {
			return true, nil
		}
		return job.Resolver.Resolve(ctx, id)
	})
}
