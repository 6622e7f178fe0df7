// Package monitor bridges the progress of operations that know nothing about
// activity registries into registry updates, by polling.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/jaki95/ipa-library/internal/activity"
)

const (
	DefaultInterval    = 100 * time.Millisecond
	DefaultThreshold   = 0.01
	DefaultFailedGrace = 5 * time.Second
)

// ErrNoResult is reported when an operation ended without producing the
// side effect its resolver looks for.
var ErrNoResult = errors.New("operation finished without a result")

// Source reports the progress of an operation. ok is false once the
// operation's handle no longer exists.
type Source interface {
	Progress(id string) (progress float64, ok bool)
}

// Resolver decides whether a finished operation succeeded. A nil error with
// ok == false is reported as ErrNoResult.
type Resolver interface {
	Resolve(ctx context.Context, id string) (ok bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, id string) (bool, error)

func (f ResolverFunc) Resolve(ctx context.Context, id string) (bool, error) {
	return f(ctx, id)
}

// Milestone is a status pushed once progress reaches At.
type Milestone struct {
	At     float64
	Status activity.Status
}

// Target describes one operation to watch.
type Target struct {
	ID         string
	Source     Source
	Resolver   Resolver
	Milestones []Milestone
}

// Monitor polls operations and pushes their progress into one registry.
type Monitor struct {
	registry    *activity.Registry
	interval    time.Duration
	threshold   float64
	failedGrace time.Duration
	logger      *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

func WithThreshold(v float64) Option {
	return func(m *Monitor) { m.threshold = v }
}

// WithFailedGrace sets how long a failed record stays before removal.
func WithFailedGrace(d time.Duration) Option {
	return func(m *Monitor) { m.failedGrace = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a monitor that reports into registry.
func New(registry *activity.Registry, opts ...Option) *Monitor {
	m := &Monitor{
		registry:    registry,
		interval:    DefaultInterval,
		threshold:   DefaultThreshold,
		failedGrace: DefaultFailedGrace,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Go runs Watch on a new goroutine.
func (m *Monitor) Go(ctx context.Context, target Target) {
	go func() {
		if _, err := m.Watch(ctx, target); err != nil {
			m.logger.Debug("Monitor stopped", "category", m.registry.Category(), "id", target.ID, "error", err)
		}
	}()
}

// Watch polls target until its handle disappears, then resolves the terminal
// status, pushes it and returns it. If ctx ends first nothing is resolved and
// ctx's error is returned.
func (m *Monitor) Watch(ctx context.Context, target Target) (activity.Status, error) {
	var (
		last      float64
		milestone int
	)

	for {
		progress, ok := target.Source.Progress(target.ID)
		if !ok {
			break
		}

		if math.Abs(progress-last) > m.threshold {
			m.registry.UpdateProgress(target.ID, progress)
			last = progress
		}

		for milestone < len(target.Milestones) && progress >= target.Milestones[milestone].At {
			m.registry.UpdateStatus(target.ID, target.Milestones[milestone].Status)
			milestone++
		}

		select {
		case <-ctx.Done():
			return activity.Status{}, ctx.Err()
		case <-time.After(m.interval):
		}
	}

	status := m.resolve(ctx, target)
	if status.Kind == activity.KindCompleted {
		m.registry.UpdateProgress(target.ID, 1)
	}
	m.registry.UpdateStatus(target.ID, status)
	if status.Kind == activity.KindFailed {
		m.registry.RemoveAfter(target.ID, m.failedGrace)
		m.logger.Warn("Operation failed", "category", m.registry.Category(), "id", target.ID, "error", status.Message)
	} else {
		m.logger.Info("Operation completed", "category", m.registry.Category(), "id", target.ID)
	}
	return status, nil
}

func (m *Monitor) resolve(ctx context.Context, target Target) activity.Status {
	if target.Resolver == nil {
		return activity.Completed
	}
	ok, err := target.Resolver.Resolve(ctx, target.ID)
	switch {
	case err != nil:
		return activity.Failed(err.Error())
	case !ok:
		return activity.Failed(ErrNoResult.Error())
	default:
		return activity.Completed
	}
}
