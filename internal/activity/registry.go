// Package activity tracks in-flight operations (downloads, signing,
// modification, installation) for presentation layers.
//
// All registry state is owned by a mainloop.Loop. Mutating methods may be
// called from any goroutine; they are queued onto the loop and applied there
// in the order received.
package activity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jaki95/ipa-library/internal/mainloop"
)

// DefaultCompletedGrace is how long a completed record stays visible.
const DefaultCompletedGrace = 2 * time.Second

// Listener receives a snapshot of the registry after every mutation. It runs
// on the loop and must not block.
type Listener func([]Record)

// Registry is the ordered, observable collection of records for one category.
type Registry struct {
	category       Category
	loop           *mainloop.Loop
	completedGrace time.Duration

	// Owned by the loop.
	records      []*Record
	listeners    map[int]Listener
	nextListener int

	notifyMu sync.Mutex
	notify   chan struct{}

	// onChange lets a Set fan notifications in from its registries.
	onChange func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithCompletedGrace overrides how long completed records linger.
func WithCompletedGrace(d time.Duration) Option {
	return func(r *Registry) {
		r.completedGrace = d
	}
}

// NewRegistry creates a registry for category whose state lives on loop.
func NewRegistry(category Category, loop *mainloop.Loop, opts ...Option) *Registry {
	r := &Registry{
		category:       category,
		loop:           loop,
		completedGrace: DefaultCompletedGrace,
		listeners:      make(map[int]Listener),
		notify:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Category returns the category this registry tracks.
func (r *Registry) Category() Category {
	return r.category
}

// Add appends a waiting record with zero progress unless id is already present.
func (r *Registry) Add(id, name, secondaryID, iconRef string) {
	r.loop.Post(func() {
		if r.find(id) != nil {
			return
		}
		r.records = append(r.records, &Record{
			ID:          id,
			Name:        name,
			SecondaryID: secondaryID,
			IconRef:     iconRef,
			Progress:    0,
			Status:      Waiting,
		})
		slog.Debug("Activity added", "category", r.category, "id", id, "name", name)
		r.changed()
	})
}

// UpdateProgress stores progress verbatim on the record for id, if any.
func (r *Registry) UpdateProgress(id string, progress float64) {
	r.loop.Post(func() {
		rec := r.find(id)
		if rec == nil {
			return
		}
		rec.Progress = progress
		r.changed()
	})
}

// UpdateStatus sets the status of the record for id, if any. A completed
// record is removed after the completed grace period; failed records are left
// for the caller to remove.
func (r *Registry) UpdateStatus(id string, status Status) {
	r.loop.Post(func() {
		rec := r.find(id)
		if rec == nil {
			return
		}
		rec.Status = status
		slog.Debug("Activity status changed", "category", r.category, "id", id, "status", status.String())
		r.changed()

		if status.Kind == KindCompleted {
			r.scheduleRemoval(rec, r.completedGrace)
		}
	})
}

// Remove deletes the record for id immediately, if any.
func (r *Registry) Remove(id string) {
	r.loop.Post(func() {
		if rec := r.find(id); rec != nil {
			r.removeRecord(rec)
		}
	})
}

// RemoveAfter schedules removal of the record currently held under id once d
// has elapsed. A record added later under the same id is not affected.
func (r *Registry) RemoveAfter(id string, d time.Duration) {
	r.loop.Post(func() {
		if rec := r.find(id); rec != nil {
			r.scheduleRemoval(rec, d)
		}
	})
}

// scheduleRemoval must run on the loop.
func (r *Registry) scheduleRemoval(rec *Record, d time.Duration) {
	if d <= 0 {
		r.removeRecord(rec)
		return
	}
	time.AfterFunc(d, func() {
		r.loop.Post(func() { r.removeRecord(rec) })
	})
}

// removeRecord deletes rec if it is still held. Must run on the loop.
func (r *Registry) removeRecord(target *Record) {
	for i, rec := range r.records {
		if rec == target {
			r.records = append(r.records[:i], r.records[i+1:]...)
			slog.Debug("Activity removed", "category", r.category, "id", rec.ID)
			r.changed()
			return
		}
	}
}

// Records returns an insertion-ordered snapshot. It waits for every mutation
// queued before the call, so it must not be called from a Listener.
func (r *Registry) Records() []Record {
	var out []Record
	r.loop.Do(func() {
		out = r.snapshot()
	})
	return out
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	var (
		out Record
		ok  bool
	)
	r.loop.Do(func() {
		if rec := r.find(id); rec != nil {
			out, ok = *rec, true
		}
	})
	return out, ok
}

// Len returns the number of records.
func (r *Registry) Len() int {
	var n int
	r.loop.Do(func() {
		n = len(r.records)
	})
	return n
}

// Subscribe registers l to be called after every mutation and returns a
// function that removes it.
func (r *Registry) Subscribe(l Listener) (unsubscribe func()) {
	var key int
	r.loop.Do(func() {
		key = r.nextListener
		r.nextListener++
		r.listeners[key] = l
	})
	return func() {
		r.loop.Post(func() {
			delete(r.listeners, key)
		})
	}
}

// Changed returns a channel that is closed at the next mutation.
func (r *Registry) Changed() <-chan struct{} {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	return r.notify
}

func (r *Registry) find(id string) *Record {
	for _, rec := range r.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (r *Registry) snapshot() []Record {
	out := make([]Record, len(r.records))
	for i, rec := range r.records {
		out[i] = *rec
	}
	return out
}

// changed notifies listeners and waiters. Must run on the loop.
func (r *Registry) changed() {
	if len(r.listeners) > 0 {
		snap := r.snapshot()
		for _, l := range r.listeners {
			l(snap)
		}
	}

	r.notifyMu.Lock()
	close(r.notify)
	r.notify = make(chan struct{})
	r.notifyMu.Unlock()

	if r.onChange != nil {
		r.onChange()
	}
}
