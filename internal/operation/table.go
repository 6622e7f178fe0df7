// Package operation keeps the live handles of long-running work (downloads,
// extraction, signing). The work updates its handle; observers poll it.
package operation

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// Handle is one running operation's progress and cancellation.
type Handle struct {
	id       string
	progress atomic.Uint64
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	err       error
	committed bool
}

// ID returns the operation id.
func (h *Handle) ID() string { return h.id }

// Context is cancelled when the operation is cancelled through the table.
func (h *Handle) Context() context.Context { return h.ctx }

// Set stores the current completion fraction.
func (h *Handle) Set(progress float64) {
	h.progress.Store(math.Float64bits(progress))
}

// Progress returns the last stored completion fraction.
func (h *Handle) Progress() float64 {
	return math.Float64frombits(h.progress.Load())
}

// Fail records the error the operation ended with.
func (h *Handle) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

// Err returns the error recorded with Fail.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Commit marks the operation's result as final. It fails once the handle has
// been cancelled; after a successful Commit, Cancel no longer applies.
func (h *Handle) Commit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.committed = true
	return true
}

// cancelUnlessCommitted cancels the handle unless Commit already succeeded.
func (h *Handle) cancelUnlessCommitted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.committed {
		return false
	}
	h.cancel()
	return true
}

// Table indexes live handles by id.
type Table struct {
	mu      sync.RWMutex
	handles map[string]*Handle

	// Errors of ended operations, kept until collected with TakeErr.
	errs map[string]error
}

func NewTable() *Table {
	return &Table{
		handles: make(map[string]*Handle),
		errs:    make(map[string]error),
	}
}

// Begin registers a handle for id derived from parent. If id is already live
// the existing handle is returned.
func (t *Table) Begin(parent context.Context, id string) *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.handles[id]; ok {
		return h
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{id: id, ctx: ctx, cancel: cancel}
	t.handles[id] = h
	delete(t.errs, id)
	return h
}

// TryBegin is Begin that refuses to share: ok is false, and no handle is
// returned, when id is already live.
func (t *Table) TryBegin(parent context.Context, id string) (h *Handle, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, live := t.handles[id]; live {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	h = &Handle{id: id, ctx: ctx, cancel: cancel}
	t.handles[id] = h
	delete(t.errs, id)
	return h, true
}

// End removes the handle for id. An error recorded on the handle is kept for
// TakeErr.
func (t *Table) End(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok {
		return
	}
	if err := h.Err(); err != nil {
		t.errs[id] = err
	}
	h.cancel()
	delete(t.handles, id)
}

// Cancel cancels the handle's context and removes it. It reports whether a
// live, uncommitted handle existed.
func (t *Table) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok || !h.cancelUnlessCommitted() {
		return false
	}
	t.errs[id] = context.Canceled
	delete(t.handles, id)
	return true
}

// Progress returns the progress of id and whether its handle still exists.
func (t *Table) Progress(id string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.handles[id]
	if !ok {
		return 0, false
	}
	return h.Progress(), true
}

// Lookup returns the live handle for id.
func (t *Table) Lookup(id string) (*Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handles[id]
	return h, ok
}

// TakeErr returns and forgets the error an ended operation finished with.
func (t *Table) TakeErr(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.errs[id]
	delete(t.errs, id)
	return err
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handles)
}
