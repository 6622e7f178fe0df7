package activity

import (
	"sync"

	"github.com/jaki95/ipa-library/internal/mainloop"
)

// Section is one category's records as rendered by a presentation layer.
type Section struct {
	Category Category `json:"category"`
	Records  []Record `json:"records"`
}

// Set holds one registry per category, all sharing a single loop. It is
// built once by the application root and passed to whatever needs it.
type Set struct {
	loop       *mainloop.Loop
	registries map[Category]*Registry

	notifyMu sync.Mutex
	notify   chan struct{}
}

// NewSet creates the four category registries on loop.
func NewSet(loop *mainloop.Loop, opts ...Option) *Set {
	s := &Set{
		loop:       loop,
		registries: make(map[Category]*Registry, len(Categories)),
		notify:     make(chan struct{}),
	}
	for _, c := range Categories {
		r := NewRegistry(c, loop, opts...)
		r.onChange = s.signal
		s.registries[c] = r
	}
	return s
}

// Loop returns the loop that owns every registry in the set.
func (s *Set) Loop() *mainloop.Loop {
	return s.loop
}

// Registry returns the registry for c, or nil for an unknown category.
func (s *Set) Registry(c Category) *Registry {
	return s.registries[c]
}

func (s *Set) Downloads() *Registry  { return s.registries[CategoryDownload] }
func (s *Set) Signing() *Registry    { return s.registries[CategorySign] }
func (s *Set) Modifying() *Registry  { return s.registries[CategoryModify] }
func (s *Set) Installing() *Registry { return s.registries[CategoryInstall] }

// Sections snapshots every registry in display order. All four snapshots are
// taken in one step on the loop, so they reflect the same point in time.
func (s *Set) Sections() []Section {
	out := make([]Section, 0, len(Categories))
	s.loop.Do(func() {
		for _, c := range Categories {
			out = append(out, Section{Category: c, Records: s.registries[c].snapshot()})
		}
	})
	return out
}

// Locate reports every category holding a record for id. The set does not
// stop one id from living in several registries; callers that care check here.
func (s *Set) Locate(id string) []Category {
	var found []Category
	s.loop.Do(func() {
		for _, c := range Categories {
			if s.registries[c].find(id) != nil {
				found = append(found, c)
			}
		}
	})
	return found
}

// Changed returns a channel closed at the next mutation of any registry.
func (s *Set) Changed() <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.notify
}

func (s *Set) signal() {
	s.notifyMu.Lock()
	close(s.notify)
	s.notify = make(chan struct{})
	s.notifyMu.Unlock()
}
