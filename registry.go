package corerun

import "sync"

// Source is a reactor-registered I/O subject (spec §3.4): a raw descriptor,
// a waiter list, the last completion result, a source-type tag, and an
// optional queue affinity. Not safe for concurrent use beyond the waiter
// list, which the reactor mutates only from the owning executor's goroutine.
type Source struct {
	FD         int
	Type       SourceType
	QueueHint  QueueHandle
	hasQueue   bool
	id         uint64
	result     int32
	hasResult  bool
	readers    []*Waker
	writers    []*Waker
}

// SourceType tags what kind of interest a source was registered for,
// following original_source's sys/mod.rs (which names a single variant,
// PollableFd — the only kind this reactor deals in).
type SourceType int

const (
	SourceTypePollableFD SourceType = iota
)

// registry owns the mapping from completion-event identifier (user_data) to
// a strong *Source reference (spec §4.6). Unlike the teacher's weak-pointer
// promise registry (which deliberately lets promises die if unobserved),
// this registry must be a *co-owner* of the source: spec §3.4 says "the
// source is held by both the user-facing async I/O wrapper and the
// reactor's source registry; the longest-living holder keeps it alive."
type registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*Source
}

func newRegistry() *registry {
	return &registry{nextID: 1, entries: make(map[uint64]*Source)}
}

// register assigns the source its monotonically increasing non-zero id and
// stores the strong reference. Identifier 0 is reserved for "ignore this
// completion" (cancellation echoes), so ids start at 1.
func (r *registry) register(s *Source) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	s.id = id
	r.entries[id] = s
	return id
}

// remove deletes and returns the source for id, used when a completion
// arrives (spec §4.6: "on completion, the registry removes the entry and
// returns the source").
func (r *registry) remove(id uint64) (*Source, bool) {
	if id == 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return s, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
