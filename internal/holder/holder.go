package holder

import "sync"

// Snapshot is what a Holder needs from the value it holds.
// The zero value of S means "no snapshot".
type Snapshot[S any] interface {
	comparable
	IsImmutable() bool
	Clone(mutable bool) S
}

// Holder keeps one immutable snapshot that many goroutines may read while
// a writer replaces it. Readers share the held instance; once the holder
// moves on, the old snapshot lives as long as someone still references it.
//
// The zero Holder is empty and ready to use.
type Holder[S Snapshot[S]] struct {
	mu   sync.Mutex
	held S
}

// New returns an empty holder.
func New[S Snapshot[S]]() *Holder[S] { return &Holder[S]{} }

// Set replaces the held snapshot. A zero candidate clears the slot.
//
// A mutable candidate is cloned into an immutable copy before the lock is
// taken. The caller gives up the candidate: it must not be mutated by anyone
// while Set runs.
func (h *Holder[S]) Set(candidate S) {
	var zero S
	if candidate != zero && !candidate.IsImmutable() {
		candidate = candidate.Clone(false)
	}

	h.mu.Lock()
	h.held = candidate
	h.mu.Unlock()
}

// Get returns the held snapshot, or the zero value when empty.
// The result is shared; never mutate it.
func (h *Holder[S]) Get() S {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held
}

// GetMutable returns a private mutable copy of the held snapshot,
// or the zero value when empty.
func (h *Holder[S]) GetMutable() S {
	s := h.Get()
	var zero S
	if s == zero {
		return s
	}
	return s.Clone(true)
}

// Empty reports whether the slot currently holds no snapshot.
func (h *Holder[S]) Empty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero S
	return h.held == zero
}
