package quiz

import (
	"context"
	"sync"
)

// Registry holds the ordered schedule descriptors, at most one per session
// key. The scanner mutates flags in place; descriptors leave the registry
// when their session completes or is cancelled.
type Registry struct {
	mu    sync.Mutex
	descs []Descriptor
	w     ScheduleWriter
}

func NewRegistry(w ScheduleWriter) *Registry {
	return &Registry{w: w}
}

// Load replaces the registry contents, typically from storage at boot.
func (r *Registry) Load(descs []Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs = append([]Descriptor(nil), descs...)
}

// Add inserts a descriptor, replacing any existing one with the same key.
func (r *Registry) Add(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.descs {
		if r.descs[i].SessionKey == d.SessionKey {
			r.descs[i] = d
			return
		}
	}
	r.descs = append(r.descs, d)
}

// ListPending returns copies of all descriptors not yet started, in
// insertion order.
func (r *Registry) ListPending() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.descs))
	for _, d := range r.descs {
		if !d.Started {
			out = append(out, d)
		}
	}
	return out
}

// All returns copies of every descriptor, in insertion order.
func (r *Registry) All() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Descriptor(nil), r.descs...)
}

// MarkNoticeSent flips the notice flag. Returns false if the descriptor is
// missing or the flag was already set (flags are monotonic).
func (r *Registry) MarkNoticeSent(key string) bool {
	return r.flip(key, func(d *Descriptor) *bool { return &d.NoticeSent })
}

func (r *Registry) MarkDiscussionOpened(key string) bool {
	return r.flip(key, func(d *Descriptor) *bool { return &d.DiscussionOpened })
}

// MarkStarted flips the started flag. Callers must only do this after the
// engine accepted the start, so a session that lost the single-live-session
// race stays pending and is retried on the next tick.
func (r *Registry) MarkStarted(key string) bool {
	return r.flip(key, func(d *Descriptor) *bool { return &d.Started })
}

func (r *Registry) flip(key string, field func(*Descriptor) *bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.descs {
		if r.descs[i].SessionKey != key {
			continue
		}
		f := field(&r.descs[i])
		if *f {
			return false
		}
		*f = true
		return true
	}
	return false
}

func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.descs {
		if r.descs[i].SessionKey == key {
			r.descs = append(r.descs[:i], r.descs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.descs)
}

// Persist writes the full registry through to storage.
func (r *Registry) Persist(ctx context.Context) error {
	if r.w == nil {
		return nil
	}
	r.mu.Lock()
	snap := append([]Descriptor(nil), r.descs...)
	r.mu.Unlock()
	return r.w.SaveSchedules(ctx, snap)
}
