package quiz

import (
	"context"
	"sort"
	"sync"
)

// Catalog maps a session key to its ordered question list.
//
// The engine only reads from it and deletes completed entries; submissions
// add entries. All state lives in memory and is written through to an
// optional SetWriter on Persist().
type Catalog struct {
	mu   sync.RWMutex
	sets map[string][]Question
	w    SetWriter
}

func NewCatalog(w SetWriter) *Catalog {
	return &Catalog{sets: map[string][]Question{}, w: w}
}

// Load replaces the in-memory catalog, typically from storage at boot.
func (c *Catalog) Load(sets map[string][]Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = map[string][]Question{}
	for k, qs := range sets {
		c.sets[k] = append([]Question(nil), qs...)
	}
}

// GetQuestions returns a copy of the question list for key.
func (c *Catalog) GetQuestions(key string) ([]Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	qs, ok := c.sets[key]
	if !ok || len(qs) == 0 {
		return nil, false
	}
	return append([]Question(nil), qs...), true
}

// Put stores (or replaces) the question list for key.
func (c *Catalog) Put(key string, qs []Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[key] = append([]Question(nil), qs...)
}

func (c *Catalog) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sets[key]; !ok {
		return false
	}
	delete(c.sets, key)
	return true
}

func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.sets))
	for k := range c.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sets)
}

// Persist writes the full catalog through to storage. The in-memory state
// stays authoritative; a failed write is retried implicitly by the next
// Persist call (full-state writes, no deltas).
func (c *Catalog) Persist(ctx context.Context) error {
	if c.w == nil {
		return nil
	}
	c.mu.RLock()
	snap := make(map[string][]Question, len(c.sets))
	for k, qs := range c.sets {
		snap[k] = append([]Question(nil), qs...)
	}
	c.mu.RUnlock()
	return c.w.SaveQuestionSets(ctx, snap)
}
