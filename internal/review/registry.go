package review

import (
	"sort"
	"sync"
)

type messageKey struct {
	room      string
	messageID string
}

// Registry holds the workers of live reviews, keyed by status message and
// by request ID
type Registry struct {
	mu        sync.RWMutex
	byMessage map[messageKey]*worker
	byID      map[string]*worker
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byMessage: make(map[messageKey]*worker),
		byID:      make(map[string]*worker),
	}
}

func (reg *Registry) add(w *worker) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.byMessage[messageKey{w.room, w.messageID}] = w
	reg.byID[w.id] = w
}

func (reg *Registry) byStatusMessage(room, messageID string) (*worker, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	w, ok := reg.byMessage[messageKey{room, messageID}]
	return w, ok
}

func (reg *Registry) byRequestID(id string) (*worker, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	w, ok := reg.byID[id]
	return w, ok
}

// remove deletes w if it is still the registered worker for its keys
func (reg *Registry) remove(w *worker) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.byID[w.id] != w {
		return false
	}
	delete(reg.byID, w.id)
	delete(reg.byMessage, messageKey{w.room, w.messageID})
	return true
}

func (reg *Registry) workers() []*worker {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*worker, 0, len(reg.byID))
	for _, w := range reg.byID {
		out = append(out, w)
	}
	return out
}

// Len returns the number of live reviews
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.byID)
}

// Views returns snapshots of every live review, oldest first
func (reg *Registry) Views() []View {
	ws := reg.workers()
	views := make([]View, 0, len(ws))
	for _, w := range ws {
		views = append(views, w.snapshot())
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}
