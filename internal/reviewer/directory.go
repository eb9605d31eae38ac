package reviewer

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"stealthcompany.com/snsreview/internal/apperr"
)

// Directory is the process-wide set of canonical reviewer identities.
// Registration order is preserved for mention lists.
type Directory struct {
	mu  sync.RWMutex
	ids []string
	set map[string]struct{}
}

// NewDirectory creates a directory seeded with ids. Blank and duplicate
// seeds are skipped.
func NewDirectory(seed ...string) *Directory {
	d := &Directory{set: make(map[string]struct{})}
	for _, id := range seed {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, exists := d.set[id]; exists {
			continue
		}
		d.set[id] = struct{}{}
		d.ids = append(d.ids, id)
	}
	return d
}

// Register adds id to the directory
func (d *Directory) Register(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperr.Validation("reviewer", "identity must not be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.set[id]; exists {
		return apperr.AlreadyRegistered(id)
	}
	d.set[id] = struct{}{}
	d.ids = append(d.ids, id)

	log.Info().Str("reviewer", id).Int("reviewers", len(d.ids)).Msg("Reviewer registered")
	return nil
}

// Contains reports whether id is a registered reviewer
func (d *Directory) Contains(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.set[id]
	return ok
}

// List returns a copy of the registered identities in registration order
func (d *Directory) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.ids))
	copy(out, d.ids)
	return out
}

// Len returns the number of registered reviewers
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}
