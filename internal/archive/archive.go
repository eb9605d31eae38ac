// Package archive keeps an audit trail of finished reviews in Couchbase.
// Nothing is read back; live review state stays in memory.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog/log"
	"stealthcompany.com/snsreview/internal/review"
)

// documents is the part of a gocb collection the store writes through
type documents interface {
	Upsert(id string, val interface{}, opts *gocb.UpsertOptions) (*gocb.MutationResult, error)
}

// Document is the archived form of a finished review
type Document struct {
	Type       string         `json:"type"`
	Outcome    review.Outcome `json:"outcome"`
	ArchivedAt time.Time      `json:"archivedAt"`
	Review     review.View    `json:"review"`
}

// Store writes outcome documents
type Store struct {
	docs  documents
	close func() error
	now   func() time.Time
}

// DocumentID returns the key of the archived review id
func DocumentID(id string) string {
	return "review::" + id
}

// Record upserts the outcome of v
func (s *Store) Record(ctx context.Context, v review.View, o review.Outcome) error {
	now := time.Now
	if s.now != nil {
		now = s.now
	}

	doc := Document{
		Type:       "review",
		Outcome:    o,
		ArchivedAt: now().UTC(),
		Review:     v,
	}

	docID := DocumentID(v.ID)
	if _, err := s.docs.Upsert(docID, doc, &gocb.UpsertOptions{Context: ctx}); err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", docID, err)
	}

	log.Debug().Str("docID", docID).Str("outcome", string(o)).Msg("Review archived")
	return nil
}

// Close closes the cluster connection
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
