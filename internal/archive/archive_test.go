package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/require"
	"stealthcompany.com/snsreview/internal/review"
)

type fakeDocs struct {
	docs map[string]interface{}
	err  error
}

func (f *fakeDocs) Upsert(id string, val interface{}, opts *gocb.UpsertOptions) (*gocb.MutationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.docs == nil {
		f.docs = make(map[string]interface{})
	}
	f.docs[id] = val
	return &gocb.MutationResult{}, nil
}

func TestRecordUpsertsOutcome(t *testing.T) {
	docs := &fakeDocs{}
	at := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	s := &Store{docs: docs, now: func() time.Time { return at }}

	v := review.View{ID: "req-1", Author: "@a:example.org", Status: review.StatusRejected}
	require.NoError(t, s.Record(context.Background(), v, review.OutcomeRejected))

	doc, ok := docs.docs["review::req-1"].(Document)
	require.True(t, ok)
	require.Equal(t, Document{Type: "review", Outcome: review.OutcomeRejected, ArchivedAt: at, Review: v}, doc)
}

func TestRecordWrapsErrors(t *testing.T) {
	s := &Store{docs: &fakeDocs{err: errors.New("timeout")}}

	err := s.Record(context.Background(), review.View{ID: "req-1"}, review.OutcomePublished)

	require.ErrorContains(t, err, "review::req-1")
	require.NoError(t, s.Close())
}

func TestConnectionString(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"couchbase://db", "couchbase://db"},
		{"couchbases://db", "couchbases://db"},
		{"http://db:8091", "couchbase://db:8091"},
		{"https://db", "couchbases://db"},
		{"db", "couchbase://db"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			require.Equal(t, tt.expected, connectionString(tt.url))
		})
	}
}
