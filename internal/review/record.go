package review

import (
	"sort"
	"time"

	"stealthcompany.com/snsreview/internal/clock"
)

// Status is the derived state of a review
type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusRejectPending Status = "reject_pending"
	StatusRejected      Status = "rejected"
)

// Attachment references an uploaded file
type Attachment struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// Vote is one reviewer's approval or rejection. Seq orders votes that
// arrive within the same instant.
type Vote struct {
	Reviewer string    `json:"reviewer"`
	At       time.Time `json:"at"`
	seq      uint64
}

// Record is the full state of one submission. It is owned by the worker
// goroutine of its registry entry and must not be touched from elsewhere.
type Record struct {
	ID          string
	Author      string
	Platform    string
	Account     string
	Text        string
	Attachments []Attachment
	Room        string
	MessageID   string
	CreatedAt   time.Time

	Approvals  map[string]Vote
	Rejections map[string]Vote
	Approved   bool
	Rejected   bool
	ApprovedAt time.Time

	// Deadline is set while a rejection finalization is scheduled
	Deadline time.Time

	// held is every reaction key a reviewer currently shows on the status
	// message, so a vote is withdrawn only with the reviewer's last key
	held map[heldReaction]struct{}

	episode uint64
	seq     uint64
	timer   clock.Timer
}

type heldReaction struct {
	reviewer string
	kind     string
	key      string
}

func newRecord(id string, sub Submission, messageID string, now time.Time) *Record {
	attachments := make([]Attachment, len(sub.Attachments))
	copy(attachments, sub.Attachments)
	return &Record{
		ID:          id,
		Author:      sub.Author,
		Platform:    sub.Platform,
		Account:     sub.Account,
		Text:        sub.Text,
		Attachments: attachments,
		Room:        sub.Room,
		MessageID:   messageID,
		CreatedAt:   now,
		Approvals:   make(map[string]Vote),
		Rejections:  make(map[string]Vote),
		held:        make(map[heldReaction]struct{}),
	}
}

func (r *Record) holdReaction(reviewer, kind, key string) {
	r.held[heldReaction{reviewer, kind, key}] = struct{}{}
}

// releaseReaction drops one reaction key and reports whether the reviewer
// still shows another key of the same kind
func (r *Record) releaseReaction(reviewer, kind, key string) bool {
	delete(r.held, heldReaction{reviewer, kind, key})
	for h := range r.held {
		if h.reviewer == reviewer && h.kind == kind {
			return true
		}
	}
	return false
}

// Status derives the state from the record's flags
func (r *Record) Status() Status {
	switch {
	case r.Rejected:
		return StatusRejected
	case r.Approved:
		return StatusApproved
	case !r.Deadline.IsZero():
		return StatusRejectPending
	default:
		return StatusPending
	}
}

func (r *Record) nextSeq() uint64 {
	r.seq++
	return r.seq
}

// firstRejection returns the earliest recorded rejection
func (r *Record) firstRejection() (Vote, bool) {
	votes := sortedVotes(r.Rejections)
	if len(votes) == 0 {
		return Vote{}, false
	}
	return votes[0], true
}

// View is an immutable snapshot of a record, safe to share across goroutines
type View struct {
	ID                string       `json:"id"`
	Author            string       `json:"author"`
	Platform          string       `json:"platform"`
	Account           string       `json:"account"`
	Text              string       `json:"text"`
	Attachments       []Attachment `json:"attachments"`
	Room              string       `json:"room"`
	MessageID         string       `json:"messageId"`
	CreatedAt         time.Time    `json:"createdAt"`
	Status            Status       `json:"status"`
	Approvals         []Vote       `json:"approvals"`
	Rejections        []Vote       `json:"rejections"`
	RequiredApprovals int          `json:"requiredApprovals"`
	Deadline          time.Time    `json:"deadline,omitempty"`
	FirstRejector     string       `json:"firstRejector,omitempty"`
}

// Approved reports whether the snapshot was taken in the approved state
func (v View) Approved() bool { return v.Status == StatusApproved }

func (r *Record) view(required int) View {
	attachments := make([]Attachment, len(r.Attachments))
	copy(attachments, r.Attachments)
	v := View{
		ID:                r.ID,
		Author:            r.Author,
		Platform:          r.Platform,
		Account:           r.Account,
		Text:              r.Text,
		Attachments:       attachments,
		Room:              r.Room,
		MessageID:         r.MessageID,
		CreatedAt:         r.CreatedAt,
		Status:            r.Status(),
		Approvals:         sortedVotes(r.Approvals),
		Rejections:        sortedVotes(r.Rejections),
		RequiredApprovals: required,
		Deadline:          r.Deadline,
	}
	if first, ok := r.firstRejection(); ok {
		v.FirstRejector = first.Reviewer
	}
	return v
}

func sortedVotes(m map[string]Vote) []Vote {
	out := make([]Vote, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].seq < out[j].seq
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}
