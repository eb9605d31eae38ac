package review

import (
	"context"
	"time"
)

// NoticeKind identifies a user-facing notification
type NoticeKind string

const (
	NoticeReviewRequested NoticeKind = "review_requested"
	NoticeQuorumReached   NoticeKind = "quorum_reached"
	NoticeRejected        NoticeKind = "rejected"
	NoticePublished       NoticeKind = "published"
	NoticePublishFailed   NoticeKind = "publish_failed"
	NoticeReviewerAdded   NoticeKind = "reviewer_added"
)

// Notice is a notification for the gateway to render and deliver
type Notice struct {
	Kind      NoticeKind
	RequestID string
	Author    string
	Platform  string
	Reviewer  string
	Reviewers []string
	Threshold int
	Deadline  time.Time
}

// Gateway renders review state and delivers notifications on the chat platform
type Gateway interface {
	// PostStatus posts the initial status message and returns its identity
	PostStatus(ctx context.Context, room string, n Notice) (string, error)
	UpdateStatus(ctx context.Context, v View) error
	DeleteStatus(ctx context.Context, room, messageID string) error
	Notify(ctx context.Context, room string, n Notice) error
	NotifyPrivate(ctx context.Context, room, user, text string) error
}

// Post is what gets published to the social network
type Post struct {
	RequestID   string       `json:"requestId"`
	Author      string       `json:"author"`
	Platform    string       `json:"platform"`
	Account     string       `json:"account"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}

// Publisher performs the actual publish action
type Publisher interface {
	Publish(ctx context.Context, p Post) error
}

// Outcome is the terminal result of a review
type Outcome string

const (
	OutcomeRejected      Outcome = "rejected"
	OutcomePublished     Outcome = "published"
	OutcomePublishFailed Outcome = "publish_failed"
)

// OutcomeSink receives terminal outcomes for auditing
type OutcomeSink interface {
	Record(ctx context.Context, v View, o Outcome) error
}

type noopSink struct{}

func (noopSink) Record(context.Context, View, Outcome) error { return nil }
