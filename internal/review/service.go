package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"stealthcompany.com/snsreview/internal/apperr"
	"stealthcompany.com/snsreview/internal/clock"
	"stealthcompany.com/snsreview/internal/metrics"
	"stealthcompany.com/snsreview/internal/reviewer"
)

// Config holds the review policy
type Config struct {
	RequiredApprovals int
	GracePeriod       time.Duration
	ApproveKeys       []string
	RejectKeys        []string
	// ReviewersOnly ignores reactions from identities outside the directory
	ReviewersOnly bool
	// Accounts maps each platform to its allowed accounts. Nil disables the check.
	Accounts map[string][]string
	// GatewayTimeout bounds each render or notification call
	GatewayTimeout time.Duration
}

// Deps are the collaborators of the service
type Deps struct {
	Clock     clock.Clock
	Directory *reviewer.Directory
	Resolver  *reviewer.Resolver
	Gateway   Gateway
	Publisher Publisher
	Sink      OutcomeSink
	NewID     func() string
}

// Service owns the registry of live reviews and dispatches events to them
type Service struct {
	cfg       Config
	machine   Machine
	clock     clock.Clock
	registry  *Registry
	directory *reviewer.Directory
	resolver  *reviewer.Resolver
	gateway   Gateway
	publisher Publisher
	sink      OutcomeSink
	newID     func() string

	approveKeys map[string]struct{}
	rejectKeys  map[string]struct{}

	// intake is read-held by every submission from posting its status
	// message until its worker is registered
	intake sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService validates cfg and wires the collaborators
func NewService(cfg Config, deps Deps) (*Service, error) {
	if cfg.RequiredApprovals < 1 {
		return nil, fmt.Errorf("required approvals must be at least 1, got %d", cfg.RequiredApprovals)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if deps.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Directory == nil {
		deps.Directory = reviewer.NewDirectory()
	}
	if deps.Resolver == nil {
		deps.Resolver = reviewer.NewResolver(nil)
	}
	if deps.Sink == nil {
		deps.Sink = noopSink{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:         cfg,
		machine:     Machine{RequiredApprovals: cfg.RequiredApprovals, GracePeriod: cfg.GracePeriod},
		clock:       deps.Clock,
		registry:    NewRegistry(),
		directory:   deps.Directory,
		resolver:    deps.Resolver,
		gateway:     deps.Gateway,
		publisher:   deps.Publisher,
		sink:        deps.Sink,
		newID:       deps.NewID,
		approveKeys: keySet(cfg.ApproveKeys),
		rejectKeys:  keySet(cfg.RejectKeys),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// Close stops every worker and pending timer. Live reviews are dropped.
func (s *Service) Close() {
	s.cancel()
}

// Directory returns the reviewer directory
func (s *Service) Directory() *reviewer.Directory { return s.directory }

// RequiredApprovals returns the quorum
func (s *Service) RequiredApprovals() int { return s.cfg.RequiredApprovals }

// Live returns snapshots of the live reviews
func (s *Service) Live() []View { return s.registry.Views() }

// Handle dispatches ev. User-facing errors are reported privately to the
// actor and returned; stale events are dropped.
func (s *Service) Handle(ctx context.Context, ev Event) error {
	var err error
	switch e := ev.(type) {
	case Submission:
		_, err = s.Submit(ctx, e)
	case ReactionAdded:
		err = s.React(ctx, e)
	case ReactionRemoved:
		err = s.Unreact(ctx, e)
	case PublishRequest:
		err = s.Publish(ctx, e)
	case RegisterReviewer:
		_, err = s.RegisterReviewer(ctx, e)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
	if err == nil {
		return nil
	}

	room, user := actor(ev)
	switch apperr.KindOf(err) {
	case apperr.KindStaleEvent:
		log.Debug().Err(err).Str("event", ev.eventName()).Msg("Dropping stale event")
		return nil
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindAlreadyRegistered:
		s.notifyPrivate(room, user, apperr.UserMessage(err))
	default:
		log.Error().Err(err).Str("event", ev.eventName()).Str("room", room).Msg("Event handling failed")
	}
	return err
}

// Submit creates a review, posts its status message and registers it
func (s *Service) Submit(ctx context.Context, sub Submission) (View, error) {
	if err := s.Validate(sub); err != nil {
		metrics.RecordSubmission("invalid")
		return View{}, err
	}

	id := s.newID()
	s.intake.RLock()
	messageID, err := s.gateway.PostStatus(ctx, sub.Room, Notice{
		Kind:      NoticeReviewRequested,
		RequestID: id,
		Author:    sub.Author,
		Platform:  sub.Platform,
		Reviewers: s.directory.List(),
		Threshold: s.cfg.RequiredApprovals,
	})
	if err != nil {
		s.intake.RUnlock()
		metrics.RecordSubmission("error")
		return View{}, fmt.Errorf("post status message: %w", err)
	}

	rec := newRecord(id, sub, messageID, s.clock.Now())
	w := s.startWorker(rec)
	s.registry.add(w)
	s.intake.RUnlock()
	metrics.RecordSubmission("created")
	metrics.SetLiveReviews(s.registry.Len())

	log.Info().
		Str("review", id).
		Str("author", sub.Author).
		Str("room", sub.Room).
		Str("message", messageID).
		Str("platform", sub.Platform).
		Str("account", sub.Account).
		Int("attachments", len(sub.Attachments)).
		Msg("Review created")

	if err := w.submit(ctx, command{
		name: "render",
		run:  func(*Record) ([]Effect, error) { return []Effect{Render{}}, nil },
	}); err != nil && !errors.Is(err, apperr.ErrStaleEvent) {
		log.Warn().Err(err).Str("review", id).Msg("Initial render not delivered")
	}
	return w.snapshot(), nil
}

// Validate checks a submission without creating anything
func (s *Service) Validate(sub Submission) error {
	if strings.TrimSpace(sub.Author) == "" {
		return apperr.Validation("author", "is required")
	}
	if strings.TrimSpace(sub.Room) == "" {
		return apperr.Validation("room", "is required")
	}
	if strings.TrimSpace(sub.Platform) == "" {
		return apperr.Validation("platform", "is required")
	}
	if strings.TrimSpace(sub.Account) == "" {
		return apperr.Validation("account", "is required")
	}
	if strings.TrimSpace(sub.Text) == "" {
		return apperr.Validation("text", "is required")
	}
	if s.cfg.Accounts == nil {
		return nil
	}
	accounts, ok := s.cfg.Accounts[sub.Platform]
	if !ok {
		return apperr.Validation("platform", "%s is not configured", sub.Platform)
	}
	for _, a := range accounts {
		if a == sub.Account {
			return nil
		}
	}
	return apperr.Validation("account", "%s is not an account of %s", sub.Account, sub.Platform)
}

type reactionKind string

const (
	reactionApprove reactionKind = "approve"
	reactionReject  reactionKind = "reject"
)

func (s *Service) classify(key string) (reactionKind, bool) {
	if _, ok := s.approveKeys[key]; ok {
		return reactionApprove, true
	}
	if _, ok := s.rejectKeys[key]; ok {
		return reactionReject, true
	}
	return "", false
}

// React applies a reaction placed on a status message
func (s *Service) React(ctx context.Context, ev ReactionAdded) error {
	return s.applyReaction(ctx, ev.Room, ev.MessageID, ev.Reviewer, ev.Key, "added")
}

// Unreact applies a reaction withdrawn from a status message
func (s *Service) Unreact(ctx context.Context, ev ReactionRemoved) error {
	return s.applyReaction(ctx, ev.Room, ev.MessageID, ev.Reviewer, ev.Key, "removed")
}

func (s *Service) applyReaction(ctx context.Context, room, messageID, who, key, action string) error {
	kind, ok := s.classify(key)
	if !ok {
		return nil
	}

	w, ok := s.lookupStatus(room, messageID)
	if !ok {
		metrics.RecordReaction(string(kind), action, "stale")
		return apperr.Stale("no live review for message %s in %s", messageID, room)
	}

	if s.cfg.ReviewersOnly && !s.directory.Contains(who) {
		metrics.RecordReaction(string(kind), action, "ignored")
		log.Debug().
			Str("review", w.id).
			Str("reviewer", who).
			Msg("Ignoring reaction from non-reviewer")
		return nil
	}

	err := w.submit(ctx, command{
		name: string(kind) + "_" + action,
		run: func(r *Record) ([]Effect, error) {
			now := s.clock.Now()
			if action == "added" {
				r.holdReaction(who, string(kind), key)
			} else if r.releaseReaction(who, string(kind), key) {
				return nil, nil
			}
			switch {
			case kind == reactionApprove && action == "added":
				return s.machine.Approve(r, who, now), nil
			case kind == reactionApprove:
				return s.machine.RevokeApproval(r, who), nil
			case action == "added":
				return s.machine.Reject(r, who, now), nil
			default:
				return s.machine.RevokeRejection(r, who), nil
			}
		},
	})
	if err != nil {
		metrics.RecordReaction(string(kind), action, "stale")
		return err
	}

	metrics.RecordReaction(string(kind), action, "applied")
	log.Info().
		Str("review", w.id).
		Str("reviewer", who).
		Str("reaction", string(kind)).
		Str("action", action).
		Str("status", string(w.snapshot().Status)).
		Msg("Reaction applied")
	return nil
}

// lookupStatus finds the worker of a status message. A miss waits for
// submissions still between posting and registering, since the reaction
// may target the message one of them just posted.
func (s *Service) lookupStatus(room, messageID string) (*worker, bool) {
	if w, ok := s.registry.byStatusMessage(room, messageID); ok {
		return w, true
	}
	s.intake.Lock()
	s.intake.Unlock()
	return s.registry.byStatusMessage(room, messageID)
}

// Publish publishes an approved review of the requesting author. The record
// is removed whatever the publish result; there is no retry.
func (s *Service) Publish(ctx context.Context, req PublishRequest) error {
	w, ok := s.publishCandidate(req)
	if !ok {
		metrics.RecordPublish("not_found")
		return apperr.NotFound("no approved post found for you")
	}

	err := w.submit(ctx, command{
		name: "publish",
		run: func(r *Record) ([]Effect, error) {
			if !r.Approved || r.Author != req.Author {
				return nil, apperr.NotFound("no approved post found for you")
			}
			return s.publish(r), nil
		},
	})
	if errors.Is(err, apperr.ErrStaleEvent) {
		metrics.RecordPublish("not_found")
		return apperr.NotFound("no approved post found for you")
	}
	return err
}

func (s *Service) publishCandidate(req PublishRequest) (*worker, bool) {
	if req.RequestID != "" {
		w, ok := s.registry.byRequestID(req.RequestID)
		if !ok {
			return nil, false
		}
		v := w.snapshot()
		return w, v.Author == req.Author && v.Approved()
	}

	var candidates []*worker
	for _, w := range s.registry.workers() {
		v := w.snapshot()
		if v.Author == req.Author && v.Room == req.Room && v.Approved() {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].snapshot(), candidates[j].snapshot()
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return candidates[0], true
}

// publish runs on the record's worker
func (s *Service) publish(r *Record) []Effect {
	post := Post{
		RequestID:   r.ID,
		Author:      r.Author,
		Platform:    r.Platform,
		Account:     r.Account,
		Text:        r.Text,
		Attachments: append([]Attachment(nil), r.Attachments...),
	}

	notice := Notice{RequestID: r.ID, Author: r.Author, Platform: r.Platform}
	outcome := OutcomePublished

	ctx, cancel := context.WithTimeout(s.ctx, 2*s.cfg.GatewayTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, post); err != nil {
		log.Error().
			Err(err).
			Str("review", r.ID).
			Str("platform", r.Platform).
			Str("account", r.Account).
			Msg("Publish failed")
		notice.Kind = NoticePublishFailed
		outcome = OutcomePublishFailed
		metrics.RecordPublish("failed")
	} else {
		log.Info().
			Str("review", r.ID).
			Str("platform", r.Platform).
			Str("account", r.Account).
			Msg("Post published")
		notice.Kind = NoticePublished
		metrics.RecordPublish("success")
	}

	return []Effect{Announce{Notice: notice}, Retire{Outcome: outcome}}
}

// RegisterReviewer resolves the hint and adds the reviewer to the directory
func (s *Service) RegisterReviewer(ctx context.Context, req RegisterReviewer) (string, error) {
	id, err := s.resolver.Resolve(ctx, req.Room, req.Hint)
	if err != nil {
		return "", err
	}
	if err := s.directory.Register(id); err != nil {
		return "", err
	}
	s.announce(req.Room, Notice{Kind: NoticeReviewerAdded, Reviewer: id})
	return id, nil
}

func (s *Service) effectContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.cfg.GatewayTimeout)
}

func (s *Service) render(v View) {
	ctx, cancel := s.effectContext()
	defer cancel()
	if err := s.gateway.UpdateStatus(ctx, v); err != nil {
		log.Error().Err(err).Str("review", v.ID).Msg("Failed to update status message")
	}
}

func (s *Service) announce(room string, n Notice) {
	ctx, cancel := s.effectContext()
	defer cancel()
	if err := s.gateway.Notify(ctx, room, n); err != nil {
		log.Error().Err(err).Str("room", room).Str("notice", string(n.Kind)).Msg("Failed to send notification")
	}
	switch n.Kind {
	case NoticeQuorumReached:
		metrics.RecordApproved()
	case NoticeRejected:
		metrics.RecordRejected()
	}
}

func (s *Service) deleteStatus(room, messageID string) {
	ctx, cancel := s.effectContext()
	defer cancel()
	if err := s.gateway.DeleteStatus(ctx, room, messageID); err != nil {
		log.Error().Err(err).Str("room", room).Str("message", messageID).Msg("Failed to delete status message")
	}
}

func (s *Service) notifyPrivate(room, user, text string) {
	if room == "" || user == "" {
		return
	}
	ctx, cancel := s.effectContext()
	defer cancel()
	if err := s.gateway.NotifyPrivate(ctx, room, user, text); err != nil {
		log.Error().Err(err).Str("room", room).Str("user", user).Msg("Failed to send private notification")
	}
}

func (s *Service) archive(v View, o Outcome) {
	ctx, cancel := s.effectContext()
	defer cancel()
	if err := s.sink.Record(ctx, v, o); err != nil {
		log.Error().Err(err).Str("review", v.ID).Msg("Failed to archive outcome")
	}
}
