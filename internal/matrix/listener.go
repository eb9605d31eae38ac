package matrix

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/matrix-org/gomatrix"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"stealthcompany.com/snsreview/internal/apperr"
	"stealthcompany.com/snsreview/internal/render"
	"stealthcompany.com/snsreview/internal/review"
	"stealthcompany.com/snsreview/internal/reviewer"
)

// ReactionTTL bounds how long a reaction can still be withdrawn by redaction
const ReactionTTL = 48 * time.Hour

// Reviews is the review service as seen from the chat
type Reviews interface {
	Handle(ctx context.Context, ev review.Event) error
	Directory() *reviewer.Directory
	RequiredApprovals() int
}

// LinkIssuer issues form links
type LinkIssuer interface {
	Link(baseURL, author, room string) (string, error)
}

// Listener turns room events into review events
type Listener struct {
	reviews Reviews
	gateway *Gateway
	links   LinkIssuer
	baseURL string
	botID   string
	since   int64

	// reactions maps reaction event IDs to what they reacted to, so a
	// redaction can be turned into a withdrawal
	reactions *cache.Cache
}

type reactionRef struct {
	room      string
	messageID string
	sender    string
	key       string
}

// NewListener creates a listener. Events older than since are ignored.
func NewListener(reviews Reviews, gateway *Gateway, links LinkIssuer, baseURL, botID string, since time.Time) *Listener {
	return &Listener{
		reviews:   reviews,
		gateway:   gateway,
		links:     links,
		baseURL:   baseURL,
		botID:     botID,
		since:     since.UnixMilli(),
		reactions: cache.New(ReactionTTL, time.Hour),
	}
}

// Register attaches the listener to the client's syncer
func (l *Listener) Register(ctx context.Context, syncer *gomatrix.DefaultSyncer) {
	for _, t := range []string{eventMessage, eventReaction, eventRedaction} {
		syncer.OnEventType(t, func(ev *gomatrix.Event) {
			l.HandleEvent(ctx, ev)
		})
	}
}

// HandleEvent dispatches one room event
func (l *Listener) HandleEvent(ctx context.Context, ev *gomatrix.Event) {
	if ev.Sender == l.botID || ev.Timestamp < l.since {
		return
	}

	raw, err := json.Marshal(ev.Content)
	if err != nil {
		log.Error().Err(err).Str("event", ev.ID).Msg("Failed to encode event content")
		return
	}

	switch ev.Type {
	case eventReaction:
		l.onReaction(ctx, ev, raw)
	case eventRedaction:
		l.onRedaction(ctx, ev, raw)
	case eventMessage:
		l.onMessage(ctx, ev, raw)
	}
}

func (l *Listener) onReaction(ctx context.Context, ev *gomatrix.Event, raw []byte) {
	rel := gjson.GetBytes(raw, `m\.relates_to`)
	if rel.Get("rel_type").String() != "m.annotation" {
		return
	}
	ref := reactionRef{
		room:      ev.RoomID,
		messageID: rel.Get("event_id").String(),
		sender:    ev.Sender,
		key:       rel.Get("key").String(),
	}
	if ref.messageID == "" || ref.key == "" {
		return
	}
	l.reactions.Set(ev.ID, ref, cache.DefaultExpiration)

	l.dispatch(ctx, review.ReactionAdded{
		Room:      ref.room,
		MessageID: ref.messageID,
		Reviewer:  ref.sender,
		Key:       ref.key,
	})
}

func (l *Listener) onRedaction(ctx context.Context, ev *gomatrix.Event, raw []byte) {
	target := ev.Redacts
	if target == "" {
		target = gjson.GetBytes(raw, "redacts").String()
	}
	cached, ok := l.reactions.Get(target)
	if !ok {
		return
	}
	l.reactions.Delete(target)
	ref := cached.(reactionRef)

	// only the reactor withdraws the reaction; moderator redactions are ignored
	if ev.Sender != ref.sender {
		return
	}

	l.dispatch(ctx, review.ReactionRemoved{
		Room:      ref.room,
		MessageID: ref.messageID,
		Reviewer:  ref.sender,
		Key:       ref.key,
	})
}

func (l *Listener) onMessage(ctx context.Context, ev *gomatrix.Event, raw []byte) {
	if gjson.GetBytes(raw, `m\.relates_to.rel_type`).String() == "m.replace" {
		return
	}
	body := strings.TrimSpace(gjson.GetBytes(raw, "body").String())
	if !strings.HasPrefix(body, "!") {
		return
	}

	command, arg, _ := strings.Cut(body, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "!review":
		l.sendFormLink(ctx, ev)
	case "!register":
		hint := arg
		// mention pills only carry the user ID in the HTML body
		if formatted := gjson.GetBytes(raw, "formatted_body").String(); strings.Contains(formatted, "matrix.to/#/@") {
			hint = formatted
		}
		l.dispatch(ctx, review.RegisterReviewer{Room: ev.RoomID, Actor: ev.Sender, Hint: hint})
	case "!post":
		l.dispatch(ctx, review.PublishRequest{Room: ev.RoomID, Author: ev.Sender, RequestID: arg})
	case "!reviewers":
		msg := render.Reviewers(l.reviews.Directory().List(), l.reviews.RequiredApprovals())
		if err := l.gateway.SendNotice(ctx, ev.RoomID, msg); err != nil {
			log.Error().Err(err).Str("room", ev.RoomID).Msg("Failed to list reviewers")
		}
	}
}

func (l *Listener) sendFormLink(ctx context.Context, ev *gomatrix.Event) {
	link, err := l.links.Link(l.baseURL, ev.Sender, ev.RoomID)
	if err != nil {
		log.Error().Err(err).Str("user", ev.Sender).Msg("Failed to issue form link")
		return
	}
	if err := l.gateway.NotifyPrivate(ctx, ev.RoomID, ev.Sender, "Open the review form: "+link); err != nil {
		log.Error().Err(err).Str("room", ev.RoomID).Msg("Failed to send form link")
	}
}

func (l *Listener) dispatch(ctx context.Context, ev review.Event) {
	if err := l.reviews.Handle(ctx, ev); err != nil && apperr.KindOf(err) == "" {
		log.Error().Err(err).Msgf("Failed to handle %T", ev)
	}
}
