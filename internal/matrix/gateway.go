// Package matrix connects the review service to Matrix rooms.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/matrix-org/gomatrix"
	"github.com/rs/zerolog/log"
	"stealthcompany.com/snsreview/internal/render"
	"stealthcompany.com/snsreview/internal/review"
	"stealthcompany.com/snsreview/internal/reviewer"
)

const (
	eventMessage   = "m.room.message"
	eventReaction  = "m.reaction"
	eventRedaction = "m.room.redaction"

	msgText   = "m.text"
	msgNotice = "m.notice"
	htmlFmt   = "org.matrix.custom.html"
)

// api is the part of the gomatrix client the gateway uses
type api interface {
	SendMessageEvent(roomID string, eventType string, contentJSON interface{}) (*gomatrix.RespSendEvent, error)
	RedactEvent(roomID, eventID string, req *gomatrix.ReqRedact) (*gomatrix.RespSendEvent, error)
	JoinedMembers(roomID string) (*gomatrix.RespJoinedMembers, error)
	UploadToContentRepo(content io.Reader, contentType string, contentLength int64) (*gomatrix.RespMediaUpload, error)
}

// NewClient creates a gomatrix client whose requests time out after timeout
func NewClient(homeserver, userID, accessToken string, timeout time.Duration) (*gomatrix.Client, error) {
	cli, err := gomatrix.NewClient(homeserver, userID, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	cli.Client = &http.Client{Timeout: timeout}
	return cli, nil
}

// Gateway renders reviews into a Matrix room
type Gateway struct {
	api  api
	keys render.Keys
}

// NewGateway creates a gateway. keys are shown in the call to action.
func NewGateway(client api, keys render.Keys) *Gateway {
	return &Gateway{api: client, keys: keys}
}

type messageContent struct {
	MsgType       string          `json:"msgtype"`
	Body          string          `json:"body"`
	Format        string          `json:"format,omitempty"`
	FormattedBody string          `json:"formatted_body,omitempty"`
	NewContent    *messageContent `json:"m.new_content,omitempty"`
	RelatesTo     *relatesTo      `json:"m.relates_to,omitempty"`
}

type relatesTo struct {
	RelType string `json:"rel_type"`
	EventID string `json:"event_id"`
}

func content(msgType string, m render.Message) *messageContent {
	c := &messageContent{MsgType: msgType, Body: m.Body}
	if m.FormattedBody != "" {
		c.Format = htmlFmt
		c.FormattedBody = m.FormattedBody
	}
	return c
}

func (g *Gateway) send(ctx context.Context, room string, c *messageContent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := g.api.SendMessageEvent(room, eventMessage, c)
	if err != nil {
		logHTTPError(err, room)
		return "", err
	}
	return resp.EventID, nil
}

// PostStatus sends the review request mentioning the reviewers and returns
// its event ID
func (g *Gateway) PostStatus(ctx context.Context, room string, n review.Notice) (string, error) {
	id, err := g.send(ctx, room, content(msgText, render.Notice(n)))
	if err != nil {
		return "", fmt.Errorf("failed to post status message: %w", err)
	}
	return id, nil
}

// UpdateStatus replaces the status message with the rendered snapshot
func (g *Gateway) UpdateStatus(ctx context.Context, v review.View) error {
	msg := render.Status(v, g.keys)
	c := content(msgText, render.Message{Body: "* " + msg.Body, FormattedBody: msg.FormattedBody})
	c.NewContent = content(msgText, msg)
	c.RelatesTo = &relatesTo{RelType: "m.replace", EventID: v.MessageID}

	if _, err := g.send(ctx, v.Room, c); err != nil {
		return fmt.Errorf("failed to edit status message %s: %w", v.MessageID, err)
	}
	return nil
}

// DeleteStatus redacts the status message
func (g *Gateway) DeleteStatus(ctx context.Context, room, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.api.RedactEvent(room, messageID, &gomatrix.ReqRedact{Reason: "review rejected"}); err != nil {
		logHTTPError(err, room)
		return fmt.Errorf("failed to redact status message %s: %w", messageID, err)
	}
	return nil
}

// Notify sends a public notice
func (g *Gateway) Notify(ctx context.Context, room string, n review.Notice) error {
	_, err := g.send(ctx, room, content(msgNotice, render.Notice(n)))
	return err
}

// NotifyPrivate sends a notice addressed to user. Matrix has no ephemeral
// messages, so the notice is visible to the room.
func (g *Gateway) NotifyPrivate(ctx context.Context, room, user, text string) error {
	_, err := g.send(ctx, room, content(msgNotice, render.Private(user, text)))
	return err
}

// SendNotice sends a plain notice
func (g *Gateway) SendNotice(ctx context.Context, room string, m render.Message) error {
	_, err := g.send(ctx, room, content(msgNotice, m))
	return err
}

// Members lists the joined members of room
func (g *Gateway) Members(ctx context.Context, room string) ([]reviewer.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := g.api.JoinedMembers(room)
	if err != nil {
		logHTTPError(err, room)
		return nil, fmt.Errorf("failed to list members of %s: %w", room, err)
	}

	members := make([]reviewer.Member, 0, len(resp.Joined))
	for id, m := range resp.Joined {
		member := reviewer.Member{UserID: id}
		if m.DisplayName != nil {
			member.DisplayName = *m.DisplayName
		}
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}

// Upload stores an attachment in the media repository
func (g *Gateway) Upload(ctx context.Context, name, contentType string, size int64, r io.Reader) (review.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return review.Attachment{}, err
	}
	resp, err := g.api.UploadToContentRepo(r, contentType, size)
	if err != nil {
		return review.Attachment{}, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	log.Debug().Str("file", name).Str("uri", resp.ContentURI).Msg("Attachment uploaded")
	return review.Attachment{Name: name, URI: resp.ContentURI}, nil
}

func logHTTPError(err error, room string) {
	var httpErr gomatrix.HTTPError
	if errors.As(err, &httpErr) {
		log.Warn().
			Int("code", httpErr.Code).
			Str("room", room).
			Str("response", string(httpErr.Contents)).
			Msg("Homeserver request failed")
	}
}
