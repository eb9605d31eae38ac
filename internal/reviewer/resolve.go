package reviewer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"stealthcompany.com/snsreview/internal/apperr"
)

// userIDPattern matches a Matrix user ID anywhere in free text, including
// inside matrix.to links and HTML mention pills.
var userIDPattern = regexp.MustCompile(`@[a-zA-Z0-9._=\-/+]+:[a-zA-Z0-9.\-]+(?::[0-9]+)?`)

// Member is a room member as reported by the chat platform
type Member struct {
	UserID      string
	DisplayName string
}

// MemberLister lists the members of a conversation
type MemberLister interface {
	Members(ctx context.Context, room string) ([]Member, error)
}

// Resolver turns a free-text identity hint into a canonical reviewer identity
type Resolver struct {
	members MemberLister
}

// NewResolver creates a resolver backed by members
func NewResolver(members MemberLister) *Resolver {
	return &Resolver{members: members}
}

// Resolve returns the canonical identity for hint. A literal user ID or
// mention wins; otherwise the hint is matched case-insensitively against the
// display names and localparts of the room's members.
func (r *Resolver) Resolve(ctx context.Context, room, hint string) (string, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "", apperr.Validation("reviewer", "specify a user, e.g. @alice:example.org or a display name")
	}

	if id := userIDPattern.FindString(hint); id != "" {
		return id, nil
	}

	name := strings.TrimSpace(strings.TrimPrefix(hint, "@"))
	if r.members == nil {
		return "", apperr.NotFound("no user matching @%s", name)
	}

	members, err := r.members.Members(ctx, room)
	if err != nil {
		return "", fmt.Errorf("list members of %s: %w", room, err)
	}

	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })

	log.Debug().
		Str("room", room).
		Str("name", name).
		Int("members", len(members)).
		Msg("Resolving reviewer by name")

	for _, m := range members {
		if strings.EqualFold(m.DisplayName, name) || strings.EqualFold(localpart(m.UserID), name) {
			return m.UserID, nil
		}
	}

	return "", apperr.NotFound("no user matching @%s; try the full user ID form", name)
}

func localpart(userID string) string {
	userID = strings.TrimPrefix(userID, "@")
	if i := strings.IndexByte(userID, ':'); i >= 0 {
		return userID[:i]
	}
	return userID
}
