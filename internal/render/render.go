// Package render turns review snapshots and notices into chat messages.
// Every function is pure: the same input always yields the same message.
package render

import (
	"fmt"
	"html"
	"strings"

	"stealthcompany.com/snsreview/internal/review"
)

// Message is a chat message with a plain body and an HTML rendition
type Message struct {
	Body          string
	FormattedBody string
}

// Keys are the reactions shown in the call to action
type Keys struct {
	Approve string
	Reject  string
}

const timeLayout = "2006-01-02 15:04 MST"

// Mention renders a user as plain text and as a Matrix pill
func Mention(userID string) (plain, formatted string) {
	return userID, fmt.Sprintf(`<a href="https://matrix.to/#/%s">%s</a>`, html.EscapeString(userID), html.EscapeString(userID))
}

// Status renders the status message of a live review
func Status(v review.View, keys Keys) Message {
	var b, h strings.Builder
	authorPlain, authorHTML := Mention(v.Author)

	fmt.Fprintf(&b, "Post review for %s\n", authorPlain)
	fmt.Fprintf(&b, "• Platform: %s\n", v.Platform)
	fmt.Fprintf(&b, "• Account: %s\n", v.Account)
	fmt.Fprintf(&b, "• Approvals: %d/%d\n", len(v.Approvals), v.RequiredApprovals)

	fmt.Fprintf(&h, "<p><strong>Post review for %s</strong></p><ul>", authorHTML)
	fmt.Fprintf(&h, "<li>Platform: <strong>%s</strong></li>", html.EscapeString(v.Platform))
	fmt.Fprintf(&h, "<li>Account: <strong>%s</strong></li>", html.EscapeString(v.Account))
	fmt.Fprintf(&h, "<li>Approvals: %d/%d</li></ul>", len(v.Approvals), v.RequiredApprovals)

	switch v.Status {
	case review.StatusApproved:
		b.WriteString("→ Approved. Ready to post with !post " + v.ID + "\n")
		fmt.Fprintf(&h, "<p>→ <strong>Approved</strong>. Ready to post with <code>!post %s</code></p>", html.EscapeString(v.ID))
	case review.StatusRejectPending:
		deadline := v.Deadline.UTC().Format(timeLayout)
		who, whoHTML := Mention(v.FirstRejector)
		fmt.Fprintf(&b, "→ Rejected by %s. Final at %s unless every rejection is withdrawn.\n", who, deadline)
		fmt.Fprintf(&h, "<p>→ <strong>Rejected</strong> by %s. Final at %s unless every rejection is withdrawn.</p>", whoHTML, deadline)
	case review.StatusRejected:
		b.WriteString("→ Rejected.\n")
		h.WriteString("<p>→ <strong>Rejected</strong>.</p>")
	default:
		fmt.Fprintf(&b, "React with %s to approve or %s to reject.\n", keys.Approve, keys.Reject)
		fmt.Fprintf(&h, "<p>React with %s to approve or %s to reject.</p>", html.EscapeString(keys.Approve), html.EscapeString(keys.Reject))
	}

	if len(v.Rejections) > 0 {
		names := voters(v.Rejections)
		fmt.Fprintf(&b, "Rejected by: %s\n", strings.Join(names, ", "))
		fmt.Fprintf(&h, "<p>Rejected by: %s</p>", html.EscapeString(strings.Join(names, ", ")))
	}

	fmt.Fprintf(&b, "\nText\n%s\n", v.Text)
	fmt.Fprintf(&h, "<hr/><p><strong>Text</strong></p><pre>%s</pre>", html.EscapeString(v.Text))

	if len(v.Attachments) > 0 {
		b.WriteString("\nAttachments\n")
		h.WriteString("<p><strong>Attachments</strong></p><ul>")
		for _, a := range v.Attachments {
			fmt.Fprintf(&b, "• %s %s\n", a.Name, a.URI)
			fmt.Fprintf(&h, "<li>%s</li>", html.EscapeString(a.Name))
		}
		h.WriteString("</ul>")
	}

	return Message{Body: strings.TrimRight(b.String(), "\n"), FormattedBody: h.String()}
}

func voters(votes []review.Vote) []string {
	out := make([]string, len(votes))
	for i, v := range votes {
		out[i] = v.Reviewer
	}
	return out
}

// Notice renders a public notification
func Notice(n review.Notice) Message {
	author, authorHTML := Mention(n.Author)
	who, whoHTML := Mention(n.Reviewer)

	switch n.Kind {
	case review.NoticeReviewRequested:
		if len(n.Reviewers) == 0 {
			return Message{
				Body:          fmt.Sprintf("%s submitted a post for review. No reviewers are registered yet; add one with !register.", author),
				FormattedBody: fmt.Sprintf("%s submitted a post for review. No reviewers are registered yet; add one with <code>!register</code>.", authorHTML),
			}
		}
		plain := make([]string, len(n.Reviewers))
		formatted := make([]string, len(n.Reviewers))
		for i, r := range n.Reviewers {
			plain[i], formatted[i] = Mention(r)
		}
		return Message{
			Body: fmt.Sprintf("%s submitted a post for review. %s, %d approval(s) needed.",
				author, strings.Join(plain, " "), n.Threshold),
			FormattedBody: fmt.Sprintf("%s submitted a post for review. %s, %d approval(s) needed.",
				authorHTML, strings.Join(formatted, " "), n.Threshold),
		}

	case review.NoticeQuorumReached:
		return Message{
			Body:          fmt.Sprintf("%s, your post was approved by the required number of reviewers (%d). Send !post to publish it.", author, n.Threshold),
			FormattedBody: fmt.Sprintf("%s, your post was approved by the required number of reviewers (%d). Send <code>!post</code> to publish it.", authorHTML, n.Threshold),
		}

	case review.NoticeRejected:
		deadline := n.Deadline.UTC().Format(timeLayout)
		return Message{
			Body:          fmt.Sprintf("The post by %s was rejected by %s (final at %s).", author, who, deadline),
			FormattedBody: fmt.Sprintf("The post by %s was rejected by %s (final at %s).", authorHTML, whoHTML, deadline),
		}

	case review.NoticePublished:
		return Message{
			Body:          fmt.Sprintf("The post by %s was published on %s.", author, n.Platform),
			FormattedBody: fmt.Sprintf("The post by %s was published on %s.", authorHTML, html.EscapeString(n.Platform)),
		}

	case review.NoticePublishFailed:
		return Message{
			Body:          fmt.Sprintf("Publishing the post by %s on %s failed. The review is closed; submit it again to retry.", author, n.Platform),
			FormattedBody: fmt.Sprintf("Publishing the post by %s on %s failed. The review is closed; submit it again to retry.", authorHTML, html.EscapeString(n.Platform)),
		}

	case review.NoticeReviewerAdded:
		return Message{
			Body:          fmt.Sprintf("%s is now a reviewer.", who),
			FormattedBody: fmt.Sprintf("%s is now a reviewer.", whoHTML),
		}
	}

	return Message{Body: string(n.Kind), FormattedBody: html.EscapeString(string(n.Kind))}
}

// Private renders a message addressed to one user
func Private(user, text string) Message {
	plain, formatted := Mention(user)
	return Message{
		Body:          fmt.Sprintf("%s: %s", plain, text),
		FormattedBody: fmt.Sprintf("%s: %s", formatted, html.EscapeString(text)),
	}
}

// Reviewers renders the reviewer directory listing
func Reviewers(ids []string, required int) Message {
	if len(ids) == 0 {
		return Message{Body: fmt.Sprintf("No reviewers registered. %d approval(s) required.", required)}
	}
	return Message{Body: fmt.Sprintf("Reviewers: %s. %d approval(s) required.", strings.Join(ids, ", "), required)}
}
