package review

// Event is an inbound request for the review service
type Event interface {
	eventName() string
}

// Submission asks for a new review of a post draft
type Submission struct {
	Author      string
	Platform    string
	Account     string
	Text        string
	Attachments []Attachment
	Room        string
}

// ReactionAdded reports a reaction placed on a status message
type ReactionAdded struct {
	Room      string
	MessageID string
	Reviewer  string
	Key       string
}

// ReactionRemoved reports a reaction withdrawn from a status message
type ReactionRemoved struct {
	Room      string
	MessageID string
	Reviewer  string
	Key       string
}

// PublishRequest asks to publish an approved review. An empty RequestID
// selects the author's oldest approved review in Room.
type PublishRequest struct {
	Room      string
	Author    string
	RequestID string
}

// RegisterReviewer asks to add a reviewer resolved from Hint
type RegisterReviewer struct {
	Room  string
	Actor string
	Hint  string
}

func (Submission) eventName() string       { return "submission" }
func (ReactionAdded) eventName() string    { return "reaction_added" }
func (ReactionRemoved) eventName() string  { return "reaction_removed" }
func (PublishRequest) eventName() string   { return "publish_request" }
func (RegisterReviewer) eventName() string { return "register_reviewer" }

// actor returns the identity that caused ev and the room it happened in
func actor(ev Event) (room, user string) {
	switch e := ev.(type) {
	case Submission:
		return e.Room, e.Author
	case ReactionAdded:
		return e.Room, e.Reviewer
	case ReactionRemoved:
		return e.Room, e.Reviewer
	case PublishRequest:
		return e.Room, e.Author
	case RegisterReviewer:
		return e.Room, e.Actor
	}
	return "", ""
}
