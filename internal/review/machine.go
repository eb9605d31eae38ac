package review

import "time"

// DefaultGracePeriod is the delay between a first rejection and its finalization
const DefaultGracePeriod = 5 * time.Minute

// Effect is a side effect requested by a state transition. Effects are
// executed in order, after the mutation that produced them.
type Effect interface {
	effect()
}

// Render re-renders the status message from the current record
type Render struct{}

// Announce delivers a public notification
type Announce struct{ Notice Notice }

// ScheduleFinalization arms the rejection timer for an episode
type ScheduleFinalization struct {
	Episode uint64
	Delay   time.Duration
}

// CancelFinalization disarms the rejection timer
type CancelFinalization struct{}

// DeleteStatus removes the rendered status message
type DeleteStatus struct{}

// Retire removes the record from the registry and archives the outcome
type Retire struct{ Outcome Outcome }

func (Render) effect()               {}
func (Announce) effect()             {}
func (ScheduleFinalization) effect() {}
func (CancelFinalization) effect()   {}
func (DeleteStatus) effect()         {}
func (Retire) effect()               {}

// Machine applies reviewer actions to a record.
//
// Approval is terminal: once the quorum is reached the record stays
// approved, later rejections are ignored and a pending finalization is
// cancelled. Rejections only become final after GracePeriod.
type Machine struct {
	RequiredApprovals int
	GracePeriod       time.Duration
}

// Approve records reviewer's approval at the given time
func (m Machine) Approve(r *Record, reviewer string, at time.Time) []Effect {
	if r.Rejected {
		return nil
	}

	r.Approvals[reviewer] = Vote{Reviewer: reviewer, At: at, seq: r.nextSeq()}

	if r.Approved || len(r.Approvals) < m.RequiredApprovals {
		return []Effect{Render{}}
	}

	r.Approved = true
	r.ApprovedAt = at

	var effects []Effect
	if !r.Deadline.IsZero() {
		r.Deadline = time.Time{}
		effects = append(effects, CancelFinalization{})
	}
	return append(effects,
		Render{},
		Announce{Notice: Notice{
			Kind:      NoticeQuorumReached,
			RequestID: r.ID,
			Author:    r.Author,
			Platform:  r.Platform,
			Threshold: m.RequiredApprovals,
		}},
	)
}

// RevokeApproval withdraws reviewer's approval. The approved state is kept.
func (m Machine) RevokeApproval(r *Record, reviewer string) []Effect {
	if r.Rejected {
		return nil
	}
	if _, ok := r.Approvals[reviewer]; !ok {
		return nil
	}
	delete(r.Approvals, reviewer)
	return []Effect{Render{}}
}

// Reject records reviewer's rejection. The first rejection of an episode
// schedules the finalization.
func (m Machine) Reject(r *Record, reviewer string, at time.Time) []Effect {
	if r.Rejected || r.Approved {
		return nil
	}

	r.Rejections[reviewer] = Vote{Reviewer: reviewer, At: at, seq: r.nextSeq()}

	if !r.Deadline.IsZero() {
		return []Effect{Render{}}
	}

	r.episode++
	r.Deadline = at.Add(m.GracePeriod)
	return []Effect{
		ScheduleFinalization{Episode: r.episode, Delay: m.GracePeriod},
		Render{},
	}
}

// RevokeRejection withdraws reviewer's rejection. Emptying the rejections
// cancels the scheduled finalization.
func (m Machine) RevokeRejection(r *Record, reviewer string) []Effect {
	if r.Rejected {
		return nil
	}
	if _, ok := r.Rejections[reviewer]; !ok {
		return nil
	}
	delete(r.Rejections, reviewer)

	if len(r.Rejections) > 0 || r.Deadline.IsZero() {
		return []Effect{Render{}}
	}

	r.Deadline = time.Time{}
	return []Effect{CancelFinalization{}, Render{}}
}

// Finalize runs when the timer of episode fires. It re-checks that the
// episode is still current, because a cancellation can lose the race
// against an already firing timer.
func (m Machine) Finalize(r *Record, episode uint64) []Effect {
	if r.Rejected || r.Approved || r.Deadline.IsZero() || episode != r.episode {
		return nil
	}
	first, ok := r.firstRejection()
	if !ok {
		return nil
	}

	r.Rejected = true
	return []Effect{
		DeleteStatus{},
		Announce{Notice: Notice{
			Kind:      NoticeRejected,
			RequestID: r.ID,
			Author:    r.Author,
			Platform:  r.Platform,
			Reviewer:  first.Reviewer,
			Deadline:  r.Deadline,
		}},
		Retire{Outcome: OutcomeRejected},
	}
}
