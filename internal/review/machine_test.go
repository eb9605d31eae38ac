package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestRecord() *Record {
	return newRecord("r1", Submission{
		Author:   "@author:example.org",
		Platform: "x",
		Account:  "main",
		Text:     "hello",
		Room:     "!room:example.org",
	}, "$status", t0)
}

func effectTypes(effects []Effect) []string {
	var out []string
	for _, e := range effects {
		switch e.(type) {
		case Render:
			out = append(out, "render")
		case Announce:
			out = append(out, "announce")
		case ScheduleFinalization:
			out = append(out, "schedule")
		case CancelFinalization:
			out = append(out, "cancel")
		case DeleteStatus:
			out = append(out, "delete")
		case Retire:
			out = append(out, "retire")
		}
	}
	return out
}

func TestApproveReachesQuorum(t *testing.T) {
	tests := []struct {
		name      string
		required  int
		reviewers []string
		approved  bool
	}{
		{"single reviewer threshold one", 1, []string{"@a"}, true},
		{"below threshold", 2, []string{"@a"}, false},
		{"duplicate approval counts once", 2, []string{"@a", "@a"}, false},
		{"exactly at threshold", 2, []string{"@a", "@b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Machine{RequiredApprovals: tt.required, GracePeriod: DefaultGracePeriod}
			r := newTestRecord()
			for i, who := range tt.reviewers {
				m.Approve(r, who, t0.Add(time.Duration(i)*time.Second))
			}
			require.Equal(t, tt.approved, r.Approved)
		})
	}
}

func TestQuorumAnnouncedOnce(t *testing.T) {
	m := Machine{RequiredApprovals: 1, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()

	require.Equal(t, []string{"render", "announce"}, effectTypes(m.Approve(r, "@a", t0)))
	require.Equal(t, []string{"render"}, effectTypes(m.Approve(r, "@b", t0)))

	announce := m.Approve(newTestRecord(), "@a", t0)[1].(Announce)
	require.Equal(t, NoticeQuorumReached, announce.Notice.Kind)
	require.Equal(t, "@author:example.org", announce.Notice.Author)
}

func TestRevokeApprovalKeepsApprovedState(t *testing.T) {
	m := Machine{RequiredApprovals: 1, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()
	m.Approve(r, "@a", t0)

	effects := m.RevokeApproval(r, "@a")

	require.Equal(t, []string{"render"}, effectTypes(effects))
	require.Empty(t, r.Approvals)
	require.True(t, r.Approved)
	require.Equal(t, StatusApproved, r.Status())
}

func TestRevokeUnknownVoteIsNoop(t *testing.T) {
	m := Machine{RequiredApprovals: 2, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()

	require.Empty(t, m.RevokeApproval(r, "@a"))
	require.Empty(t, m.RevokeRejection(r, "@a"))
}

func TestFirstRejectionSchedulesOnce(t *testing.T) {
	m := Machine{RequiredApprovals: 2, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()

	effects := m.Reject(r, "@a", t0)
	require.Equal(t, []string{"schedule", "render"}, effectTypes(effects))
	sched := effects[0].(ScheduleFinalization)
	require.Equal(t, DefaultGracePeriod, sched.Delay)
	require.Equal(t, t0.Add(DefaultGracePeriod), r.Deadline)
	require.Equal(t, StatusRejectPending, r.Status())

	require.Equal(t, []string{"render"}, effectTypes(m.Reject(r, "@b", t0.Add(time.Minute))))
	require.Equal(t, t0.Add(DefaultGracePeriod), r.Deadline)
}

func TestRevokingLastRejectionCancels(t *testing.T) {
	m := Machine{RequiredApprovals: 2, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()
	m.Reject(r, "@a", t0)
	m.Reject(r, "@b", t0.Add(time.Second))

	require.Equal(t, []string{"render"}, effectTypes(m.RevokeRejection(r, "@a")))
	require.False(t, r.Deadline.IsZero())

	require.Equal(t, []string{"cancel", "render"}, effectTypes(m.RevokeRejection(r, "@b")))
	require.True(t, r.Deadline.IsZero())
	require.Equal(t, StatusPending, r.Status())
}

func TestFinalizeIgnoresStaleEpisode(t *testing.T) {
	m := Machine{RequiredApprovals: 2, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()

	first := m.Reject(r, "@a", t0)[0].(ScheduleFinalization)
	m.RevokeRejection(r, "@a")
	second := m.Reject(r, "@a", t0.Add(time.Minute))[0].(ScheduleFinalization)
	require.NotEqual(t, first.Episode, second.Episode)

	require.Empty(t, m.Finalize(r, first.Episode))
	require.False(t, r.Rejected)

	effects := m.Finalize(r, second.Episode)
	require.Equal(t, []string{"delete", "announce", "retire"}, effectTypes(effects))
	require.True(t, r.Rejected)
	require.Equal(t, OutcomeRejected, effects[2].(Retire).Outcome)
}

func TestFinalizeNamesFirstRejector(t *testing.T) {
	m := Machine{RequiredApprovals: 2, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()

	sched := m.Reject(r, "@zed", t0)[0].(ScheduleFinalization)
	m.Reject(r, "@amy", t0)
	m.Reject(r, "@bob", t0.Add(-time.Second))

	announce := m.Finalize(r, sched.Episode)[1].(Announce)
	require.Equal(t, NoticeRejected, announce.Notice.Kind)
	require.Equal(t, "@bob", announce.Notice.Reviewer)
	require.Equal(t, t0.Add(DefaultGracePeriod), announce.Notice.Deadline)
}

func TestSameInstantRejectionsOrderedByArrival(t *testing.T) {
	m := Machine{RequiredApprovals: 2, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()

	m.Reject(r, "@zed", t0)
	m.Reject(r, "@amy", t0)

	first, ok := r.firstRejection()
	require.True(t, ok)
	require.Equal(t, "@zed", first.Reviewer)
}

func TestQuorumDuringGraceCancelsRejection(t *testing.T) {
	m := Machine{RequiredApprovals: 1, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()

	sched := m.Reject(r, "@a", t0)[0].(ScheduleFinalization)
	effects := m.Approve(r, "@b", t0.Add(time.Minute))

	require.Equal(t, []string{"cancel", "render", "announce"}, effectTypes(effects))
	require.True(t, r.Approved)
	require.True(t, r.Deadline.IsZero())
	require.Empty(t, m.Finalize(r, sched.Episode))
	require.False(t, r.Rejected)
}

func TestRejectAfterApprovalIgnored(t *testing.T) {
	m := Machine{RequiredApprovals: 1, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()
	m.Approve(r, "@a", t0)

	require.Empty(t, m.Reject(r, "@b", t0.Add(time.Second)))
	require.Empty(t, r.Rejections)
	require.True(t, r.Deadline.IsZero())
}

func TestRejectedRecordIgnoresEverything(t *testing.T) {
	m := Machine{RequiredApprovals: 1, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()
	sched := m.Reject(r, "@a", t0)[0].(ScheduleFinalization)
	m.Finalize(r, sched.Episode)

	require.Empty(t, m.Approve(r, "@b", t0))
	require.Empty(t, m.Reject(r, "@b", t0))
	require.Empty(t, m.RevokeRejection(r, "@a"))
	require.Empty(t, m.Finalize(r, sched.Episode))
	require.False(t, r.Approved)
}

func TestViewSnapshot(t *testing.T) {
	m := Machine{RequiredApprovals: 2, GracePeriod: DefaultGracePeriod}
	r := newTestRecord()
	m.Approve(r, "@b", t0.Add(time.Second))
	m.Approve(r, "@a", t0)
	m.Reject(r, "@c", t0)

	v := r.view(2)

	require.Equal(t, StatusRejectPending, v.Status)
	require.Equal(t, "@a", v.Approvals[0].Reviewer)
	require.Equal(t, "@b", v.Approvals[1].Reviewer)
	require.Equal(t, "@c", v.FirstRejector)
	require.Equal(t, 2, v.RequiredApprovals)

	m.Approve(r, "@d", t0)
	require.Len(t, v.Approvals, 2, "snapshot must not alias the record")
}
