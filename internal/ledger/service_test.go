package ledger_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civitas.org/internal/audit"
	"civitas.org/internal/contest"
	"civitas.org/internal/election"
	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
	"civitas.org/internal/ledger"
	"civitas.org/internal/obs"
	"civitas.org/internal/store/memory"
	"civitas.org/internal/store/storetest"
)

func TestServiceRecordsLedgerEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLogger(&buf, slog.LevelDebug)
	prev := obs.SetLogger(logger)
	t.Cleanup(func() { obs.SetLogger(prev) })

	ctx := audit.WithRequestID(context.Background(), "req-1")
	st := memory.New(memory.WithClock(func() time.Time { return storetest.ElectionDay.Add(8 * time.Hour) }))

	u, err := st.CreateUser(ctx, identity.User{Name: "V", Email: "v@example.org"})
	require.NoError(t, err)
	voter, err := st.CreateAccount(ctx, u.ID, identity.VoterProfile{})
	require.NoError(t, err)
	e, err := st.OpenElection(ctx, election.Spec{Name: "E", Type: "general", Deadlines: election.Deadlines{InPersonElectionDate: storetest.ElectionDay}})
	require.NoError(t, err)
	p, err := st.AddPoll(ctx, e.ID, contest.PollSpec{Position: "Mayor"})
	require.NoError(t, err)
	cand, err := st.CreateCandidate(ctx, contest.Candidate{Name: "C"})
	require.NoError(t, err)
	camp, err := st.AddCampaign(ctx, p.ID, contest.Runner{Kind: contest.RunnerCandidate, ID: cand.ID}, "")
	require.NoError(t, err)

	m := obs.NewMetrics(prometheus.NewRegistry())
	svc := ledger.NewService(st, ledger.WithLogger(logger), ledger.WithMetrics(m))

	b, err := svc.IssueBallot(ctx, voter.ID, e.ID, nil)
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, b.ID, ledger.Selection{Target: contest.CampaignTarget(camp.ID)})
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, b.ID, ledger.Selection{Target: contest.CampaignTarget(camp.ID)})
	require.ErrorIs(t, err, fault.ErrDuplicateVote)
	_, err = svc.SpoilBallot(ctx, b.ID, "smudged")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ballots.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ballots.WithLabelValues("spoiled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesCast.WithLabelValues("campaign")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VoteRejections.WithLabelValues("duplicate_vote")))

	out := buf.String()
	assert.Contains(t, out, `"event":"ballot.issued"`)
	assert.Contains(t, out, `"event":"vote.cast"`)
	assert.Contains(t, out, `"event":"ballot.spoiled"`)
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"msg":"vote rejected"`)
}

func TestServiceFinalizeCountsOnce(t *testing.T) {
	st := memory.New(memory.WithClock(func() time.Time { return storetest.ElectionDay.Add(8 * time.Hour) }))
	ctx := context.Background()
	u, err := st.CreateUser(ctx, identity.User{Name: "V", Email: "v@example.org"})
	require.NoError(t, err)
	voter, err := st.CreateAccount(ctx, u.ID, identity.VoterProfile{})
	require.NoError(t, err)
	e, err := st.OpenElection(ctx, election.Spec{Name: "E", Type: "general", Deadlines: election.Deadlines{InPersonElectionDate: storetest.ElectionDay}})
	require.NoError(t, err)

	m := obs.NewMetrics(prometheus.NewRegistry())
	svc := ledger.NewService(st, ledger.WithMetrics(m))
	b, err := svc.IssueBallot(ctx, voter.ID, e.ID, []string{"Town Hall"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := svc.FinalizeBallot(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.BallotCast, got.Status)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ballots.WithLabelValues("finalized")))
}
