package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civitas.org/internal/contest"
	"civitas.org/internal/election"
	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
	"civitas.org/internal/jurisdiction"
	"civitas.org/internal/ledger"
	"civitas.org/internal/store"
	"civitas.org/internal/tally"
)

// Factory returns an empty repository reading time from now.
type Factory func(t *testing.T, now func() time.Time) store.Repository

// Suite is the repository conformance suite.
type Suite struct {
	suite.Suite
	NewRepository Factory

	repo   store.Repository
	clock  *Clock
	engine *tally.Engine
	seq    int
}

// Run executes the suite against repositories built by f.
func Run(t *testing.T, f Factory) {
	suite.Run(t, &Suite{NewRepository: f})
}

func (s *Suite) SetupTest() {
	s.clock = NewClock(ElectionDay.Add(10 * time.Hour))
	s.repo = s.NewRepository(s.T(), s.clock.Now)
	s.engine = tally.NewEngine(s.repo, tally.WithClock(s.clock.Now))
}

func (s *Suite) TearDownTest() {
	if s.repo != nil {
		s.Require().NoError(s.repo.Close())
	}
}

func (s *Suite) ctx() context.Context { return context.Background() }

func (s *Suite) name(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

func (s *Suite) newAccount(profile identity.RoleProfile) identity.Account {
	n := s.name("user")
	u, err := s.repo.CreateUser(s.ctx(), identity.User{Name: n, Email: n + "@example.org", PasswordHash: "hash"})
	s.Require().NoError(err)
	acc, err := s.repo.CreateAccount(s.ctx(), u.ID, profile)
	s.Require().NoError(err)
	return acc
}

func (s *Suite) newVoter() int64 {
	return s.newAccount(identity.VoterProfile{RegistrationStatus: "active"}).ID
}

func (s *Suite) newElection() election.Election {
	e, err := s.repo.OpenElection(s.ctx(), election.Spec{
		Name: s.name("election"),
		Type: "general",
		Deadlines: election.Deadlines{
			VoterRegistration:    ElectionDay.AddDate(0, -1, 0),
			InPersonElectionDate: ElectionDay,
		},
		Options: election.Options{InPersonVoting: true},
	})
	s.Require().NoError(err)
	return e
}

func (s *Suite) newPoll(electionID int64) contest.Poll {
	p, err := s.repo.AddPoll(s.ctx(), electionID, contest.PollSpec{Position: s.name("seat"), PositionType: "council"})
	s.Require().NoError(err)
	return p
}

func (s *Suite) newCampaign(pollID int64) contest.Campaign {
	c, err := s.repo.CreateCandidate(s.ctx(), contest.Candidate{Name: s.name("candidate")})
	s.Require().NoError(err)
	camp, err := s.repo.AddCampaign(s.ctx(), pollID, contest.Runner{Kind: contest.RunnerCandidate, ID: c.ID}, "statement")
	s.Require().NoError(err)
	return camp
}

func (s *Suite) newProposition(electionID int64) contest.Proposition {
	b, err := s.repo.CreateBill(s.ctx(), contest.Bill{Name: s.name("bill"), Code: "HB"})
	s.Require().NoError(err)
	p, err := s.repo.AddProposition(s.ctx(), electionID, b.ID)
	s.Require().NoError(err)
	return p
}

func (s *Suite) issue(voterID, electionID int64) ledger.Ballot {
	b, err := s.repo.IssueBallot(s.ctx(), voterID, electionID, []string{"Central Library"})
	s.Require().NoError(err)
	return b
}

func (s *Suite) vote(ballotID int64, t contest.Target, c contest.Choice) ledger.Vote {
	v, err := s.repo.CastVote(s.ctx(), ballotID, ledger.Selection{Target: t, Choice: c})
	s.Require().NoError(err)
	return v
}

// closeVoting moves the clock past election day.
func (s *Suite) closeVoting() {
	s.clock.Set(ElectionDay.AddDate(0, 0, 1).Add(time.Hour))
}

func (s *Suite) TestExactlyOneRolePerAccount() {
	ctx := s.ctx()
	u, err := s.repo.CreateUser(ctx, identity.User{Name: "Ada", Email: "Ada@Example.org", PasswordHash: "hash"})
	s.Require().NoError(err)
	s.Equal("ada@example.org", u.Email)

	acc, err := s.repo.CreateAccount(ctx, u.ID, identity.VoterProfile{RegistrationStatus: "active"})
	s.Require().NoError(err)
	s.Equal(identity.RoleVoter, acc.Kind)

	again, err := s.repo.CreateAccount(ctx, u.ID, identity.VoterProfile{})
	s.Require().NoError(err)
	s.Equal(acc.ID, again.ID)

	_, err = s.repo.CreateAccount(ctx, u.ID, identity.AdminProfile{Title: "Clerk"})
	s.ErrorIs(err, fault.ErrRoleConflict)

	err = s.repo.LinkRoleProfile(ctx, acc.ID, identity.PartnerProfile{})
	s.ErrorIs(err, fault.ErrRoleConflict)

	party, err := s.repo.CreateParty(ctx, contest.Party{Name: "Civic"})
	s.Require().NoError(err)
	s.Require().NoError(s.repo.LinkRoleProfile(ctx, acc.ID, identity.VoterProfile{PartyID: party.ID, Gender: "f"}))

	role, err := s.repo.GetRole(ctx, acc.ID)
	s.Require().NoError(err)
	vp, ok := role.(identity.VoterProfile)
	s.Require().True(ok, "expected voter profile, got %T", role)
	s.Equal(party.ID, vp.PartyID)
	s.Equal(identity.RoleVoter, role.Kind())

	err = s.repo.LinkRoleProfile(ctx, acc.ID, identity.VoterProfile{PartyID: party.ID + 1000})
	s.ErrorIs(err, fault.ErrMissingReference)

	_, err = s.repo.CreateAccount(ctx, u.ID+1000, identity.VoterProfile{})
	s.ErrorIs(err, fault.ErrMissingReference)
}

func (s *Suite) TestRegisterIsAllOrNothing() {
	ctx := s.ctx()
	u := identity.User{Name: "Gil", Email: "gil@example.org", PasswordHash: "h"}

	_, _, err := s.repo.Register(ctx, u, identity.VoterProfile{PartyID: 999999})
	s.ErrorIs(err, fault.ErrMissingReference)
	_, err = s.repo.FindUserByEmail(ctx, "gil@example.org")
	s.ErrorIs(err, fault.ErrNotFound, "failed registration must not leave a user behind")

	got, acc, err := s.repo.Register(ctx, u, identity.VoterProfile{})
	s.Require().NoError(err)
	s.Equal(got.ID, acc.UserID)
	s.Equal(identity.RoleVoter, acc.Kind)

	_, _, err = s.repo.Register(ctx, u, identity.AdminProfile{})
	s.ErrorIs(err, fault.ErrDuplicateIdentity)
}

func (s *Suite) TestDuplicateIdentity() {
	ctx := s.ctx()
	_, err := s.repo.CreateUser(ctx, identity.User{Name: "A", Email: "a@example.org", Phone: "+15550100", PasswordHash: "h"})
	s.Require().NoError(err)

	_, err = s.repo.CreateUser(ctx, identity.User{Name: "B", Email: " A@EXAMPLE.org ", PasswordHash: "h"})
	s.ErrorIs(err, fault.ErrDuplicateIdentity)

	_, err = s.repo.CreateUser(ctx, identity.User{Name: "C", Email: "c@example.org", Phone: "+15550100", PasswordHash: "h"})
	s.ErrorIs(err, fault.ErrDuplicateIdentity)

	_, err = s.repo.CreateUser(ctx, identity.User{Name: "D", Email: "d@example.org", PasswordHash: "h"})
	s.NoError(err)
	_, err = s.repo.CreateUser(ctx, identity.User{Name: "E", Email: "e@example.org", PasswordHash: "h"})
	s.NoError(err, "empty phones never collide")

	found, err := s.repo.FindUserByEmail(ctx, "D@example.org")
	s.Require().NoError(err)
	s.Equal("D", found.Name)
}

func (s *Suite) TestOrganisationsBelongToMatchingRoles() {
	ctx := s.ctx()
	admin := s.newAccount(identity.AdminProfile{Title: "Registrar"})
	partner := s.newAccount(identity.PartnerProfile{})
	voter := s.newVoter()

	adm, err := s.repo.CreateAdministration(ctx, identity.Administration{AdminAccountID: admin.ID, Name: "County Clerk"})
	s.Require().NoError(err)
	_, err = s.repo.CreateAdministration(ctx, identity.Administration{AdminAccountID: admin.ID, Name: "Second Office"})
	s.ErrorIs(err, fault.ErrDuplicateName)
	_, err = s.repo.CreateAdministration(ctx, identity.Administration{AdminAccountID: voter, Name: "Voter Office"})
	s.ErrorIs(err, fault.ErrRoleConflict)

	ent, err := s.repo.CreateEnterprise(ctx, identity.Enterprise{PartnerAccountID: partner.ID, Name: "League of Voters"})
	s.Require().NoError(err)
	other := s.newAccount(identity.PartnerProfile{})
	_, err = s.repo.CreateEnterprise(ctx, identity.Enterprise{PartnerAccountID: other.ID, Name: "league of voters"})
	s.ErrorIs(err, fault.ErrDuplicateName)

	member := s.newAccount(identity.MemberProfile{EnterpriseID: ent.ID, AdministrationID: adm.ID})
	role, err := s.repo.GetRole(ctx, member.ID)
	s.Require().NoError(err)
	s.Equal(ent.ID, role.(identity.MemberProfile).EnterpriseID)

	got, err := s.repo.GetAdministration(ctx, adm.ID)
	s.Require().NoError(err)
	s.Equal("County Clerk", got.Name)
}

func (s *Suite) TestJurisdictionNamesAreScopedToParent() {
	ctx := s.ctx()
	us, err := s.repo.AddJurisdiction(ctx, jurisdiction.LevelCountry, 0, "United States")
	s.Require().NoError(err)
	or, err := s.repo.AddJurisdiction(ctx, jurisdiction.LevelState, us.ID, "Oregon")
	s.Require().NoError(err)
	pa, err := s.repo.AddJurisdiction(ctx, jurisdiction.LevelState, us.ID, "Pennsylvania")
	s.Require().NoError(err)

	_, err = s.repo.AddJurisdiction(ctx, jurisdiction.LevelCounty, or.ID, "Washington")
	s.Require().NoError(err)
	_, err = s.repo.AddJurisdiction(ctx, jurisdiction.LevelCounty, pa.ID, "Washington")
	s.Require().NoError(err)

	_, err = s.repo.AddJurisdiction(ctx, jurisdiction.LevelCounty, or.ID, "washington")
	s.ErrorIs(err, fault.ErrDuplicateJurisdiction)

	_, err = s.repo.AddJurisdiction(ctx, jurisdiction.LevelCounty, 999999, "Lane")
	s.ErrorIs(err, fault.ErrOrphanJurisdiction)
	_, err = s.repo.AddJurisdiction(ctx, jurisdiction.LevelCounty, us.ID, "Lane")
	s.ErrorIs(err, fault.ErrOrphanJurisdiction, "a county's parent must be a state")

	path, err := s.repo.ResolvePath(ctx, jurisdiction.Query{Country: "united states", State: "Pennsylvania", County: "Washington"})
	s.Require().NoError(err)
	s.Require().Len(path, 3)
	s.Equal(pa.ID, path[1].ID)
	s.Equal(jurisdiction.LevelCounty, path.Leaf().Level)

	_, err = s.repo.ResolvePath(ctx, jurisdiction.Query{Country: "United States", State: "Nevada"})
	s.ErrorIs(err, fault.ErrNotFound)

	states, err := s.repo.ListChildren(ctx, us.Ref())
	s.Require().NoError(err)
	s.Require().Len(states, 2)
	s.Equal("Oregon", states[0].Name)

	countries, err := s.repo.ListChildren(ctx, jurisdiction.Ref{})
	s.Require().NoError(err)
	s.Len(countries, 1)
}

func (s *Suite) TestOpenElectionIsAllOrNothing() {
	ctx := s.ctx()
	_, err := s.repo.OpenElection(ctx, election.Spec{
		Name: "Special",
		Type: "special",
		Deadlines: election.Deadlines{
			MailBallotDeployment: ElectionDay.AddDate(0, 0, -10),
			MailReturnDeadline:   ElectionDay.AddDate(0, 0, -20),
		},
	})
	s.Require().ErrorIs(err, fault.ErrInvalidDeadlineOrder)
	s.Equal(fault.KindValidation, fault.KindOf(err))

	voter := s.newVoter()
	_, err = s.repo.OpenElection(ctx, election.Spec{Name: "Special", Type: "special", OrganizerAccountID: voter})
	s.ErrorIs(err, fault.ErrRoleConflict)

	_, err = s.repo.OpenElection(ctx, election.Spec{Name: "Special", Type: "special", Scope: jurisdiction.Ref{ID: 424242}})
	s.ErrorIs(err, fault.ErrMissingReference)

	all, err := s.repo.ListElections(ctx, election.Filter{})
	s.Require().NoError(err)
	s.Empty(all)

	admin := s.newAccount(identity.SuperAdminProfile{})
	us, err := s.repo.AddJurisdiction(ctx, jurisdiction.LevelCountry, 0, "United States")
	s.Require().NoError(err)
	e, err := s.repo.OpenElection(ctx, election.Spec{
		Name:               "General",
		Type:               "general",
		Scope:              jurisdiction.Ref{ID: us.ID},
		OrganizerAccountID: admin.ID,
		Options:            election.Options{VoteByMail: true, EarlyVoting: true},
		Deadlines: election.Deadlines{
			MailBallotDeployment: ElectionDay.AddDate(0, 0, -30),
			MailReturnOpening:    ElectionDay.AddDate(0, 0, -25),
			MailReturnDeadline:   ElectionDay,
			InPersonElectionDate: ElectionDay,
		},
	})
	s.Require().NoError(err)

	got, err := s.repo.GetElection(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(jurisdiction.LevelCountry, got.Scope.Level)
	s.True(got.Options.VoteByMail)
	s.True(got.Deadlines.MailReturnOpening.Equal(ElectionDay.AddDate(0, 0, -25)))
	s.True(got.Deadlines.VoterRegistration.IsZero())
}

func (s *Suite) TestElectionStatusAndClose() {
	ctx := s.ctx()
	e := s.newElection()

	s.clock.Set(ElectionDay.AddDate(0, 0, -2))
	st, err := s.repo.GetStatus(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(election.StatusUpcoming, st)

	s.clock.Set(ElectionDay.Add(12 * time.Hour))
	st, err = s.repo.GetStatus(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(election.StatusOpen, st)

	_, err = s.repo.UpdateDeadlines(ctx, e.ID, election.Deadlines{
		EarlyVotingOpening:   ElectionDay.AddDate(0, 0, 2),
		InPersonElectionDate: ElectionDay,
	})
	s.ErrorIs(err, fault.ErrInvalidDeadlineOrder)

	closed, err := s.repo.CloseElection(ctx, e.ID)
	s.Require().NoError(err)
	s.False(closed.ClosedAt.IsZero())
	_, err = s.repo.CloseElection(ctx, e.ID)
	s.ErrorIs(err, fault.ErrElectionClosed)

	st, err = s.repo.GetStatus(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(election.StatusClosed, st)

	_, err = s.repo.UpdateDeadlines(ctx, e.ID, election.Deadlines{InPersonElectionDate: ElectionDay})
	s.ErrorIs(err, fault.ErrElectionClosed)

	listed, err := s.repo.ListElections(ctx, election.Filter{Status: election.StatusClosed})
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(e.ID, listed[0].ID)
}

func (s *Suite) TestContestRules() {
	ctx := s.ctx()
	e := s.newElection()
	poll := s.newPoll(e.ID)

	rep, err := s.repo.CreateRepresentative(ctx, contest.Representative{Name: "Grace", Type: "senator"})
	s.Require().NoError(err)
	term, err := s.repo.CreateTerm(ctx, contest.Term{RepresentativeID: rep.ID, Name: "2027-2033"})
	s.Require().NoError(err)
	seat, err := s.repo.AddPoll(ctx, e.ID, contest.PollSpec{Position: "Senate", PositionType: "federal", TermID: term.ID})
	s.Require().NoError(err)
	s.Equal(term.ID, seat.TermID)

	runner := contest.Runner{Kind: contest.RunnerRepresentative, ID: rep.ID}
	camp, err := s.repo.AddCampaign(ctx, poll.ID, runner, "re-elect")
	s.Require().NoError(err)
	_, err = s.repo.AddCampaign(ctx, poll.ID, runner, "again")
	s.ErrorIs(err, fault.ErrDuplicateCampaign)
	_, err = s.repo.AddCampaign(ctx, seat.ID, runner, "other poll is fine")
	s.NoError(err)
	_, err = s.repo.AddCampaign(ctx, poll.ID, contest.Runner{Kind: contest.RunnerCandidate, ID: 99999}, "")
	s.ErrorIs(err, fault.ErrMissingReference)

	prop := s.newProposition(e.ID)
	_, err = s.repo.AddProposition(ctx, e.ID, prop.BillID)
	s.ErrorIs(err, fault.ErrDuplicateProposition)

	updated, err := s.repo.UpdateCampaignStatement(ctx, camp.ID, "new statement")
	s.Require().NoError(err)
	s.Equal("new statement", updated.Statement)

	b := s.issue(s.newVoter(), e.ID)
	s.vote(b.ID, contest.CampaignTarget(camp.ID), contest.ChoiceNone)
	_, err = s.repo.UpdateCampaignStatement(ctx, camp.ID, "too late")
	s.ErrorIs(err, fault.ErrContestLocked)

	polls, err := s.repo.ListPolls(ctx, e.ID)
	s.Require().NoError(err)
	s.Len(polls, 2)
	camps, err := s.repo.ListCampaigns(ctx, poll.ID)
	s.Require().NoError(err)
	s.Len(camps, 1)
	props, err := s.repo.ListPropositions(ctx, e.ID)
	s.Require().NoError(err)
	s.Len(props, 1)

	s.closeVoting()
	_, err = s.repo.AddPoll(ctx, e.ID, contest.PollSpec{Position: "Mayor"})
	s.ErrorIs(err, fault.ErrElectionClosed)
	_, err = s.repo.AddCampaign(ctx, seat.ID, contest.Runner{Kind: contest.RunnerCandidate, ID: s.newCampaignRunner()}, "")
	s.ErrorIs(err, fault.ErrElectionClosed)
}

func (s *Suite) newCampaignRunner() int64 {
	c, err := s.repo.CreateCandidate(s.ctx(), contest.Candidate{Name: s.name("runner")})
	s.Require().NoError(err)
	return c.ID
}

func (s *Suite) TestOneBallotPerVoterPerElection() {
	ctx := s.ctx()
	e := s.newElection()
	voter := s.newVoter()

	b := s.issue(voter, e.ID)
	s.Equal(ledger.BallotPending, b.Status)
	s.Equal([]string{"Central Library"}, b.PollingLocations)

	_, err := s.repo.IssueBallot(ctx, voter, e.ID, nil)
	s.ErrorIs(err, fault.ErrDuplicateBallot)

	spoiled, err := s.repo.SpoilBallot(ctx, b.ID, "torn")
	s.Require().NoError(err)
	s.Equal(ledger.BallotSpoiled, spoiled.Status)
	_, err = s.repo.SpoilBallot(ctx, b.ID, "again")
	s.ErrorIs(err, fault.ErrBallotSpoiled)

	replacement := s.issue(voter, e.ID)
	s.NotEqual(b.ID, replacement.ID)

	admin := s.newAccount(identity.AdminProfile{})
	_, err = s.repo.IssueBallot(ctx, admin.ID, e.ID, nil)
	s.ErrorIs(err, fault.ErrRoleConflict)

	_, err = s.repo.IssueBallot(ctx, voter, e.ID+1000, nil)
	s.ErrorIs(err, fault.ErrMissingReference)

	_, err = s.repo.IssueBallot(ctx, s.newVoter(), e.ID, []string{"a", "b", "c", "d"})
	s.ErrorIs(err, fault.ErrInvalidInput)

	s.closeVoting()
	_, err = s.repo.IssueBallot(ctx, s.newVoter(), e.ID, nil)
	s.ErrorIs(err, fault.ErrElectionClosed)
}

func (s *Suite) TestOneVotePerVoterPerContest() {
	ctx := s.ctx()
	e := s.newElection()
	poll := s.newPoll(e.ID)
	c1 := s.newCampaign(poll.ID)
	c2 := s.newCampaign(poll.ID)
	prop := s.newProposition(e.ID)
	voter := s.newVoter()

	b := s.issue(voter, e.ID)
	v := s.vote(b.ID, contest.CampaignTarget(c1.ID), contest.ChoiceNone)
	s.Equal(voter, v.VoterID)
	s.Equal(poll.ID, v.PollID)

	_, err := s.repo.CastVote(ctx, b.ID, ledger.Selection{Target: contest.CampaignTarget(c2.ID)})
	s.ErrorIs(err, fault.ErrDuplicateVote, "second campaign in the same poll")

	s.vote(b.ID, contest.PropositionTarget(prop.ID), contest.ChoiceYes)
	_, err = s.repo.CastVote(ctx, b.ID, ledger.Selection{Target: contest.PropositionTarget(prop.ID), Choice: contest.ChoiceNo})
	s.ErrorIs(err, fault.ErrDuplicateVote)

	cast, err := s.repo.GetBallot(ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(ledger.BallotCast, cast.Status)

	_, err = s.repo.SpoilBallot(ctx, b.ID, "voter error")
	s.Require().NoError(err)
	b2 := s.issue(voter, e.ID)
	s.vote(b2.ID, contest.CampaignTarget(c2.ID), contest.ChoiceNone)

	votes, next, err := s.repo.ListVotes(ctx, ledger.VoteQuery{ElectionID: e.ID})
	s.Require().NoError(err)
	s.Zero(next)
	s.Len(votes, 3, "spoiled ballot's votes stay in the ledger")
}

func (s *Suite) TestCastVoteRejections() {
	ctx := s.ctx()
	e := s.newElection()
	other := s.newElection()
	poll := s.newPoll(e.ID)
	camp := s.newCampaign(poll.ID)
	foreign := s.newCampaign(s.newPoll(other.ID).ID)
	prop := s.newProposition(e.ID)

	s.clock.Set(ElectionDay.AddDate(0, 0, -3))
	b := s.issue(s.newVoter(), e.ID)
	_, err := s.repo.CastVote(ctx, b.ID, ledger.Selection{Target: contest.CampaignTarget(camp.ID)})
	s.ErrorIs(err, fault.ErrBallotNotCast, "voting has not opened")

	s.clock.Set(ElectionDay.Add(9 * time.Hour))
	_, err = s.repo.CastVote(ctx, b.ID, ledger.Selection{Target: contest.CampaignTarget(foreign.ID)})
	s.ErrorIs(err, fault.ErrForeignTarget)
	s.Equal(fault.KindReferential, fault.KindOf(err))

	_, err = s.repo.CastVote(ctx, b.ID, ledger.Selection{Target: contest.PropositionTarget(prop.ID)})
	s.ErrorIs(err, fault.ErrInvalidInput, "propositions need a choice")

	_, err = s.repo.CastVote(ctx, b.ID, ledger.Selection{Target: contest.CampaignTarget(camp.ID), Choice: contest.ChoiceYes})
	s.ErrorIs(err, fault.ErrInvalidInput)

	_, err = s.repo.CastVote(ctx, b.ID+1000, ledger.Selection{Target: contest.CampaignTarget(camp.ID)})
	s.ErrorIs(err, fault.ErrNotFound)

	_, err = s.repo.SpoilBallot(ctx, b.ID, "")
	s.Require().NoError(err)
	_, err = s.repo.CastVote(ctx, b.ID, ledger.Selection{Target: contest.CampaignTarget(camp.ID)})
	s.ErrorIs(err, fault.ErrBallotSpoiled)

	b2 := s.issue(s.newVoter(), e.ID)
	s.closeVoting()
	_, err = s.repo.CastVote(ctx, b2.ID, ledger.Selection{Target: contest.CampaignTarget(camp.ID)})
	s.ErrorIs(err, fault.ErrBallotNotCast, "voting has closed")
}

func (s *Suite) TestFinalizeBallot() {
	ctx := s.ctx()
	e := s.newElection()
	b := s.issue(s.newVoter(), e.ID)

	f, err := s.repo.FinalizeBallot(ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(ledger.BallotCast, f.Status)
	_, err = s.repo.FinalizeBallot(ctx, b.ID)
	s.NoError(err)

	_, err = s.repo.SpoilBallot(ctx, b.ID, "")
	s.Require().NoError(err)
	_, err = s.repo.FinalizeBallot(ctx, b.ID)
	s.ErrorIs(err, fault.ErrBallotSpoiled)
}

// endToEnd builds election E with poll P, campaigns C1 and C2, and five
// ballots voting 3 for C1 and 2 for C2.
func (s *Suite) endToEnd() (contest.Poll, contest.Campaign, contest.Campaign, []ledger.Ballot) {
	e := s.newElection()
	p := s.newPoll(e.ID)
	c1 := s.newCampaign(p.ID)
	c2 := s.newCampaign(p.ID)
	ballots := make([]ledger.Ballot, 5)
	for i := range ballots {
		ballots[i] = s.issue(s.newVoter(), e.ID)
		target := c1.ID
		if i >= 3 {
			target = c2.ID
		}
		s.vote(ballots[i].ID, contest.CampaignTarget(target), contest.ChoiceNone)
	}
	return p, c1, c2, ballots
}

func (s *Suite) TestEndToEndWinner() {
	ctx := s.ctx()
	p, c1, c2, _ := s.endToEnd()

	_, err := s.engine.RecomputeWinners(ctx, p.ID)
	s.ErrorIs(err, fault.ErrElectionNotClosed)

	s.closeVoting()
	w, err := s.engine.RecomputeWinners(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(tally.Winner{PollID: p.ID, CampaignID: c1.ID, VotesReceived: 3}, w)

	again, err := s.engine.RecomputeWinners(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(w, again)

	stored, err := s.repo.GetWinner(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(w, stored)

	n, err := s.engine.GetTally(ctx, c2.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	camp, err := s.repo.GetCampaign(ctx, c2.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), camp.Votes)
}

func (s *Suite) TestSpoiledBallotIsExcluded() {
	ctx := s.ctx()
	p, c1, _, ballots := s.endToEnd()

	_, err := s.repo.SpoilBallot(ctx, ballots[0].ID, "wrong precinct")
	s.Require().NoError(err)

	n, err := s.engine.GetTally(ctx, c1.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	s.closeVoting()
	_, err = s.engine.RecomputeWinners(ctx, p.ID)
	s.Require().ErrorIs(err, fault.ErrTiedPoll)

	_, err = s.repo.GetWinner(ctx, p.ID)
	s.ErrorIs(err, fault.ErrNotFound)
}

func (s *Suite) TestTieClearsPreviousWinner() {
	ctx := s.ctx()
	e := s.newElection()
	p := s.newPoll(e.ID)
	c1 := s.newCampaign(p.ID)
	c2 := s.newCampaign(p.ID)
	b1 := s.issue(s.newVoter(), e.ID)
	s.vote(b1.ID, contest.CampaignTarget(c1.ID), contest.ChoiceNone)
	b2 := s.issue(s.newVoter(), e.ID)
	s.vote(b2.ID, contest.CampaignTarget(c2.ID), contest.ChoiceNone)
	b3 := s.issue(s.newVoter(), e.ID)
	s.vote(b3.ID, contest.CampaignTarget(c2.ID), contest.ChoiceNone)

	s.clock.Set(ElectionDay.Add(20 * time.Hour))
	_, err := s.repo.CloseElection(ctx, e.ID)
	s.Require().NoError(err)

	w, err := s.engine.RecomputeWinners(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(c2.ID, w.CampaignID)

	_, err = s.repo.SpoilBallot(ctx, b3.ID, "late correction")
	s.Require().NoError(err)

	_, err = s.engine.RecomputeWinners(ctx, p.ID)
	var tie *tally.TieError
	s.Require().ErrorAs(err, &tie)
	s.Equal([]int64{c1.ID, c2.ID}, tie.CampaignIDs)

	_, err = s.repo.GetWinner(ctx, p.ID)
	s.ErrorIs(err, fault.ErrNotFound)
}

func (s *Suite) TestPropositionTally() {
	ctx := s.ctx()
	e := s.newElection()
	prop := s.newProposition(e.ID)
	choices := []contest.Choice{contest.ChoiceYes, contest.ChoiceYes, contest.ChoiceNo}
	for _, c := range choices {
		b := s.issue(s.newVoter(), e.ID)
		s.vote(b.ID, contest.PropositionTarget(prop.ID), c)
	}

	t, err := s.engine.TallyProposition(ctx, prop.ID)
	s.Require().NoError(err)
	s.Equal(tally.PropositionTally{PropositionID: prop.ID, Yes: 2, No: 1}, t)

	s.closeVoting()
	rep, err := s.engine.RecomputeElection(ctx, e.ID)
	s.Require().NoError(err)
	s.True(rep.OK())
	s.Require().Len(rep.Propositions, 1)

	stored, err := s.repo.GetProposition(ctx, prop.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), stored.YesVotes)
	s.Equal(int64(1), stored.NoVotes)
}

func (s *Suite) TestRecomputeElectionReport() {
	ctx := s.ctx()
	e := s.newElection()
	won := s.newPoll(e.ID)
	wc := s.newCampaign(won.ID)
	s.newCampaign(won.ID)
	tied := s.newPoll(e.ID)
	s.newCampaign(tied.ID)
	s.newCampaign(tied.ID)
	empty := s.newPoll(e.ID)

	b := s.issue(s.newVoter(), e.ID)
	s.vote(b.ID, contest.CampaignTarget(wc.ID), contest.ChoiceNone)

	s.closeVoting()
	rep, err := s.engine.RecomputeElection(ctx, e.ID)
	s.Require().NoError(err)
	s.NotEmpty(rep.RunID)
	s.Require().Len(rep.Winners, 1)
	s.Equal(wc.ID, rep.Winners[0].CampaignID)
	s.Require().Len(rep.Ties, 1)
	s.Equal(tied.ID, rep.Ties[0].PollID)
	s.Equal([]int64{empty.ID}, rep.Empty)
	s.True(rep.OK())

	reports, err := s.engine.Sweep(ctx)
	s.Require().NoError(err)
	s.Len(reports, 1)
}

func (s *Suite) TestConcurrentCastsAdmitOneVote() {
	e := s.newElection()
	p := s.newPoll(e.ID)
	camps := []contest.Campaign{s.newCampaign(p.ID), s.newCampaign(p.ID), s.newCampaign(p.ID)}
	b := s.issue(s.newVoter(), e.ID)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		dupes    atomic.Int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(c contest.Campaign) {
			defer wg.Done()
			_, err := s.repo.CastVote(context.Background(), b.ID, ledger.Selection{Target: contest.CampaignTarget(c.ID)})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, fault.ErrDuplicateVote):
				dupes.Add(1)
			}
		}(camps[i%len(camps)])
	}
	wg.Wait()

	s.Equal(int32(1), accepted.Load())
	s.Equal(int32(11), dupes.Load())
}

func (s *Suite) TestListVotesPages() {
	ctx := s.ctx()
	e := s.newElection()
	var ids []int64
	for i := 0; i < 5; i++ {
		p := s.newPoll(e.ID)
		c := s.newCampaign(p.ID)
		b := s.issue(s.newVoter(), e.ID)
		ids = append(ids, s.vote(b.ID, contest.CampaignTarget(c.ID), contest.ChoiceNone).ID)
	}

	page, next, err := s.repo.ListVotes(ctx, ledger.VoteQuery{ElectionID: e.ID, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal(ids[1], next)

	page, next, err = s.repo.ListVotes(ctx, ledger.VoteQuery{ElectionID: e.ID, Limit: 2, AfterID: next})
	s.Require().NoError(err)
	s.Equal([]int64{ids[2], ids[3]}, []int64{page[0].ID, page[1].ID})

	page, next, err = s.repo.ListVotes(ctx, ledger.VoteQuery{ElectionID: e.ID, Limit: 2, AfterID: next})
	s.Require().NoError(err)
	s.Len(page, 1)
	s.Zero(next)
}

func (s *Suite) TestGuideIndex() {
	ctx := s.ctx()
	e := s.newElection()
	other := s.newElection()
	camp := s.newCampaign(s.newPoll(e.ID).ID)
	prop := s.newProposition(e.ID)
	foreign := s.newProposition(other.ID)

	partner := s.newAccount(identity.PartnerProfile{})
	ent, err := s.repo.CreateEnterprise(ctx, identity.Enterprise{PartnerAccountID: partner.ID, Name: "Civic League"})
	s.Require().NoError(err)

	g, err := s.repo.CreateGuide(ctx, ent.ID, e.ID)
	s.Require().NoError(err)
	_, err = s.repo.CreateGuide(ctx, ent.ID, e.ID)
	s.ErrorIs(err, fault.ErrDuplicateName)

	_, err = s.repo.AddRecommendation(ctx, g.ID, contest.CampaignTarget(camp.ID), contest.ChoiceNone)
	s.Require().NoError(err)
	_, err = s.repo.AddRecommendation(ctx, g.ID, contest.PropositionTarget(prop.ID), contest.ChoiceYes)
	s.Require().NoError(err)
	r, err := s.repo.AddRecommendation(ctx, g.ID, contest.PropositionTarget(prop.ID), contest.ChoiceNo)
	s.Require().NoError(err)
	s.Equal(contest.ChoiceNo, r.Stance)

	_, err = s.repo.AddRecommendation(ctx, g.ID, contest.PropositionTarget(foreign.ID), contest.ChoiceYes)
	s.ErrorIs(err, fault.ErrForeignTarget)

	recs, err := s.repo.ListRecommendations(ctx, g.ID)
	s.Require().NoError(err)
	s.Len(recs, 2)

	guides, err := s.repo.ListGuides(ctx, e.ID)
	s.Require().NoError(err)
	s.Len(guides, 1)

	en, err := s.repo.Endorse(ctx, ent.ID, contest.PropositionTarget(foreign.ID))
	s.Require().NoError(err)
	s.Equal(other.ID, en.ElectionID)
	again, err := s.repo.Endorse(ctx, ent.ID, contest.PropositionTarget(foreign.ID))
	s.Require().NoError(err)
	s.Equal(en.ID, again.ID)

	ends, err := s.repo.ListEndorsements(ctx, ent.ID)
	s.Require().NoError(err)
	s.Len(ends, 1)

	n, err := s.engine.GetTally(ctx, camp.ID)
	s.Require().NoError(err)
	s.Zero(n, "guides never touch tallies")
}
