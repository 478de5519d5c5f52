package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"civitas.org/internal/config"
	"civitas.org/internal/contest"
	"civitas.org/internal/election"
	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
	"civitas.org/internal/ids"
	"civitas.org/internal/jurisdiction"
	"civitas.org/internal/ledger"
	"civitas.org/internal/store"
	"civitas.org/internal/store/memory"
	"civitas.org/internal/store/pg"
	"civitas.org/internal/tally"
)

// clock lets the scenario open voting, then move past election day.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("CIVITAS_PG_DSN"), "PostgreSQL DSN; empty runs against the in-memory store")
	flag.Parse()

	electionDay := time.Now().UTC().Truncate(24 * time.Hour)
	clk := &clock{now: electionDay.Add(10 * time.Hour)}

	var repo store.Repository
	if *dsn == "" {
		repo = memory.New(memory.WithClock(clk.Now))
	} else {
		s, err := pg.Open(config.PostgresConfig{DSN: *dsn}, pg.WithClock(clk.Now))
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		repo = s
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, repo, clk, electionDay); err != nil {
		log.Fatalf("smoke-ballot: %v", err)
	}
}

func run(ctx context.Context, repo store.Repository, clk *clock, electionDay time.Time) error {
	tag := ids.New()
	people := identity.NewService(repo)
	ballots := ledger.NewService(repo)
	engine := tally.NewEngine(repo, tally.WithClock(clk.Now))

	_, organizer, err := people.Register(ctx, identity.Registration{
		Name:     "Smoke Clerk",
		Email:    fmt.Sprintf("clerk-%s@smoke.test", tag),
		Password: "correct horse battery",
		Profile:  identity.AdminProfile{Title: "Clerk"},
	})
	if err != nil {
		return fmt.Errorf("register organizer: %w", err)
	}
	country, err := repo.AddJurisdiction(ctx, jurisdiction.LevelCountry, 0, "Smoke "+tag)
	if err != nil {
		return fmt.Errorf("add jurisdiction: %w", err)
	}
	e, err := repo.OpenElection(ctx, election.Spec{
		Name:               "Smoke general " + tag,
		Type:               "general",
		Scope:              jurisdiction.Ref{Level: country.Level, ID: country.ID},
		OrganizerAccountID: organizer.ID,
		Options:            election.Options{InPersonVoting: true},
		Deadlines: election.Deadlines{
			VoterRegistration:    electionDay.AddDate(0, -1, 0),
			InPersonElectionDate: electionDay,
		},
	})
	if err != nil {
		return fmt.Errorf("open election: %w", err)
	}

	poll, err := repo.AddPoll(ctx, e.ID, contest.PollSpec{Position: "Mayor", PositionType: "executive"})
	if err != nil {
		return fmt.Errorf("add poll: %w", err)
	}
	var campaigns [2]contest.Campaign
	for i, name := range []string{"Alder", "Birch"} {
		c, err := repo.CreateCandidate(ctx, contest.Candidate{Name: name})
		if err != nil {
			return fmt.Errorf("create candidate: %w", err)
		}
		if campaigns[i], err = repo.AddCampaign(ctx, poll.ID, contest.Runner{Kind: contest.RunnerCandidate, ID: c.ID}, ""); err != nil {
			return fmt.Errorf("add campaign: %w", err)
		}
	}
	bill, err := repo.CreateBill(ctx, contest.Bill{Name: "Library levy", Code: "M-1"})
	if err != nil {
		return fmt.Errorf("create bill: %w", err)
	}
	prop, err := repo.AddProposition(ctx, e.ID, bill.ID)
	if err != nil {
		return fmt.Errorf("add proposition: %w", err)
	}

	picks := []struct {
		campaign int
		choice   contest.Choice
	}{
		{0, contest.ChoiceYes}, {0, contest.ChoiceYes}, {0, contest.ChoiceNo}, {1, contest.ChoiceYes}, {1, contest.ChoiceNo},
	}
	var issued []ledger.Ballot
	for i, p := range picks {
		_, voter, err := people.Register(ctx, identity.Registration{
			Name:     fmt.Sprintf("Voter %d", i),
			Email:    fmt.Sprintf("voter-%d-%s@smoke.test", i, tag),
			Password: "correct horse battery",
			Profile:  identity.VoterProfile{RegistrationStatus: "active"},
		})
		if err != nil {
			return fmt.Errorf("register voter %d: %w", i, err)
		}
		b, err := ballots.IssueBallot(ctx, voter.ID, e.ID, []string{"City Hall"})
		if err != nil {
			return fmt.Errorf("issue ballot %d: %w", i, err)
		}
		if _, err := ballots.CastVote(ctx, b.ID, ledger.Selection{Target: contest.CampaignTarget(campaigns[p.campaign].ID)}); err != nil {
			return fmt.Errorf("cast campaign vote %d: %w", i, err)
		}
		if _, err := ballots.CastVote(ctx, b.ID, ledger.Selection{Target: contest.PropositionTarget(prop.ID), Choice: p.choice}); err != nil {
			return fmt.Errorf("cast proposition vote %d: %w", i, err)
		}
		issued = append(issued, b)
	}

	_, err = ballots.CastVote(ctx, issued[0].ID, ledger.Selection{Target: contest.CampaignTarget(campaigns[1].ID)})
	if !errors.Is(err, fault.ErrDuplicateVote) {
		return fmt.Errorf("second vote in a poll: expected %s, got %v", fault.ErrDuplicateVote.Code, err)
	}
	if _, err := ballots.SpoilBallot(ctx, issued[4].ID, "smoke"); err != nil {
		return fmt.Errorf("spoil ballot: %w", err)
	}

	clk.Set(electionDay.AddDate(0, 0, 1).Add(time.Hour))
	rep, err := engine.RecomputeElection(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("recompute: %w", err)
	}
	if !rep.OK() || len(rep.Winners) != 1 {
		return fmt.Errorf("unexpected report: winners=%d ties=%d failed=%d", len(rep.Winners), len(rep.Ties), rep.Failures())
	}
	w, err := engine.GetWinner(ctx, poll.ID)
	if err != nil {
		return fmt.Errorf("get winner: %w", err)
	}
	if w.CampaignID != campaigns[0].ID || w.VotesReceived != 3 {
		return fmt.Errorf("unexpected winner: campaign %d with %d votes", w.CampaignID, w.VotesReceived)
	}
	if n, err := engine.GetTally(ctx, campaigns[1].ID); err != nil || n != 1 {
		return fmt.Errorf("runner-up tally: %d, %v", n, err)
	}
	pt, err := engine.TallyProposition(ctx, prop.ID)
	if err != nil {
		return fmt.Errorf("tally proposition: %w", err)
	}
	if pt.Yes != 3 || pt.No != 1 {
		return fmt.Errorf("unexpected proposition tally: yes=%d no=%d", pt.Yes, pt.No)
	}

	fmt.Printf("smoke-ballot passed: election=%d winner=campaign %d (%d votes) run=%s\n", e.ID, w.CampaignID, w.VotesReceived, rep.RunID)
	return nil
}
