// Package memory is an in-process Repository. All state sits behind one
// RWMutex, so every operation is serialisable; uniqueness rules are kept as
// index maps mirroring the relational constraints.
package memory

import (
	"context"
	"sync"
	"time"

	"civitas.org/internal/contest"
	"civitas.org/internal/election"
	"civitas.org/internal/guide"
	"civitas.org/internal/identity"
	"civitas.org/internal/jurisdiction"
	"civitas.org/internal/ledger"
	"civitas.org/internal/store"
	"civitas.org/internal/tally"
)

var _ store.Repository = (*Store)(nil)

type pair [2]int64

type nodeKey struct {
	level    jurisdiction.Level
	parentID int64
	name     string
}

type runnerKey struct {
	pollID int64
	runner contest.Runner
}

type recKey struct {
	guideID int64
	target  contest.Target
}

type endorseKey struct {
	enterpriseID int64
	target       contest.Target
}

type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	seq map[string]int64

	users         map[int64]identity.User
	userByEmail   map[string]int64
	userByPhone   map[string]int64
	accounts      map[int64]identity.Account
	accountByUser map[int64]int64
	profiles      map[int64]identity.RoleProfile
	admins        map[int64]identity.Administration
	adminByName   map[string]int64
	adminByOwner  map[int64]int64
	enterprises   map[int64]identity.Enterprise
	entByName     map[string]int64
	entByOwner    map[int64]int64

	nodes     map[int64]jurisdiction.Node
	nodeIndex map[nodeKey]int64

	elections map[int64]election.Election

	parties         map[int64]contest.Party
	candidates      map[int64]contest.Candidate
	representatives map[int64]contest.Representative
	terms           map[int64]contest.Term
	bills           map[int64]contest.Bill
	polls           map[int64]contest.Poll
	campaigns       map[int64]contest.Campaign
	campaignRunner  map[runnerKey]int64
	propositions    map[int64]contest.Proposition
	propositionBill map[pair]int64

	ballots       map[int64]ledger.Ballot
	liveBallot    map[pair]int64
	votes         []ledger.Vote
	pollClaims    map[pair]int64
	propClaims    map[pair]int64
	campaignVotes map[int64]int
	winners       map[int64]tally.Winner

	guides          map[int64]guide.Guide
	guideIndex      map[pair]int64
	recommendations map[int64]guide.Recommendation
	recIndex        map[recKey]int64
	endorsements    map[int64]guide.Endorsement
	endorseIndex    map[endorseKey]int64
}

type Option func(*Store)

// WithClock sets the time source used for status checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:             time.Now,
		seq:             map[string]int64{},
		users:           map[int64]identity.User{},
		userByEmail:     map[string]int64{},
		userByPhone:     map[string]int64{},
		accounts:        map[int64]identity.Account{},
		accountByUser:   map[int64]int64{},
		profiles:        map[int64]identity.RoleProfile{},
		admins:          map[int64]identity.Administration{},
		adminByName:     map[string]int64{},
		adminByOwner:    map[int64]int64{},
		enterprises:     map[int64]identity.Enterprise{},
		entByName:       map[string]int64{},
		entByOwner:      map[int64]int64{},
		nodes:           map[int64]jurisdiction.Node{},
		nodeIndex:       map[nodeKey]int64{},
		elections:       map[int64]election.Election{},
		parties:         map[int64]contest.Party{},
		candidates:      map[int64]contest.Candidate{},
		representatives: map[int64]contest.Representative{},
		terms:           map[int64]contest.Term{},
		bills:           map[int64]contest.Bill{},
		polls:           map[int64]contest.Poll{},
		campaigns:       map[int64]contest.Campaign{},
		campaignRunner:  map[runnerKey]int64{},
		propositions:    map[int64]contest.Proposition{},
		propositionBill: map[pair]int64{},
		ballots:         map[int64]ledger.Ballot{},
		liveBallot:      map[pair]int64{},
		pollClaims:      map[pair]int64{},
		propClaims:      map[pair]int64{},
		campaignVotes:   map[int64]int{},
		winners:         map[int64]tally.Winner{},
		guides:          map[int64]guide.Guide{},
		guideIndex:      map[pair]int64{},
		recommendations: map[int64]guide.Recommendation{},
		recIndex:        map[recKey]int64{},
		endorsements:    map[int64]guide.Endorsement{},
		endorseIndex:    map[endorseKey]int64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// nextID must be called with the write lock held.
func (s *Store) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func (s *Store) clock() time.Time { return s.now().UTC() }
