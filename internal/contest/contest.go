// Package contest describes what is on a ballot: polls with the campaigns
// running in them, propositions, and the reference data they point at.
package contest

import (
	"context"
	"strings"
	"time"

	"civitas.org/internal/fault"
)

type Party struct {
	ID       int64
	Name     string
	Overview string
}

type Contact struct {
	Email     string
	Phone     string
	Website   string
	Twitter   string
	Facebook  string
	Instagram string
	Photo     string
}

type Candidate struct {
	ID      int64
	Name    string
	Type    string
	State   string
	County  string
	PartyID int64
	Contact Contact
}

type Representative struct {
	ID       int64
	Name     string
	Type     string
	Position string
	State    string
	County   string
	PartyID  int64
	Contact  Contact
}

// Term is an office term held by a representative.
type Term struct {
	ID               int64
	RepresentativeID int64
	Name             string
	Type             string
	Start            time.Time
	End              time.Time
	Length           string
}

type Bill struct {
	ID       int64
	Name     string
	Code     string
	Category string
	Type     string
	Overview string
	Text     string
	State    string
	County   string
}

// PollSpec is the input to AddPoll.
type PollSpec struct {
	Position     string
	PositionType string
	TermID       int64
}

// Poll is one contested position within an election.
type Poll struct {
	ID           int64
	ElectionID   int64
	Position     string
	PositionType string
	TermID       int64
}

type RunnerKind string

const (
	RunnerCandidate      RunnerKind = "candidate"
	RunnerRepresentative RunnerKind = "representative"
)

// Runner is the candidate or representative behind a campaign.
type Runner struct {
	Kind RunnerKind
	ID   int64
}

func (r Runner) Validate() error {
	if r.Kind != RunnerCandidate && r.Kind != RunnerRepresentative {
		return fault.ErrInvalidInput.At("campaign", 0).Withf("unknown runner kind %q", r.Kind)
	}
	if r.ID <= 0 {
		return fault.ErrInvalidInput.At("campaign", 0).On(string(r.Kind) + "_id")
	}
	return nil
}

// Campaign is a runner's bid for a poll. Votes is written only by tallying.
type Campaign struct {
	ID        int64
	PollID    int64
	Runner    Runner
	Statement string
	Votes     int64
}

// Proposition puts a bill to a yes/no vote within an election. The vote
// counts are written only by tallying.
type Proposition struct {
	ID         int64
	ElectionID int64
	BillID     int64
	YesVotes   int64
	NoVotes    int64
}

// Target names exactly one campaign or one proposition.
type Target struct {
	CampaignID    int64
	PropositionID int64
}

func CampaignTarget(id int64) Target    { return Target{CampaignID: id} }
func PropositionTarget(id int64) Target { return Target{PropositionID: id} }

func (t Target) IsCampaign() bool    { return t.CampaignID > 0 && t.PropositionID == 0 }
func (t Target) IsProposition() bool { return t.PropositionID > 0 && t.CampaignID == 0 }

// Kind is "campaign" or "proposition".
func (t Target) Kind() string {
	if t.IsProposition() {
		return "proposition"
	}
	return "campaign"
}

func (t Target) Validate() error {
	if t.IsCampaign() || t.IsProposition() {
		return nil
	}
	return fault.ErrInvalidInput.Withf("target must name exactly one campaign or proposition")
}

// Choice is the answer recorded for a proposition. Campaign votes carry none.
type Choice string

const (
	ChoiceNone Choice = ""
	ChoiceYes  Choice = "yes"
	ChoiceNo   Choice = "no"
)

func (c Choice) Valid() bool { return c == ChoiceYes || c == ChoiceNo }

// ValidateChoice checks that choice fits the kind of target.
func ValidateChoice(t Target, c Choice) error {
	if t.IsProposition() && !c.Valid() {
		return fault.ErrInvalidInput.At("proposition", t.PropositionID).Withf("choice must be yes or no")
	}
	if t.IsCampaign() && c != ChoiceNone {
		return fault.ErrInvalidInput.At("campaign", t.CampaignID).Withf("campaign votes carry no choice")
	}
	return nil
}

// Graph persists contests. Polls, campaigns and propositions cannot be added
// to a closed election.
type Graph interface {
	CreateParty(ctx context.Context, p Party) (Party, error)
	CreateCandidate(ctx context.Context, c Candidate) (Candidate, error)
	CreateRepresentative(ctx context.Context, r Representative) (Representative, error)
	CreateTerm(ctx context.Context, t Term) (Term, error)
	CreateBill(ctx context.Context, b Bill) (Bill, error)

	AddPoll(ctx context.Context, electionID int64, spec PollSpec) (Poll, error)
	AddCampaign(ctx context.Context, pollID int64, runner Runner, statement string) (Campaign, error)
	AddProposition(ctx context.Context, electionID, billID int64) (Proposition, error)
	// UpdateCampaignStatement fails with ErrContestLocked once any vote
	// references the campaign.
	UpdateCampaignStatement(ctx context.Context, campaignID int64, statement string) (Campaign, error)

	GetPoll(ctx context.Context, id int64) (Poll, error)
	GetCampaign(ctx context.Context, id int64) (Campaign, error)
	GetProposition(ctx context.Context, id int64) (Proposition, error)
	ListPolls(ctx context.Context, electionID int64) ([]Poll, error)
	ListCampaigns(ctx context.Context, pollID int64) ([]Campaign, error)
	ListPropositions(ctx context.Context, electionID int64) ([]Proposition, error)
}

func required(entity, field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fault.ErrInvalidInput.At(entity, 0).Withf("%s is required", field)
	}
	return nil
}

func PrepareParty(p Party) (Party, error) {
	p.Name = strings.TrimSpace(p.Name)
	return p, required("party", "name", p.Name)
}

func PrepareCandidate(c Candidate) (Candidate, error) {
	c.Name = strings.TrimSpace(c.Name)
	return c, required("candidate", "name", c.Name)
}

func PrepareRepresentative(r Representative) (Representative, error) {
	r.Name = strings.TrimSpace(r.Name)
	if err := required("representative", "name", r.Name); err != nil {
		return r, err
	}
	return r, required("representative", "type", r.Type)
}

func PrepareTerm(t Term) (Term, error) {
	if t.RepresentativeID <= 0 {
		return t, fault.ErrMissingReference.At("term", 0).On("representative_id")
	}
	if !t.Start.IsZero() && !t.End.IsZero() && t.End.Before(t.Start) {
		return t, fault.ErrInvalidInput.At("term", 0).Withf("term ends before it starts")
	}
	return t, nil
}

func PrepareBill(b Bill) (Bill, error) {
	b.Name = strings.TrimSpace(b.Name)
	b.Code = strings.TrimSpace(b.Code)
	return b, required("bill", "name", b.Name)
}

func PreparePoll(spec PollSpec) (PollSpec, error) {
	spec.Position = strings.TrimSpace(spec.Position)
	return spec, required("poll", "position", spec.Position)
}
