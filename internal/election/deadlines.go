package election

import (
	"fmt"
	"time"

	"civitas.org/internal/fault"
)

// Deadlines are civil dates in UTC. A zero field is unset.
type Deadlines struct {
	VoterRegistration    time.Time
	MailBallotDeployment time.Time
	MailReturnOpening    time.Time
	MailReturnDeadline   time.Time
	MailPostmarkDeadline time.Time
	EarlyVotingOpening   time.Time
	EarlyVotingDeadline  time.Time
	MobileVotingOpening  time.Time
	MobileVotingDeadline time.Time
	OnlineVotingOpening  time.Time
	OnlineVotingDeadline time.Time
	InPersonElectionDate time.Time
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Normalize truncates every date to its day.
func (d Deadlines) Normalize() Deadlines {
	for _, f := range d.fields() {
		*f.at = Day(*f.at)
	}
	return d
}

type dateField struct {
	name string
	at   *time.Time
}

func (d *Deadlines) fields() []dateField {
	return []dateField{
		{"voter_registration_deadline", &d.VoterRegistration},
		{"mail_in_ballot_deployment_date", &d.MailBallotDeployment},
		{"mail_in_ballot_return_opening", &d.MailReturnOpening},
		{"mail_in_ballot_return_deadline", &d.MailReturnDeadline},
		{"mail_in_ballot_postmark_deadline", &d.MailPostmarkDeadline},
		{"early_in_person_voting_opening", &d.EarlyVotingOpening},
		{"early_in_person_voting_deadline", &d.EarlyVotingDeadline},
		{"mobile_voting_opening", &d.MobileVotingOpening},
		{"mobile_voting_deadline", &d.MobileVotingDeadline},
		{"online_voting_opening", &d.OnlineVotingOpening},
		{"online_voting_deadline", &d.OnlineVotingDeadline},
		{"in_person_election_date", &d.InPersonElectionDate},
	}
}

// chains lists dates that must be non-decreasing left to right.
func (d *Deadlines) chains() [][]dateField {
	f := d.fields()
	reg, deploy, retOpen, retDeadline, postmark := f[0], f[1], f[2], f[3], f[4]
	earlyOpen, earlyDeadline, mobOpen, mobDeadline := f[5], f[6], f[7], f[8]
	onOpen, onDeadline, day := f[9], f[10], f[11]
	return [][]dateField{
		{reg, day},
		{deploy, retOpen, retDeadline, postmark},
		{deploy, day},
		{earlyOpen, earlyDeadline, day},
		{mobOpen, mobDeadline},
		{onOpen, onDeadline},
	}
}

// ValidateDeadlines checks chronological order among the populated dates.
// Unset dates are skipped, so a chain is only compared where both ends exist.
func ValidateDeadlines(d Deadlines) error {
	for _, chain := range d.chains() {
		var prev *dateField
		for i := range chain {
			cur := chain[i]
			if cur.at.IsZero() {
				continue
			}
			if prev != nil && Day(*cur.at).Before(Day(*prev.at)) {
				return fault.ErrInvalidDeadlineOrder.
					On(fmt.Sprintf("%s >= %s", cur.name, prev.name)).
					Withf("%s is %s, %s is %s", cur.name, cur.at.Format(time.DateOnly), prev.name, prev.at.Format(time.DateOnly))
			}
			prev = &chain[i]
		}
	}
	return nil
}

// opensAt is the first day any voting method accepts ballots.
func (d Deadlines) opensAt() time.Time {
	return earliest(d.MailReturnOpening, d.EarlyVotingOpening, d.MobileVotingOpening, d.OnlineVotingOpening, d.InPersonElectionDate)
}

// closesAt is the start of the day after the election. Without an election
// date the day after the latest populated deadline is used.
func (d Deadlines) closesAt() time.Time {
	last := d.InPersonElectionDate
	if last.IsZero() {
		for _, f := range d.fields() {
			if f.at.After(last) {
				last = *f.at
			}
		}
	}
	if last.IsZero() {
		return time.Time{}
	}
	return Day(last).AddDate(0, 0, 1)
}

func earliest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.IsZero() {
			continue
		}
		if out.IsZero() || t.Before(out) {
			out = t
		}
	}
	return Day(out)
}
