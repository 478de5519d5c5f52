package election

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civitas.org/internal/fault"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestValidateDeadlines(t *testing.T) {
	tests := []struct {
		name    string
		d       Deadlines
		wantErr bool
	}{
		{name: "empty", d: Deadlines{}},
		{
			name: "full mail chain in order",
			d: Deadlines{
				MailBallotDeployment: date(2026, 10, 1),
				MailReturnOpening:    date(2026, 10, 5),
				MailReturnDeadline:   date(2026, 11, 3),
				MailPostmarkDeadline: date(2026, 11, 3),
				InPersonElectionDate: date(2026, 11, 3),
			},
		},
		{
			name: "return deadline before deployment",
			d: Deadlines{
				MailBallotDeployment: date(2026, 10, 10),
				MailReturnDeadline:   date(2026, 10, 1),
			},
			wantErr: true,
		},
		{
			name: "gap in chain still compared",
			d: Deadlines{
				MailBallotDeployment: date(2026, 10, 10),
				MailPostmarkDeadline: date(2026, 10, 9),
			},
			wantErr: true,
		},
		{
			name: "registration after election day",
			d: Deadlines{
				VoterRegistration:    date(2026, 11, 4),
				InPersonElectionDate: date(2026, 11, 3),
			},
			wantErr: true,
		},
		{
			name: "early voting closes after election day",
			d: Deadlines{
				EarlyVotingOpening:   date(2026, 10, 20),
				EarlyVotingDeadline:  date(2026, 11, 5),
				InPersonElectionDate: date(2026, 11, 3),
			},
			wantErr: true,
		},
		{
			name: "online window reversed",
			d: Deadlines{
				OnlineVotingOpening:  date(2026, 10, 20),
				OnlineVotingDeadline: date(2026, 10, 19),
			},
			wantErr: true,
		},
		{
			name: "independent windows are not compared",
			d: Deadlines{
				MobileVotingOpening:  date(2026, 10, 25),
				MobileVotingDeadline: date(2026, 10, 26),
				OnlineVotingOpening:  date(2026, 10, 1),
				OnlineVotingDeadline: date(2026, 10, 2),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeadlines(tt.d)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, fault.ErrInvalidDeadlineOrder)
			assert.Equal(t, fault.KindValidation, fault.KindOf(err))
		})
	}
}

func TestValidateDeadlinesNamesConstraint(t *testing.T) {
	err := ValidateDeadlines(Deadlines{
		MailBallotDeployment: date(2026, 10, 10),
		MailReturnDeadline:   date(2026, 10, 1),
	})
	var f *fault.Error
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "mail_in_ballot_return_deadline >= mail_in_ballot_deployment_date", f.Constraint)
}

func TestSameDayDifferentClockIsOrdered(t *testing.T) {
	d := Deadlines{
		MobileVotingOpening:  time.Date(2026, 10, 1, 18, 0, 0, 0, time.UTC),
		MobileVotingDeadline: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	assert.NoError(t, ValidateDeadlines(d))
	n := d.Normalize()
	assert.Equal(t, date(2026, 10, 1), n.MobileVotingOpening)
}
