package dashboard

import (
	"testing"

	"github.com/eslider/inboxwatch/internal/model"
)

func TestComputePercentages(t *testing.T) {
	tests := []struct {
		name   string
		totals model.AggregateTotals
		want   Percentages
	}{
		{"empty", model.AggregateTotals{}, Percentages{}},
		{"two thirds", model.AggregateTotals{InboxTotal: 2, SpamTotal: 1}, Percentages{Inbox: 66.67, Spam: 33.33}},
		{"all inbox", model.AggregateTotals{InboxTotal: 7}, Percentages{Inbox: 100}},
		{"all spam", model.AggregateTotals{SpamTotal: 3}, Percentages{Spam: 100}},
		{"even", model.AggregateTotals{InboxTotal: 5, SpamTotal: 5}, Percentages{Inbox: 50, Spam: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputePercentages(tt.totals); got != tt.want {
				t.Errorf("ComputePercentages(%+v) = %+v, want %+v", tt.totals, got, tt.want)
			}
		})
	}
}

func TestPercentagesStayInBounds(t *testing.T) {
	for inbox := 0; inbox <= 40; inbox++ {
		for spam := 0; spam <= 40; spam++ {
			p := ComputePercentages(model.AggregateTotals{InboxTotal: inbox, SpamTotal: spam})
			if p.Inbox < 0 || p.Inbox > 100 || p.Spam < 0 || p.Spam > 100 {
				t.Fatalf("out of bounds for %d/%d: %+v", inbox, spam, p)
			}
			sum := p.Inbox + p.Spam
			if inbox+spam == 0 {
				if sum != 0 {
					t.Fatalf("expected zeros for empty totals, got %+v", p)
				}
				continue
			}
			if sum < 99.98 || sum > 100.02 {
				t.Fatalf("shares of %d/%d sum to %v", inbox, spam, sum)
			}
		}
	}
}

func TestFoldIgnoresNegativeCounts(t *testing.T) {
	totals := fold(model.AggregateTotals{InboxTotal: 1, SpamTotal: 1}, model.AccountSearchOutcome{InboxCount: -4, SpamCount: 2})
	if totals.InboxTotal != 1 || totals.SpamTotal != 3 {
		t.Errorf("fold = %+v", totals)
	}
}

func TestFoldCommutes(t *testing.T) {
	outcomes := []model.AccountSearchOutcome{
		{InboxCount: 2}, {SpamCount: 1}, {InboxCount: 4, SpamCount: 9}, {},
	}
	forward, backward := model.AggregateTotals{}, model.AggregateTotals{}
	for i := range outcomes {
		forward = fold(forward, outcomes[i])
		backward = fold(backward, outcomes[len(outcomes)-1-i])
	}
	if forward != backward {
		t.Errorf("fold depends on order: %+v vs %+v", forward, backward)
	}
}
