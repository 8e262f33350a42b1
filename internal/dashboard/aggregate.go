package dashboard

import (
	"math"

	"github.com/eslider/inboxwatch/internal/model"
)

// Percentages are derived from AggregateTotals and never stored.
type Percentages struct {
	Inbox float64 `json:"inbox_percent"`
	Spam  float64 `json:"spam_percent"`
}

// fold adds one outcome's counts to the totals. Negative counts are ignored
// so totals never decrease within a round. Addition commutes, so the result
// does not depend on the order outcomes arrive in.
func fold(t model.AggregateTotals, o model.AccountSearchOutcome) model.AggregateTotals {
	if o.InboxCount > 0 {
		t.InboxTotal += o.InboxCount
	}
	if o.SpamCount > 0 {
		t.SpamTotal += o.SpamCount
	}
	return t
}

// ComputePercentages returns each total's share rounded to two decimals,
// or zeros when nothing was counted.
func ComputePercentages(t model.AggregateTotals) Percentages {
	all := t.InboxTotal + t.SpamTotal
	if all <= 0 {
		return Percentages{}
	}
	return Percentages{
		Inbox: round2(float64(t.InboxTotal) / float64(all) * 100),
		Spam:  round2(float64(t.SpamTotal) / float64(all) * 100),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
