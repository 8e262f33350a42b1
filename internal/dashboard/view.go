package dashboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/eslider/inboxwatch/internal/model"
)

// Badge colors per classification.
const (
	BadgeInbox = "green"
	BadgeSpam  = "red"
)

// View is the read-only projection of a Snapshot used by the templates and
// the JSON state endpoint.
type View struct {
	Round       model.Round           `json:"round"`
	Query       string                `json:"query"`
	Loading     bool                  `json:"loading"`
	SignedOut   bool                  `json:"signed_out"`
	Completed   int                   `json:"completed"`
	Total       int                   `json:"total"`
	Totals      model.AggregateTotals `json:"totals"`
	Percentages Percentages           `json:"percentages"`
	Cards       []AccountCard         `json:"accounts"`
	Notices     []model.Notice        `json:"notices"`
}

// AccountCard is one account's column on the dashboard.
type AccountCard struct {
	Email    string     `json:"email"`
	Name     string     `json:"name,omitempty"`
	Label    string     `json:"label"`
	Loading  bool       `json:"loading"`
	Failed   bool       `json:"failed,omitempty"`
	NotFound bool       `json:"not_found,omitempty"`
	Inbox    int        `json:"inbox"`
	Spam     int        `json:"spam"`
	Items    []ItemView `json:"items"`
}

// ItemView is a matched message ready for display.
type ItemView struct {
	Classification model.Classification `json:"type"`
	Badge          string               `json:"badge"`
	Timestamp      *time.Time           `json:"date,omitempty"`
	RelativeAge    string               `json:"diff_time"`
	Subject        string               `json:"subject"`
	SenderName     string               `json:"sender_name"`
	SenderEmail    string               `json:"sender_email"`
	SnippetText    string               `json:"text"`
}

// BuildView projects snap for display at time now.
func BuildView(snap Snapshot, now time.Time) View {
	v := View{
		Round:       snap.Round,
		Query:       snap.Round.Query,
		Loading:     snap.Loading,
		SignedOut:   snap.SignedOut,
		Completed:   snap.CompletedCount(),
		Total:       len(snap.Progress),
		Totals:      snap.Totals,
		Percentages: snap.Percentages(),
		Cards:       make([]AccountCard, 0, len(snap.Accounts)),
		Notices:     append([]model.Notice{}, snap.Notices...),
	}

	for i, acct := range snap.Accounts {
		card := AccountCard{Email: acct.Email, Name: acct.Name, Label: "_", Items: []ItemView{}}

		// Progress is indexed like the round's accounts, which is the
		// directory order.
		if i < len(snap.Progress) && snap.Progress[i].AccountEmail == acct.Email {
			p := snap.Progress[i]
			card.Loading = snap.Loading && !p.Completed
			card.Failed = p.Failed
		}

		if o, ok := snap.OutcomeFor(acct.Email); ok {
			if o.ClassificationLabel != "" {
				card.Label = o.ClassificationLabel
			}
			card.NotFound = o.NotFound
			card.Inbox = o.InboxCount
			card.Spam = o.SpamCount
			for _, it := range SortByRecency(o.Items) {
				card.Items = append(card.Items, itemView(it, now))
			}
		}
		v.Cards = append(v.Cards, card)
	}
	return v
}

// SortByRecency returns a copy of items ordered newest first. The sort is
// stable and items without a timestamp go last.
func SortByRecency(items []model.SearchResultItem) []model.SearchResultItem {
	out := make([]model.SearchResultItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Timestamp, out[j].Timestamp
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out
}

// BadgeFor maps a classification to its badge color. Anything that is not
// spam is styled as inbox.
func BadgeFor(c model.Classification) string {
	if c == model.ClassificationSpam {
		return BadgeSpam
	}
	return BadgeInbox
}

// RelativeAge renders the time between ts and now.
func RelativeAge(ts, now time.Time) string {
	d := now.Sub(ts)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d days ago", int(d/(24*time.Hour)))
	}
}

func itemView(it model.SearchResultItem, now time.Time) ItemView {
	age := it.RelativeAge
	if age == "" && it.Timestamp != nil {
		age = RelativeAge(*it.Timestamp, now)
	}
	class := it.Classification
	if class == "" {
		class = model.ClassificationInbox
	}
	return ItemView{
		Classification: class,
		Badge:          BadgeFor(class),
		Timestamp:      it.Timestamp,
		RelativeAge:    age,
		Subject:        it.Subject,
		SenderName:     it.SenderName,
		SenderEmail:    it.SenderEmail,
		SnippetText:    it.SnippetText,
	}
}
