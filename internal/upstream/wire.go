package upstream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/eslider/inboxwatch/internal/model"
)

// envelope is the common response shape: {"status": "OK", "results": ...}.
// Error responses carry "message" or "error" instead.
type envelope struct {
	Status  string          `json:"status"`
	Results json.RawMessage `json:"results"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (e envelope) ok() bool { return e.Status == "OK" }

func (e envelope) reason() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	case e.Status != "":
		return "status " + strconv.Quote(e.Status)
	default:
		return "empty response"
	}
}

type wireAccount struct {
	ID     flexString `json:"id"`
	Email  string     `json:"email"`
	Name   string     `json:"name"`
	Status string     `json:"status"`
}

func (a wireAccount) toModel() model.Account {
	return model.Account{ID: string(a.ID), Email: a.Email, Name: a.Name, Status: a.Status}
}

type wireItem struct {
	Type        string   `json:"type"`
	Date        flexTime `json:"date"`
	DiffTime    string   `json:"diff_time"`
	Text        string   `json:"text"`
	Subject     string   `json:"subject"`
	SenderEmail string   `json:"sender_email"`
	SenderName  string   `json:"sender_name"`
}

// wireOutcome is the per-account search result. An account whose mailbox
// could not be opened comes back as {"results": [], "not_found": 1,
// "type": "invalid"} with no "email" field.
type wireOutcome struct {
	Email    string     `json:"email"`
	Results  []wireItem `json:"results"`
	Inbox    flexInt    `json:"inbox"`
	Spam     flexInt    `json:"spam"`
	NotFound flexInt    `json:"not_found"`
	Type     string     `json:"type"`
}

func (o wireOutcome) toModel(accountEmail string) model.AccountSearchOutcome {
	out := model.AccountSearchOutcome{
		AccountEmail:        o.Email,
		InboxCount:          int(o.Inbox),
		SpamCount:           int(o.Spam),
		NotFound:            o.NotFound > 0,
		ClassificationLabel: o.Type,
		Items:               make([]model.SearchResultItem, 0, len(o.Results)),
	}
	if out.AccountEmail == "" {
		out.AccountEmail = accountEmail
	}
	for _, it := range o.Results {
		out.Items = append(out.Items, model.SearchResultItem{
			Classification: model.Classification(it.Type),
			Timestamp:      it.Date.ptr(),
			SnippetText:    it.Text,
			SenderName:     it.SenderName,
			SenderEmail:    it.SenderEmail,
			Subject:        it.Subject,
			RelativeAge:    it.DiffTime,
		})
	}
	return out
}

type searchRequest struct {
	Search string `json:"search"`
	Email  string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string `json:"token"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

// flexInt accepts a JSON number, a numeric string, a bool, or null.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	switch raw {
	case "", "null", "false":
		*n = 0
		return nil
	case "true":
		*n = 1
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return eris.Wrapf(err, "count %q", raw)
	}
	*n = flexInt(f)
	return nil
}

// flexTime accepts null, RFC 3339, and the RFC 1123 form the upstream's JSON
// encoder writes for datetimes ("Mon, 10 Feb 2025 09:00:00 GMT").
type flexTime struct {
	t     time.Time
	valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123,
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (ft *flexTime) UnmarshalJSON(b []byte) error {
	var raw string
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*ft = flexTime{}
		return nil
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return eris.Wrap(err, "date must be a string")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*ft = flexTime{}
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			*ft = flexTime{t: t, valid: true}
			return nil
		}
	}
	// An unparseable date sorts as oldest rather than failing the account.
	*ft = flexTime{}
	return nil
}

func (ft flexTime) ptr() *time.Time {
	if !ft.valid {
		return nil
	}
	t := ft.t
	return &t
}
