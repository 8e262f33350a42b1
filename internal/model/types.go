// Package model defines core data types shared across the application.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 (time-ordered) identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails (should never happen).
		return uuid.New().String()
	}
	return id.String()
}

// Account is a mailbox account known to the upstream directory.
type Account struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// Classification is the folder a matched message was found in.
type Classification string

const (
	ClassificationInbox Classification = "inbox"
	ClassificationSpam  Classification = "spam"
)

// LabelValid marks an account whose mailbox could be searched.
const LabelValid = "valid"

// SearchResultItem is one matched message of a per-account search.
type SearchResultItem struct {
	Classification Classification `json:"type"`
	Timestamp      *time.Time     `json:"date,omitempty"` // nil when the upstream had no date
	SnippetText    string         `json:"text"`
	SenderName     string         `json:"sender_name"`
	SenderEmail    string         `json:"sender_email"`
	Subject        string         `json:"subject"`
	RelativeAge    string         `json:"diff_time"`
}

// AccountSearchOutcome is what a completed search returned for one account.
type AccountSearchOutcome struct {
	AccountEmail        string             `json:"email"`
	Items               []SearchResultItem `json:"results"` // relevance order as returned
	InboxCount          int                `json:"inbox"`
	SpamCount           int                `json:"spam"`
	NotFound            bool               `json:"not_found"`
	ClassificationLabel string             `json:"type"`
}

// AccountProgress tracks whether one account's search has settled in a round.
type AccountProgress struct {
	AccountEmail string `json:"email"`
	Completed    bool   `json:"completed"`
	Failed       bool   `json:"failed,omitempty"`
	Err          string `json:"error,omitempty"`
}

// AggregateTotals holds the running inbox/spam counts of a round.
type AggregateTotals struct {
	InboxTotal int `json:"inbox_total"`
	SpamTotal  int `json:"spam_total"`
}

// Round identifies one search invocation.
type Round struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Query     string    `json:"query"`
	StartedAt time.Time `json:"started_at"`
}

// NoticeKind classifies a user-visible failure.
type NoticeKind string

const (
	NoticeValidation NoticeKind = "validation"
	NoticeDirectory  NoticeKind = "directory"
	NoticeSearch     NoticeKind = "search"
	NoticeAuth       NoticeKind = "auth"
)

// Notice is a failure surfaced to the operator.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Account string     `json:"account,omitempty"`
	Message string     `json:"message"`
	RoundID string     `json:"round_id,omitempty"`
	At      time.Time  `json:"at"`
}

// Session holds an authenticated operator session of the dashboard.
// Upstream is the opaque credential issued by the mail-check service.
type Session struct {
	ID        string    `json:"id" db:"id"`
	Token     string    `json:"token" db:"token"`
	Upstream  string    `json:"upstream" db:"upstream"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}
