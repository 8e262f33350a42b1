package dashboard

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrValidation is returned by StartSearch for an empty or blank query.
	// No request is sent.
	ErrValidation = eris.New("input is required")

	// ErrDirectory means the account list could not be fetched. The
	// directory is treated as empty for the rest of the session.
	ErrDirectory = eris.New("account directory unavailable")

	// ErrAuth means the upstream rejected the credential. The session is
	// over and the operator must sign in again.
	ErrAuth = eris.New("session expired, sign in again")

	// ErrClosed is returned after the controller was shut down, which only
	// happens when its session ends.
	ErrClosed = eris.New("dashboard closed")
)

// SearchRequestError is one account's failed search. It never aborts the
// other accounts of the round.
type SearchRequestError struct {
	Account string
	RoundID string
	Err     error
}

func (e *SearchRequestError) Error() string {
	return fmt.Sprintf("search %s: %v", e.Account, e.Err)
}

func (e *SearchRequestError) Unwrap() error { return e.Err }
