package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields read from an upstream token. The upstream signs its
// tokens; the dashboard never verifies them and only uses the claims to avoid
// sending a request that is certain to be rejected.
type Claims struct {
	UserID    string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Credential is the upstream session token of one operator. It is passed
// explicitly to every outbound request and is the only place the token can be
// cleared: Invalidate is idempotent and notifies every registered hook once.
type Credential struct {
	mu           sync.RWMutex
	token        string
	claims       Claims
	invalid      bool
	reason       string
	onInvalidate []func(reason string)
}

// NewCredential wraps an opaque upstream token.
func NewCredential(token string) *Credential {
	c := &Credential{token: token}
	if token == "" {
		c.invalid = true
		c.reason = "missing token"
		return c
	}
	c.claims = parseClaims(token)
	return c
}

// Token returns the raw token, or false once the credential is unusable
// (invalidated, empty, or past its exp claim).
func (c *Credential) Token() (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.invalid {
		return "", false
	}
	if !c.claims.ExpiresAt.IsZero() && time.Now().After(c.claims.ExpiresAt) {
		return "", false
	}
	return c.token, true
}

// Claims returns the unverified claims of the token.
func (c *Credential) Claims() Claims {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claims
}

// Valid reports whether the credential can still be sent upstream.
func (c *Credential) Valid() bool {
	_, ok := c.Token()
	return ok
}

// Reason returns why the credential was invalidated, or "".
func (c *Credential) Reason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// OnInvalidate registers fn to run when the credential is invalidated.
// If it already is, fn runs immediately.
func (c *Credential) OnInvalidate(fn func(reason string)) {
	c.mu.Lock()
	if c.invalid {
		reason := c.reason
		c.mu.Unlock()
		fn(reason)
		return
	}
	c.onInvalidate = append(c.onInvalidate, fn)
	c.mu.Unlock()
}

// Invalidate clears the token. Hooks run once, outside the lock.
func (c *Credential) Invalidate(reason string) {
	c.mu.Lock()
	if c.invalid {
		c.mu.Unlock()
		return
	}
	c.invalid = true
	c.token = ""
	c.reason = reason
	hooks := c.onInvalidate
	c.onInvalidate = nil
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(reason)
	}
}

func parseClaims(token string) Claims {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		// Not a JWT; treat as opaque.
		return Claims{}
	}

	var out Claims
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	switch v := mc["user_id"].(type) {
	case string:
		out.UserID = v
	case float64:
		out.UserID = fmt.Sprintf("%d", int64(v))
	}
	if out.UserID == "" {
		if sub, err := mc.GetSubject(); err == nil {
			out.UserID = sub
		}
	}
	return out
}
