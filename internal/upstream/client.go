// Package upstream is the HTTP client for the mail-check service that owns the
// mailbox accounts and runs the per-account searches.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/eslider/inboxwatch/internal/auth"
	"github.com/eslider/inboxwatch/internal/model"
)

var (
	// ErrUnauthorized means the credential is missing, expired, or was
	// rejected with 401/403. The credential has been invalidated.
	ErrUnauthorized = eris.New("upstream rejected the session credential")

	// ErrStatus means the upstream answered with a non-2xx code or a
	// status other than "OK".
	ErrStatus = eris.New("upstream request failed")

	// ErrLogin means the upstream refused the username/password.
	ErrLogin = eris.New("invalid credentials")
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Endpoints are the upstream paths, relative to the base URL.
type Endpoints struct {
	Accounts string `mapstructure:"accounts" yaml:"accounts"`
	Search   string `mapstructure:"search" yaml:"search"`
	Login    string `mapstructure:"login" yaml:"login"`
	Logout   string `mapstructure:"logout" yaml:"logout"`
}

// DefaultEndpoints returns the paths served by the mail-check service.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Accounts: "/api/emails",
		Search:   "/api/check",
		Login:    "/api/login",
		Logout:   "/api/logout",
	}
}

// Client talks to the upstream service. It holds no credential of its own:
// every authenticated call takes the operator's *auth.Credential.
type Client struct {
	baseURL   string
	endpoints Endpoints
	http      *http.Client
}

// NewClient creates a client. httpClient may be nil.
func NewClient(baseURL string, endpoints Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: endpoints,
		http:      httpClient,
	}
}

// Login exchanges username and password for an upstream token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", eris.Wrap(err, "encode login")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.endpoints.Login, bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "build login request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "login")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", eris.Wrap(err, "read login response")
	}
	var out loginResponse
	decodeErr := json.Unmarshal(data, &out)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", eris.Wrap(ErrLogin, firstNonEmpty(out.Message, out.Error, "login rejected"))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", eris.Wrapf(ErrStatus, "login: HTTP %d: %s", resp.StatusCode, firstNonEmpty(out.Message, out.Error))
	case decodeErr != nil:
		return "", eris.Wrapf(ErrStatus, "login: malformed response: %v", decodeErr)
	case out.Token == "":
		return "", eris.Wrap(ErrStatus, "login: response carried no token")
	}
	return out.Token, nil
}

// FetchAccounts returns the mailbox accounts in upstream order.
func (c *Client) FetchAccounts(ctx context.Context, cred *auth.Credential) ([]model.Account, error) {
	env, err := c.do(ctx, cred, http.MethodGet, c.endpoints.Accounts, nil)
	if err != nil {
		return nil, err
	}
	var wire []wireAccount
	if len(env.Results) > 0 && string(env.Results) != "null" {
		if err := json.Unmarshal(env.Results, &wire); err != nil {
			return nil, eris.Wrap(err, "decode accounts")
		}
	}
	accounts := make([]model.Account, 0, len(wire))
	for _, a := range wire {
		accounts = append(accounts, a.toModel())
	}
	return accounts, nil
}

// Search runs query against one account's mailbox.
func (c *Client) Search(ctx context.Context, cred *auth.Credential, query, accountEmail string) (model.AccountSearchOutcome, error) {
	env, err := c.do(ctx, cred, http.MethodPost, c.endpoints.Search, searchRequest{Search: query, Email: accountEmail})
	if err != nil {
		return model.AccountSearchOutcome{}, err
	}
	var wire wireOutcome
	if err := json.Unmarshal(env.Results, &wire); err != nil {
		return model.AccountSearchOutcome{}, eris.Wrapf(err, "decode outcome for %s", accountEmail)
	}
	return wire.toModel(accountEmail), nil
}

// Logout ends the upstream session and invalidates cred on success.
func (c *Client) Logout(ctx context.Context, cred *auth.Credential) error {
	if _, err := c.do(ctx, cred, http.MethodPost, c.endpoints.Logout, nil); err != nil {
		return err
	}
	cred.Invalidate("logged out")
	return nil
}

func (c *Client) do(ctx context.Context, cred *auth.Credential, method, path string, payload any) (envelope, error) {
	token, ok := cred.Token()
	if !ok {
		reason := "credential expired"
		if cred != nil && cred.Reason() != "" {
			reason = cred.Reason()
		}
		if cred != nil {
			cred.Invalidate(reason)
		}
		return envelope{}, eris.Wrapf(ErrUnauthorized, "%s %s: %s", method, path, reason)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, eris.Wrapf(err, "encode %s", path)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return envelope{}, eris.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, eris.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, eris.Wrapf(err, "read %s", path)
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		reason := firstNonEmpty(env.Error, env.Message, http.StatusText(resp.StatusCode))
		cred.Invalidate(reason)
		return envelope{}, eris.Wrapf(ErrUnauthorized, "%s %s: HTTP %d: %s", method, path, resp.StatusCode, reason)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return envelope{}, eris.Wrapf(ErrStatus, "%s %s: HTTP %d: %s", method, path, resp.StatusCode, env.reason())
	}
	if decodeErr != nil {
		return envelope{}, eris.Wrapf(ErrStatus, "%s %s: malformed response: %v", method, path, decodeErr)
	}
	if !env.ok() {
		return envelope{}, eris.Wrapf(ErrStatus, "%s %s: %s", method, path, env.reason())
	}
	return env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsUnauthorized reports whether err came from a rejected credential.
func IsUnauthorized(err error) bool {
	return eris.Is(err, ErrUnauthorized)
}
