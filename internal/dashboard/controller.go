// Package dashboard runs the multi-account search workflow of one operator
// session: fan out one search per mailbox account, fold the answers into
// inbox/spam totals, and publish a snapshot after every change.
//
// All workflow state is owned by a single goroutine. Request goroutines never
// touch it; they send round-tagged messages that the owner folds one at a
// time, so answers belonging to a superseded round are simply dropped.
package dashboard

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/eslider/inboxwatch/internal/auth"
	"github.com/eslider/inboxwatch/internal/model"
	"github.com/eslider/inboxwatch/internal/upstream"
)

// DefaultRequestTimeout bounds a single account's search.
const DefaultRequestTimeout = 30 * time.Second

// Backend is the upstream service as seen by the workflow.
// *upstream.Client implements it.
type Backend interface {
	FetchAccounts(ctx context.Context, cred *auth.Credential) ([]model.Account, error)
	Search(ctx context.Context, cred *auth.Credential, query, accountEmail string) (model.AccountSearchOutcome, error)
}

// Options tune a Controller.
type Options struct {
	// RequestTimeout settles an account as failed when its search has not
	// answered in time. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration

	// MaxInFlight limits concurrent searches per round. Zero means no limit.
	MaxInFlight int

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Snapshot is an immutable copy of the workflow state.
type Snapshot struct {
	Version         uint64                       `json:"version"`
	Round           model.Round                  `json:"round"`
	Accounts        []model.Account              `json:"accounts"`
	DirectoryLoaded bool                         `json:"directory_loaded"`
	Outcomes        []model.AccountSearchOutcome `json:"outcomes"`
	Progress        []model.AccountProgress      `json:"progress"`
	Totals          model.AggregateTotals        `json:"totals"`
	Loading         bool                         `json:"loading"`
	SignedOut       bool                         `json:"signed_out"`
	Notices         []model.Notice               `json:"notices"`
}

// Percentages derives the aggregate shares from the totals.
func (s Snapshot) Percentages() Percentages {
	return ComputePercentages(s.Totals)
}

// CompletedCount is the number of settled accounts in the current round.
func (s Snapshot) CompletedCount() int {
	n := 0
	for _, p := range s.Progress {
		if p.Completed {
			n++
		}
	}
	return n
}

// OutcomeFor returns the first recorded outcome for an account.
func (s Snapshot) OutcomeFor(email string) (model.AccountSearchOutcome, bool) {
	for _, o := range s.Outcomes {
		if o.AccountEmail == email {
			return o, true
		}
	}
	return model.AccountSearchOutcome{}, false
}

// Messages folded by the owner goroutine.
type (
	roundStarted struct {
		query    string
		accounts []model.Account
		reply    chan model.Round
	}
	accountSettled struct {
		roundID string
		index   int
		email   string
		outcome model.AccountSearchOutcome
		err     error
	}
	directoryLoaded struct {
		accounts []model.Account
		err      error
	}
	noticeRaised struct {
		notice model.Notice
	}
	authLost struct {
		reason string
	}
	flushed struct {
		done chan struct{}
	}
)

// state is touched only by the run goroutine.
type state struct {
	seq         uint64
	round       model.Round
	cancelRound context.CancelFunc
	accounts    []model.Account
	dirLoaded   bool
	outcomes    []model.AccountSearchOutcome
	progress    []model.AccountProgress
	totals      model.AggregateTotals
	loading     bool
	signedOut   bool
	notices     []model.Notice
}

// Controller owns the workflow of one operator session.
type Controller struct {
	backend Backend
	cred    *auth.Credential
	opts    Options
	dir     *Directory

	inbox     chan any
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	snapMu  sync.RWMutex
	snap    Snapshot
	changed chan struct{}

	st state
}

// New creates a Controller and starts its owner goroutine. Call Close to
// stop it.
func New(backend Backend, cred *auth.Credential, opts Options) *Controller {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		backend: backend,
		cred:    cred,
		opts:    opts,
		inbox:   make(chan any, 64),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}),
	}
	c.dir = NewDirectory(func(ctx context.Context) ([]model.Account, error) {
		ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
		return backend.FetchAccounts(ctx, cred)
	})
	c.snap = Snapshot{Accounts: []model.Account{}, Outcomes: []model.AccountSearchOutcome{},
		Progress: []model.AccountProgress{}, Notices: []model.Notice{}}

	cred.OnInvalidate(func(reason string) {
		// May run on the owner goroutine itself; never block it.
		go c.send(authLost{reason: reason})
	})

	go c.run()
	return c
}

// Close stops the owner goroutine and cancels in-flight searches.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Changed returns a channel that is closed on the next publish.
func (c *Controller) Changed() <-chan struct{} {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.changed
}

// WaitIdle blocks until the current round is no longer loading, or ctx ends.
func (c *Controller) WaitIdle(ctx context.Context) (Snapshot, error) {
	for {
		ch := c.Changed()
		snap := c.Snapshot()
		if !snap.Loading {
			return snap, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// LoadAccounts fetches the account directory once per session. A failure
// leaves the directory empty and is returned as ErrDirectory (or ErrAuth).
func (c *Controller) LoadAccounts(ctx context.Context) ([]model.Account, error) {
	accounts, fetched, err := c.dir.Load(ctx)
	if fetched {
		c.send(directoryLoaded{accounts: accounts, err: err})
	}
	if err != nil {
		if c.isAuthFailure(err) {
			return nil, eris.Wrap(ErrAuth, err.Error())
		}
		return nil, directoryError(err)
	}
	return accounts, nil
}

// StartSearch begins a new round for query over the directory's accounts.
// It returns once the previous round's state is cleared and the requests
// are launched; it never waits for answers.
func (c *Controller) StartSearch(ctx context.Context, query string) (model.Round, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		c.send(noticeRaised{notice: model.Notice{
			Kind:    model.NoticeValidation,
			Message: ErrValidation.Error(),
			At:      c.opts.Now(),
		}})
		return model.Round{}, ErrValidation
	}
	if !c.cred.Valid() {
		c.cred.Invalidate("credential expired")
		return model.Round{}, ErrAuth
	}

	accounts, err := c.LoadAccounts(ctx)
	if err != nil && eris.Is(err, ErrAuth) {
		return model.Round{}, err
	}

	reply := make(chan model.Round, 1)
	if !c.send(roundStarted{query: query, accounts: accounts, reply: reply}) {
		return model.Round{}, ErrClosed
	}
	select {
	case r := <-reply:
		if r.ID == "" {
			return model.Round{}, ErrAuth
		}
		return r, nil
	case <-ctx.Done():
		return model.Round{}, ctx.Err()
	case <-c.done:
		return model.Round{}, ErrClosed
	}
}

// Flush waits until every message sent before it has been folded and
// published.
func (c *Controller) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !c.send(flushed{done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) send(msg any) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) run() {
	for {
		select {
		case <-c.done:
			if c.st.cancelRound != nil {
				c.st.cancelRound()
			}
			return
		case msg := <-c.inbox:
			if c.apply(msg) {
				c.publish()
			}
			if m, ok := msg.(flushed); ok {
				close(m.done)
			}
			// Reply only after publishing so callers observe the new round.
			if m, ok := msg.(roundStarted); ok {
				if c.st.signedOut {
					m.reply <- model.Round{}
				} else {
					m.reply <- c.st.round
				}
			}
		}
	}
}

// apply folds one message into the state and reports whether it changed.
func (c *Controller) apply(msg any) bool {
	switch m := msg.(type) {
	case roundStarted:
		return c.applyRoundStarted(m)
	case accountSettled:
		return c.applySettled(m)
	case directoryLoaded:
		c.st.dirLoaded = true
		c.st.accounts = m.accounts
		if m.err != nil && !c.isAuthFailure(m.err) {
			c.addNotice(model.Notice{Kind: model.NoticeDirectory, Message: m.err.Error()})
			slog.Error("Failed to load account directory", sloki.WrapError(m.err))
		}
		return true
	case noticeRaised:
		c.addNotice(m.notice)
		return true
	case authLost:
		return c.applyAuthLost(m.reason)
	}
	return false
}

func (c *Controller) applyRoundStarted(m roundStarted) bool {
	if c.st.signedOut {
		return false
	}
	if c.st.cancelRound != nil {
		c.st.cancelRound()
	}

	c.st.seq++
	round := model.Round{ID: model.NewID(), Seq: c.st.seq, Query: m.query, StartedAt: c.opts.Now()}
	roundCtx, cancel := context.WithCancel(c.ctx)

	c.st.round = round
	c.st.cancelRound = cancel
	c.st.outcomes = nil
	c.st.totals = model.AggregateTotals{}
	c.st.progress = make([]model.AccountProgress, len(m.accounts))
	for i, a := range m.accounts {
		c.st.progress[i] = model.AccountProgress{AccountEmail: a.Email}
	}
	kept := c.st.notices[:0]
	for _, n := range c.st.notices {
		if n.Kind == model.NoticeDirectory {
			kept = append(kept, n)
		}
	}
	c.st.notices = kept
	c.st.loading = true
	c.detectCompletion()

	slog.Info("Search round started",
		slog.String("round", round.ID), slog.String("query", round.Query), slog.Int("accounts", len(m.accounts)))

	go c.dispatch(roundCtx, round, m.accounts)
	return true
}

func (c *Controller) applySettled(m accountSettled) bool {
	if m.roundID != c.st.round.ID {
		slog.Debug("Dropping answer from superseded round",
			slog.String("round", m.roundID), slog.String("account", m.email))
		return false
	}
	if m.index < 0 || m.index >= len(c.st.progress) {
		return false
	}

	p := &c.st.progress[m.index]
	if m.err != nil {
		if c.isAuthFailure(m.err) {
			return c.applyAuthLost(m.err.Error())
		}
		reqErr := &SearchRequestError{Account: m.email, RoundID: m.roundID, Err: m.err}
		p.Failed = true
		p.Err = m.err.Error()
		c.addNotice(model.Notice{Kind: model.NoticeSearch, Account: m.email, Message: reqErr.Error(), RoundID: m.roundID})
		slog.Warn("Account search failed", slog.String("account", m.email), sloki.WrapError(reqErr))
	} else {
		c.st.outcomes = append(c.st.outcomes, m.outcome)
		c.st.totals = fold(c.st.totals, m.outcome)
	}
	p.Completed = true

	c.detectCompletion()
	return true
}

// detectCompletion ends loading once every account of the round settled.
func (c *Controller) detectCompletion() {
	if !c.st.loading {
		return
	}
	completed := 0
	for _, p := range c.st.progress {
		if p.Completed {
			completed++
		}
	}
	if completed < len(c.st.progress) {
		return
	}
	c.st.loading = false
	if c.st.cancelRound != nil {
		c.st.cancelRound()
	}
	pct := ComputePercentages(c.st.totals)
	slog.Info("Search round complete",
		slog.String("round", c.st.round.ID),
		slog.Int("inbox", c.st.totals.InboxTotal), slog.Int("spam", c.st.totals.SpamTotal),
		slog.Float64("inbox_percent", pct.Inbox), slog.Float64("spam_percent", pct.Spam))
}

func (c *Controller) applyAuthLost(reason string) bool {
	if c.st.signedOut {
		return false
	}
	c.st.signedOut = true
	c.st.loading = false
	if c.st.cancelRound != nil {
		c.st.cancelRound()
	}
	c.addNotice(model.Notice{Kind: model.NoticeAuth, Message: ErrAuth.Error() + ": " + reason})
	slog.Warn("Upstream session lost", slog.String("reason", reason))
	c.cred.Invalidate(reason)
	return true
}

func (c *Controller) addNotice(n model.Notice) {
	if n.At.IsZero() {
		n.At = c.opts.Now()
	}
	c.st.notices = append(c.st.notices, n)
}

func (c *Controller) isAuthFailure(err error) bool {
	return upstream.IsUnauthorized(err) || eris.Is(err, ErrAuth) || !c.cred.Valid()
}

// publish copies the state into a new snapshot and wakes waiters.
func (c *Controller) publish() {
	st := &c.st
	snap := Snapshot{
		Round:           st.round,
		Accounts:        append([]model.Account{}, st.accounts...),
		DirectoryLoaded: st.dirLoaded,
		Outcomes:        append([]model.AccountSearchOutcome{}, st.outcomes...),
		Progress:        append([]model.AccountProgress{}, st.progress...),
		Totals:          st.totals,
		Loading:         st.loading,
		SignedOut:       st.signedOut,
		Notices:         append([]model.Notice{}, st.notices...),
	}

	c.snapMu.Lock()
	snap.Version = c.snap.Version + 1
	c.snap = snap
	close(c.changed)
	c.changed = make(chan struct{})
	c.snapMu.Unlock()
}

// dispatch issues one search per account. Each answer is sent back to the
// owner goroutine tagged with the round it belongs to.
func (c *Controller) dispatch(ctx context.Context, round model.Round, accounts []model.Account) {
	var g errgroup.Group
	if c.opts.MaxInFlight > 0 {
		g.SetLimit(c.opts.MaxInFlight)
	}
	for i, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			c.searchOne(ctx, round, i, acct)
			return nil
		})
	}
	g.Wait()
}

type searchResult struct {
	outcome model.AccountSearchOutcome
	err     error
}

func (c *Controller) searchOne(ctx context.Context, round model.Round, index int, acct model.Account) {
	if ctx.Err() != nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	// The backend may ignore ctx; the select guarantees the account settles.
	ch := make(chan searchResult, 1)
	go func() {
		outcome, err := c.backend.Search(reqCtx, c.cred, round.Query, acct.Email)
		ch <- searchResult{outcome: outcome, err: err}
	}()

	var res searchResult
	select {
	case res = <-ch:
	case <-reqCtx.Done():
		if ctx.Err() != nil {
			// Superseded or closed; the owner would drop the answer anyway.
			return
		}
		res.err = eris.Wrapf(reqCtx.Err(), "no answer within %s", c.opts.RequestTimeout)
	}

	c.send(accountSettled{roundID: round.ID, index: index, email: acct.Email, outcome: res.outcome, err: res.err})
}
