package dashboard

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/eslider/inboxwatch/internal/model"
)

// Directory is the account list of one session. The upstream is asked once;
// concurrent and repeated Load calls share that first answer.
type Directory struct {
	once     sync.Once
	fetch    func(ctx context.Context) ([]model.Account, error)
	accounts []model.Account
	err      error
	loaded   bool
	mu       sync.RWMutex
}

// NewDirectory wraps fetch, which is called at most once.
func NewDirectory(fetch func(ctx context.Context) ([]model.Account, error)) *Directory {
	return &Directory{fetch: fetch}
}

// Load fetches the accounts on first use. On failure the directory stays
// empty and the same error is returned to every caller. fetched is true
// only for the call that ran the fetch.
//
// The fetch is detached from ctx's cancellation: its result is kept for the
// whole session, so an aborted request must not decide it. Values carried
// by ctx still reach the fetch.
func (d *Directory) Load(ctx context.Context) (accounts []model.Account, fetched bool, err error) {
	d.once.Do(func() {
		fetched = true
		got, ferr := d.fetch(context.WithoutCancel(ctx))
		d.mu.Lock()
		defer d.mu.Unlock()
		d.loaded = true
		if ferr != nil {
			d.err = ferr
			return
		}
		d.accounts = got
	})
	return d.Accounts(), fetched, d.Err()
}

// Accounts returns a copy of the loaded accounts (nil before Load).
func (d *Directory) Accounts() []model.Account {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.accounts == nil {
		return nil
	}
	out := make([]model.Account, len(d.accounts))
	copy(out, d.accounts)
	return out
}

// Err returns the load error, if any.
func (d *Directory) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.err
}

// Loaded reports whether Load has finished.
func (d *Directory) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

func directoryError(err error) error {
	return eris.Wrap(ErrDirectory, err.Error())
}
