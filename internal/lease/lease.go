// Package lease provides named, expiring locks stored in BadgerDB so that
// overlapping runs of the same job are turned away, whether they come from
// one process or several.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gmsas95/medtrack/internal/clock"
	"github.com/google/uuid"
)

const keyPrefix = "lease:"

// ErrUnavailable is returned when the lease database cannot be opened,
// typically because another process holds the data directory.
var ErrUnavailable = errors.New("lease store unavailable")

// Source yields the database leases live in. It is asked on every call so
// the database can be opened lazily.
type Source interface {
	Badger() (*badger.DB, error)
}

type record struct {
	Owner     string    `json:"owner"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager hands out leases on behalf of one owner
type Manager struct {
	src   Source
	clock clock.Clock
	owner string
}

// NewManager creates a manager; owner identifies this process
func NewManager(src Source, clk clock.Clock, owner string) *Manager {
	return &Manager{src: src, clock: clk, owner: owner}
}

// Owner returns the identity written into held leases
func (m *Manager) Owner() string {
	return m.owner
}

func (m *Manager) db() (*badger.DB, error) {
	db, err := m.src.Badger()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return db, nil
}

// Acquire takes the named lease for ttl and returns the token needed to
// release it. ok is false while any unexpired lease exists, including one
// this owner took earlier.
func (m *Manager) Acquire(name string, ttl time.Duration) (token string, ok bool, err error) {
	if ttl <= 0 {
		return "", false, fmt.Errorf("lease %s: ttl must be positive", name)
	}
	db, err := m.db()
	if err != nil {
		return "", false, err
	}

	now := m.clock.Now()
	candidate := uuid.NewString()

	err = db.Update(func(txn *badger.Txn) error {
		current, err := get(txn, name)
		if err != nil {
			return err
		}
		if current != nil && now.Before(current.ExpiresAt) {
			return nil
		}

		data, err := json.Marshal(record{Owner: m.owner, Token: candidate, ExpiresAt: now.Add(ttl)})
		if err != nil {
			return err
		}

		e := badger.NewEntry([]byte(keyPrefix+name), data).WithTTL(ttl)
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		token = candidate
		return nil
	})

	// a concurrent caller won the write race
	if errors.Is(err, badger.ErrConflict) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}

	return token, token != "", nil
}

// Release drops the lease if it is still the one token acquired
func (m *Manager) Release(name, token string) error {
	db, err := m.db()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		current, err := get(txn, name)
		if err != nil || current == nil || current.Token != token {
			return err
		}
		return txn.Delete([]byte(keyPrefix + name))
	})
	if err != nil && !errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

// Holder reports the current owner of a lease, or "" when free
func (m *Manager) Holder(name string) (string, error) {
	db, err := m.db()
	if err != nil {
		return "", err
	}
	var owner string
	err = db.View(func(txn *badger.Txn) error {
		current, err := get(txn, name)
		if err != nil || current == nil {
			return err
		}
		if m.clock.Now().Before(current.ExpiresAt) {
			owner = current.Owner
		}
		return nil
	})
	return owner, err
}

// WithLease runs fn while holding the named lease. ran is false when the
// lease was already held, by this process or another, and fn was skipped.
func (m *Manager) WithLease(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (ran bool, err error) {
	token, ok, err := m.Acquire(name, ttl)
	if err != nil || !ok {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	defer func() {
		if rerr := m.Release(name, token); rerr != nil && err == nil {
			err = rerr
		}
	}()

	return true, fn(ctx)
}

func get(txn *badger.Txn, name string) (*record, error) {
	item, err := txn.Get([]byte(keyPrefix + name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("corrupt lease %s: %w", name, err)
	}
	return &rec, nil
}
