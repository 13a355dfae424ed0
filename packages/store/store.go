// Package store owns the transaction records behind the test cases and the
// dashboard cards. Every backend implements Store; callers get one from Open
// at startup and pass it down explicitly.
package store

import (
	"context"
	"time"

	"txsim-server/packages/common"

	"github.com/pkg/errors"
)

type Store interface {
	// List returns all records in insertion order.
	List(ctx context.Context) ([]TransactionRecord, error)
	// Get returns the record merged with its narrative, or common.ErrNotFound.
	Get(ctx context.Context, id int) (*TestCaseDetail, error)
	// Create appends a record with id = last id + 1 (1 when empty).
	Create(ctx context.Context, fields RecordFields) (*TransactionRecord, error)
	// Update replaces the non-nil fields of patch, or returns common.ErrNotFound.
	Update(ctx context.Context, id int, patch RecordPatch) (*TransactionRecord, error)

	ListCards(ctx context.Context) ([]Card, error)
	CreateCard(ctx context.Context, title string) (*Card, error)

	Close() error
}

// Open builds the store selected by cfg and wraps it with the configured
// artificial latency.
func Open(cfg common.StoreConfig, cat *Catalog) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case common.DriverMemory, "":
		s = NewMemoryStore(cat)
	case common.DriverSQLite:
		s, err = OpenSQLite(cfg.DSN, cat)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
	return WithLatency(s, cfg.Latency), nil
}

func notFound(id int) error {
	return errors.Wrapf(common.ErrNotFound, "id %d", id)
}

type latencyStore struct {
	Store
	delay time.Duration
}

// WithLatency delays every call to s by d. The delay honours ctx.
func WithLatency(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &latencyStore{Store: s, delay: d}
}

func (l *latencyStore) wait(ctx context.Context) error {
	t := time.NewTimer(l.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func (l *latencyStore) List(ctx context.Context) ([]TransactionRecord, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.Store.List(ctx)
}

func (l *latencyStore) Get(ctx context.Context, id int) (*TestCaseDetail, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.Store.Get(ctx, id)
}

func (l *latencyStore) Create(ctx context.Context, fields RecordFields) (*TransactionRecord, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.Store.Create(ctx, fields)
}

func (l *latencyStore) Update(ctx context.Context, id int, patch RecordPatch) (*TransactionRecord, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.Store.Update(ctx, id, patch)
}

func (l *latencyStore) ListCards(ctx context.Context) ([]Card, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.Store.ListCards(ctx)
}

func (l *latencyStore) CreateCard(ctx context.Context, title string) (*Card, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.Store.CreateCard(ctx, title)
}
