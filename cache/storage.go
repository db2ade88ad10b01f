package cache

import (
	"context"
	"net/http"

	"github.com/tokengauge/tokengauge/store"
)

// Storage is the top-level directory of named caches over one engine,
// mirroring the registry partition.
type Storage struct {
	engine store.Engine
	client *http.Client
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithStorageHTTPClient sets the client handed to caches opened through this
// Storage.
func WithStorageHTTPClient(client *http.Client) StorageOption {
	return func(s *Storage) { s.client = client }
}

// NewStorage wraps engine in a cache directory.
func NewStorage(engine store.Engine, opts ...StorageOption) *Storage {
	s := &Storage{engine: engine, client: http.DefaultClient}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open returns a handle on the cache called name, creating its registry
// entry if absent.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	return Open(ctx, s.engine, name, WithHTTPClient(s.client))
}

// Has reports whether a cache called name exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	tx, err := s.engine.Begin(ctx, false)
	if err != nil {
		return false, err
	}
	ok, err := tx.HasCacheName(name)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	return ok, tx.Commit()
}

// Names lists every registered cache name.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	tx, err := s.engine.Begin(ctx, false)
	if err != nil {
		return nil, err
	}
	names, err := tx.CacheNames()
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return names, tx.Commit()
}

// Delete drops the cache called name: its registry entry and every record it
// owns. Returns true if the cache existed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.engine.Begin(ctx, true)
	if err != nil {
		return false, err
	}
	existed, err := tx.DeleteCacheName(name)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	var ids []uint64
	err = tx.Scan(name, func(rec store.Record) error {
		ids = append(ids, rec.ID)
		return nil
	})
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	for _, id := range ids {
		if err := tx.Delete(id); err != nil {
			_ = tx.Rollback()
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return existed, nil
}

// Match searches every cache in registry order and returns the first match,
// or nil if no cache holds one.
func (s *Storage) Match(ctx context.Context, req *Request, opts *MatchOptions) (*Response, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c := &Cache{name: name, engine: s.engine, client: s.client}
		res, err := c.Match(ctx, req, opts)
		if err != nil || res != nil {
			return res, err
		}
	}
	return nil, nil
}
