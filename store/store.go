// Package store provides the persistent transactional record store backing
// the request/response cache. It exposes two partitions: a registry of cache
// names and a shared record store with a secondary index on cache name.
// Records carry auto-assigned sequential primary keys.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Header is one ordered response header pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is one stored request/response exchange.
type Record struct {
	// ID is the auto-assigned primary key. Zero until inserted.
	ID uint64 `json:"-"`

	CacheName  string   `json:"cache_name"`
	ReqURL     string   `json:"req_url"`
	ReqMethod  string   `json:"req_method"`
	ResURL     string   `json:"res_url"`
	Status     int      `json:"status"`
	StatusText string   `json:"status_text"`
	Headers    []Header `json:"headers"`
	Body       []byte   `json:"body"`
}

// ErrTxDone is returned when a transaction is used after Commit or Rollback.
var ErrTxDone = errors.New("store: transaction has already been committed or rolled back")

// Tx is a single transaction against the store. All reads and writes of one
// cache operation happen inside one Tx; the operation's result is final only
// once Commit returns.
type Tx interface {
	// EnsureCacheName adds name to the registry partition if absent.
	EnsureCacheName(name string) error

	// DeleteCacheName removes name from the registry partition.
	// Returns true if the name was present.
	DeleteCacheName(name string) (bool, error)

	// HasCacheName reports whether name is in the registry partition.
	HasCacheName(name string) (bool, error)

	// CacheNames lists all registered cache names in key order.
	CacheNames() ([]string, error)

	// Insert stores rec under a fresh sequential primary key and returns it.
	Insert(rec *Record) (uint64, error)

	// Delete removes the record with the given primary key. Deleting a
	// missing key is not an error.
	Delete(id uint64) error

	// Scan iterates over every record whose CacheName equals cacheName,
	// in primary-key order, via the secondary index. The callback must not
	// mutate the store; collect primary keys and delete after the scan.
	Scan(cacheName string, fn func(rec Record) error) error

	Commit() error
	Rollback() error
}

// Engine is a persistent transactional record store. Implementations must be
// safe for concurrent use; isolation between concurrent transactions is
// whatever the underlying engine provides per transaction.
type Engine interface {
	// Begin opens a transaction. Read-only transactions must not call
	// mutating Tx methods.
	Begin(ctx context.Context, writable bool) (Tx, error)

	Close() error
}

// Open creates an Engine by driver name. Supported drivers: "bolt", "sqlite".
func Open(driver, path string) (Engine, error) {
	switch driver {
	case "bolt":
		return OpenBolt(path)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
