package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCacheNames = []byte("cache_names")
	bucketRecords    = []byte("records")
	bucketByCache    = []byte("records_by_cache")
)

// BoltEngine stores records in a single bbolt file. The records bucket is
// keyed by an 8-byte big-endian sequence number; the index bucket maps
// cacheName + 0x00 + sequence back to that key so scans for one cache name
// are a prefix cursor walk.
type BoltEngine struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the bbolt file at path and ensures the
// schema exists. Schema creation runs exactly once per file and is a no-op on
// every later open.
func OpenBolt(path string) (*BoltEngine, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCacheNames, bucketRecords, bucketByCache} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt schema: %w", err)
	}
	return &BoltEngine{db: db}, nil
}

// Begin implements Engine.
func (e *BoltEngine) Begin(ctx context.Context, writable bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTx{tx: tx}, nil
}

// Close implements Engine.
func (e *BoltEngine) Close() error {
	return e.db.Close()
}

type boltTx struct {
	tx   *bolt.Tx
	done bool
}

func (t *boltTx) EnsureCacheName(name string) error {
	if t.done {
		return ErrTxDone
	}
	return t.tx.Bucket(bucketCacheNames).Put([]byte(name), []byte{1})
}

func (t *boltTx) DeleteCacheName(name string) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	b := t.tx.Bucket(bucketCacheNames)
	if b.Get([]byte(name)) == nil {
		return false, nil
	}
	return true, b.Delete([]byte(name))
}

func (t *boltTx) HasCacheName(name string) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	return t.tx.Bucket(bucketCacheNames).Get([]byte(name)) != nil, nil
}

func (t *boltTx) CacheNames() ([]string, error) {
	if t.done {
		return nil, ErrTxDone
	}
	var names []string
	err := t.tx.Bucket(bucketCacheNames).ForEach(func(k, _ []byte) error {
		names = append(names, string(k))
		return nil
	})
	return names, err
}

func (t *boltTx) Insert(rec *Record) (uint64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	records := t.tx.Bucket(bucketRecords)
	seq, err := records.NextSequence()
	if err != nil {
		return 0, err
	}
	rec.ID = seq

	val, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	key := seqKey(seq)
	if err := records.Put(key, val); err != nil {
		return 0, err
	}
	if err := t.tx.Bucket(bucketByCache).Put(indexKey(rec.CacheName, seq), key); err != nil {
		return 0, err
	}
	return seq, nil
}

func (t *boltTx) Delete(id uint64) error {
	if t.done {
		return ErrTxDone
	}
	records := t.tx.Bucket(bucketRecords)
	key := seqKey(id)
	val := records.Get(key)
	if val == nil {
		return nil
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketByCache).Delete(indexKey(rec.CacheName, id)); err != nil {
		return err
	}
	return records.Delete(key)
}

func (t *boltTx) Scan(cacheName string, fn func(rec Record) error) error {
	if t.done {
		return ErrTxDone
	}
	records := t.tx.Bucket(bucketRecords)
	c := t.tx.Bucket(bucketByCache).Cursor()
	prefix := indexPrefix(cacheName)
	for k, pk := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, pk = c.Next() {
		val := records.Get(pk)
		if val == nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		rec.ID = binary.BigEndian.Uint64(pk)
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if !t.tx.Writable() {
		return t.tx.Rollback()
	}
	return t.tx.Commit()
}

func (t *boltTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Rollback()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func indexPrefix(cacheName string) []byte {
	p := make([]byte, 0, len(cacheName)+1)
	p = append(p, cacheName...)
	return append(p, 0)
}

func indexKey(cacheName string, seq uint64) []byte {
	return append(indexPrefix(cacheName), seqKey(seq)...)
}
