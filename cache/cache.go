// Package cache implements a named request/response cache on top of a
// transactional record store, for runtimes without a native persistent
// HTTP cache. One underlying store holds records for every cache instance,
// partitioned by cache name; each operation runs in its own transaction.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/tokengauge/tokengauge/store"
)

// ErrTypeError is the category wrapped by all validation failures:
// disallowed URL scheme or method, partial-content status, wildcard Vary, or
// an already-consumed body. Match with errors.Is.
var ErrTypeError = errors.New("type error")

func typeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTypeError, fmt.Sprintf(format, args...))
}

// Cache is a handle on one named cache. All durable state lives in the
// engine; handles are cheap and multiple handles for the same name observe
// the same records.
type Cache struct {
	name   string
	engine store.Engine
	client *http.Client
}

// Option configures a Cache handle.
type Option func(*Cache)

// WithHTTPClient sets the client Add and AddAll fetch with.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) { c.client = client }
}

// Open returns a handle on the cache called name, registering the name in
// the store's registry partition.
func Open(ctx context.Context, engine store.Engine, name string, opts ...Option) (*Cache, error) {
	c := &Cache{name: name, engine: engine, client: http.DefaultClient}
	for _, o := range opts {
		o(c)
	}
	tx, err := engine.Begin(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := tx.EnsureCacheName(name); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// Name returns the cache's name.
func (c *Cache) Name() string { return c.name }

// Match returns the first stored response matching req, or nil if none.
// A HEAD request never matches. opts is accepted for interface compatibility;
// IgnoreSearch and IgnoreVary do not alter the comparison here.
func (c *Cache) Match(ctx context.Context, req *Request, opts *MatchOptions) (*Response, error) {
	matches, err := c.MatchAll(ctx, req, opts)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

// MatchAll returns every stored response for this cache name whose request
// URL equals req's normalized URL, or all of them when req is nil. Results
// follow the store's cursor order. A HEAD request yields no matches.
func (c *Cache) MatchAll(ctx context.Context, req *Request, opts *MatchOptions) ([]*Response, error) {
	var target string
	if req != nil {
		nreq, _, err := req.normalize()
		if err != nil {
			return nil, err
		}
		if nreq.Method == http.MethodHead {
			return nil, nil
		}
		target = nreq.URL
	}

	var matches []*Response
	err := c.scan(ctx, func(rec store.Record) {
		if req != nil && rec.ReqURL != target {
			return
		}
		matches = append(matches, responseFromRecord(rec))
	})
	return matches, err
}

// Add fetches req over the network and stores the response. Shorthand for
// AddAll with a single request.
func (c *Cache) Add(ctx context.Context, req *Request) error {
	return c.AddAll(ctx, []*Request{req})
}

// AddAll fetches every request concurrently and stores each response via Put
// once its own fetch resolves. It returns once every request has fetched and
// stored; any failure fails the whole call, but stores that completed before
// the failure are not rolled back.
func (c *Cache) AddAll(ctx context.Context, reqs []*Request) error {
	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *Request) {
			defer wg.Done()
			errs[i] = c.fetchAndPut(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (c *Cache) fetchAndPut(ctx context.Context, req *Request) error {
	nreq, u, err := req.normalize()
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return typeErrorf("scheme %q not supported", u.Scheme)
	}
	if nreq.Method != http.MethodGet {
		return typeErrorf("method %s not supported for add", nreq.Method)
	}

	httpReq, err := http.NewRequestWithContext(ctx, nreq.Method, nreq.URL, nil)
	if err != nil {
		return err
	}
	for name, values := range nreq.Header {
		httpReq.Header[name] = values
	}
	httpRes, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}

	res := ResponseFrom(httpRes)
	if res.Status == http.StatusPartialContent {
		res.closeBody()
		return typeErrorf("partial content response not cacheable")
	}
	if !res.OK() {
		res.closeBody()
		return fmt.Errorf("add %s: unexpected status %d %s", nreq.URL, res.Status, res.StatusText)
	}
	return c.Put(ctx, nreq, res)
}

// Put stores res as the response for req, replacing any record already
// matching the normalized request for this cache name. The delete happens
// strictly before the insert. Put fully drains res's body; the caller's
// Response is consumed afterwards.
//
// Put rejects, wrapping ErrTypeError: non-http(s) schemes, non-GET methods,
// 206 responses, responses with a wildcard Vary header, and responses whose
// body is already used.
func (c *Cache) Put(ctx context.Context, req *Request, res *Response) error {
	nreq, u, err := req.normalize()
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return typeErrorf("scheme %q not supported", u.Scheme)
	}
	if nreq.Method != http.MethodGet {
		return typeErrorf("method %s not supported for put", nreq.Method)
	}
	if res.Status == http.StatusPartialContent {
		return typeErrorf("partial content response not cacheable")
	}
	if res.varyIncludesWildcard() {
		return typeErrorf("vary wildcard response not cacheable")
	}
	if res.BodyUsed() {
		return typeErrorf("response body already used")
	}

	body, err := res.Bytes()
	if err != nil {
		return err
	}
	if _, err := c.Delete(ctx, nreq, nil); err != nil {
		return err
	}

	rec := &store.Record{
		CacheName:  c.name,
		ReqURL:     nreq.URL,
		ReqMethod:  nreq.Method,
		ResURL:     stripFragment(res.URL),
		Status:     res.Status,
		StatusText: res.StatusText,
		Headers:    res.Headers,
		Body:       body,
	}
	tx, err := c.engine.Begin(ctx, true)
	if err != nil {
		return err
	}
	if err := tx.EnsureCacheName(c.name); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Insert(rec); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Delete removes every record whose request URL equals req's normalized URL
// and whose method matches (any method when opts.IgnoreMethod is set),
// reporting whether anything was removed.
//
// Note the IgnoreMethod quirk: a request whose method is neither GET nor
// HEAD returns false immediately when IgnoreMethod is true.
func (c *Cache) Delete(ctx context.Context, req *Request, opts *MatchOptions) (bool, error) {
	nreq, _, err := req.normalize()
	if err != nil {
		return false, err
	}
	var o MatchOptions
	if opts != nil {
		o = *opts
	}
	if nreq.Method != http.MethodGet && nreq.Method != http.MethodHead && o.IgnoreMethod {
		return false, nil
	}

	tx, err := c.engine.Begin(ctx, true)
	if err != nil {
		return false, err
	}
	var ids []uint64
	err = tx.Scan(c.name, func(rec store.Record) error {
		if rec.ReqURL != nreq.URL {
			return nil
		}
		if !o.IgnoreMethod && rec.ReqMethod != nreq.Method {
			return nil
		}
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
	return len(ids) > 0, nil
}

// Keys returns one reconstructed request per stored record for this cache
// name. When req is given, results are filtered to records whose request URL
// equals req's normalized URL; IgnoreSearch drops the query string from both
// sides of that comparison. A non-GET request yields no keys unless
// opts.IgnoreMethod is set.
func (c *Cache) Keys(ctx context.Context, req *Request, opts *MatchOptions) ([]*Request, error) {
	var o MatchOptions
	if opts != nil {
		o = *opts
	}
	var target string
	if req != nil {
		nreq, _, err := req.normalize()
		if err != nil {
			return nil, err
		}
		if nreq.Method != http.MethodGet && !o.IgnoreMethod {
			return nil, nil
		}
		target = nreq.URL
		if o.IgnoreSearch {
			target = stripSearch(target)
		}
	}

	var keys []*Request
	err := c.scan(ctx, func(rec store.Record) {
		if req != nil {
			stored := rec.ReqURL
			if o.IgnoreSearch {
				stored = stripSearch(stored)
			}
			if stored != target {
				return
			}
		}
		keys = append(keys, &Request{Method: rec.ReqMethod, URL: rec.ReqURL})
	})
	return keys, err
}

// scan runs fn over every record for this cache name in one read-only
// transaction.
func (c *Cache) scan(ctx context.Context, fn func(rec store.Record)) error {
	tx, err := c.engine.Begin(ctx, false)
	if err != nil {
		return err
	}
	err = tx.Scan(c.name, func(rec store.Record) error {
		fn(rec)
		return nil
	})
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
