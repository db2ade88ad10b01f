package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tokengauge/tokengauge/store"
)

func newTestEngine(t *testing.T) store.Engine {
	t.Helper()
	engine, err := store.OpenBolt(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func newTestCache(t *testing.T, name string) *Cache {
	t.Helper()
	c, err := Open(context.Background(), newTestEngine(t), name)
	require.NoError(t, err)
	return c
}

func textResponse(status int, url, body string) *Response {
	return NewResponse(status, http.StatusText(status), url,
		[]Header{{Name: "Content-Type", Value: "text/plain"}}, []byte(body))
}

func TestPutMatchRoundtrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")

	req := NewRequest("https://a.test/x")
	require.NoError(t, c.Put(ctx, req, textResponse(200, "https://a.test/x", "hello")))

	res, err := c.Match(ctx, req, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 200, res.Status)
	require.Equal(t, "OK", res.StatusText)
	require.Equal(t, "https://a.test/x", res.URL)
	require.Equal(t, "text/plain", res.Header("Content-Type"))

	body, err := res.Bytes()
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestPutReplacesExisting(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")
	req := NewRequest("https://a.test/x")

	require.NoError(t, c.Put(ctx, req, textResponse(200, "https://a.test/x", "hello")))
	require.NoError(t, c.Put(ctx, req, textResponse(200, "https://a.test/x", "world")))

	matches, err := c.MatchAll(ctx, req, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1, "put must leave exactly one record per request")

	body, err := matches[0].Bytes()
	require.NoError(t, err)
	require.Equal(t, "world", string(body))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")
	req := NewRequest("https://a.test/x")

	require.NoError(t, c.Put(ctx, req, textResponse(200, "https://a.test/x", "hello")))

	removed, err := c.Delete(ctx, req, nil)
	require.NoError(t, err)
	require.True(t, removed)

	res, err := c.Match(ctx, req, nil)
	require.NoError(t, err)
	require.Nil(t, res)

	removed, err = c.Delete(ctx, NewRequest("https://a.test/unknown"), nil)
	require.NoError(t, err)
	require.False(t, removed)
}

// With IgnoreMethod set, a delete for a method that is neither GET nor HEAD
// is a no-op rather than a method-agnostic delete. Counterintuitive, but it
// is the documented contract of Delete.
func TestDeleteIgnoreMethodNonGETNoOp(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")

	require.NoError(t, c.Put(ctx, NewRequest("https://a.test/x"), textResponse(200, "https://a.test/x", "hello")))

	removed, err := c.Delete(ctx, &Request{Method: "POST", URL: "https://a.test/x"}, &MatchOptions{IgnoreMethod: true})
	require.NoError(t, err)
	require.False(t, removed)

	res, err := c.Match(ctx, NewRequest("https://a.test/x"), nil)
	require.NoError(t, err)
	require.NotNil(t, res, "record must survive the no-op delete")
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")

	urls := []string{"https://a.test/x", "https://a.test/y?q=1", "https://b.test/z"}
	for _, u := range urls {
		require.NoError(t, c.Put(ctx, NewRequest(u), textResponse(200, u, "body")))
	}

	keys, err := c.Keys(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, keys, len(urls))
	for _, k := range keys {
		require.Equal(t, http.MethodGet, k.Method)
		require.Contains(t, urls, k.URL)
	}
}

func TestKeysIgnoreSearch(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")

	require.NoError(t, c.Put(ctx, NewRequest("https://a.test/y?q=1"), textResponse(200, "https://a.test/y?q=1", "body")))

	keys, err := c.Keys(ctx, NewRequest("https://a.test/y"), nil)
	require.NoError(t, err)
	require.Empty(t, keys)

	keys, err = c.Keys(ctx, NewRequest("https://a.test/y"), &MatchOptions{IgnoreSearch: true})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, "https://a.test/y?q=1", keys[0].URL)
}

func TestKeysNonGETRequest(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")

	require.NoError(t, c.Put(ctx, NewRequest("https://a.test/x"), textResponse(200, "https://a.test/x", "body")))

	keys, err := c.Keys(ctx, &Request{Method: "POST", URL: "https://a.test/x"}, nil)
	require.NoError(t, err)
	require.Empty(t, keys)

	keys, err = c.Keys(ctx, &Request{Method: "POST", URL: "https://a.test/x"}, &MatchOptions{IgnoreMethod: true})
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestPutRejections(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")

	tests := []struct {
		name string
		req  *Request
		res  *Response
	}{
		{"post method", &Request{Method: "POST", URL: "https://a.test/x"}, textResponse(200, "https://a.test/x", "x")},
		{"ftp scheme", NewRequest("ftp://example.com/x"), textResponse(200, "ftp://example.com/x", "x")},
		{"partial content", NewRequest("https://a.test/x"), textResponse(206, "https://a.test/x", "x")},
		{"vary wildcard", NewRequest("https://a.test/x"), NewResponse(200, "OK", "https://a.test/x",
			[]Header{{Name: "Vary", Value: "Accept, *"}}, []byte("x"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Put(ctx, tt.req, tt.res)
			require.ErrorIs(t, err, ErrTypeError)
		})
	}

	t.Run("body already used", func(t *testing.T) {
		res := textResponse(200, "https://a.test/x", "x")
		_, err := res.Bytes()
		require.NoError(t, err)
		require.ErrorIs(t, c.Put(ctx, NewRequest("https://a.test/x"), res), ErrTypeError)
	})

	matches, err := c.MatchAll(ctx, nil, nil)
	require.NoError(t, err)
	require.Empty(t, matches, "rejected puts must not store anything")
}

func TestMatchAllHeadRequest(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")

	require.NoError(t, c.Put(ctx, NewRequest("https://a.test/x"), textResponse(200, "https://a.test/x", "hello")))

	matches, err := c.MatchAll(ctx, &Request{Method: "HEAD", URL: "https://a.test/x"}, nil)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestMatchIgnoresFragments(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")

	require.NoError(t, c.Put(ctx, NewRequest("https://a.test/x#frag1"), textResponse(200, "https://a.test/x#resfrag", "hello")))

	res, err := c.Match(ctx, NewRequest("https://a.test/x#frag2"), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "https://a.test/x", res.URL, "response URL must not keep its fragment")
}

// Match does not apply IgnoreSearch; only Keys does.
func TestMatchDoesNotApplyIgnoreSearch(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "v1")

	require.NoError(t, c.Put(ctx, NewRequest("https://a.test/x?q=1"), textResponse(200, "https://a.test/x?q=1", "hello")))

	res, err := c.Match(ctx, NewRequest("https://a.test/x"), &MatchOptions{IgnoreSearch: true})
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestCacheNameIsolation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	v1, err := Open(ctx, engine, "v1")
	require.NoError(t, err)
	v2, err := Open(ctx, engine, "v2")
	require.NoError(t, err)

	req := NewRequest("https://a.test/x")
	require.NoError(t, v1.Put(ctx, req, textResponse(200, "https://a.test/x", "one")))
	require.NoError(t, v2.Put(ctx, req, textResponse(200, "https://a.test/x", "two")))

	res, err := v1.Match(ctx, req, nil)
	require.NoError(t, err)
	body, err := res.Bytes()
	require.NoError(t, err)
	require.Equal(t, "one", string(body))

	removed, err := v2.Delete(ctx, req, nil)
	require.NoError(t, err)
	require.True(t, removed)

	res, err = v1.Match(ctx, req, nil)
	require.NoError(t, err)
	require.NotNil(t, res, "deleting from v2 must not touch v1")
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("vocab-bytes"))
	}))
	defer srv.Close()

	c := newTestCache(t, "v1")
	req := NewRequest(srv.URL + "/vocab.bpe")
	require.NoError(t, c.Add(ctx, req))

	res, err := c.Match(ctx, req, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 200, res.Status)

	body, err := res.Bytes()
	require.NoError(t, err)
	require.Equal(t, "vocab-bytes", string(body))
}

func TestAddAll(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body for " + r.URL.Path))
	}))
	defer srv.Close()

	c := newTestCache(t, "v1")
	reqs := []*Request{
		NewRequest(srv.URL + "/a"),
		NewRequest(srv.URL + "/b"),
		NewRequest(srv.URL + "/c"),
	}
	require.NoError(t, c.AddAll(ctx, reqs))

	keys, err := c.Keys(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, keys, 3)
}

func TestAddAllFailures(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.Error(w, "not found", http.StatusNotFound)
		case "/partial":
			w.WriteHeader(http.StatusPartialContent)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	c := newTestCache(t, "v1")

	err := c.Add(ctx, NewRequest(srv.URL+"/missing"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTypeError)

	err = c.Add(ctx, NewRequest(srv.URL+"/partial"))
	require.ErrorIs(t, err, ErrTypeError)

	err = c.Add(ctx, NewRequest("ftp://example.com/x"))
	require.ErrorIs(t, err, ErrTypeError)

	err = c.Add(ctx, &Request{Method: "POST", URL: srv.URL + "/ok"})
	require.ErrorIs(t, err, ErrTypeError)

	// A batch with one failure fails as a whole, but successful fetches may
	// already have stored their responses.
	err = c.AddAll(ctx, []*Request{
		NewRequest(srv.URL + "/good"),
		NewRequest(srv.URL + "/missing"),
	})
	require.Error(t, err)
}

func TestStorage(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	storage := NewStorage(engine)

	v1, err := storage.Open(ctx, "v1")
	require.NoError(t, err)
	_, err = storage.Open(ctx, "v2")
	require.NoError(t, err)

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"v1", "v2"}, names)

	ok, err := storage.Has(ctx, "v1")
	require.NoError(t, err)
	require.True(t, ok)

	req := NewRequest("https://a.test/x")
	require.NoError(t, v1.Put(ctx, req, textResponse(200, "https://a.test/x", "hello")))

	res, err := storage.Match(ctx, req, nil)
	require.NoError(t, err)
	require.NotNil(t, res)

	existed, err := storage.Delete(ctx, "v1")
	require.NoError(t, err)
	require.True(t, existed)

	ok, err = storage.Has(ctx, "v1")
	require.NoError(t, err)
	require.False(t, ok)

	res, err = storage.Match(ctx, req, nil)
	require.NoError(t, err)
	require.Nil(t, res, "dropping the cache must drop its records")

	existed, err = storage.Delete(ctx, "v1")
	require.NoError(t, err)
	require.False(t, existed)
}
