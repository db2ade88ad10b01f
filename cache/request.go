package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Request identifies a cached exchange: a method, a URL, and optional headers
// sent along when the cache fetches the resource itself.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// NewRequest returns a GET request for rawURL.
func NewRequest(rawURL string) *Request {
	return &Request{Method: http.MethodGet, URL: rawURL}
}

// MatchOptions tune how requests are compared against stored records.
// IgnoreSearch and IgnoreVary are accepted on Match/MatchAll for interface
// compatibility but only Keys applies IgnoreSearch; see the per-method docs.
type MatchOptions struct {
	IgnoreSearch bool
	IgnoreVary   bool
	IgnoreMethod bool
}

// normalize returns a copy of r with the URL fragment stripped and the
// method defaulted to GET and uppercased, plus the parsed URL for scheme
// checks. URLs are always compared in this normalized form.
func (r *Request) normalize() (*Request, *url.URL, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, nil, typeErrorf("invalid request URL %q: %v", r.URL, err)
	}
	u.Fragment = ""
	u.RawFragment = ""

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: method, URL: u.String(), Header: r.Header}, u, nil
}

// stripSearch removes the query string from a normalized URL string.
func stripSearch(normalizedURL string) string {
	if i := strings.IndexByte(normalizedURL, '?'); i >= 0 {
		return normalizedURL[:i]
	}
	return normalizedURL
}

// stripFragment removes any fragment from a raw URL string, leaving the rest
// untouched. Used for response URLs, which are stored but never parsed.
func stripFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
