package cache

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/tokengauge/tokengauge/store"
)

// Header is one ordered header pair, as persisted.
type Header = store.Header

// Response is a buffered or streaming HTTP response with a consumable body.
// Once the body has been read (by the caller or by Put, which drains it into
// the record), the Response is spent and cannot be stored again.
type Response struct {
	URL        string
	Status     int
	StatusText string
	Headers    []Header

	body     io.ReadCloser
	bodyUsed bool
}

// NewResponse builds a Response around an in-memory body.
func NewResponse(status int, statusText, url string, headers []Header, body []byte) *Response {
	return &Response{
		URL:        url,
		Status:     status,
		StatusText: statusText,
		Headers:    headers,
		body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// ResponseFrom wraps a live *http.Response, taking ownership of its body.
func ResponseFrom(res *http.Response) *Response {
	headers := make([]Header, 0, len(res.Header))
	for _, name := range orderedHeaderNames(res.Header) {
		for _, value := range res.Header[name] {
			headers = append(headers, Header{Name: name, Value: value})
		}
	}
	url := ""
	if res.Request != nil && res.Request.URL != nil {
		url = res.Request.URL.String()
	}
	return &Response{
		URL:        url,
		Status:     res.StatusCode,
		StatusText: statusText(res),
		Headers:    headers,
		body:       res.Body,
	}
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// BodyUsed reports whether the body has already been consumed.
func (r *Response) BodyUsed() bool {
	return r.bodyUsed
}

// Bytes drains the body and returns it. Consumes the response: a second call
// fails with a type error.
func (r *Response) Bytes() ([]byte, error) {
	if r.bodyUsed {
		return nil, typeErrorf("response body already used")
	}
	r.bodyUsed = true
	if r.body == nil {
		return nil, nil
	}
	defer r.body.Close()
	return io.ReadAll(r.body)
}

// Header returns the first value for name, comparing case-insensitively.
func (r *Response) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// varyIncludesWildcard reports whether any Vary header lists "*".
func (r *Response) varyIncludesWildcard() bool {
	for _, h := range r.Headers {
		if !strings.EqualFold(h.Name, "Vary") {
			continue
		}
		for _, field := range strings.Split(h.Value, ",") {
			if strings.TrimSpace(field) == "*" {
				return true
			}
		}
	}
	return false
}

func (r *Response) closeBody() {
	if r.body != nil && !r.bodyUsed {
		r.bodyUsed = true
		_ = r.body.Close()
	}
}

func responseFromRecord(rec store.Record) *Response {
	return NewResponse(rec.Status, rec.StatusText, rec.ResURL, rec.Headers, rec.Body)
}

// statusText extracts the reason phrase from res.Status ("200 OK" -> "OK"),
// falling back to the standard text for the code.
func statusText(res *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
	if text == "" {
		text = http.StatusText(res.StatusCode)
	}
	return text
}

func orderedHeaderNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
