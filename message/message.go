// Package message holds the transient request and response values that flow
// through the caching engine. A Request is only inspected, never mutated; a
// Response is copied before it is stored so the caller and the partition never
// share a body or a header map.
package message

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Long-lived caching directive stamped on rewritten responses.
const (
	ImmutableCacheControl = "public, max-age=31536000, immutable"
	ImmutableTTL          = "31536000"
)

// Provenance markers written to the X-Served-By header.
const (
	ServedByCache         = "Service-Worker-Cache"
	ServedByNetwork       = "Service-Worker-Network"
	ServedByNetworkForced = "Service-Worker-Network-Forced"
)

// Request is an intercepted request: method, absolute URL and headers.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
}

// NewRequest builds a GET-style request from an absolute URL string.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("message: parse url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("message: url %q is not absolute", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: method, URL: u, Header: make(http.Header)}, nil
}

// FromHTTP converts an inbound server request into an absolute Request.
// The scheme comes from the TLS state, or from X-Forwarded-Proto when
// trustForwarded is set; the host comes from r.Host.
func FromHTTP(r *http.Request, trustForwarded bool) *Request {
	u := *r.URL
	if r.URL.IsAbs() {
		// Forward-proxy form: the client already sent an absolute URL.
		return &Request{Method: r.Method, URL: &u, Header: r.Header.Clone()}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if trustForwarded {
		if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
			scheme = strings.ToLower(strings.TrimSpace(strings.Split(p, ",")[0]))
		}
	}
	u.Scheme = scheme
	u.Host = r.Host
	return &Request{Method: r.Method, URL: &u, Header: r.Header.Clone()}
}

// Key returns the request identity used as the partition key.
func (r *Request) Key() string {
	return r.Method + " " + r.URL.String()
}

// Path returns the URL path, "/" when empty.
func (r *Request) Path() string {
	if r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// Asset extensions: requests for these never expect an HTML body.
var (
	ImageExtensions  = []string{".webp", ".svg", ".png", ".jpg", ".jpeg", ".gif", ".ico"}
	StaticExtensions = []string{".js", ".css", ".woff", ".woff2", ".ttf", ".eot", ".pdf"}
)

// HasExtension reports whether the request path ends in one of exts.
func (r *Request) HasExtension(exts []string) bool {
	p := r.Path()
	for _, e := range exts {
		if strings.HasSuffix(p, e) {
			return true
		}
	}
	return false
}

// IsAsset reports whether the path names an image or static asset.
func (r *Request) IsAsset() bool {
	return r.HasExtension(ImageExtensions) || r.HasExtension(StaticExtensions)
}

// Response is a fully buffered HTTP response.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// NewResponse builds a response with the given status and body.
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     header,
		Body:       body,
	}
}

// NetworkError is the synthetic response returned when neither the network
// nor the partition can answer.
func NetworkError() *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return NewResponse(http.StatusRequestTimeout, h, []byte("Network error"))
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// ContentType returns the declared content type, "" if absent.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Clone returns a deep copy.
func (r *Response) Clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.Body != nil {
		c.Body = bytes.Clone(r.Body)
	}
	return &c
}

// WithHeaders returns a copy whose Cache-Control is replaced by the
// long-lived immutable directive and which carries the provenance marker.
func (r *Response) WithHeaders(servedBy string) *Response {
	c := r.Clone()
	c.Header.Del("Cache-Control")
	c.Header.Set("Cache-Control", ImmutableCacheControl)
	c.Header.Set("X-Served-By", servedBy)
	c.Header.Set("X-Cache-TTL", ImmutableTTL)
	return c
}

// WriteTo copies the response onto w.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	h := w.Header()
	for k, vv := range r.Header {
		h[k] = append([]string(nil), vv...)
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}
