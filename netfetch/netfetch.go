// Package netfetch is the network side of the caching engine: a Fetcher
// backed by net/http and the reverse proxy that handles bypassed requests.
//
// Requests addressed to one of the public hosts (the names clients use to
// reach swcache) are sent to the origin instead. Any other absolute URL is
// fetched as-is, which is how cross-origin API calls reach their hosts.
//
// There are no retries: a failed fetch is reported once and the strategy
// decides what to fall back to.
package netfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/swcache/message"
)

// DefaultMaxBody caps a buffered response body (32 MiB).
const DefaultMaxBody int64 = 32 << 20

// ErrBodyTooLarge is returned when a response body exceeds the cap.
var ErrBodyTooLarge = errors.New("netfetch: response body too large")

// FetchError is a network failure for one URL.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("netfetch: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// hopHeaders are connection-level headers never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Options configures a Fetcher.
type Options struct {
	// Origin is the base URL public-host requests are sent to.
	Origin string
	// PublicHosts are host[:port] names rewritten to Origin.
	PublicHosts []string
	// Timeout bounds one fetch including the body. Default: 30s.
	Timeout time.Duration
	// MaxBody caps the response body. Default: DefaultMaxBody.
	MaxBody int64
	// Client overrides the HTTP client; its Timeout is left untouched.
	Client *http.Client
	Logger *slog.Logger
}

// Fetcher fetches requests over HTTP and buffers the response.
type Fetcher struct {
	origin  *url.URL
	public  map[string]bool
	client  *http.Client
	maxBody int64
	logger  *slog.Logger
}

// New builds a Fetcher.
func New(opts Options) (*Fetcher, error) {
	origin, err := parseOrigin(opts.Origin)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	public := make(map[string]bool, len(opts.PublicHosts))
	for _, h := range opts.PublicHosts {
		public[strings.ToLower(h)] = true
	}
	return &Fetcher{
		origin:  origin,
		public:  public,
		client:  client,
		maxBody: opts.MaxBody,
		logger:  opts.Logger,
	}, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("netfetch: parse origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("netfetch: origin %q must be an http(s) URL", raw)
	}
	return u, nil
}

// Target returns the URL req is actually sent to.
func (f *Fetcher) Target(req *message.Request) *url.URL {
	if !f.public[strings.ToLower(req.URL.Host)] {
		u := *req.URL
		return &u
	}
	return rebase(f.origin, req.URL)
}

// rebase moves u onto origin, keeping path and query.
func rebase(origin, u *url.URL) *url.URL {
	out := *u
	out.Scheme = origin.Scheme
	out.Host = origin.Host
	out.User = nil
	if base := strings.TrimSuffix(origin.Path, "/"); base != "" {
		out.Path = base + u.Path
		if u.RawPath != "" {
			out.RawPath = strings.TrimSuffix(origin.EscapedPath(), "/") + u.RawPath
		}
	}
	return &out
}

// Fetch sends req and buffers the whole response. Any HTTP status is a
// response; only transport failures and oversized bodies are errors.
func (f *Fetcher) Fetch(ctx context.Context, req *message.Request) (*message.Response, error) {
	target := f.Target(req)

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: target.String(), Err: err}
	}
	for k, vv := range req.Header {
		out.Header[k] = append([]string(nil), vv...)
	}
	removeHop(out.Header)
	// Let the transport negotiate and decode compression itself so stored
	// bodies are always identity-encoded.
	out.Header.Del("Accept-Encoding")
	out.Header.Del("Cookie")
	// Responses are cached under the full URL, so always fetch the whole
	// resource.
	out.Header.Del("Range")
	out.Header.Del("If-Range")

	resp, err := f.client.Do(out)
	if err != nil {
		f.logger.DebugContext(ctx, "fetch failed", "url", target.String(), "error", err)
		return nil, &FetchError{URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := limitedReadAll(resp.Body, f.maxBody)
	if err != nil {
		return nil, &FetchError{URL: target.String(), Err: err}
	}

	header := resp.Header.Clone()
	removeHop(header)
	header.Del("Set-Cookie")
	if resp.Uncompressed {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}

	r := message.NewResponse(resp.StatusCode, header, body)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))); text != "" {
		r.StatusText = text
	}
	return r, nil
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

func removeHop(h http.Header) {
	for _, c := range h.Values("Connection") {
		for _, name := range strings.Split(c, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

func limitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, maxBytes)
	}
	return data, nil
}
