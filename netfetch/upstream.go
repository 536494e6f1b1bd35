package netfetch

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
)

// Upstream returns the handler bypassed requests fall through to. Requests
// in origin form, or absolute ones addressed to a public host, are proxied
// to the origin; any other absolute URL is forwarded to its own host.
func Upstream(opts Options) (http.Handler, error) {
	origin, err := parseOrigin(opts.Origin)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	public := make(map[string]bool, len(opts.PublicHosts))
	for _, h := range opts.PublicHosts {
		public[strings.ToLower(h)] = true
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			in := pr.In.URL
			if in.IsAbs() && !public[strings.ToLower(in.Host)] {
				u := *in
				pr.Out.URL = &u
				pr.Out.Host = in.Host
			} else {
				pr.SetURL(origin)
				pr.Out.Host = origin.Host
			}
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WarnContext(r.Context(), "upstream failed", "url", r.URL.String(), "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	if opts.Client != nil && opts.Client.Transport != nil {
		rp.Transport = opts.Client.Transport
	}
	return rp, nil
}
