// Package guard decides whether a network response may be written to a
// partition. Static hosts answer missing assets with an HTML fallback page
// and a 200 status; caching that page under a script, style, image or PDF
// URL would break the site until the partition is cleared.
//
// The guard only gates writes. A rejected response is still returned to the
// caller.
package guard

import (
	"strings"

	"github.com/hazyhaar/swcache/message"
)

// Rejection reasons.
const (
	ReasonNotOK          = "not_ok"
	ReasonPartial        = "partial_content"
	ReasonHTMLMasquerade = "html_masquerade"
)

// Verdict is the outcome of Check.
type Verdict struct {
	Cacheable bool
	Reason    string
}

// Check inspects resp for req.
func Check(req *message.Request, resp *message.Response) Verdict {
	// A fragment stored under the full URL would be served to every later
	// full request.
	if resp.Status == 206 || resp.Header.Get("Content-Range") != "" {
		return Verdict{Reason: ReasonPartial}
	}
	if !resp.OK() {
		return Verdict{Reason: ReasonNotOK}
	}
	ct := strings.ToLower(resp.ContentType())
	if strings.Contains(ct, "text/html") && !ExpectsHTML(req) {
		return Verdict{Reason: ReasonHTMLMasquerade}
	}
	return Verdict{Cacheable: true}
}

// ExpectsHTML reports whether req asks for an HTML document: a directory
// path, an .html/.htm path, or a browser navigation to a non-asset path.
// Opening a PDF from a link is a navigation too, so the asset check wins.
func ExpectsHTML(req *message.Request) bool {
	p := req.Path()
	if strings.HasSuffix(p, "/") || strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".htm") {
		return true
	}
	if req.IsAsset() {
		return false
	}
	return req.Header.Get("Sec-Fetch-Mode") == "navigate" || req.Header.Get("Sec-Fetch-Dest") == "document"
}
