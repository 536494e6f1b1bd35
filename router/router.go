// Package router classifies an intercepted request into either a bypass or
// a (policy, partition) pair. Rules are an explicit ordered list evaluated
// top to bottom; the first match wins.
package router

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/swcache/message"
	"github.com/hazyhaar/swcache/strategy"
	"github.com/hazyhaar/swcache/version"
)

// Rule names, in evaluation order.
const (
	RuleNonGET      = "non_get"
	RuleNonHTTP     = "non_http"
	RulePreconnect  = "preconnect"
	RuleThirdParty  = "third_party"
	RuleMainBundle  = "main_bundle"
	RuleAPI         = "api"
	RuleImage       = "image"
	RuleStaticAsset = "static_asset"
	RuleDocument    = "document"
	RuleFallback    = "fallback"
)

// Decision is the outcome of Classify.
type Decision struct {
	Rule      string
	Bypass    bool
	Policy    strategy.Policy
	Partition version.Kind
}

func (d Decision) String() string {
	if d.Bypass {
		return d.Rule + ": bypass"
	}
	return fmt.Sprintf("%s: %s on %s", d.Rule, d.Policy, d.Partition)
}

// Rule pairs a predicate with the decision it yields.
type Rule struct {
	Name     string
	Match    func(req *message.Request) bool
	Decision Decision
}

// Config holds the host and path lists the default rules consult.
type Config struct {
	// BypassHosts are third-party hosts never intercepted. Exact,
	// case-sensitive match.
	BypassHosts []string
	// APIHosts route to the dynamic partition with network-first.
	APIHosts []string
	// RootPaths are served stale-while-revalidate like .html documents.
	RootPaths []string
}

// DefaultConfig returns the analytics bypass list, the API hosts and "/".
func DefaultConfig() Config {
	return Config{
		BypassHosts: []string{
			"www.googletagmanager.com",
			"www.google-analytics.com",
			"www.googleadservices.com",
		},
		APIHosts:  []string{"api.github.com", "api.emailjs.com"},
		RootPaths: []string{"/"},
	}
}

// Router holds the ordered rule list.
type Router struct {
	rules []Rule
}

// New builds the default rule list from cfg.
func New(cfg Config) *Router {
	bypass := set(cfg.BypassHosts)
	api := set(cfg.APIHosts)
	roots := set(cfg.RootPaths)

	bypassed := func(name string) Decision { return Decision{Rule: name, Bypass: true} }
	routed := func(name string, p strategy.Policy, k version.Kind) Decision {
		return Decision{Rule: name, Policy: p, Partition: k}
	}

	return &Router{rules: []Rule{
		{RuleNonGET, func(r *message.Request) bool { return r.Method != "GET" }, bypassed(RuleNonGET)},
		{RuleNonHTTP, func(r *message.Request) bool {
			return r.URL.Scheme != "http" && r.URL.Scheme != "https"
		}, bypassed(RuleNonHTTP)},
		{RulePreconnect, func(r *message.Request) bool { return r.Header.Get("Purpose") == "preconnect" }, bypassed(RulePreconnect)},
		{RuleThirdParty, func(r *message.Request) bool { return bypass[r.URL.Hostname()] }, bypassed(RuleThirdParty)},
		{RuleMainBundle, func(r *message.Request) bool {
			p := r.Path()
			return strings.Contains(p, "/static/js/main.") || strings.Contains(p, "/static/css/main.")
		}, routed(RuleMainBundle, strategy.NetworkFirstWithHeaders, version.Static)},
		{RuleAPI, func(r *message.Request) bool {
			return strings.Contains(r.Path(), "/api/") || api[r.URL.Hostname()]
		}, routed(RuleAPI, strategy.NetworkFirst, version.Dynamic)},
		{RuleImage, func(r *message.Request) bool { return r.HasExtension(message.ImageExtensions) }, routed(RuleImage, strategy.CacheFirstWithHeaders, version.Images)},
		{RuleStaticAsset, func(r *message.Request) bool { return r.HasExtension(message.StaticExtensions) }, routed(RuleStaticAsset, strategy.CacheFirstWithHeaders, version.Static)},
		{RuleDocument, func(r *message.Request) bool {
			p := r.Path()
			return strings.HasSuffix(p, ".html") || roots[p]
		}, routed(RuleDocument, strategy.StaleWhileRevalidate, version.Static)},
		{RuleFallback, func(*message.Request) bool { return true }, routed(RuleFallback, strategy.NetworkFirst, version.Dynamic)},
	}}
}

// Classify returns the decision of the first matching rule.
func (rt *Router) Classify(req *message.Request) Decision {
	for _, rule := range rt.rules {
		if rule.Match(req) {
			return rule.Decision
		}
	}
	// Unreachable with the default list: fallback matches everything.
	return Decision{Rule: RuleFallback, Policy: strategy.NetworkFirst, Partition: version.Dynamic}
}

// Rules returns the rule list in evaluation order.
func (rt *Router) Rules() []Rule {
	return append([]Rule(nil), rt.rules...)
}

func set(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
