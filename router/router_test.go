package router

import (
	"testing"

	"github.com/hazyhaar/swcache/message"
	"github.com/hazyhaar/swcache/strategy"
	"github.com/hazyhaar/swcache/version"
)

func TestClassify(t *testing.T) {
	rt := New(DefaultConfig())

	tests := []struct {
		name      string
		method    string
		url       string
		header    map[string]string
		rule      string
		bypass    bool
		policy    strategy.Policy
		partition version.Kind
	}{
		{"post", "POST", "https://example.com/api/send", nil, RuleNonGET, true, "", ""},
		{"head", "HEAD", "https://example.com/", nil, RuleNonGET, true, "", ""},
		{"extension scheme", "GET", "chrome-extension://abc/script.js", nil, RuleNonHTTP, true, "", ""},
		{"preconnect", "GET", "https://fonts.gstatic.com/", map[string]string{"Purpose": "preconnect"}, RulePreconnect, true, "", ""},
		{"tag manager", "GET", "https://www.googletagmanager.com/gtag/js?id=G-1", nil, RuleThirdParty, true, "", ""},
		{"analytics", "GET", "https://www.google-analytics.com/g/collect", nil, RuleThirdParty, true, "", ""},
		{"ads", "GET", "https://www.googleadservices.com/pagead/conversion.js", nil, RuleThirdParty, true, "", ""},
		{"main js", "GET", "https://example.com/Portfolio/static/js/main.a1b2c3.js", nil, RuleMainBundle, false, strategy.NetworkFirstWithHeaders, version.Static},
		{"main css", "GET", "https://example.com/Portfolio/static/css/main.d4e5.css", nil, RuleMainBundle, false, strategy.NetworkFirstWithHeaders, version.Static},
		{"api path", "GET", "https://example.com/api/data", nil, RuleAPI, false, strategy.NetworkFirst, version.Dynamic},
		{"github api", "GET", "https://api.github.com/users/x/repos", nil, RuleAPI, false, strategy.NetworkFirst, version.Dynamic},
		{"emailjs", "GET", "https://api.emailjs.com/api/v1.0/status", nil, RuleAPI, false, strategy.NetworkFirst, version.Dynamic},
		{"webp", "GET", "https://example.com/images/logo.webp", nil, RuleImage, false, strategy.CacheFirstWithHeaders, version.Images},
		{"ico", "GET", "https://example.com/Portfolio/images/Icon.ico", nil, RuleImage, false, strategy.CacheFirstWithHeaders, version.Images},
		{"chunk js", "GET", "https://example.com/static/js/453.chunk.js", nil, RuleStaticAsset, false, strategy.CacheFirstWithHeaders, version.Static},
		{"pdf", "GET", "https://example.com/Portfolio/pdfs/resume.pdf", nil, RuleStaticAsset, false, strategy.CacheFirstWithHeaders, version.Static},
		{"woff2", "GET", "https://example.com/fonts/a.woff2", nil, RuleStaticAsset, false, strategy.CacheFirstWithHeaders, version.Static},
		{"html", "GET", "https://example.com/Portfolio/index.html", nil, RuleDocument, false, strategy.StaleWhileRevalidate, version.Static},
		{"root", "GET", "https://example.com/", nil, RuleDocument, false, strategy.StaleWhileRevalidate, version.Static},
		{"root no slash", "GET", "https://example.com", nil, RuleDocument, false, strategy.StaleWhileRevalidate, version.Static},
		{"portfolio dir", "GET", "https://example.com/Portfolio/", nil, RuleFallback, false, strategy.NetworkFirst, version.Dynamic},
		{"manifest", "GET", "https://example.com/Portfolio/manifest.json", nil, RuleFallback, false, strategy.NetworkFirst, version.Dynamic},
		{"query does not affect suffix", "GET", "https://example.com/images/a.png?v=3", nil, RuleImage, false, strategy.CacheFirstWithHeaders, version.Images},
		{"uppercase ext", "GET", "https://example.com/images/A.PNG", nil, RuleFallback, false, strategy.NetworkFirst, version.Dynamic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := message.NewRequest(tt.method, tt.url)
			if err != nil {
				t.Fatal(err)
			}
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			d := rt.Classify(req)
			if d.Rule != tt.rule || d.Bypass != tt.bypass || d.Policy != tt.policy || d.Partition != tt.partition {
				t.Errorf("Classify = %v, want rule=%s bypass=%v policy=%s partition=%s",
					d, tt.rule, tt.bypass, tt.policy, tt.partition)
			}
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	rt := New(DefaultConfig())
	cases := map[string]string{
		// Main bundle beats the .js static asset rule.
		"https://example.com/static/js/main.123.js": RuleMainBundle,
		// API path beats the image suffix.
		"https://example.com/api/avatar.png": RuleAPI,
		// API host beats the image suffix.
		"https://api.github.com/avatar.webp": RuleAPI,
		// Bypass beats everything, even a main bundle path.
		"https://www.googletagmanager.com/static/js/main.1.js": RuleThirdParty,
	}
	for u, want := range cases {
		req, _ := message.NewRequest("GET", u)
		if got := rt.Classify(req).Rule; got != want {
			t.Errorf("%s: rule = %s, want %s", u, got, want)
		}
	}
}

func TestClassify_BypassHostIsCaseSensitive(t *testing.T) {
	rt := New(DefaultConfig())
	req, _ := message.NewRequest("GET", "https://WWW.GOOGLETAGMANAGER.COM/gtag/js")
	if d := rt.Classify(req); d.Bypass {
		t.Fatalf("uppercase host bypassed: %v", d)
	}
}

func TestClassify_CustomRootPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootPaths = []string{"/", "/Portfolio/"}
	rt := New(cfg)
	req, _ := message.NewRequest("GET", "https://example.com/Portfolio/")
	if d := rt.Classify(req); d.Rule != RuleDocument {
		t.Fatalf("rule = %s, want document", d.Rule)
	}
}

func TestRules_Order(t *testing.T) {
	want := []string{RuleNonGET, RuleNonHTTP, RulePreconnect, RuleThirdParty, RuleMainBundle,
		RuleAPI, RuleImage, RuleStaticAsset, RuleDocument, RuleFallback}
	rules := New(DefaultConfig()).Rules()
	if len(rules) != len(want) {
		t.Fatalf("rules = %d, want %d", len(rules), len(want))
	}
	for i, r := range rules {
		if r.Name != want[i] {
			t.Errorf("rule %d = %s, want %s", i, r.Name, want[i])
		}
	}
}
