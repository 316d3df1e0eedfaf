package isearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		tag    string
		input  string
		expect string
	}{
		{
			tag:    "UpCase",
			input:  "HTTP://WWW.Example.COM/Path",
			expect: "http://www.example.com/Path",
		},
		{
			tag:    "Fragment",
			input:  "http://example.com/page#section-2",
			expect: "http://example.com/page",
		},
		{
			tag:    "TrailingSlash",
			input:  "https://example.com/docs/",
			expect: "https://example.com/docs",
		},
		{
			tag:    "RootSlash",
			input:  "https://example.com/",
			expect: "https://example.com",
		},
		{
			tag:    "UtmParams",
			input:  "https://example.com/a?utm_source=x&utm_medium=y&utm_campaign=z&utm_term=t&utm_content=c",
			expect: "https://example.com/a",
		},
		{
			tag:    "MixedParamsKeepReal",
			input:  "https://example.com/a?gclid=123&page=2&fbclid=abc",
			expect: "https://example.com/a?page=2",
		},
		{
			tag:    "RefSourceCaseInsensitive",
			input:  "https://example.com/a?REF=rss&Source=feed&ref_source=m",
			expect: "https://example.com/a",
		},
		{
			tag:    "HubspotParams",
			input:  "https://example.com/a?_hsfp=1&_hssc=2&_hstc=3&e=4",
			expect: "https://example.com/a",
		},
		{
			tag:    "QueryOrderPreserved",
			input:  "https://example.com/a?b=2&a=1",
			expect: "https://example.com/a?b=2&a=1",
		},
		{
			tag:    "RepeatedParamKept",
			input:  "https://example.com/a?t=1&utm_source=x&t=2",
			expect: "https://example.com/a?t=1&t=2",
		},
		{
			tag:    "EscapedTrackingKeyPurged",
			input:  "https://example.com/a?page=2&utm%5Fsource=x",
			expect: "https://example.com/a?page=2",
		},
		{
			tag:    "DefaultPortStripped",
			input:  "http://example.com:80/a",
			expect: "http://example.com/a",
		},
	}

	for _, tst := range tests {
		u, err := ParseURL(tst.input)
		if err != nil {
			t.Fatalf("For tag %q ParseURL failed: %v", tst.tag, err)
		}
		u.Canonicalize()
		got := u.String()
		if got != tst.expect {
			t.Errorf("For tag %q link mismatch got %q, expected %q", tst.tag, got, tst.expect)
		}
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"HTTP://Example.COM/Path/?utm_source=x&b=2&a=1#frag",
		"https://example.com/docs/",
		"https://example.com/a?gclid=123&page=2",
	}
	for _, input := range inputs {
		u, err := ParseURL(input)
		if err != nil {
			t.Fatalf("ParseURL(%q) failed: %v", input, err)
		}
		u.Canonicalize()
		once := u.String()
		u.Canonicalize()
		if u.String() != once {
			t.Errorf("Canonicalize not idempotent for %q: %q != %q", input, u.String(), once)
		}
	}
}

func TestCheckCrawlable(t *testing.T) {
	tests := []struct {
		tag   string
		input string
		ok    bool
	}{
		{tag: "PlainHTTP", input: "http://example.com/a", ok: true},
		{tag: "PlainHTTPS", input: "https://example.com", ok: true},
		{tag: "Mailto", input: "mailto:someone@example.com", ok: false},
		{tag: "Tel", input: "tel:+15551234567", ok: false},
		{tag: "Javascript", input: "javascript:void(0)", ok: false},
		{tag: "EmptyHost", input: "http:///path-only", ok: false},
		{tag: "Jpg", input: "http://example.com/cat.jpg", ok: false},
		{tag: "PngUpperCase", input: "http://example.com/img/logo.PNG", ok: false},
		{tag: "Pdf", input: "http://example.com/paper.pdf", ok: false},
		{tag: "Css", input: "http://example.com/site.css", ok: false},
		{tag: "Js", input: "http://example.com/app.js", ok: false},
		{tag: "Zip", input: "http://example.com/dl.zip", ok: false},
		{tag: "Exe", input: "http://example.com/setup.exe", ok: false},
		{tag: "Html", input: "http://example.com/page.html", ok: true},
		{tag: "ExtensionOnlyInQuery", input: "http://example.com/view?file=a.pdf", ok: true},
	}

	for _, tst := range tests {
		u, err := ParseURL(tst.input)
		if err != nil {
			t.Fatalf("For tag %q ParseURL failed: %v", tst.tag, err)
		}
		err = u.CheckCrawlable()
		if tst.ok && err != nil {
			t.Errorf("For tag %q expected crawlable, got error: %v", tst.tag, err)
		} else if !tst.ok && err == nil {
			t.Errorf("For tag %q expected rejection, got none", tst.tag)
		}
	}
}

func TestCanonicalizeURL(t *testing.T) {
	_, err := CanonicalizeURL("mailto:someone@example.com")
	assert.Error(t, err)

	u, err := CanonicalizeURL("HTTP://Example.com/a/?utm_source=x")
	assert.NoError(t, err)
	assert.Equal(t, "http://example.com/a", u.String())
}

func TestHostKeyAndRegistrableDomain(t *testing.T) {
	tests := []struct {
		tag       string
		input     string
		hostKey   string
		regDomain string
	}{
		{
			tag:       "BareDomain",
			input:     "https://example.com/a",
			hostKey:   "https://example.com",
			regDomain: "example.com",
		},
		{
			tag:       "SubdomainCollapses",
			input:     "https://news.bbc.co.uk/story",
			hostKey:   "https://news.bbc.co.uk",
			regDomain: "bbc.co.uk",
		},
		{
			tag:       "SchemeInHostKey",
			input:     "http://example.com/a",
			hostKey:   "http://example.com",
			regDomain: "example.com",
		},
		{
			tag:       "IPFallsBack",
			input:     "http://192.168.0.10/a",
			hostKey:   "http://192.168.0.10",
			regDomain: "192.168.0.10",
		},
		{
			tag:       "LocalhostFallsBack",
			input:     "http://localhost:8080/a",
			hostKey:   "http://localhost:8080",
			regDomain: "localhost",
		},
	}

	for _, tst := range tests {
		u, err := ParseURL(tst.input)
		if err != nil {
			t.Fatalf("For tag %q ParseURL failed: %v", tst.tag, err)
		}
		if got := u.HostKey(); got != tst.hostKey {
			t.Errorf("For tag %q HostKey got %q, expected %q", tst.tag, got, tst.hostKey)
		}
		if got := u.RegistrableDomain(); got != tst.regDomain {
			t.Errorf("For tag %q RegistrableDomain got %q, expected %q", tst.tag, got, tst.regDomain)
		}
	}
}

func TestMakeAbsolute(t *testing.T) {
	base := MustParse("http://example.com/sub/index.html")

	tests := []struct {
		tag    string
		input  string
		expect string
	}{
		{tag: "RelativePath", input: "other.html", expect: "http://example.com/sub/other.html"},
		{tag: "RootedPath", input: "/top.html", expect: "http://example.com/top.html"},
		{tag: "ProtocolRelative", input: "//cdn.example.com/a", expect: "http://cdn.example.com/a"},
		{tag: "AlreadyAbsolute", input: "https://other.com/x", expect: "https://other.com/x"},
	}

	for _, tst := range tests {
		u, err := ParseURL(tst.input)
		if err != nil {
			t.Fatalf("For tag %q ParseURL failed: %v", tst.tag, err)
		}
		u.MakeAbsolute(base)
		if u.String() != tst.expect {
			t.Errorf("For tag %q got %q, expected %q", tst.tag, u.String(), tst.expect)
		}
	}
}
