package isearch

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/net/publicsuffix"
)

// URL is the isearch URL object, which embeds *url.URL but has extra
// capabilities used by the crawler. All URLs flowing through the system
// should be built by ParseURL or CanonicalizeURL so that equality means
// string equality.
type URL struct {
	*url.URL
}

// trackingParams are query parameters that never change page identity; they
// only tag where the visitor came from. Keeping them would multiply every
// page into dozens of frontier entries.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"ref", "source", "ref_source",
	"_hsfp", "_hssc", "_hstc",
	"gclid", "fbclid", "e",
}

// skippedExtensions are path suffixes that can never yield indexable HTML.
var skippedExtensions = []string{
	".jpg", ".png", ".pdf", ".css", ".js", ".zip", ".exe",
}

var purgeParamMap map[string]bool

func setupNormalizeURL() {
	purgeParamMap = map[string]bool{}
	for _, p := range trackingParams {
		purgeParamMap[strings.ToLower(p)] = true
	}
}

// ParseURL is the isearch equivalent of url.Parse. All URLs should be passed
// through this function so that we get consistency.
func ParseURL(ref string) (*URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return &URL{URL: u}, nil
}

// CanonicalizeURL parses ref, canonicalizes it, and verifies it is something
// the crawler should visit. Any rejection comes back as an error.
func CanonicalizeURL(ref string) (*URL, error) {
	u, err := ParseURL(ref)
	if err != nil {
		return nil, err
	}
	u.Canonicalize()
	if err := u.CheckCrawlable(); err != nil {
		return nil, err
	}
	return u, nil
}

// Canonicalize normalizes the URL in place so that trivially different
// spellings of the same page collapse to one string: safe purell
// normalization, fragment removal, trailing slash removal, and tracking
// parameter purging. Idempotent.
func (u *URL) Canonicalize() {
	rawURL := u.URL

	// Standard normalization filters. Modifies the url in place.
	purell.NormalizeURL(rawURL,
		purell.FlagsSafe|purell.FlagRemoveFragment|purell.FlagRemoveTrailingSlash)

	// Drop tracking params in place, preserving the order and multiplicity
	// of everything else.
	if rawURL.RawQuery != "" {
		pairs := strings.Split(rawURL.RawQuery, "&")
		kept := pairs[:0]
		for _, pair := range pairs {
			if pair == "" {
				continue
			}
			key := pair
			if i := strings.IndexByte(pair, '='); i >= 0 {
				key = pair[:i]
			}
			if unescaped, err := url.QueryUnescape(key); err == nil {
				key = unescaped
			}
			if !purgeParamMap[strings.ToLower(key)] {
				kept = append(kept, pair)
			}
		}
		rawURL.RawQuery = strings.Join(kept, "&")
	}
}

// CheckCrawlable returns a non-nil error when the URL is out of scope for the
// crawler: a non-http(s) scheme (mailto:, tel:, javascript:), a missing host,
// or a file extension that cannot be HTML.
func (u *URL) CheckCrawlable() error {
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("scheme %q is not crawlable", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", u.String())
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, skip := range skippedExtensions {
		if ext == skip {
			return fmt.Errorf("url %q has skipped extension %v", u.String(), ext)
		}
	}
	return nil
}

// HostKey returns the scheme-qualified host ("https://example.com") used to
// key the robots.txt cache. Two schemes on one host can serve different
// robots files, so the scheme is part of the key.
func (u *URL) HostKey() string {
	return u.Scheme + "://" + u.Host
}

// RegistrableDomain returns the Effective Toplevel Domain of this host as
// defined by https://publicsuffix.org/, plus one extra domain component.
//
// For example the TLD of http://news.bbc.co.uk/ is 'co.uk', plus one is
// 'bbc.co.uk'. isearch uses these TLD+1 domains as the unit of politeness:
// sibling subdomains usually share infrastructure, so they share a rate
// limit. Hosts the public suffix list cannot place (IP addresses, localhost)
// fall back to the hostname itself.
func (u *URL) RegistrableDomain() string {
	host := strings.ToLower(u.Hostname())
	dom, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return dom
}

// MakeAbsolute uses URL.ResolveReference to make this URL object an absolute
// reference (having Scheme and Host), if it is not one already. It is
// resolved using `base` as the base URL.
func (u *URL) MakeAbsolute(base *URL) {
	if u.IsAbs() {
		return
	}
	u.URL = base.URL.ResolveReference(u.URL)
}

// Clone returns a deep copy of this URL.
func (u *URL) Clone() *URL {
	nurl := *u.URL
	if nurl.User != nil {
		userInfo := *nurl.User
		nurl.User = &userInfo
	}
	return &URL{URL: &nurl}
}
