// Package mimetools matches Content-Type and Content-Language header values
// against configured accept lists, with the forgiving semantics crawl
// filtering wants: parameters are ignored and a '*' subtype matches anything.
package mimetools

import (
	"mime"
	"strings"
)

// Matcher matches media types against a fixed list of accepted patterns.
// Patterns look like "text/html" or "text/*"; "*/*" accepts everything.
type Matcher struct {
	patterns []mediaType
}

type mediaType struct {
	major string
	minor string
}

// NewMatcher builds a Matcher from accept patterns. Unparseable patterns are
// skipped; an empty pattern list accepts everything.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		parsed, err := parseMediaType(p)
		if err != nil {
			continue
		}
		m.patterns = append(m.patterns, parsed)
	}
	return m
}

// Match reports whether the given Content-Type header value is accepted.
// An empty value is accepted: the absence of a header is not evidence the
// content is wrong, and plenty of servers omit it.
func (m *Matcher) Match(contentType string) bool {
	if contentType == "" || len(m.patterns) == 0 {
		return true
	}
	got, err := parseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, p := range m.patterns {
		if (p.major == "*" || p.major == got.major) &&
			(p.minor == "*" || p.minor == got.minor) {
			return true
		}
	}
	return false
}

func parseMediaType(v string) (mediaType, error) {
	name, _, err := mime.ParseMediaType(v)
	if err != nil {
		return mediaType{}, err
	}
	major, minor, found := strings.Cut(name, "/")
	if !found {
		minor = "*"
	}
	return mediaType{major: major, minor: minor}, nil
}

// MatchLanguage reports whether a Content-Language header value contains one
// of the accepted language prefixes ("en" matches "en", "en-US", and
// "en-GB, fr"). An empty header is accepted.
func MatchLanguage(accepted []string, contentLanguage string) bool {
	if contentLanguage == "" || len(accepted) == 0 {
		return true
	}
	for _, tag := range strings.Split(contentLanguage, ",") {
		tag = strings.ToLower(strings.TrimSpace(tag))
		for _, want := range accepted {
			want = strings.ToLower(want)
			if tag == want || strings.HasPrefix(tag, want+"-") {
				return true
			}
		}
	}
	return false
}
