package mimetools

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		tag      string
		patterns []string
		value    string
		expect   bool
	}{
		{tag: "ExactMatch", patterns: []string{"text/html"}, value: "text/html", expect: true},
		{tag: "ParamsIgnored", patterns: []string{"text/html"}, value: "text/html; charset=utf-8", expect: true},
		{tag: "CaseInsensitive", patterns: []string{"text/html"}, value: "Text/HTML", expect: true},
		{tag: "WildcardMinor", patterns: []string{"text/*"}, value: "text/plain", expect: true},
		{tag: "WildcardAll", patterns: []string{"*/*"}, value: "application/pdf", expect: true},
		{tag: "Mismatch", patterns: []string{"text/html"}, value: "application/json", expect: false},
		{tag: "EmptyValueAccepted", patterns: []string{"text/html"}, value: "", expect: true},
		{tag: "EmptyPatternsAcceptAll", patterns: nil, value: "image/png", expect: true},
		{tag: "GarbageValueRejected", patterns: []string{"text/html"}, value: ";;;", expect: false},
	}

	for _, tst := range tests {
		m := NewMatcher(tst.patterns)
		if got := m.Match(tst.value); got != tst.expect {
			t.Errorf("For tag %q Match(%q) got %v, expected %v", tst.tag, tst.value, got, tst.expect)
		}
	}
}

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		tag    string
		accept []string
		value  string
		expect bool
	}{
		{tag: "Exact", accept: []string{"en"}, value: "en", expect: true},
		{tag: "Region", accept: []string{"en"}, value: "en-US", expect: true},
		{tag: "List", accept: []string{"en"}, value: "fr, en-GB", expect: true},
		{tag: "CaseInsensitive", accept: []string{"en"}, value: "EN-us", expect: true},
		{tag: "Mismatch", accept: []string{"en"}, value: "de-DE", expect: false},
		{tag: "NoPrefixConfusion", accept: []string{"en"}, value: "english-like", expect: false},
		{tag: "AbsentAccepted", accept: []string{"en"}, value: "", expect: true},
	}

	for _, tst := range tests {
		if got := MatchLanguage(tst.accept, tst.value); got != tst.expect {
			t.Errorf("For tag %q MatchLanguage(%q) got %v, expected %v", tst.tag, tst.value, got, tst.expect)
		}
	}
}
