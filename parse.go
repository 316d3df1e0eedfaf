package isearch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// HTMLParser parses html passed from the fetcher. A new struct is intended to
// have Parse() called on it, which will populate its member variables for
// reading.
type HTMLParser struct {
	// A concatenation of all text, excluding content from script/style tags
	Text []byte
	// The raw href values of anchor tags found on the page, unresolved
	Links []*URL
}

var hrefWordBytes = []byte("href")

// Parse parses the given content body as HTML and populates instance
// variables as it is able. Parse errors cause the parser to finish with
// whatever it has found so far. This method resets its instance variables if
// run repeatedly.
func (p *HTMLParser) Parse(body []byte) {
	p.Text = nil
	p.Links = []*URL{}

	tokenizer := html.NewTokenizer(bytes.NewReader(body))

	// Maintains the tag names as we hit open tags, so we can check "are we
	// currently inside a <script> tag block"
	parentTags := map[string]int{}

	for {
		tokenType := tokenizer.Next()
		switch tokenType {
		case html.ErrorToken:
			// io.EOF on a well-formed page, or a syntax error either way
			// we keep what we have.
			return

		case html.TextToken:
			// Do not store text from inside script/style tags
			_, inScriptTag := parentTags["script"]
			_, inStyleTag := parentTags["style"]
			if inScriptTag || inStyleTag {
				continue
			}

			txt := bytes.TrimSpace(tokenizer.Text())
			if len(txt) > 0 {
				if len(p.Text) > 0 {
					p.Text = append(p.Text, ' ')
				}
				p.Text = append(p.Text, txt...)
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tagNameB, hasAttrs := tokenizer.TagName()
			tagName := string(tagNameB)
			if tokenType == html.StartTagToken {
				parentTags[tagName]++
			}
			if hasAttrs && tagName == "a" {
				p.parseAnchorAttrs(tokenizer)
			}

		case html.EndTagToken:
			tagNameB, _ := tokenizer.TagName()
			tagName := string(tagNameB)
			num, ok := parentTags[tagName]
			if ok {
				if num > 1 {
					parentTags[tagName] = num - 1
				} else {
					delete(parentTags, tagName)
				}
			}
		}
	}
}

// parseAnchorAttrs iterates over all of the attributes in the current anchor
// token. It adds links when found in the href attribute. The links are kept
// as written in the page; the caller resolves them against the page URL and
// canonicalizes them.
func (p *HTMLParser) parseAnchorAttrs(tokenizer *html.Tokenizer) {
	for {
		key, val, moreAttr := tokenizer.TagAttr()
		if bytes.Equal(key, hrefWordBytes) {
			u, err := ParseURL(strings.TrimSpace(string(val)))
			if err == nil {
				p.Links = append(p.Links, u)
			}
		}
		if !moreAttr {
			return
		}
	}
}

// CleanText makes page text safe for the datastore: invalid UTF-8 is
// replaced and NUL bytes are stripped, because the store's TEXT type rejects
// both.
func CleanText(text []byte) string {
	s := strings.ToValidUTF8(string(text), "�")
	return strings.ReplaceAll(s, "\x00", "")
}

// Outlinks resolves the parser's collected links against the page URL and
// canonicalizes them, dropping everything the crawler would refuse anyway.
func (p *HTMLParser) Outlinks(page *URL) []*URL {
	var out []*URL
	for _, link := range p.Links {
		link.MakeAbsolute(page)
		link.Canonicalize()
		if err := link.CheckCrawlable(); err != nil {
			continue
		}
		out = append(out, link)
	}
	return out
}
