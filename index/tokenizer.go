package index

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var termPattern = regexp.MustCompile(`[A-Za-z0-9_-]+`)

// punctuation is removed (not replaced) before term matching, so
// contractions and dotted abbreviations collapse into single terms.
const punctuation = `.?!,:;()[]{}'"/*&~+`

// Tokenizer turns page text into per-page term counts.
type Tokenizer struct {
	stopwords map[string]struct{}
}

// NewTokenizer loads the stopword list, one word per line.
func NewTokenizer(stopwordsPath string) (*Tokenizer, error) {
	f, err := os.Open(stopwordsPath)
	if err != nil {
		return nil, fmt.Errorf("opening stopwords file: %w", err)
	}
	defer f.Close()

	t := &Tokenizer{stopwords: make(map[string]struct{})}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" {
			t.stopwords[strings.ToLower(word)] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stopwords file: %w", err)
	}
	return t, nil
}

// Tokenize returns the count of each index-worthy term in content.
func (t *Tokenizer) Tokenize(content string) map[string]int {
	cleaned := strings.Map(func(r rune) rune {
		if r > 127 {
			return -1
		}
		if strings.ContainsRune(punctuation, r) {
			return -1
		}
		return r
	}, content)

	counts := make(map[string]int)
	for _, raw := range termPattern.FindAllString(cleaned, -1) {
		term := strings.ToLower(raw)
		if !t.keep(term) {
			continue
		}
		counts[term]++
	}
	return counts
}

func (t *Tokenizer) keep(term string) bool {
	if len(term) <= 1 || len(term) >= 30 {
		return false
	}
	if _, stop := t.stopwords[term]; stop {
		return false
	}
	if isGibberish(term) {
		return false
	}
	return true
}

// isGibberish flags long tokens that look like identifiers or hashes rather
// than words: vowels out of proportion to length in either direction, or too
// many digits.
func isGibberish(term string) bool {
	if len(term) <= 20 {
		return false
	}
	vowels, digits := 0, 0
	for _, r := range term {
		switch r {
		case 'a', 'e', 'i', 'o', 'u':
			vowels++
		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			digits++
		}
	}
	if vowels > 7 && (vowels+1 < len(term)/2 || vowels > len(term)/2) {
		return true
	}
	if digits > 5 && digits+1 < len(term)/2 {
		return true
	}
	return false
}
