package index

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// quitCommand ends the query loop.
const quitCommand = "(quit)"

// pageLookup is the one store operation the REPL needs.
type pageLookup interface {
	TermPages(ctx context.Context, term string, limit int) ([]string, error)
}

// REPL reads queries from in until "(quit)", tokenizes each with the same
// rules the index was built with, and prints the URLs of pages matching each
// term.
func REPL(ctx context.Context, store pageLookup, tokenizer *Tokenizer, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Make query: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == quitCommand {
			return nil
		}
		if line == "" {
			continue
		}

		terms := tokenizer.Tokenize(line)
		if len(terms) == 0 {
			fmt.Fprintln(out, "no searchable terms in query")
			continue
		}
		for term := range terms {
			urls, err := store.TermPages(ctx, term, 50)
			if err != nil {
				return fmt.Errorf("looking up %q: %w", term, err)
			}
			if len(urls) == 0 {
				fmt.Fprintf(out, "%v: no pages\n", term)
				continue
			}
			fmt.Fprintf(out, "%v (%v pages):\n", term, len(urls))
			for _, u := range urls {
				fmt.Fprintf(out, "  %v\n", u)
			}
		}
	}
}
