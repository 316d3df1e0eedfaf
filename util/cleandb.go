package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	isearch "github.com/antwaves/iSearch"
	"github.com/antwaves/iSearch/postgres"
)

func init() {
	UtilCommand.AddCommand(&cleandbCommand)
	cleandbCommand.Flags().BoolVar(&cleandbIndexOnly, "index-only", false,
		"Only drop the term index, keep crawled pages and links")
}

var cleandbIndexOnly bool

var cleandbCommand = cobra.Command{
	Use:   "cleandb",
	Short: "Empty the crawl and index tables",
	Long: `Cleandb truncates the isearch tables so the next crawl starts from
scratch. With --index-only it empties only terms and term_page_links, which
is handy before rebuilding the index with different stopwords.
`,
	Run: cleandbFunc,
}

func cleandbFunc(cmd *cobra.Command, args []string) {
	if ConfigPath != "" {
		isearch.MustReadConfigFile(ConfigPath)
	}

	ctx := context.Background()
	store, err := postgres.Connect(ctx)
	if err != nil {
		panic(fmt.Sprintf("Failed connecting to PostgreSQL: %v", err))
	}
	defer store.Close()

	tables := "term_page_links, terms"
	if !cleandbIndexOnly {
		tables = "term_page_links, terms, links, pages"
	}
	_, err = store.Pool().Exec(ctx, "TRUNCATE "+tables+" RESTART IDENTITY CASCADE")
	if err != nil {
		panic(err.Error())
	}
}
