/*
Package cmd provides access to build on the isearch CLI

This package makes it easy to create custom isearch binaries that use their
own Datastore. A crawler that uses the default PostgreSQL datastore requires
simply:

	func main() {
		cmd.Execute()
	}

To create your own binary that uses isearch's flags but has its own datastore:

	func main() {
		cmd.Datastore(NewMyDatastore())
		cmd.Execute()
	}

cmd.Execute() blocks until the program has completed (usually by
being shutdown gracefully via SIGINT).
*/
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	// allow http profile
	_ "net/http/pprof"

	"github.com/spf13/cobra"

	isearch "github.com/antwaves/iSearch"
	"github.com/antwaves/iSearch/console"
	"github.com/antwaves/iSearch/diskstore"
	"github.com/antwaves/iSearch/index"
	"github.com/antwaves/iSearch/postgres"
)

//
// P U B L I C
//

// Datastore sets the global datastore for this process
func Datastore(d isearch.Datastore) {
	commander.Datastore = d
}

// Store sets the global PostgreSQL store for this process, used by the
// commands that need direct SQL access (seed, index, query, console).
func Store(s *postgres.Store) {
	commander.Store = s
}

// CommanderStreams holds the i/o functions that the test harness can spoof. This is useful since
// (a) the test harness modifies the normal stdout/stderr streams, and this can cause strange behavior
//     with tests if we then try to modify stdout/stderr to capture.
// (b) there is no good way to spoof os.Exit, short of doing what we're doing by putting a layer of indirection
//     into the stack trace.
type CommanderStreams struct {
	Printf func(format string, args ...interface{})
	Errorf func(format string, args ...interface{})
	Exit   func(status int)
}

// Streams allows user to set global CommandStreams object
func Streams(cstream CommanderStreams) CommanderStreams {
	old := commander.Streams
	commander.Streams = cstream
	return old
}

// Execute will run the command specified by the command line
func Execute() {
	commander.Execute()
}

//
// P R I V A T E
//

var commander struct {
	*cobra.Command
	Datastore isearch.Datastore
	Store     *postgres.Store
	Streams   CommanderStreams
}

// config is potentially set by CLI below
var config string

func initCommand() {
	if config != "" {
		if err := isearch.ReadConfigFile(config); err != nil {
			panic(err.Error())
		}
	}

	if os.Getenv("ISEARCH_PPROF") == "1" {
		go func() {
			isearch.Log.Debug().Msg("pprof enabled, starting http listener")
			err := http.ListenAndServe(":6060", nil)
			if err != nil {
				isearch.Log.Error().Err(err).Msg("had problem listening for pprof handler")
			}
		}()
	}

	// Set default streams
	if commander.Streams.Printf == nil {
		commander.Streams.Printf = func(format string, args ...interface{}) {
			fmt.Printf(format, args...)
		}
	}
	if commander.Streams.Errorf == nil {
		commander.Streams.Errorf = func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, format, args...)
		}
	}
	if commander.Streams.Exit == nil {
		commander.Streams.Exit = func(status int) {
			os.Exit(status)
		}
	}
}

func fatalf(format string, args ...interface{}) {
	commander.Streams.Errorf(format+"\n", args...)
	commander.Streams.Exit(1)
}

// openStore returns the configured store, connecting to PostgreSQL on first
// use. The schema is applied on connect so fresh databases just work.
func openStore(ctx context.Context) *postgres.Store {
	if commander.Store != nil {
		return commander.Store
	}
	store, err := postgres.Connect(ctx)
	if err != nil {
		fatalf("Failed connecting to PostgreSQL: %v", err)
		return nil
	}
	if err := store.CreateSchema(ctx); err != nil {
		fatalf("Failed creating schema: %v", err)
		return nil
	}
	commander.Store = store
	return store
}

// seeder is the store operation the seed command needs. A pre-configured
// datastore can satisfy it to intercept seeds in tests.
type seeder interface {
	SeedPage(ctx context.Context, pageURL string) error
}

func readSeeds(args []string, seedFile string) ([]*isearch.URL, error) {
	raw := append([]string{}, args...)
	if seedFile != "" {
		f, err := os.Open(seedFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	var seeds []*isearch.URL
	for _, s := range raw {
		u, err := isearch.CanonicalizeURL(s)
		if err != nil {
			return nil, fmt.Errorf("bad seed %q: %w", s, err)
		}
		seeds = append(seeds, u)
	}
	return seeds, nil
}

func init() {
	isearchCommand := &cobra.Command{
		Use: "isearch",
	}

	isearchCommand.PersistentFlags().StringVarP(&config,
		"config", "c", "", "path to a config file to load")

	var noConsole = false
	var seedFile string
	var maxCrawl int
	var workers int
	var dumpDir string
	crawlCommand := &cobra.Command{
		Use:   "crawl [seed-urls...]",
		Short: "start an all-in-one crawler",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			if maxCrawl > 0 {
				isearch.Config.Fetcher.MaxCrawl = maxCrawl
			}
			if workers > 0 {
				isearch.Config.Fetcher.NumSimultaneousFetchers = workers
			}

			seeds, err := readSeeds(args, seedFile)
			if err != nil {
				fatalf("Failed reading seeds: %v", err)
				return
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if commander.Datastore == nil {
				if dumpDir != "" {
					commander.Datastore = &diskstore.Store{Root: dumpDir}
				} else {
					commander.Datastore = openStore(ctx)
				}
			}

			manager := &isearch.FetchManager{Datastore: commander.Datastore}

			if !noConsole {
				srv := console.NewServer(manager, commander.Store)
				go func() {
					addr := fmt.Sprintf(":%v", isearch.Config.Console.Port)
					if err := srv.Run(ctx, addr); err != nil && err != http.ErrServerClosed {
						isearch.Log.Error().Err(err).Msg("console stopped")
					}
				}()
			}

			if err := manager.Start(ctx, seeds); err != nil && ctx.Err() == nil {
				fatalf("Crawl failed: %v", err)
			}
		},
	}
	crawlCommand.Flags().BoolVarP(&noConsole, "no-console", "C", false, "Do not start the console")
	crawlCommand.Flags().StringVarP(&seedFile, "seed-file", "f", "", "File of seed URLs, one per line")
	crawlCommand.Flags().IntVarP(&maxCrawl, "max-crawl", "m", 0, "Stop after this many fetches (overrides config)")
	crawlCommand.Flags().IntVarP(&workers, "workers", "w", 0, "Number of simultaneous fetchers (overrides config)")
	crawlCommand.Flags().StringVarP(&dumpDir, "dump", "d", "", "Write pages to files under this directory instead of PostgreSQL")
	isearchCommand.AddCommand(crawlCommand)

	var seedURL string
	seedCommand := &cobra.Command{
		Use:   "seed",
		Short: "add a seed URL to the datastore",
		Long: `Seed is useful for:
    - Adding starter links to bootstrap a broad crawl
    - Adding any other link that needs to be crawled soon

The link is stored uncrawled, so the next crawl picks it up along with
everything already in the frontier.`,
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			if seedURL == "" {
				fatalf("Seed URL needed to execute; add on with --url/-u")
				return
			}
			u, err := isearch.CanonicalizeURL(seedURL)
			if err != nil {
				fatalf("Could not parse %v as a url: %v", seedURL, err)
				return
			}

			ctx := context.Background()
			var sdr seeder
			if s, ok := commander.Datastore.(seeder); ok {
				sdr = s
			} else {
				sdr = openStore(ctx)
			}

			if err := sdr.SeedPage(ctx, u.String()); err != nil {
				fatalf("Failed storing seed: %v", err)
			}
		},
	}
	seedCommand.Flags().StringVarP(&seedURL, "url", "u", "", "URL to add as a seed")
	isearchCommand.AddCommand(seedCommand)

	var outfile string
	schemaCommand := &cobra.Command{
		Use:   "schema",
		Short: "output the isearch schema",
		Long: `Schema prints the PostgreSQL schema to a file. Useful for
something like:
    $ isearch schema -o schema.sql
    $ <edit schema.sql further as desired>
    $ psql -f schema.sql
`,
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			if outfile == "" {
				fatalf("An output file is needed to execute; add with --out/-o")
				return
			}

			out, err := os.Create(outfile)
			if err != nil {
				panic(err.Error())
			}
			defer out.Close()

			fmt.Fprint(out, postgres.Schema())
		},
	}
	schemaCommand.Flags().StringVarP(&outfile, "out", "o", "", "File to write output to")
	isearchCommand.AddCommand(schemaCommand)

	indexCommand := &cobra.Command{
		Use:   "index",
		Short: "rebuild the term index from stored pages, then query it",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store := openStore(ctx)
			ix, err := index.New(store)
			if err != nil {
				fatalf("Failed creating indexer: %v", err)
				return
			}
			if err := ix.Build(ctx); err != nil {
				fatalf("Index build failed: %v", err)
				return
			}

			runREPL(ctx, store)
		},
	}
	isearchCommand.AddCommand(indexCommand)

	queryCommand := &cobra.Command{
		Use:   "query",
		Short: "query the existing term index",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runREPL(ctx, openStore(ctx))
		},
	}
	isearchCommand.AddCommand(queryCommand)

	consoleCommand := &cobra.Command{
		Use:   "console",
		Short: "start up the isearch console",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store := openStore(ctx)
			srv := console.NewServer(nil, store)
			addr := fmt.Sprintf(":%v", isearch.Config.Console.Port)
			if err := srv.Run(ctx, addr); err != nil && err != http.ErrServerClosed {
				fatalf("Console failed: %v", err)
			}
		},
	}
	isearchCommand.AddCommand(consoleCommand)

	commander.Command = isearchCommand
}

func runREPL(ctx context.Context, store *postgres.Store) {
	tok, err := index.NewTokenizer(isearch.Config.Indexer.StopwordsFile)
	if err != nil {
		fatalf("Failed loading stopwords: %v", err)
		return
	}
	if err := index.REPL(ctx, store, tok, os.Stdin, os.Stdout); err != nil {
		fatalf("Query loop failed: %v", err)
	}
}
