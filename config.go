package isearch

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the configuration instance the rest of isearch should access for
// global configuration values. See IsearchConfig for available config members.
var Config IsearchConfig

// ConfigName is the path (can be relative or absolute) to the config file that
// should be read.
var ConfigName = "isearch.yaml"

// BrowserUserAgent is the agent string sent when fetcher.use_browser_user_agent
// is set. Some hosts serve reduced pages (or nothing at all) to agents they
// don't recognize.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"

func init() {
	err := readConfig()
	if err != nil {
		if strings.Contains(err.Error(), "no such file or directory") {
			Log.Info().Msgf("did not find config file %v, continuing with defaults", ConfigName)
		} else {
			panic(err.Error())
		}
	}
}

// IsearchConfig defines the available global configuration parameters for
// isearch. It reads values straight from the config file (isearch.yaml by
// default). See sample-isearch.yaml for explanations and default values.
type IsearchConfig struct {
	Fetcher struct {
		UserAgent               string   `yaml:"user_agent"`
		UseBrowserUserAgent     bool     `yaml:"use_browser_user_agent"`
		AcceptFormats           []string `yaml:"accept_formats"`
		AcceptLanguages         []string `yaml:"accept_languages"`
		MaxHTTPContentSizeBytes int64    `yaml:"max_http_content_size_bytes"`
		NumSimultaneousFetchers int      `yaml:"num_simultaneous_fetchers"`
		NumParsers              int      `yaml:"num_parsers"`
		NumStoreWorkers         int      `yaml:"num_store_workers"`
		HTTPTimeout             string   `yaml:"http_timeout"`
		MaxConnsPerHost         int      `yaml:"max_conns_per_host"`
		MaxDNSCacheEntries      int      `yaml:"max_dns_cache_entries"`
		MaxCrawl                int      `yaml:"max_crawl"`
	} `yaml:"fetcher"`

	Frontier struct {
		MaxReadyURLs          int    `yaml:"max_ready_urls"`
		MaxStagedURLs         int    `yaml:"max_staged_urls"`
		ShuffleBatch          int    `yaml:"shuffle_batch"`
		ShuffleInterval       string `yaml:"shuffle_interval"`
		WarmupShuffleInterval string `yaml:"warmup_shuffle_interval"`
	} `yaml:"frontier"`

	Politeness struct {
		DefaultWait    string `yaml:"default_wait"`
		MinRobotsWait  string `yaml:"min_robots_wait"`
		ThrottledWait  string `yaml:"throttled_wait"`
		MaxRetryAfter  string `yaml:"max_retry_after"`
		SleepThreshold string `yaml:"sleep_threshold"`
		MaxDomainLocks int    `yaml:"max_domain_locks"`
	} `yaml:"politeness"`

	Store struct {
		EnvFile         string `yaml:"env_file"`
		MaxParams       int    `yaml:"max_params"`
		DeadlockBackoff string `yaml:"deadlock_backoff"`
		DeadlockRetries int    `yaml:"deadlock_retries"`
	} `yaml:"store"`

	Indexer struct {
		NumWorkers        int    `yaml:"num_workers"`
		StopwordsFile     string `yaml:"stopwords_file"`
		CommitEveryChunks int    `yaml:"commit_every_chunks"`
		MinPagesPerTerm   int    `yaml:"min_pages_per_term"`
		MinPagesRareLen   int    `yaml:"min_pages_rare_len"`
	} `yaml:"indexer"`

	Console struct {
		Port int `yaml:"port"`
	} `yaml:"console"`
}

// SetDefaultConfig resets the Config object to default values, regardless of
// what was set by any configuration file.
func SetDefaultConfig() {
	// NOTE: go-yaml does not overwrite sequence values (i.e. lists), it
	// appends to them. See https://github.com/go-yaml/yaml/issues/48
	// For any sequence value, readConfig has to nil it and then fill in the
	// default if yaml.Unmarshal did not fill anything in.

	Config.Fetcher.UserAgent = "iSearch"
	Config.Fetcher.UseBrowserUserAgent = false
	Config.Fetcher.AcceptFormats = []string{"text/html"}
	Config.Fetcher.AcceptLanguages = []string{"en"}
	Config.Fetcher.MaxHTTPContentSizeBytes = 5 * 1024 * 1024 // 5MiB
	Config.Fetcher.NumSimultaneousFetchers = 35
	Config.Fetcher.NumParsers = 17
	Config.Fetcher.NumStoreWorkers = 17
	Config.Fetcher.HTTPTimeout = "8s"
	Config.Fetcher.MaxConnsPerHost = 60
	Config.Fetcher.MaxDNSCacheEntries = 20000
	Config.Fetcher.MaxCrawl = 1000

	Config.Frontier.MaxReadyURLs = 25000
	Config.Frontier.MaxStagedURLs = 25000
	Config.Frontier.ShuffleBatch = 10000
	Config.Frontier.ShuffleInterval = "5s"
	Config.Frontier.WarmupShuffleInterval = "1s"

	Config.Politeness.DefaultWait = "200ms"
	Config.Politeness.MinRobotsWait = "200ms"
	Config.Politeness.ThrottledWait = "15s"
	Config.Politeness.MaxRetryAfter = "1h"
	Config.Politeness.SleepThreshold = "50ms"
	Config.Politeness.MaxDomainLocks = 16384

	Config.Store.EnvFile = ".env"
	Config.Store.MaxParams = 15000
	Config.Store.DeadlockBackoff = "100ms"
	Config.Store.DeadlockRetries = 3

	Config.Indexer.NumWorkers = 30
	Config.Indexer.StopwordsFile = "stopwords.txt"
	Config.Indexer.CommitEveryChunks = 30
	Config.Indexer.MinPagesPerTerm = 10
	Config.Indexer.MinPagesRareLen = 20

	Config.Console.Port = 3000
}

// ReadConfigFile sets a new path to find the isearch yaml config file and
// forces a reload of the config.
func ReadConfigFile(path string) error {
	ConfigName = path
	return readConfig()
}

// MustReadConfigFile calls ReadConfigFile and panics on error.
func MustReadConfigFile(path string) {
	err := ReadConfigFile(path)
	if err != nil {
		panic(err.Error())
	}
}

func assertConfigInvariants() error {
	var errs []string

	fet := &Config.Fetcher
	if _, err := time.ParseDuration(fet.HTTPTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("Fetcher.HTTPTimeout failed to parse: %v", err))
	}
	if fet.NumSimultaneousFetchers < 1 {
		errs = append(errs, "Fetcher.NumSimultaneousFetchers must be greater than 0")
	}
	if fet.NumParsers < 1 {
		errs = append(errs, "Fetcher.NumParsers must be greater than 0")
	}
	if fet.NumStoreWorkers < 1 {
		errs = append(errs, "Fetcher.NumStoreWorkers must be greater than 0")
	}
	if fet.MaxHTTPContentSizeBytes < 1 {
		errs = append(errs, "Fetcher.MaxHTTPContentSizeBytes must be greater than 0")
	}

	fr := &Config.Frontier
	if fr.MaxReadyURLs < 1 || fr.MaxStagedURLs < 1 {
		errs = append(errs, "Frontier queue bounds must be greater than 0")
	}
	if fr.ShuffleBatch < 1 {
		errs = append(errs, "Frontier.ShuffleBatch must be greater than 0")
	}

	durations := []struct{ name, val string }{
		{"Frontier.ShuffleInterval", fr.ShuffleInterval},
		{"Frontier.WarmupShuffleInterval", fr.WarmupShuffleInterval},
		{"Politeness.DefaultWait", Config.Politeness.DefaultWait},
		{"Politeness.MinRobotsWait", Config.Politeness.MinRobotsWait},
		{"Politeness.ThrottledWait", Config.Politeness.ThrottledWait},
		{"Politeness.MaxRetryAfter", Config.Politeness.MaxRetryAfter},
		{"Politeness.SleepThreshold", Config.Politeness.SleepThreshold},
		{"Store.DeadlockBackoff", Config.Store.DeadlockBackoff},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.val); err != nil {
			errs = append(errs, fmt.Sprintf("%v failed to parse: %v", d.name, err))
		}
	}

	if Config.Politeness.MaxDomainLocks < 2 {
		errs = append(errs, "Politeness.MaxDomainLocks must be at least 2")
	}
	if Config.Store.MaxParams < 3 {
		errs = append(errs, "Store.MaxParams must be at least 3")
	}
	if Config.Indexer.NumWorkers < 1 {
		errs = append(errs, "Indexer.NumWorkers must be greater than 0")
	}
	if Config.Indexer.CommitEveryChunks < 1 {
		errs = append(errs, "Indexer.CommitEveryChunks must be greater than 0")
	}

	if len(errs) > 0 {
		em := ""
		for _, err := range errs {
			Log.Error().Msgf("config error: %v", err)
			em += "\t"
			em += err
			em += "\n"
		}
		return fmt.Errorf("config error:\n%v", em)
	}

	return nil
}

// PostConfigHooks sets up data structures that depend on the config. It is
// always called right after the config file is consumed. It is also public so
// if you modify the config in a test, you may need to call this function.
// Idempotent; call it as many times as you like.
func PostConfigHooks() {
	setupNormalizeURL()
}

func readConfig() error {
	SetDefaultConfig()

	// See NOTE in SetDefaultConfig regarding sequence values
	Config.Fetcher.AcceptFormats = []string{}
	Config.Fetcher.AcceptLanguages = []string{}

	data, err := os.ReadFile(ConfigName)
	if err != nil {
		SetDefaultConfig()
		PostConfigHooks()
		return fmt.Errorf("failed to read config file (%v): %v", ConfigName, err)
	}
	err = yaml.Unmarshal(data, &Config)
	if err != nil {
		return fmt.Errorf("failed to unmarshal yaml from config file (%v): %v", ConfigName, err)
	}

	// See NOTE in SetDefaultConfig regarding sequence values
	fet := &Config.Fetcher
	if len(fet.AcceptFormats) == 0 {
		fet.AcceptFormats = []string{"text/html"}
	}
	if len(fet.AcceptLanguages) == 0 {
		fet.AcceptLanguages = []string{"en"}
	}

	err = assertConfigInvariants()
	if err == nil {
		Log.Info().Msgf("loaded config file %v", ConfigName)
	}

	PostConfigHooks()

	return err
}

// UserAgent returns the agent string fetchers send, honoring the
// use_browser_user_agent mode.
func UserAgent() string {
	if Config.Fetcher.UseBrowserUserAgent {
		return BrowserUserAgent
	}
	return Config.Fetcher.UserAgent
}
