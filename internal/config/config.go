// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-harvester/internal/checkpoint"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	collyfetcher "github.com/JakeFAU/listing-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/listing-harvester/internal/storage/gcs"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_CRAWLER_BASE_URL.
const EnvPrefix = "HARVESTER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Listing    ListingConfig    `mapstructure:"listing"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CrawlerConfig selects the target portal and the page range.
type CrawlerConfig struct {
	BaseURL                       string `mapstructure:"base_url"`
	ListingPath                   string `mapstructure:"listing_path"`
	PageParam                     string `mapstructure:"page_param"`
	StartPage                     int    `mapstructure:"start_page"`
	EndPage                       int    `mapstructure:"end_page"`
	MaxConsecutiveListingFailures int    `mapstructure:"max_consecutive_listing_failures"`
	MaxDiscoveryPages             int    `mapstructure:"max_discovery_pages"`
}

// PolitenessConfig bounds request pacing.
type PolitenessConfig struct {
	DelayMin     time.Duration `mapstructure:"delay_min"`
	DelayMax     time.Duration `mapstructure:"delay_max"`
	IgnoreRobots bool          `mapstructure:"ignore_robots"`
}

// HTTPConfig configures the collector.
type HTTPConfig struct {
	UserAgents     []string      `mapstructure:"user_agents"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxBodySize    int           `mapstructure:"max_body_size"`
}

// RetryConfig configures retries of transient failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	Jitter      time.Duration `mapstructure:"jitter"`
}

// ListingConfig holds the selectors locating entries on a listing page.
type ListingConfig struct {
	RowSelector    string `mapstructure:"row_selector"`
	CellSelector   string `mapstructure:"cell_selector"`
	LinkSelector   string `mapstructure:"link_selector"`
	MinCells       int    `mapstructure:"min_cells"`
	IDCell         int    `mapstructure:"id_cell"`
	LinkCell       int    `mapstructure:"link_cell"`
	IDQueryParam   string `mapstructure:"id_query_param"`
	DetailSelector string `mapstructure:"detail_selector"`
}

// StorageConfig sets where checkpoints go.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	PadWidth  int    `mapstructure:"pad_width"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// MetricsConfig controls the end-of-run metrics dump.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, environment and a config file. With an
// empty path, harvester.yaml is looked up in ., $HOME/.harvester and
// /etc/harvester; a missing file is not an error.
func Load(path string) (Config, error) {
	return LoadFrom(viper.New(), path)
}

// LoadFrom is Load on a caller-provided Viper instance, typically one with
// command-line flags already bound so they take precedence.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.harvester")
		v.AddConfigPath("/etc/harvester/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ValidateStorage(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.base_url", "")
	v.SetDefault("crawler.listing_path", "/home/DrugSearch")
	v.SetDefault("crawler.page_param", "page")
	v.SetDefault("crawler.start_page", 1)
	v.SetDefault("crawler.end_page", 0)
	v.SetDefault("crawler.max_consecutive_listing_failures", 5)
	v.SetDefault("crawler.max_discovery_pages", crawler.DefaultMaxDiscoveryPages)
	v.SetDefault("politeness.delay_min", crawler.DefaultDelayMin)
	v.SetDefault("politeness.delay_max", crawler.DefaultDelayMax)
	v.SetDefault("politeness.ignore_robots", false)
	v.SetDefault("http.user_agents", []string{collyfetcher.DefaultUserAgent})
	v.SetDefault("http.accept_language", collyfetcher.DefaultAcceptLanguage)
	v.SetDefault("http.timeout", collyfetcher.DefaultTimeout)
	v.SetDefault("http.max_body_size", 0)
	v.SetDefault("retry.max_attempts", crawler.DefaultMaxAttempts)
	v.SetDefault("retry.backoff_base", crawler.DefaultBackoffBase)
	v.SetDefault("retry.backoff_max", crawler.DefaultBackoffMax)
	v.SetDefault("retry.jitter", crawler.DefaultJitter)
	v.SetDefault("listing.row_selector", crawler.DefaultRowSelector)
	v.SetDefault("listing.cell_selector", crawler.DefaultCellSelector)
	v.SetDefault("listing.link_selector", crawler.DefaultLinkSelector)
	v.SetDefault("listing.min_cells", crawler.DefaultMinCells)
	v.SetDefault("listing.id_cell", 0)
	v.SetDefault("listing.link_cell", -1)
	v.SetDefault("listing.id_query_param", "")
	v.SetDefault("listing.detail_selector", "")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.pad_width", checkpoint.DefaultPadWidth)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// ValidateStorage checks the settings every command needs to open the
// checkpoint store. Crawl settings are checked by Validate.
func (c Config) ValidateStorage() error {
	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return fmt.Errorf("storage.output_dir must be set")
	}
	if c.Storage.PadWidth < 0 {
		return fmt.Errorf("storage.pad_width must be >= 0")
	}
	return nil
}

// Validate enforces the required values and limits of a crawl run, including
// the storage settings.
func (c Config) Validate() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Crawler.BaseURL) == "" {
		return fmt.Errorf("crawler.base_url must be set")
	}
	parsed, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute http(s) URL, got %q", c.Crawler.BaseURL)
	}
	if c.Crawler.StartPage < 1 {
		return fmt.Errorf("crawler.start_page must be >= 1")
	}
	if c.Crawler.EndPage < 0 {
		return fmt.Errorf("crawler.end_page must be >= 0")
	}
	if c.Crawler.EndPage > 0 && c.Crawler.EndPage < c.Crawler.StartPage {
		return fmt.Errorf("crawler.end_page must be >= crawler.start_page when set")
	}
	if c.Politeness.DelayMin < 0 || c.Politeness.DelayMax < c.Politeness.DelayMin {
		return fmt.Errorf("politeness.delay_min must be >= 0 and <= politeness.delay_max")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if len(c.HTTP.UserAgents) == 0 || strings.TrimSpace(c.HTTP.UserAgents[0]) == "" {
		return fmt.Errorf("http.user_agents must contain at least one agent")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Listing.RowSelector) == "" {
		return fmt.Errorf("listing.row_selector must be set")
	}
	return c.CrawlerConfig("").Validate()
}

// CrawlerConfig narrows the configuration to what the crawl driver needs.
func (c Config) CrawlerConfig(runID string) crawler.Config {
	return crawler.Config{
		RunID:                         runID,
		BaseURL:                       c.Crawler.BaseURL,
		ListingPath:                   c.Crawler.ListingPath,
		PageParam:                     c.Crawler.PageParam,
		StartPage:                     c.Crawler.StartPage,
		EndPage:                       c.Crawler.EndPage,
		DelayMin:                      c.Politeness.DelayMin,
		DelayMax:                      c.Politeness.DelayMax,
		MaxConsecutiveListingFailures: c.Crawler.MaxConsecutiveListingFailures,
		MaxDiscoveryPages:             c.Crawler.MaxDiscoveryPages,
	}
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BackoffBase,
		MaxDelay:    c.Retry.BackoffMax,
		Jitter:      c.Retry.Jitter,
	}
}

// ListingSelectors converts the listing section.
func (c Config) ListingSelectors() crawler.ListingSelectors {
	return crawler.ListingSelectors{
		Row:          c.Listing.RowSelector,
		Cell:         c.Listing.CellSelector,
		Link:         c.Listing.LinkSelector,
		MinCells:     c.Listing.MinCells,
		IDCell:       c.Listing.IDCell,
		LinkCell:     c.Listing.LinkCell,
		IDQueryParam: c.Listing.IDQueryParam,
		Detail:       c.Listing.DetailSelector,
	}
}

// FetcherConfig converts the http section.
func (c Config) FetcherConfig() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgents:     c.HTTP.UserAgents,
		AcceptLanguage: c.HTTP.AcceptLanguage,
		Timeout:        c.HTTP.Timeout,
		MaxBodySize:    c.HTTP.MaxBodySize,
	}
}

// CheckpointConfig converts the storage section for the local store.
func (c Config) CheckpointConfig() checkpoint.Config {
	return checkpoint.Config{BaseDir: c.Storage.OutputDir, PadWidth: c.Storage.PadWidth}
}

// MirrorConfig converts the storage section for the GCS mirror. ok is false
// when no bucket is configured.
func (c Config) MirrorConfig() (cfg gcs.Config, ok bool) {
	if strings.TrimSpace(c.Storage.GCSBucket) == "" {
		return gcs.Config{}, false
	}
	return gcs.Config{Bucket: c.Storage.GCSBucket, Prefix: c.Storage.GCSPrefix}, true
}
