package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "crawler:\n  base_url: https://portal.example\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/home/DrugSearch", cfg.Crawler.ListingPath)
	assert.Equal(t, "page", cfg.Crawler.PageParam)
	assert.Equal(t, 1, cfg.Crawler.StartPage)
	assert.Zero(t, cfg.Crawler.EndPage)
	assert.Equal(t, 5, cfg.Crawler.MaxConsecutiveListingFailures)
	assert.Equal(t, 600*time.Millisecond, cfg.Politeness.DelayMin)
	assert.Equal(t, 1200*time.Millisecond, cfg.Politeness.DelayMax)
	assert.Equal(t, crawler.DefaultRetryPolicy(), cfg.RetryPolicy())
	assert.Equal(t, crawler.DefaultListingSelectors(), cfg.ListingSelectors())
	assert.Equal(t, "output", cfg.Storage.OutputDir)
	assert.NotEmpty(t, cfg.HTTP.UserAgents)

	_, mirrored := cfg.MirrorConfig()
	assert.False(t, mirrored)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
crawler:
  base_url: https://portal.example
  listing_path: /search
  page_param: p
  start_page: 3
  end_page: 9
  max_consecutive_listing_failures: 2
politeness:
  delay_min: 1s
  delay_max: 3s
  ignore_robots: true
http:
  user_agents: ["agent-a", "agent-b"]
  accept_language: fr-FR
  timeout: 45s
retry:
  max_attempts: 5
  backoff_base: 2s
  backoff_max: 1m
  jitter: 0s
listing:
  row_selector: table#results tr
  min_cells: 3
  id_query_param: id
  detail_selector: div.detail
storage:
  output_dir: /tmp/harvest
  gcs_bucket: harvest-bucket
  gcs_prefix: runs
metrics:
  textfile: /tmp/harvester.prom
logging:
  development: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	crawlCfg := cfg.CrawlerConfig("run-1")
	assert.Equal(t, "run-1", crawlCfg.RunID)
	assert.Equal(t, "/search", crawlCfg.ListingPath)
	assert.Equal(t, "p", crawlCfg.PageParam)
	assert.Equal(t, 3, crawlCfg.StartPage)
	assert.Equal(t, 9, crawlCfg.EndPage)
	assert.Equal(t, time.Second, crawlCfg.DelayMin)
	assert.Equal(t, 3*time.Second, crawlCfg.DelayMax)
	assert.True(t, cfg.Politeness.IgnoreRobots)

	assert.Equal(t, crawler.RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}, cfg.RetryPolicy())

	fetcherCfg := cfg.FetcherConfig()
	assert.Equal(t, []string{"agent-a", "agent-b"}, fetcherCfg.UserAgents)
	assert.Equal(t, "fr-FR", fetcherCfg.AcceptLanguage)
	assert.Equal(t, 45*time.Second, fetcherCfg.Timeout)

	sel := cfg.ListingSelectors()
	assert.Equal(t, "table#results tr", sel.Row)
	assert.Equal(t, 3, sel.MinCells)
	assert.Equal(t, "id", sel.IDQueryParam)
	assert.Equal(t, "div.detail", sel.Detail)

	assert.Equal(t, "/tmp/harvest", cfg.CheckpointConfig().BaseDir)
	mirror, ok := cfg.MirrorConfig()
	require.True(t, ok)
	assert.Equal(t, "harvest-bucket", mirror.Bucket)
	assert.Equal(t, "runs", mirror.Prefix)
	assert.Equal(t, "/tmp/harvester.prom", cfg.Metrics.Textfile)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "crawler:\n  base_url: https://portal.example\n  start_page: 2\n")
	t.Setenv("HARVESTER_CRAWLER_START_PAGE", "4")
	t.Setenv("HARVESTER_STORAGE_OUTPUT_DIR", "/data/out")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Crawler.StartPage)
	assert.Equal(t, "/data/out", cfg.Storage.OutputDir)
}

func TestLoadFromBoundFlagsWin(t *testing.T) {
	path := writeConfig(t, "crawler:\n  base_url: https://portal.example\n  end_page: 10\n")
	t.Setenv("HARVESTER_CRAWLER_END_PAGE", "20")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("end-page", 0, "")
	flags.Duration("delay-min", 0, "")
	require.NoError(t, flags.Parse([]string{"--end-page=30", "--delay-min=100ms"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag("crawler.end_page", flags.Lookup("end-page")))
	require.NoError(t, v.BindPFlag("politeness.delay_min", flags.Lookup("delay-min")))

	cfg, err := LoadFrom(v, path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Crawler.EndPage)
	assert.Equal(t, 100*time.Millisecond, cfg.Politeness.DelayMin)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadWithoutCrawlSettings(t *testing.T) {
	t.Setenv("HARVESTER_STORAGE_OUTPUT_DIR", "/data/out")

	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, "/data/out", cfg.Storage.OutputDir)
	assert.Empty(t, cfg.Crawler.BaseURL)
	require.NoError(t, cfg.ValidateStorage())
	require.ErrorContains(t, cfg.Validate(), "crawler.base_url")
}

func TestLoadRejectsBadStorage(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  pad_width: -1\n"))
	require.ErrorContains(t, err, "storage.pad_width")
}

func TestConfigValidateErrors(t *testing.T) {
	base, err := Load(writeConfig(t, "crawler:\n  base_url: https://portal.example\n"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.Crawler.BaseURL = "" }, "crawler.base_url"},
		{"relative base url", func(c *Config) { c.Crawler.BaseURL = "/home" }, "crawler.base_url"},
		{"start page", func(c *Config) { c.Crawler.StartPage = 0 }, "crawler.start_page"},
		{"end before start", func(c *Config) { c.Crawler.StartPage, c.Crawler.EndPage = 5, 2 }, "crawler.end_page"},
		{"delay bounds", func(c *Config) { c.Politeness.DelayMin = 2 * time.Second }, "politeness.delay_min"},
		{"attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "http.timeout"},
		{"user agents", func(c *Config) { c.HTTP.UserAgents = nil }, "http.user_agents"},
		{"row selector", func(c *Config) { c.Listing.RowSelector = " " }, "listing.row_selector"},
		{"output dir", func(c *Config) { c.Storage.OutputDir = "" }, "storage.output_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.HTTP.UserAgents = append([]string(nil), base.HTTP.UserAgents...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}
