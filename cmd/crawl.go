// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	collyfetcher "github.com/JakeFAU/listing-harvester/internal/fetcher/colly"
)

// newCrawlCmd creates the 'crawl' subcommand. Its flags are bound to v so they
// override every other configuration source.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl listing pages and commit one checkpoint per page",
		Long: `Walks listing pages from --start-page to --end-page (or to the last
non-empty page when --end-page is 0), fetching every detail page and writing
page_NNN.json checkpoints. Pages that already have a checkpoint are skipped,
so an interrupted run resumes where it stopped.`,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("base-url", "", "portal base URL, e.g. https://portal.example")
	flags.Int("start-page", 1, "first listing page")
	flags.Int("end-page", 0, "last listing page (0 discovers it)")
	flags.Duration("delay-min", crawler.DefaultDelayMin, "minimum delay between requests")
	flags.Duration("delay-max", crawler.DefaultDelayMax, "maximum delay between requests")
	flags.Int("max-attempts", crawler.DefaultMaxAttempts, "attempts per request, including the first")
	flags.String("user-agent", "", "single User-Agent replacing the configured pool")
	flags.Bool("ignore-robots", false, "skip robots.txt (use only with the site owner's permission)")

	mustBind(v, "crawler.base_url", flags.Lookup("base-url"))
	mustBind(v, "crawler.start_page", flags.Lookup("start-page"))
	mustBind(v, "crawler.end_page", flags.Lookup("end-page"))
	mustBind(v, "politeness.delay_min", flags.Lookup("delay-min"))
	mustBind(v, "politeness.delay_max", flags.Lookup("delay-max"))
	mustBind(v, "retry.max_attempts", flags.Lookup("max-attempts"))
	mustBind(v, "politeness.ignore_robots", flags.Lookup("ignore-robots"))

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.Config().Validate(); err != nil {
		return fmt.Errorf("invalid crawl config: %w", err)
	}
	logger := appInstance.Logger()
	ctx := cmd.Context()

	driver, err := buildDriver(ctx, appInstance)
	if err != nil {
		return err
	}

	report, err := driver.Run(ctx)
	logger.Info("crawl finished",
		zap.String("stopped", string(report.Stopped)),
		zap.Int("end_page", report.EndPage),
		zap.Int("pages_committed", report.PagesCommitted),
		zap.Int("pages_skipped", report.PagesSkipped),
		zap.Int("pages_failed", report.PagesFailed),
		zap.Int("items_fetched", report.ItemsFetched),
		zap.Int("items_failed", report.ItemsFailed),
		zap.Int("items_denied", report.ItemsDenied),
	)
	if encErr := writeReport(cmd, report); encErr != nil {
		logger.Warn("failed to write run report", zap.Error(encErr))
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		logger.Warn("crawl interrupted; the next run resumes after the last committed page")
		return nil
	default:
		logger.Error("crawl failed", zap.Error(err))
		return fmt.Errorf("run crawler: %w", err)
	}
}

func buildDriver(ctx context.Context, a App) (*crawler.Driver, error) {
	cfg := a.Config()
	logger := a.Logger()
	recorder := a.Metrics()

	fetcher := collyfetcher.New(cfg.FetcherConfig())
	getter := crawler.NewResilientFetcher(fetcher, cfg.RetryPolicy(), recorder, logger)

	var robots crawler.RobotsPolicy
	if cfg.Politeness.IgnoreRobots {
		logger.Warn("robots.txt is ignored for this run")
		robots = crawler.AllowAll()
	} else {
		policy, err := crawler.LoadRobotsPolicy(ctx, getter, cfg.Crawler.BaseURL, fetcher.UserAgents(), logger)
		if err != nil {
			return nil, fmt.Errorf("load robots policy: %w", err)
		}
		robots = policy
	}
	gate := crawler.NewGate(robots, cfg.Politeness.DelayMin, cfg.Politeness.DelayMax, recorder)

	parser, err := crawler.NewGoqueryListingParser(cfg.Crawler.BaseURL, cfg.ListingSelectors())
	if err != nil {
		return nil, fmt.Errorf("init listing parser: %w", err)
	}

	driver, err := crawler.NewDriver(cfg.CrawlerConfig(a.RunID()), getter, gate, parser, a.Store(), recorder, logger)
	if err != nil {
		return nil, fmt.Errorf("init driver: %w", err)
	}
	return driver, nil
}

func writeReport(cmd *cobra.Command, report crawler.RunReport) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// mustBind binds a flag that is registered a few lines above; a failure is a
// programming error.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag for %s: %v", key, err))
	}
}
