package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/app"
	"github.com/JakeFAU/listing-harvester/internal/checkpoint"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. Tests inject their own factory.
type App interface {
	Config() config.Config
	RunID() string
	Logger() *zap.Logger
	Metrics() *metrics.Recorder
	Store() *checkpoint.Store
	Close()
}

// newApp is the application factory. It's a variable so tests can swap in a
// factory with a quiet logger.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.NewApp(ctx, cfg, app.Options{IDs: uuid.New()})
}

// newRootCmd creates the root command and wires flags into a fresh Viper
// instance, so flags override HARVESTER_* environment variables, which override
// the config file, which overrides defaults. The returned cleanup closes
// the App built for the command and must run even when the command fails.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		active  App
	)
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "A polite, resumable crawler for paginated listing portals.",
		Long: `harvester walks the numbered listing pages of a portal, fetches the
detail page of every entry, and commits one JSON checkpoint per listing page.
Runs honor robots.txt, pace requests with a randomized delay, retry transient
failures with backoff, and resume from the last committed page.`,
		SilenceUsage: true,

		// Runs before the subcommand's RunE: load config and build services.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if f := cmd.Flags().Lookup("user-agent"); f != nil && f.Changed {
				v.Set("http.user_agents", []string{f.Value.String()})
			}
			cfg, err := config.LoadFrom(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			active = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	cmd.PersistentFlags().String("output-dir", "", "directory holding page checkpoints")
	mustBind(v, "storage.output_dir", cmd.PersistentFlags().Lookup("output-dir"))

	cmd.AddCommand(newCrawlCmd(v))
	cmd.AddCommand(newInspectCmd())

	cleanup := func() {
		if active != nil {
			active.Close()
			active = nil
		}
	}
	return cmd, cleanup
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run; the last
// committed checkpoint is where the next run resumes.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, cleanup := newRootCmd()
	err := root.ExecuteContext(ctx)
	cleanup()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}
