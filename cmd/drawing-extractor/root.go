package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/drawing-extractor/internal/cache"
	"github.com/spherical/drawing-extractor/internal/config"
	"github.com/spherical/drawing-extractor/internal/ingest"
	"github.com/spherical/drawing-extractor/internal/llm"
	"github.com/spherical/drawing-extractor/internal/observability"
	"github.com/spherical/drawing-extractor/internal/pipeline"
)

var (
	cfgFile  string
	verbose  bool
	jsonMode bool
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "drawing-extractor",
	Short: "Extract technical parameters from engineering drawings",
	Long: `drawing-extractor classifies scanned engineering drawings (cylinders,
valves, gearboxes) with a vision model, extracts the parameters defined for
each component type, and scores how complete every result is.

The OPENROUTER_API_KEY (or API_KEY) environment variable must be set.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(extractCmd, serveCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "drawing-extractor version %s\n", version)
	},
}

// app bundles what every command needs after configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	cache   cache.Client
	session *pipeline.Session
}

// appOptions are per-command overrides applied on top of the loaded config.
type appOptions struct {
	LogLevel string
	Workers  int
}

// buildApp is replaced in tests.
var buildApp = newApp

// closeTimeout bounds the cache purge when a command exits.
const closeTimeout = 5 * time.Second

// newApp loads configuration and builds a fresh session. Every failure here is
// fatal for the command.
func newApp(opts appOptions) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if opts.Workers > 0 {
		cfg.Pipeline.Workers = opts.Workers
	}

	level := cfg.Observability.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "drawing-extractor",
	})

	client := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model,
		llm.WithEndpoint(cfg.LLM.Endpoint),
		llm.WithTimeout(cfg.LLM.RequestTimeout),
		llm.WithRetryConfig(llm.RetryConfig{
			MaxRetries:     cfg.LLM.MaxRetries,
			InitialBackoff: cfg.LLM.InitialBackoff,
			MaxBackoff:     cfg.LLM.MaxBackoff,
		}),
		llm.WithRateLimit(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst),
		llm.WithAttribution(cfg.LLM.Referer, cfg.LLM.Title),
		llm.WithLogger(logger),
	)

	cc, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}

	session := pipeline.NewSession(client, pipeline.SessionConfig{
		Workers: cfg.Pipeline.Workers,
		Normalizer: ingest.NewNormalizer(logger,
			ingest.WithQuality(cfg.Pipeline.JPEGQuality),
			ingest.WithDPI(cfg.Pipeline.PDFDPI),
		),
		Cache:    cc,
		CacheTTL: cfg.Cache.TTL,
		Logger:   logger,
	})

	logger.Info().
		Str("session", session.ID).
		Str("model", client.Model()).
		Int("workers", cfg.Pipeline.Workers).
		Str("cache", cfg.Cache.Driver).
		Msg("Session started")

	return &app{cfg: cfg, logger: logger, cache: cc, session: session}, nil
}

// close purges the session's cache entries and releases the cache client.
func (a *app) close(ctx context.Context) {
	if err := a.session.Close(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to purge session cache")
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

// shutdown closes the app with a fresh bounded context, so it still runs after
// the command context is cancelled.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	a.close(ctx)
}
