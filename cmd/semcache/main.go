// Package main is the semcache CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/cache"
	"github.com/hyperjump/semcache/internal/cli"
	"github.com/hyperjump/semcache/internal/config"
	"github.com/hyperjump/semcache/internal/decision"
	"github.com/hyperjump/semcache/internal/embedding"
	"github.com/hyperjump/semcache/internal/generation"
	"github.com/hyperjump/semcache/internal/metrics"
	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/internal/retry"
	"github.com/hyperjump/semcache/internal/seed"
	"github.com/hyperjump/semcache/internal/server"
	"github.com/hyperjump/semcache/internal/storage"
	"github.com/hyperjump/semcache/internal/vector"
	"github.com/hyperjump/semcache/internal/watcher"
	"github.com/hyperjump/semcache/pkg/utils"
)

var version = "dev"

const defaultServerURL = "http://localhost:8080"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default config falls back to built-in defaults so the CLI works out of the box.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == config.DefaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := config.Default()
			config.ApplyEnv(cfg)
			return cfg, "", cfg.Validate()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	output     string
	debug      bool
}

func (g *globalFlags) format() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(g.output)
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "semcache",
		Short:         "Similarity-gated semantic response cache",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&g.output, "output", "text", "output format: text or json")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newServerCmd(g),
		newQueryCmd(g),
		newSeedCmd(g),
		newClearCmd(g),
		newStatsCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "semcache version %s\n", version)
			},
		},
	)
	return rootCmd
}

func newServerCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(g)
		},
	}
}

func runServer(g *globalFlags) error {
	cfg, resolvedConfigPath, err := loadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || g.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Close()

	if cfg.WatchConfig && resolvedConfigPath != "" {
		w := watcher.NewThresholdWatcher(resolvedConfigPath, components.Decider, logger)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start config watcher: %w", err)
		}
		defer w.Stop()
		logger.Info("watching config for threshold changes", zap.String("path", w.Path()))
	}

	srv := server.NewServer(
		components.Decider,
		components.Cache,
		components.Seeder,
		&cfg.Server,
		logger,
		server.WithMetrics(metrics.NewMetrics(version)),
		server.WithTally(components.Tally),
	)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var (
		serverURL  string
		extraCtx   string
		timeoutDur time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query <text...>",
		Short: "Query the cache (generates and stores on a miss)",
		Long: `Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.

By default the query is sent to a running server. Use --server "" to open the cache
directly when no server is running.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildQuery(args)
			if query == "" {
				return errors.New("query cannot be empty")
			}
			format, err := g.format()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeoutDur)
			defer cancel()

			req := &models.QueryRequest{Query: query, Context: extraCtx}
			if serverURL != "" {
				resp, err := cli.NewClient(serverURL, nil).Query(ctx, req)
				if err != nil {
					return fmt.Errorf("query failed: %w", err)
				}
				return cli.WriteQueryResponse(cmd.OutOrStdout(), resp, format)
			}

			return withComponents(ctx, g, func(c *Components) error {
				d, err := c.Decider.Query(ctx, req.Query, req.Context)
				if err != nil {
					return fmt.Errorf("query failed: %w", err)
				}
				return cli.WriteQueryResponse(cmd.OutOrStdout(), models.NewQueryResponse("", d), format)
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, `server URL (empty = open the cache directly)`)
	cmd.Flags().StringVar(&extraCtx, "context", "", "additional context included in the prompt on a miss")
	cmd.Flags().DurationVar(&timeoutDur, "timeout", 2*time.Minute, "overall timeout")
	return cmd
}

func newSeedCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Warm the cache from a Q&A dataset (.json, .jsonl, .xlsx)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			dataset, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withComponents(ctx, g, func(c *Components) error {
				report, err := c.Seeder.Run(ctx, dataset.Pairs, limit)
				if err != nil {
					return fmt.Errorf("seed failed after %d record(s): %w", report.Stored, err)
				}
				return cli.WriteSeedReport(cmd.OutOrStdout(), report, dataset.Skipped, format)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of pairs to seed (0 = all)")
	return cmd
}

func newClearCmd(g *globalFlags) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if serverURL != "" {
				if err := cli.NewClient(serverURL, nil).Clear(ctx); err != nil {
					return fmt.Errorf("clear failed: %w", err)
				}
				return cli.WriteCleared(cmd.OutOrStdout(), format)
			}
			return withComponents(ctx, g, func(c *Components) error {
				if err := c.Cache.Clear(ctx); err != nil {
					return fmt.Errorf("clear failed: %w", err)
				}
				return cli.WriteCleared(cmd.OutOrStdout(), format)
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = open the cache directly)")
	return cmd
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache, index and decision statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if serverURL != "" {
				stats, err := cli.NewClient(serverURL, nil).Stats(ctx)
				if err != nil {
					return fmt.Errorf("stats failed: %w", err)
				}
				return cli.WriteStats(cmd.OutOrStdout(), stats, format)
			}
			return withComponents(ctx, g, func(c *Components) error {
				stats, err := c.Stats(ctx)
				if err != nil {
					return fmt.Errorf("stats failed: %w", err)
				}
				return cli.WriteStats(cmd.OutOrStdout(), stats, format)
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = open the cache directly)")
	return cmd
}

// withComponents loads config, builds the stack and runs fn against it.
func withComponents(ctx context.Context, g *globalFlags, fn func(*Components) error) error {
	cfg, _, err := loadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || g.debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer components.Close()
	return fn(components)
}

// Components holds initialized services.
type Components struct {
	Backend   storage.Backend
	Cache     *cache.Engine
	Embedder  embedding.Embedder
	Generator generation.Generator
	Decider   *decision.Engine
	Tally     *decision.Tally
	Seeder    *seed.Seeder
}

// Close releases the embedder and the storage backend.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Backend != nil {
		_ = c.Backend.Close()
	}
}

// Stats assembles the same view the server returns on /api/v1/stats.
func (c *Components) Stats(ctx context.Context) (*models.StatsResponse, error) {
	stats, err := c.Cache.Stats(ctx)
	if err != nil {
		return nil, err
	}
	t := c.Tally.Snapshot()
	return &models.StatsResponse{
		State:          stats.State.String(),
		Dimension:      stats.Dimension,
		Records:        stats.Records,
		IndexCount:     stats.Index.Count,
		IndexCapacity:  stats.Index.Capacity,
		IndexType:      stats.Index.Type,
		NextID:         stats.NextID,
		Threshold:      c.Decider.Threshold(),
		TopK:           c.Decider.TopK(),
		Hits:           t.Hits,
		Misses:         t.Misses,
		HitRate:        t.HitRate,
		DiskUsageBytes: stats.DiskUsageBytes,
	}, nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	backend, err := storage.New(
		cfg.Storage.Type,
		cfg.Storage.DatabasePath,
		cfg.Storage.PostgresDSN,
		storage.WithTTL(cfg.Cache.TTL(), storage.TTLMode(cfg.Cache.TTLMode)),
		storage.WithPrefix(cfg.Storage.TablePrefix),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Backend: backend, Tally: &decision.Tally{}}

	cacheOpts := []cache.Option{
		cache.WithIndexOptions(vector.Options{
			Type: cfg.Cache.IndexType,
			HNSW: vector.HNSWOptions{
				M:                 cfg.Cache.HNSW.M,
				EfConstruction:    cfg.Cache.HNSW.EfConstruction,
				EfSearch:          cfg.Cache.HNSW.EfSearch,
				CapacityIncrement: cfg.Cache.CapacityIncrement,
			},
		}),
		cache.WithLazyCapacity(cfg.Cache.InitialCapacity),
		cache.WithLogger(logger),
	}
	if cfg.Cache.EmbeddingDimension > 0 {
		cacheOpts = append(cacheOpts, cache.WithDimension(cfg.Cache.EmbeddingDimension))
	}
	c.Cache = cache.New(backend, cacheOpts...)
	if err := c.Cache.Initialize(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load cache: %w", err)
	}

	retryCfg := retry.Config{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
	}
	c.Embedder, err = embedding.New(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		APIURL:     cfg.Embedding.APIURL,
		Dimensions: cfg.Embedding.Dimensions,
		ModelPath:  cfg.Embedding.ModelPath,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
		Timeout:    cfg.Embedding.Timeout,
		Retry:      retryCfg,
	}, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c.Generator, err = generation.New(generation.Config{
		Provider:  cfg.Generation.Provider,
		Model:     cfg.Generation.Model,
		APIKey:    cfg.Generation.APIKey,
		APIURL:    cfg.Generation.APIURL,
		MaxTokens: cfg.Generation.MaxTokens,
		Timeout:   cfg.Generation.Timeout,
		Retry:     retryCfg,
	}, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}

	c.Decider, err = decision.New(c.Cache, c.Embedder, c.Generator,
		decision.WithThreshold(cfg.Cache.SimilarityThreshold),
		decision.WithTopK(cfg.Cache.TopK),
		decision.WithPromptPrefix(cfg.Generation.PromptPrefix),
		decision.WithGenerationOptions(generation.Options{Model: cfg.Generation.Model, MaxTokens: cfg.Generation.MaxTokens}),
		decision.WithTally(c.Tally),
		decision.WithLogger(logger),
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Seeder = seed.NewSeeder(c.Embedder, c.Cache, seed.WithLogger(logger))
	return c, nil
}
