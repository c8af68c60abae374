package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"equity-terminal/internal/api"
	"equity-terminal/internal/engine"
	"equity-terminal/internal/events"
	"equity-terminal/internal/gateway"
	"equity-terminal/internal/market"
	"equity-terminal/internal/monitor"
	"equity-terminal/internal/persistence"
	"equity-terminal/internal/strategy"
	"equity-terminal/pkg/config"
	"equity-terminal/pkg/db"
	"equity-terminal/pkg/logging"
	"equity-terminal/pkg/secret"
)

var buildVersion = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "equity-terminal",
		Short:        "Equities trading terminal core",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), simulateCmd(), tokenCmd(), hashPasswordCmd(), sealCmd(), versionCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal core and its HTTP/websocket boundary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	bus := events.NewBus()
	logger, err := logging.New(cfg.LogLevel, logging.Forward(func(e logging.Entry) {
		bus.Publish(events.EventLog, events.LogLine{
			Category: e.Category,
			Level:    e.Level,
			Message:  e.Message,
			Time:     e.Time,
		})
	}))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	params, err := config.LoadParams(cfg.ParamsPath)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	var presets []strategy.Preset
	if cfg.WatchlistPath != "" {
		if presets, err = strategy.LoadPresets(cfg.WatchlistPath); err != nil {
			return fmt.Errorf("load watchlist: %w", err)
		}
	}

	var journal *persistence.Journal
	if cfg.JournalPath != "" {
		database, err := db.Open(db.Dialect(cfg.JournalDriver), cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		if err := db.ApplyMigrations(database); err != nil {
			_ = database.Close()
			return fmt.Errorf("migrate journal: %w", err)
		}
		writer := persistence.NewBatchWriter(database, 100, time.Second, logger)
		journal = persistence.NewJournal(database, writer, bus, logger)
		journal.Start(ctx)
		logger.Info("journal ready", zap.String("driver", cfg.JournalDriver))
	}

	mon := &monitor.Monitor{Bus: bus, Sinks: []monitor.AlertSink{monitor.LogSink{Log: logger.Named("alerts")}}, Log: logger}
	mon.Start(ctx)

	term, err := engine.New(engine.Options{
		Config:  cfg,
		Params:  params,
		Presets: presets,
		Journal: journal,
		Session: market.NewSession(cfg.MarketMIC),
		Bus:     bus,
		Logger:  logger,
		Version: buildVersion,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := term.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()
	if err := term.Start(ctx); err != nil {
		// A failed auto-connect leaves the boundary up so the operator can retry.
		logger.Warn("auto-connect failed", zap.Error(err))
	}

	if cfg.GRPCHealthPort != "" {
		health := api.NewHealthServer(bus, logger)
		health.Follow(ctx)
		go func() {
			if err := health.Serve(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				logger.Error("grpc health server error", zap.Error(err))
			}
		}()
	}

	server := api.NewServer(term, bus, api.Options{
		JWTSecret:    cfg.JWTSecret,
		User:         cfg.APIUser,
		PasswordHash: cfg.APIPasswordHash,
		WSBuffer:     cfg.WSBuffer,
	}, logger)
	logger.Info("terminal started",
		zap.String("version", buildVersion),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("port", cfg.APIPort),
	)
	if err := server.Serve(ctx, ":"+cfg.APIPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func simulateCmd() *cobra.Command {
	cfg := gateway.DefaultConfig()
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a local gateway simulator that streams quotes and fills orders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New("info")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cfg.TickInterval = interval
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return gateway.NewSimulator(cfg, logger).ListenAndServe(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	f.DurationVar(&interval, "interval", cfg.TickInterval, "time between prints per symbol")
	f.Float64Var(&cfg.StartPrice, "price", cfg.StartPrice, "opening price of new symbols")
	f.Float64Var(&cfg.Volatility, "volatility", cfg.Volatility, "max relative move per print")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random walk seed")
	f.Float64Var(&cfg.Equity, "equity", cfg.Equity, "simulated account equity")
	f.StringVar(&cfg.Account, "account", cfg.Account, "simulated account id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Print a bearer token for the boundary API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := api.GenerateToken(args[0], cfg.JWTSecret, time.Now().Add(ttl))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 72*time.Hour, "token lifetime")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for API_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := api.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func sealCmd() *cobra.Command {
	var genKey bool
	cmd := &cobra.Command{
		Use:   "seal [value]",
		Short: "Seal a config value with " + secret.KeyEnv + ", or print a new key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if genKey {
				key, err := secret.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}
			if len(args) != 1 {
				return errors.New("seal needs a value or --gen-key")
			}
			_ = godotenv.Load()
			kr, err := secret.KeyringFromEnv()
			if err != nil {
				return err
			}
			sealed, err := kr.Seal(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			fmt.Fprintf(cmd.ErrOrStderr(), "sealed with key v%d\n", kr.CurrentVersion())
			return nil
		},
	}
	cmd.Flags().BoolVar(&genKey, "gen-key", false, "print a fresh base64 key instead")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildVersion)
		},
	}
}
