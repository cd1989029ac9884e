package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/routingrules/internal/config"
	"github.com/liamcoop/routingrules/internal/ingest"
	"github.com/liamcoop/routingrules/internal/logger"
	"github.com/liamcoop/routingrules/internal/seed"
	"github.com/liamcoop/routingrules/rules"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "routing-server",
		Short:         "Keyword routing rule engine: admin API and message evaluation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "path to a YAML config file")
	flags.String("addr", ":8080", "HTTP listen address")
	flags.String("db-driver", config.DriverMemory, "rule store: memory, postgres, sqlite or mysql")
	flags.String("db-url", "", "database connection URL / DSN")
	flags.String("log-level", "info", "log level")
	flags.String("seed", "", "YAML file of rules to create at startup")
	flags.Bool("nats", false, "answer routing requests over NATS")

	// Flags only override config when set explicitly.
	for flag, key := range map[string]string{
		"addr":      "http.addr",
		"db-driver": "database.driver",
		"db-url":    "database.url",
		"log-level": "log.level",
		"seed":      "seed_file",
		"nats":      "nats.enabled",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.Setup(ctx, logger.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		SampleRate:  cfg.Log.SampleRate,
		OTEL:        cfg.Log.OTEL,
		ServiceName: cfg.Log.ServiceName,
	}); err != nil {
		return err
	}
	defer func() {
		if err := logger.Shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
		}
	}()
	log := logger.Logger

	opened, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := opened.close(); err != nil {
			log.Warn("closing rule store", "error", err)
		}
	}()
	log.Info("rule store ready", "driver", cfg.Database.Driver)

	opts := []rules.Option{
		rules.WithLogger(log),
		rules.WithStoreTimeout(cfg.Engine.StoreTimeout),
	}
	if cfg.Engine.CacheEnabled {
		opts = append(opts, rules.WithCache(rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: cfg.Engine.CacheTTL})))
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := rules.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if err := logger.RegisterCounters(reg); err != nil {
			return fmt.Errorf("register log counters: %w", err)
		}
		opts = append(opts, rules.WithMetrics(m))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	engine := rules.NewEngine(opened.store, opts...)

	if cfg.SeedFile != "" {
		f, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		if _, err := seed.Apply(ctx, engine, f, log); err != nil {
			return err
		}
	}

	server := NewServer(engine, ServerOptions{
		StoreName:      cfg.Database.Driver,
		Health:         opened.health,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		SlowRequest:    cfg.HTTP.SlowRequest,
		Metrics:        metricsHandler,
		MetricsPath:    cfg.Metrics.Path,
		Logger:         log,
	})
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	var sub *ingest.Subscriber
	if cfg.NATS.Enabled {
		conn, err := ingest.Connect(cfg.NATS.URL, cfg.Log.ServiceName, log)
		if err != nil {
			return err
		}
		defer conn.Close()

		handler := ingest.NewHandler(engine, cfg.HTTP.RequestTimeout, log)
		sub = ingest.NewSubscriber(conn, cfg.NATS.Subject, cfg.NATS.Queue, handler, log)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server starting", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if sub != nil {
		g.Go(func() error {
			return sub.Run(gctx)
		})
	}

	err = g.Wait()
	log.Info("Server stopped")
	return err
}
