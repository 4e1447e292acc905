package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/blazehooks/internal/api"
	"github.com/mattjoyce/blazehooks/internal/auth"
	"github.com/mattjoyce/blazehooks/internal/broadcast"
	"github.com/mattjoyce/blazehooks/internal/config"
	"github.com/mattjoyce/blazehooks/internal/delivery"
	"github.com/mattjoyce/blazehooks/internal/dispatch"
	"github.com/mattjoyce/blazehooks/internal/eventlog"
	"github.com/mattjoyce/blazehooks/internal/events"
	"github.com/mattjoyce/blazehooks/internal/janitor"
	"github.com/mattjoyce/blazehooks/internal/lock"
	"github.com/mattjoyce/blazehooks/internal/log"
	"github.com/mattjoyce/blazehooks/internal/metrics"
	"github.com/mattjoyce/blazehooks/internal/queue"
	"github.com/mattjoyce/blazehooks/internal/registry"
	"github.com/mattjoyce/blazehooks/internal/secrets"
	"github.com/mattjoyce/blazehooks/internal/storage"
)

// loadConfig resolves the -config flag (or discovery) and loads it.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", path)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func runConfigCheck(args []string) int {
	if len(args) < 1 || args[0] != "check" {
		fmt.Fprintln(os.Stderr, "Usage: blazehooks config check [-config PATH]")
		return 1
	}
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	if cfg.Secrets.MasterKey == "" {
		fmt.Fprintln(os.Stderr, "Configuration invalid: secrets.master_key is required to start the service")
		return 1
	}
	fmt.Printf("Configuration OK: %s\n", path)
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("blazehooks starting", "version", version, "config", path)

	if cfg.Secrets.MasterKey == "" {
		logger.Error("secrets.master_key is required; generate one with 'blazehooks keygen'")
		return 1
	}
	box, err := secrets.NewBox(cfg.Secrets.MasterKey)
	if err != nil {
		logger.Error("invalid master key", "error", err)
		return 1
	}

	pidLock, err := lock.Acquire(lock.PathFor(cfg.State.Path))
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	reg := registry.New(db, box, registry.Options{
		Vocabulary: cfg.EventVocabulary(),
		Policy: registry.Policy{
			Window:     cfg.AutoDisable.Window,
			Threshold:  cfg.AutoDisable.Threshold,
			MinSamples: cfg.AutoDisable.MinSamples,
		},
		AllowInsecureURLs: cfg.Delivery.AllowInsecureURLs,
	})
	q := queue.New(db)
	attempts := eventlog.New(db)
	hub := events.NewHub(256)

	errCh := make(chan error, 4)

	if cfg.Broadcast.RedisURL != "" {
		pub, err := broadcast.New(cfg.Broadcast.RedisURL, cfg.Broadcast.Channel)
		if err != nil {
			logger.Error("failed to configure broadcast", "error", err)
			return 1
		}
		defer pub.Close()
		hub.AddSink(pub)
		go func() {
			if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("broadcast: %w", err)
			}
		}()
		logger.Info("redis broadcast enabled", "channel", cfg.Broadcast.Channel)
	}

	if cfg.Metrics.Enabled {
		metrics.RegisterDefault()
	}

	jan := janitor.New(q, attempts, janitor.Options{
		Retention:     cfg.Retention.AttemptLog,
		PruneInterval: cfg.Retention.PruneInterval,
	}, log.Get())
	if err := jan.Start(ctx); err != nil {
		logger.Error("janitor failed to start", "error", err)
		return 1
	}
	defer jan.Stop()

	worker := delivery.New(reg, q, attempts, hub, delivery.Options{
		Workers:           cfg.Delivery.Workers,
		PollInterval:      cfg.Delivery.PollInterval,
		Timeout:           cfg.Delivery.Timeout,
		BackoffBase:       cfg.Delivery.BackoffBase,
		BackoffMax:        cfg.Delivery.BackoffMax,
		ResponseBodyLimit: cfg.Delivery.ResponseBodyLimit,
		UserAgent:         cfg.Delivery.UserAgent,
		RateLimit: delivery.RateLimit{
			PerSecond: cfg.Delivery.RateLimit.PerSecond,
			Burst:     cfg.Delivery.RateLimit.Burst,
		},
	})
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = worker.Start(ctx)
	}()

	if cfg.API.Enabled {
		disp := dispatch.New(reg, q, cfg.Delivery.MaxAttempts, hub)
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Tenant: t.Tenant, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen:  cfg.API.Listen,
			Tokens:  tokens,
			Metrics: cfg.Metrics.Enabled,
		}, reg, attempts, disp, q, hub, log.Get())
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	} else {
		logger.Warn("API server disabled; queued deliveries are processed but nothing new can be published")
	}

	exit := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exit = 1
		cancel()
	}

	<-workerDone
	logger.Info("blazehooks stopped")
	return exit
}
