package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/blazehooks/internal/config"
	"github.com/mattjoyce/blazehooks/internal/log"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

func runReceive(args []string) int {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional)")
	listen := fs.String("listen", "", "Listen address (overrides receiver.listen)")
	path := fs.String("path", "", "Request path (overrides receiver.path)")
	secret := fs.String("secret", "", "Signing secret (overrides receiver.secret, default $BLAZEHOOKS_SECRET)")
	tolerance := fs.Duration("tolerance", 0, "Replay window (overrides receiver.tolerance)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	rc := cfg.Receiver
	if *listen != "" {
		rc.Listen = *listen
	}
	if *path != "" {
		rc.Path = *path
	}
	if *secret != "" {
		rc.Secret = *secret
	}
	if rc.Secret == "" {
		rc.Secret = os.Getenv("BLAZEHOOKS_SECRET")
	}
	if *tolerance > 0 {
		rc.Tolerance = *tolerance
	}
	if rc.Secret == "" {
		fmt.Fprintln(os.Stderr, "Error: a signing secret is required (-secret, receiver.secret or $BLAZEHOOKS_SECRET)")
		return 1
	}
	maxBody, err := webhook.ParseByteSize(rc.MaxBodySize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: receiver.max_body_size: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("receiver")

	recv := webhook.NewReceiver(webhook.ReceiverConfig{
		Listen:      rc.Listen,
		Path:        rc.Path,
		Secret:      rc.Secret,
		Tolerance:   rc.Tolerance,
		MaxBodySize: maxBody,
	}, func(_ context.Context, env webhook.Envelope, _ []byte) error {
		fmt.Printf("%s %s\n", env.Event, string(env.Data))
		return nil
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := recv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("receiver failed", "error", err)
		return 1
	}
	return 0
}
