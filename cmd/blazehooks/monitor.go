package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/blazehooks/internal/broadcast"
	"github.com/mattjoyce/blazehooks/internal/events"
	"github.com/mattjoyce/blazehooks/internal/tui"
)

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "Admin API base URL")
	token := fs.String("token", "", "API token with events:ro (default $BLAZEHOOKS_TOKEN)")
	redisURL := fs.String("redis", "", "Follow the Redis broadcast instead of the API (all tenants)")
	channel := fs.String("channel", "blazehooks:deliveries", "Redis broadcast channel")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		source <-chan events.Event
		health tui.HealthFunc
		err    error
	)
	if *redisURL != "" {
		source, err = broadcast.Subscribe(ctx, *redisURL, *channel)
	} else {
		if *token == "" {
			*token = os.Getenv("BLAZEHOOKS_TOKEN")
		}
		if *token == "" {
			fmt.Fprintln(os.Stderr, "Error: -token or $BLAZEHOOKS_TOKEN is required")
			return 1
		}
		client := &http.Client{}
		source, err = tui.Stream(ctx, client, *apiURL, *token)
		health = func(ctx context.Context) (tui.Health, error) {
			return tui.FetchHealth(ctx, client, *apiURL)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(tui.NewMonitor(source, health), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running monitor: %v\n", err)
		return 1
	}
	return 0
}
