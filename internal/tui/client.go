package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/blazehooks/internal/events"
)

// Health mirrors the API's /healthz body.
type Health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
}

// Stream connects to the API's SSE /events endpoint. The returned channel is
// closed when the connection drops or ctx ends.
func Stream(ctx context.Context, client *http.Client, apiURL, token string) (<-chan events.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("event stream: unexpected status %d", resp.StatusCode)
	}

	ch := make(chan events.Event, 100)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var current events.Event
		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				if len(current.Data) > 0 {
					if current.At.IsZero() {
						current.At = time.Now()
					}
					select {
					case ch <- current:
					case <-ctx.Done():
						return
					}
				}
				current = events.Event{}
				continue
			}

			switch {
			case strings.HasPrefix(line, "id: "):
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.ID = id
				}
			case strings.HasPrefix(line, "event: "):
				current.Type = line[7:]
			case strings.HasPrefix(line, "data: "):
				current.Data = json.RawMessage(line[6:])
			}
		}
	}()
	return ch, nil
}

// FetchHealth queries the unauthenticated /healthz endpoint.
func FetchHealth(ctx context.Context, client *http.Client, apiURL string) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/healthz", nil)
	if err != nil {
		return Health{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Health{}, err
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}
