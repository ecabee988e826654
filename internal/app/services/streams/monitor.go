package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jive-live/jive-server/pkg/logger"
)

// Monitor queries the media server's statistics endpoint for live session
// data.
type Monitor struct {
	client   *http.Client
	endpoint *url.URL
	log      *logger.Logger
}

// NewMonitor constructs a monitor for the given media server API endpoint.
func NewMonitor(client *http.Client, endpoint string, log *logger.Logger) (*Monitor, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("monitor endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse monitor endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("stream-monitor")
	}
	return &Monitor{
		client:   client,
		endpoint: parsed,
		log:      log,
	}, nil
}

// ViewerCount returns the number of viewers watching the given stream key.
func (m *Monitor) ViewerCount(ctx context.Context, streamKey string) (int, error) {
	requestURL := m.endpoint.JoinPath("streams", "live", streamKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build monitor request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("monitor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("monitor status %d", resp.StatusCode)
	}

	var payload struct {
		Viewers int `json:"viewers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode monitor response: %w", err)
	}
	return payload.Viewers, nil
}
