package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Target describes one attachable debugging target from the endpoint's
// HTTP listing.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// DiscoverTargets fetches the target listing from the debugging endpoint.
// addr is host:port.
func DiscoverTargets(ctx context.Context, addr string, timeout time.Duration) ([]Target, error) {
	listingURL := fmt.Sprintf("http://%s/json", addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
	if err != nil {
		return nil, &DiscoveryError{Endpoint: addr, Err: err}
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &DiscoveryError{Endpoint: addr, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DiscoveryError{
			Endpoint: addr,
			Err:      fmt.Errorf("debugger listing returned status %d", resp.StatusCode),
		}
	}

	var targets []Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, &DiscoveryError{Endpoint: addr, Err: fmt.Errorf("decode listing: %w", err)}
	}
	if len(targets) == 0 {
		return nil, &DiscoveryError{Endpoint: addr, Err: ErrNoTargets}
	}
	return targets, nil
}

// SelectTarget picks the stream URL to attach to: the first page-type target
// with a debugger URL, falling back to the first target exposing one.
func SelectTarget(targets []Target) (string, error) {
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	for _, t := range targets {
		if t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", ErrNoDebuggerURL
}
