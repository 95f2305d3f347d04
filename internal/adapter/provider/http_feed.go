package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// MaxPayloadBytes caps what a gateway will read for a single feed payload.
const MaxPayloadBytes = 32 << 20

// Doer is satisfied by *http.Client and *ResilientClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeedProvider downloads the feed document from the scanning pipeline.
type HTTPFeedProvider struct {
	client Doer
	url    string
}

func NewHTTPFeedProvider(client Doer, url string) *HTTPFeedProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeedProvider{
		client: client,
		url:    url,
	}
}

func (p *HTTPFeedProvider) Name() string {
	return "http-feed"
}

func (p *HTTPFeedProvider) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return readPayload(resp.Body)
}

func readPayload(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, fmt.Errorf("feed payload exceeds %d bytes", MaxPayloadBytes)
	}
	return data, nil
}
