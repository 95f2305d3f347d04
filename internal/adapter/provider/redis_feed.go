package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisFeedProvider reads the feed document the pipeline caches under a key.
type RedisFeedProvider struct {
	client redis.Cmdable
	key    string
}

// NewRedisFeedProvider connects using a redis:// URL.
func NewRedisFeedProvider(url, key string) (*RedisFeedProvider, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisFeedProviderWithClient(client, key), client, nil
}

func NewRedisFeedProviderWithClient(client redis.Cmdable, key string) *RedisFeedProvider {
	return &RedisFeedProvider{client: client, key: key}
}

func (p *RedisFeedProvider) Name() string {
	return "redis:" + p.key
}

func (p *RedisFeedProvider) Fetch(ctx context.Context) ([]byte, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("feed key %q does not exist", p.key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feed key %q: %w", p.key, err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, fmt.Errorf("feed payload exceeds %d bytes", MaxPayloadBytes)
	}
	return data, nil
}
