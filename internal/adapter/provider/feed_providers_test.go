package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

const payload = `{"summary": {"emails_scanned": 1, "quarantined_items": 0}, "threats": []}`

func TestHTTPFeedProvider_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept header = %q", r.Header.Get("Accept"))
		}
		w.Write([]byte(payload))
	}))
	defer server.Close()

	p := NewHTTPFeedProvider(server.Client(), server.URL)
	data, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != payload {
		t.Errorf("payload = %q", data)
	}
	if p.Name() != "http-feed" {
		t.Errorf("Name = %q", p.Name())
	}
}

func TestHTTPFeedProvider_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	p := NewHTTPFeedProvider(nil, server.URL)
	if _, err := p.Fetch(context.Background()); err == nil || !strings.Contains(err.Error(), "204") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestHTTPFeedProvider_ThroughResilientClient(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(payload))
	}))
	defer server.Close()

	client := NewResilientClient(5*time.Second, ResilientClientConfig{
		MaxRetries:      2,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
	}, nil)
	p := NewHTTPFeedProvider(client, server.URL)

	data, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != payload {
		t.Errorf("payload = %q", data)
	}
}

func TestFileFeedProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.json")
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewFileFeedProvider(path)
	if p.Name() != "file:feed.json" {
		t.Errorf("Name = %q", p.Name())
	}
	data, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != payload {
		t.Errorf("payload = %q", data)
	}

	missing := NewFileFeedProvider(filepath.Join(dir, "absent.json"))
	if _, err := missing.Fetch(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// queueReader serves queued messages, then blocks until the context ends.
type queueReader struct {
	msgs      []kafka.Message
	committed []kafka.Message
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *queueReader) Close() error { return nil }

func TestKafkaFeedProvider_ReturnsNewestMessage(t *testing.T) {
	reader := &queueReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte("old")},
		{Offset: 2, Value: []byte("older-but-later")},
		{Offset: 3, Value: []byte(payload)},
	}}
	p := NewKafkaFeedProviderWithReader(reader, "threat-feed")
	p.idle = 10 * time.Millisecond

	data, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != payload {
		t.Errorf("payload = %q, want newest message", data)
	}
	if len(reader.committed) != 1 || reader.committed[0].Offset != 3 {
		t.Errorf("committed = %+v, want offset 3", reader.committed)
	}
	if p.Name() != "kafka:threat-feed" {
		t.Errorf("Name = %q", p.Name())
	}
}

func TestKafkaFeedProvider_NoMessages(t *testing.T) {
	p := NewKafkaFeedProviderWithReader(&queueReader{}, "threat-feed")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Fetch(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

// keyValue implements the single redis command the provider uses.
type keyValue struct {
	redis.Cmdable
	data map[string]string
}

func (kv *keyValue) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := kv.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestRedisFeedProvider(t *testing.T) {
	kv := &keyValue{data: map[string]string{"threatfeed:latest": payload}}

	p := NewRedisFeedProviderWithClient(kv, "threatfeed:latest")
	data, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != payload {
		t.Errorf("payload = %q", data)
	}

	missing := NewRedisFeedProviderWithClient(kv, "nope")
	if _, err := missing.Fetch(context.Background()); err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("expected missing key error, got %v", err)
	}
}

func TestNewRedisFeedProvider_BadURL(t *testing.T) {
	if _, _, err := NewRedisFeedProvider("not a url", "k"); err == nil {
		t.Error("expected error for invalid redis url")
	}
}
