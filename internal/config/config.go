package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Feed source kinds.
const (
	SourceHTTP     = "http"
	SourceFile     = "file"
	SourceKafka    = "kafka"
	SourceRedis    = "redis"
	SourcePostgres = "postgres"
)

type Config struct {
	Env       string
	LogLevel  string
	LogFormat string

	RESTAddr       string
	GRPCAddr       string
	RateLimitRPS   int
	RateLimitBurst int

	Feed       FeedConfig
	Resilience ResilienceConfig

	DatabaseURL string

	SlackBotToken    string
	SlackChannel     string
	SlackMentionTeam string
}

type FeedConfig struct {
	Source          string
	URL             string
	File            string
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroup      string
	RedisURL        string
	RedisKey        string
	IngestTimeout   time.Duration
	RefreshInterval time.Duration
}

// ResilienceConfig tunes the HTTP gateway's circuit breaker and retries.
type ResilienceConfig struct {
	RequestTimeout       time.Duration
	EnableCircuitBreaker bool
	MaxFailures          uint32
	CircuitTimeout       time.Duration
	MaxRetries           int
	InitialInterval      time.Duration
	MaxInterval          time.Duration
}

// Load reads .env (when present), then config file and environment.
// configFile may be empty; a missing default config file is not an error.
func Load(configFile string) (*Config, error) {
	// Variables already in the environment win over .env
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("threatfeed")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Env:            v.GetString("service.env"),
		LogLevel:       v.GetString("log.level"),
		LogFormat:      v.GetString("log.format"),
		RESTAddr:       v.GetString("rest.addr"),
		GRPCAddr:       v.GetString("grpc.addr"),
		RateLimitRPS:   v.GetInt("rest.rate_limit_rps"),
		RateLimitBurst: v.GetInt("rest.rate_limit_burst"),
		Feed: FeedConfig{
			Source:          v.GetString("feed.source"),
			URL:             v.GetString("feed.url"),
			File:            v.GetString("feed.file"),
			KafkaBrokers:    splitList(v.GetStringSlice("feed.kafka_brokers")),
			KafkaTopic:      v.GetString("feed.kafka_topic"),
			KafkaGroup:      v.GetString("feed.kafka_group"),
			RedisURL:        v.GetString("feed.redis_url"),
			RedisKey:        v.GetString("feed.redis_key"),
			IngestTimeout:   v.GetDuration("feed.ingest_timeout"),
			RefreshInterval: v.GetDuration("feed.refresh_interval"),
		},
		Resilience: ResilienceConfig{
			RequestTimeout:       v.GetDuration("feed.http.request_timeout"),
			EnableCircuitBreaker: v.GetBool("feed.http.circuit_breaker_enabled"),
			MaxFailures:          v.GetUint32("feed.http.circuit_breaker_max_failures"),
			CircuitTimeout:       v.GetDuration("feed.http.circuit_breaker_timeout"),
			MaxRetries:           v.GetInt("feed.http.retry_max_attempts"),
			InitialInterval:      v.GetDuration("feed.http.retry_initial_interval"),
			MaxInterval:          v.GetDuration("feed.http.retry_max_interval"),
		},
		DatabaseURL:      v.GetString("database.url"),
		SlackBotToken:    v.GetString("slack.bot_token"),
		SlackChannel:     v.GetString("slack.channel"),
		SlackMentionTeam: v.GetString("slack.mention_team"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("rest.addr", ":8080")
	// Secure default - localhost only
	v.SetDefault("grpc.addr", "localhost:50051")
	v.SetDefault("rest.rate_limit_rps", 20)
	v.SetDefault("rest.rate_limit_burst", 40)

	v.SetDefault("feed.source", SourceFile)
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.file", "feed.json")
	v.SetDefault("feed.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("feed.kafka_topic", "threat-feed")
	v.SetDefault("feed.kafka_group", "threatfeed")
	v.SetDefault("feed.redis_url", "redis://localhost:6379/0")
	v.SetDefault("feed.redis_key", "threatfeed:latest")
	v.SetDefault("feed.ingest_timeout", "30s")
	v.SetDefault("feed.refresh_interval", "5m")

	v.SetDefault("feed.http.request_timeout", "15s")
	v.SetDefault("feed.http.circuit_breaker_enabled", true)
	v.SetDefault("feed.http.circuit_breaker_max_failures", 5)
	v.SetDefault("feed.http.circuit_breaker_timeout", "30s")
	v.SetDefault("feed.http.retry_max_attempts", 3)
	v.SetDefault("feed.http.retry_initial_interval", "500ms")
	v.SetDefault("feed.http.retry_max_interval", "5s")

	v.SetDefault("database.url", "")
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.channel", "#security-alerts")
	v.SetDefault("slack.mention_team", "@security-team")
}

// Validate checks the settings the services cannot start without.
func (c *Config) Validate() error {
	switch c.Feed.Source {
	case SourceHTTP:
		if c.Feed.URL == "" {
			return errors.New("feed.url is required for the http source")
		}
	case SourceFile:
		if c.Feed.File == "" {
			return errors.New("feed.file is required for the file source")
		}
	case SourceKafka:
		if len(c.Feed.KafkaBrokers) == 0 || c.Feed.KafkaTopic == "" {
			return errors.New("feed.kafka_brokers and feed.kafka_topic are required for the kafka source")
		}
	case SourceRedis:
		if c.Feed.RedisKey == "" {
			return errors.New("feed.redis_key is required for the redis source")
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database.url is required for the postgres source")
		}
	default:
		return fmt.Errorf("unknown feed.source %q", c.Feed.Source)
	}

	if c.Feed.IngestTimeout <= 0 {
		return errors.New("feed.ingest_timeout must be positive")
	}
	if c.Feed.RefreshInterval < 0 {
		return errors.New("feed.refresh_interval must not be negative (0 ingests once at startup)")
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
