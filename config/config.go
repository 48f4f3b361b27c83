package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cryptostream/models"
)

type Config struct {
	Cryptostream CryptostreamConfig `yaml:"cryptostream"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Status       StatusConfig       `yaml:"status"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Stream       StreamConfig       `yaml:"stream"`
	Snapshot     SnapshotConfig     `yaml:"snapshot"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Exchanges    []ExchangeConfig   `yaml:"exchanges"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type CryptostreamConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	Enabled             bool             `yaml:"enabled"`
	Address             string           `yaml:"address"`
	UsedWeight          bool             `yaml:"used_weight"`
	ChannelSize         bool             `yaml:"channel_size"`
	ChannelSizeInterval time.Duration    `yaml:"channel_size_interval"`
	ReportInterval      time.Duration    `yaml:"report_interval"`
	CloudWatch          CloudWatchConfig `yaml:"cloudwatch"`
}

// StatusConfig controls the JSON status API. History bounds the number of
// metric events, log records and resource samples kept in memory.
type StatusConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	History        int           `yaml:"history"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// KafkaConfig publishes every normalized event to one topic, keyed by
// exchange and instrument.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type CloudWatchConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	Namespace       string        `yaml:"namespace"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// ChannelsConfig sizes the per-exchange output channels. A zero buffer keeps
// them unbounded; a positive buffer bounds them and drops the newest item
// when full.
type ChannelsConfig struct {
	Buffer int `yaml:"buffer"`
}

type StreamConfig struct {
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	BookDepth        int             `yaml:"book_depth"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Enabled         bool          `yaml:"enabled"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
}

type SnapshotConfig struct {
	Timeout        time.Duration              `yaml:"timeout"`
	Depth          int                        `yaml:"depth"`
	ConnectionPool ConnectionPoolConfig       `yaml:"connection_pool"`
	RateLimit      map[string]RateLimitConfig `yaml:"rate_limit"`
	BaseURLs       map[string]string          `yaml:"base_urls"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ExchangeConfig lists the batches of one venue. Every batch becomes one
// websocket connection per subscription kind it contains. URL overrides the
// venue's default websocket endpoint.
type ExchangeConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	LocalIP string        `yaml:"local_ip"`
	Batches []BatchConfig `yaml:"batches"`
}

type BatchConfig struct {
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

type SubscriptionConfig struct {
	Base       string     `yaml:"base"`
	Quote      string     `yaml:"quote"`
	Instrument string     `yaml:"instrument"`
	Expiry     string     `yaml:"expiry"`
	Option     OptionSpec `yaml:"option"`
	Kind       string     `yaml:"kind"`
}

type OptionSpec struct {
	Kind     string  `yaml:"kind"`
	Exercise string  `yaml:"exercise"`
	Strike   float64 `yaml:"strike"`
}

type LoggingConfig struct {
	Level  string                 `yaml:"level"`
	Format string                 `yaml:"format"`
	Output string                 `yaml:"output"`
	MaxAge int                    `yaml:"max_age"`
	Fields map[string]interface{} `yaml:"fields"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			Address:             "0.0.0.0:2112",
			UsedWeight:          true,
			ChannelSize:         true,
			ChannelSizeInterval: 10 * time.Second,
			ReportInterval:      30 * time.Second,
		},
		Status: StatusConfig{
			Address:        "0.0.0.0:8081",
			History:        200,
			SampleInterval: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			BatchSize:    100,
			BatchTimeout: time.Second,
		},
		Stream: StreamConfig{
			HandshakeTimeout: 10 * time.Second,
			Reconnect: ReconnectConfig{
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     30 * time.Second,
			},
		},
		Snapshot: SnapshotConfig{
			Timeout: 10 * time.Second,
			Depth:   1000,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// CloudWatch credentials and region may come from the environment
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Cryptostream.Name == "" {
		return fmt.Errorf("cryptostream.name is required")
	}

	if cfg.Cryptostream.Version == "" {
		return fmt.Errorf("cryptostream.version is required")
	}

	if cfg.Channels.Buffer < 0 {
		return fmt.Errorf("channels.buffer must not be negative")
	}

	if cfg.Stream.HandshakeTimeout <= 0 {
		return fmt.Errorf("stream.handshake_timeout must be greater than 0")
	}
	if cfg.Stream.BookDepth < 0 {
		return fmt.Errorf("stream.book_depth must not be negative")
	}
	if cfg.Stream.Reconnect.Enabled && cfg.Stream.Reconnect.InitialInterval <= 0 {
		return fmt.Errorf("stream.reconnect.initial_interval must be greater than 0")
	}

	for name, rl := range cfg.Snapshot.RateLimit {
		if rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("snapshot.rate_limit.%s.requests_per_second must be greater than 0", name)
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	if cfg.Status.Enabled {
		if cfg.Status.History <= 0 {
			return fmt.Errorf("status.history must be greater than 0")
		}
		if cfg.Status.SampleInterval <= 0 {
			return fmt.Errorf("status.sample_interval must be greater than 0")
		}
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	if len(cfg.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange is required")
	}
	seen := map[string]bool{}
	for i, ex := range cfg.Exchanges {
		if _, err := models.ParseExchangeID(ex.Name); err != nil {
			return fmt.Errorf("exchanges[%d]: %w", i, err)
		}
		if seen[ex.Name] {
			return fmt.Errorf("exchanges[%d]: duplicate exchange %q", i, ex.Name)
		}
		seen[ex.Name] = true
		if len(ex.Batches) == 0 {
			return fmt.Errorf("exchanges[%d]: at least one batch is required", i)
		}
		if _, err := ex.Subscriptions(); err != nil {
			return fmt.Errorf("exchanges[%d]: %w", i, err)
		}
	}

	return nil
}

// Subscriptions converts the configured batches into validated
// subscriptions, one slice per batch.
func (e ExchangeConfig) Subscriptions() ([][]models.Subscription, error) {
	exchange, err := models.ParseExchangeID(e.Name)
	if err != nil {
		return nil, err
	}
	batches := make([][]models.Subscription, 0, len(e.Batches))
	for b, batch := range e.Batches {
		if len(batch.Subscriptions) == 0 {
			return nil, fmt.Errorf("batch %d has no subscriptions", b)
		}
		subs := make([]models.Subscription, 0, len(batch.Subscriptions))
		for s, sc := range batch.Subscriptions {
			sub, err := sc.toSubscription(exchange)
			if err != nil {
				return nil, fmt.Errorf("batch %d subscription %d: %w", b, s, err)
			}
			subs = append(subs, sub)
		}
		batches = append(batches, subs)
	}
	return batches, nil
}

func (sc SubscriptionConfig) toSubscription(exchange models.ExchangeID) (models.Subscription, error) {
	kind, err := sc.instrumentKind()
	if err != nil {
		return models.Subscription{}, err
	}
	subKind, err := models.ParseSubKind(sc.Kind)
	if err != nil {
		return models.Subscription{}, err
	}
	sub := models.NewSubscription(exchange, sc.Base, sc.Quote, kind, subKind)
	if err := sub.Validate(); err != nil {
		return models.Subscription{}, err
	}
	return sub, nil
}

func (sc SubscriptionConfig) instrumentKind() (models.InstrumentKind, error) {
	var expiry time.Time
	if sc.Expiry != "" {
		t, err := time.Parse(time.RFC3339, sc.Expiry)
		if err != nil {
			return models.InstrumentKind{}, fmt.Errorf("invalid expiry %q: %w", sc.Expiry, err)
		}
		expiry = t.UTC()
	}

	switch strings.ToLower(sc.Instrument) {
	case "", "spot":
		return models.Spot(), nil
	case "perpetual", "perp", "swap":
		return models.Perpetual(), nil
	case "future", "futures":
		if expiry.IsZero() {
			return models.InstrumentKind{}, fmt.Errorf("future instrument requires expiry")
		}
		return models.Future(expiry), nil
	case "option":
		if expiry.IsZero() {
			return models.InstrumentKind{}, fmt.Errorf("option instrument requires expiry")
		}
		contract := models.OptionContract{Expiry: expiry, Strike: sc.Option.Strike}
		switch strings.ToLower(sc.Option.Kind) {
		case "call":
			contract.Kind = models.OptionCall
		case "put":
			contract.Kind = models.OptionPut
		default:
			return models.InstrumentKind{}, fmt.Errorf("invalid option kind %q", sc.Option.Kind)
		}
		switch strings.ToLower(sc.Option.Exercise) {
		case "", "european":
			contract.Exercise = models.ExerciseEuropean
		case "american":
			contract.Exercise = models.ExerciseAmerican
		default:
			return models.InstrumentKind{}, fmt.Errorf("invalid option exercise %q", sc.Option.Exercise)
		}
		return models.Option(contract), nil
	default:
		return models.InstrumentKind{}, fmt.Errorf("invalid instrument type %q", sc.Instrument)
	}
}
