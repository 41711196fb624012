package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

const (
	defaultFeedURL     = "https://api.p2pquake.net/v2/history?codes=551&limit=10"
	defaultNewsFeedURL = "https://www3.nhk.or.jp/nhkworld/en/rss/all/index.xml"

	// defaultFeedPageSize is what the history API returns when the feed URL
	// carries no limit parameter.
	defaultFeedPageSize = 10

	// PollScheduleOff disables the built-in scheduler; cycles then run only
	// when triggered over HTTP.
	PollScheduleOff = "off"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	FeedURL     string
	FeedTimeout time.Duration

	NewsFeedURL  string
	NewsTimeout  time.Duration
	NewsCacheTTL time.Duration

	MinLocalShindo  int
	MinGlobalShindo int
	LedgerCapacity  int

	TelegramToken  string
	TelegramAPIURL string

	DispatchConcurrency int
	DispatchRate        float64 // sends per second across all recipients
	DeliveryTimeout     time.Duration
	EventConcurrency    int
	CycleTimeout        time.Duration
	PollSchedule        string

	// Subscriber directory: Postgres when DatabaseURL is set, otherwise a JSON file.
	DatabaseURL     string
	SubscribersFile string

	// Dedup ledger: Redis when RedisURL is set, otherwise in memory.
	RedisURL  string
	LedgerKey string

	// Alert journal; disabled when no brokers are configured.
	KafkaBrokers    []string
	KafkaAlertTopic string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// JournalEnabled reports whether cycle outcomes are published to Kafka.
func (c *Config) JournalEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var errs []error
	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FeedURL:     sharedcfg.EnvOrDefault("FEED_URL", defaultFeedURL),
		NewsFeedURL: sharedcfg.EnvOrDefault("NEWS_FEED_URL", defaultNewsFeedURL),

		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramAPIURL: os.Getenv("TELEGRAM_API_URL"),

		PollSchedule: sharedcfg.EnvOrDefault("POLL_SCHEDULE", "@every 1m"),

		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SubscribersFile: os.Getenv("SUBSCRIBERS_FILE"),
		RedisURL:        os.Getenv("REDIS_URL"),
		LedgerKey:       sharedcfg.EnvOrDefault("LEDGER_KEY", "quake-alert:processed_quakes"),
		KafkaAlertTopic: sharedcfg.EnvOrDefault("KAFKA_ALERT_TOPIC", "quake-alerts"),

		MapboxToken: os.Getenv("MAPBOX_TOKEN"),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"FEED_TIMEOUT", "10s", &cfg.FeedTimeout},
		{"NEWS_TIMEOUT", "5s", &cfg.NewsTimeout},
		{"NEWS_CACHE_TTL", "5m", &cfg.NewsCacheTTL},
		{"DELIVERY_TIMEOUT", "10s", &cfg.DeliveryTimeout},
		{"CYCLE_TIMEOUT", "2m", &cfg.CycleTimeout},
		{"MAPBOX_TIMEOUT", "5s", &cfg.MapboxTimeout},
	}
	for _, p := range durations {
		d, err := parsePositiveDuration(p.key, p.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*p.dst = d
	}

	ints := []struct {
		key string
		def int
		min int
		dst *int
	}{
		{"MIN_LOCAL_SHINDO", 40, 0, &cfg.MinLocalShindo},
		{"MIN_GLOBAL_SHINDO", 50, 0, &cfg.MinGlobalShindo},
		{"LEDGER_CAPACITY", 50, 1, &cfg.LedgerCapacity},
		{"DISPATCH_CONCURRENCY", 8, 1, &cfg.DispatchConcurrency},
		{"EVENT_CONCURRENCY", 4, 1, &cfg.EventConcurrency},
		{"MAPBOX_CACHE_SIZE", 1000, 1, &cfg.MapboxCacheSize},
	}
	for _, p := range ints {
		n, err := parseIntAtLeast(p.key, p.def, p.min)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*p.dst = n
	}

	rate, err := parsePositiveFloat("DISPATCH_RATE", 25)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.DispatchRate = rate

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}

	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		cfg.MapboxEnabled = v == "true"
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if cfg.MinLocalShindo > cfg.MinGlobalShindo {
		return nil, errors.New("MIN_LOCAL_SHINDO must not exceed MIN_GLOBAL_SHINDO")
	}
	if cfg.TelegramToken == "" {
		return nil, errors.New("TELEGRAM_TOKEN is required")
	}
	if cfg.DatabaseURL == "" && cfg.SubscribersFile == "" {
		return nil, errors.New("DATABASE_URL or SUBSCRIBERS_FILE is required")
	}
	if cfg.FeedURL == "" {
		return nil, errors.New("FEED_URL is required")
	}
	// Merge appends a page newest first, so a ledger smaller than one page
	// evicts the newest ids and the next cycle alerts on them again.
	if pageSize := feedPageSize(cfg.FeedURL); cfg.LedgerCapacity < pageSize {
		return nil, fmt.Errorf("LEDGER_CAPACITY %d must be at least the feed page size %d", cfg.LedgerCapacity, pageSize)
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// feedPageSize reads the limit query parameter of the feed URL.
func feedPageSize(feedURL string) int {
	u, err := url.Parse(feedURL)
	if err != nil {
		return defaultFeedPageSize
	}
	n, err := strconv.Atoi(u.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultFeedPageSize
	}
	return n
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}

func parseIntAtLeast(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s %q: must be an integer >= %d", key, s, minimum)
	}
	return n, nil
}

func parsePositiveFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive number", key, s)
	}
	return f, nil
}
