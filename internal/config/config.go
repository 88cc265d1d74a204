package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	CacheBackendPostgres = "postgres"
	CacheBackendRedis    = "redis"

	NotifierSendGrid = "sendgrid"
	NotifierKafka    = "kafka"
)

// Config is loaded once at process start and passed by value afterwards.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	DatabaseURL string
	RedisURL    string

	KafkaBrokers        []string
	KafkaTopicEvents    string
	KafkaTopicDecisions string
	KafkaTopicAlerts    string
	ConsumerGroupPrefix string

	LLMProvider       string
	OllamaBaseURL     string
	OllamaModel       string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	ReasoningTimeout  time.Duration
	ReasoningRetries  int
	LLMTriggerScore   float64
	CacheBackend      string
	ReasoningCacheTTL time.Duration
	ScoreBucketWidth  float64

	Notifier         string
	SendGridAPIKey   string
	SenderEmail      string
	AlertRecipients  []string
	NotifyTimeout    time.Duration
	NotifyRatePerSec float64
	AlertDedupWindow time.Duration
	AlertMaxRetries  int
	RetryLookback    time.Duration
	RetryBatchSize   int
	RetryLease       time.Duration
	AlertMinBucket   contracts.RiskBucket
	BucketMedium     float64
	BucketHigh       float64
	BucketCritical   float64

	MonitorRoutes     []string
	MonitorInterval   time.Duration
	RouteConcurrency  int
	MaxOverlap        int
	EventWindow       time.Duration
	EventHalfLife     time.Duration
	EventFetchTimeout time.Duration
}

func Load() (Config, error) {
	var errs []error
	intVar := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	floatVar := func(key string, fallback float64) float64 {
		v, err := getEnvFloat(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	brokers := splitCSV(getEnv("KAFKA_BROKERS", "localhost:19092"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:19092"}
	}

	minBucketRaw := getEnv("ALERT_MIN_BUCKET", string(contracts.BucketHigh))
	minBucket, ok := contracts.ParseRiskBucket(minBucketRaw)
	if !ok {
		errs = append(errs, fmt.Errorf("ALERT_MIN_BUCKET must be one of low, medium, high, critical (got %q)", minBucketRaw))
	}

	cfg := Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		KafkaBrokers:        brokers,
		KafkaTopicEvents:    getEnv("KAFKA_TOPIC_EVENTS", "risk.events"),
		KafkaTopicDecisions: getEnv("KAFKA_TOPIC_DECISIONS", "risk.decisions"),
		KafkaTopicAlerts:    getEnv("KAFKA_TOPIC_ALERTS", "alerts.outbound"),
		ConsumerGroupPrefix: getEnv("CONSUMER_GROUP_PREFIX", "routerisk"),

		LLMProvider:       strings.ToLower(getEnv("LLM_PROVIDER", ProviderOllama)),
		OllamaBaseURL:     strings.TrimSuffix(getEnv("OLLAMA_BASE_URL", "http://localhost:11434"), "/"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ReasoningTimeout:  time.Duration(intVar("REASONING_TIMEOUT_SECONDS", 60)) * time.Second,
		ReasoningRetries:  intVar("REASONING_MAX_RETRIES", 2),
		LLMTriggerScore:   floatVar("LLM_TRIGGER_THRESHOLD", 45),
		CacheBackend:      strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendPostgres)),
		ReasoningCacheTTL: time.Duration(intVar("REASONING_CACHE_TTL_MINUTES", 60)) * time.Minute,
		ScoreBucketWidth:  floatVar("REASONING_SCORE_BUCKET", 5),

		Notifier:         strings.ToLower(getEnv("NOTIFIER", NotifierSendGrid)),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		SenderEmail:      getEnv("SENDER_EMAIL", ""),
		AlertRecipients:  splitCSV(getEnv("ALERT_RECIPIENTS", "")),
		NotifyTimeout:    time.Duration(intVar("NOTIFY_TIMEOUT_SECONDS", 15)) * time.Second,
		NotifyRatePerSec: floatVar("NOTIFY_RATE_PER_SECOND", 5),
		AlertDedupWindow: time.Duration(intVar("ALERT_DEDUP_HOURS", 6)) * time.Hour,
		AlertMaxRetries:  intVar("ALERT_MAX_RETRIES", 3),
		RetryLookback:    time.Duration(intVar("RETRY_LOOKBACK_HOURS", 24)) * time.Hour,
		RetryBatchSize:   intVar("RETRY_BATCH_SIZE", 50),
		RetryLease:       time.Duration(intVar("RETRY_LEASE_SECONDS", 300)) * time.Second,
		AlertMinBucket:   minBucket,
		BucketMedium:     floatVar("RISK_BUCKET_MEDIUM", 40),
		BucketHigh:       floatVar("RISK_BUCKET_HIGH", 60),
		BucketCritical:   floatVar("RISK_BUCKET_CRITICAL", 80),

		MonitorRoutes:     splitCSV(getEnv("MONITOR_ROUTES", "Red Sea -> India,Singapore Strait -> India")),
		MonitorInterval:   time.Duration(intVar("MONITOR_INTERVAL_SECONDS", 3600)) * time.Second,
		RouteConcurrency:  intVar("MONITOR_ROUTE_CONCURRENCY", 4),
		MaxOverlap:        intVar("MONITOR_MAX_OVERLAP", 2),
		EventWindow:       time.Duration(intVar("EVENT_WINDOW_HOURS", 48)) * time.Hour,
		EventHalfLife:     time.Duration(intVar("EVENT_HALF_LIFE_HOURS", 12)) * time.Hour,
		EventFetchTimeout: time.Duration(intVar("EVENT_FETCH_TIMEOUT_SECONDS", 15)) * time.Second,
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Every violation is reported.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DatabaseURL != "", "DATABASE_URL is required")
	check(c.LLMProvider == ProviderOllama || c.LLMProvider == ProviderOpenAI,
		"LLM_PROVIDER must be either %q or %q", ProviderOllama, ProviderOpenAI)
	check(c.LLMProvider != ProviderOpenAI || c.OpenAIAPIKey != "",
		"OPENAI_API_KEY is required for the %s provider", ProviderOpenAI)
	check(c.LLMTriggerScore >= 0 && c.LLMTriggerScore <= 100, "LLM_TRIGGER_THRESHOLD must be between 0 and 100")
	check(c.ReasoningRetries >= 0, "REASONING_MAX_RETRIES must not be negative")
	check(c.ReasoningTimeout > 0, "REASONING_TIMEOUT_SECONDS must be positive")
	check(c.ReasoningCacheTTL > 0, "REASONING_CACHE_TTL_MINUTES must be positive")
	check(c.ScoreBucketWidth > 0, "REASONING_SCORE_BUCKET must be positive")
	check(c.CacheBackend == CacheBackendPostgres || c.CacheBackend == CacheBackendRedis,
		"CACHE_BACKEND must be either %q or %q", CacheBackendPostgres, CacheBackendRedis)
	check(c.CacheBackend != CacheBackendRedis || c.RedisURL != "", "REDIS_URL is required for the redis cache backend")
	check(c.Notifier == NotifierSendGrid || c.Notifier == NotifierKafka,
		"NOTIFIER must be either %q or %q", NotifierSendGrid, NotifierKafka)
	check(c.NotifyTimeout > 0, "NOTIFY_TIMEOUT_SECONDS must be positive")
	check(c.NotifyRatePerSec > 0, "NOTIFY_RATE_PER_SECOND must be positive")
	check(c.AlertDedupWindow >= time.Hour, "ALERT_DEDUP_HOURS must be at least 1")
	check(c.AlertMaxRetries >= 1, "ALERT_MAX_RETRIES must be at least 1")
	check(c.RetryLookback >= time.Hour, "RETRY_LOOKBACK_HOURS must be at least 1")
	check(c.RetryLookback >= c.AlertDedupWindow, "RETRY_LOOKBACK_HOURS must be at least ALERT_DEDUP_HOURS")
	check(c.RetryBatchSize >= 1, "RETRY_BATCH_SIZE must be at least 1")
	check(c.RetryLease > c.NotifyTimeout, "RETRY_LEASE_SECONDS must exceed NOTIFY_TIMEOUT_SECONDS")
	check(c.BucketMedium < c.BucketHigh && c.BucketHigh < c.BucketCritical,
		"risk bucket boundaries must be strictly increasing (medium < high < critical)")
	check(len(c.MonitorRoutes) > 0, "MONITOR_ROUTES must name at least one route")
	check(c.MonitorInterval >= time.Minute, "MONITOR_INTERVAL_SECONDS must be at least 60")
	check(c.RouteConcurrency >= 1, "MONITOR_ROUTE_CONCURRENCY must be at least 1")
	check(c.MaxOverlap >= 1, "MONITOR_MAX_OVERLAP must be at least 1")
	check(c.EventWindow > 0, "EVENT_WINDOW_HOURS must be positive")
	check(c.EventHalfLife > 0, "EVENT_HALF_LIFE_HOURS must be positive")
	check(c.EventFetchTimeout > 0, "EVENT_FETCH_TIMEOUT_SECONDS must be positive")

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return parsed, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
