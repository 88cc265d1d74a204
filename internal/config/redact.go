package config

import (
	"strconv"
	"strings"
)

// MaskSecret keeps a 4-char prefix and a 2-char suffix. Values too short to
// keep both are masked entirely.
func MaskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 6 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-6) + v[len(v)-2:]
}

// Redacted returns the configuration as a flat map safe to log.
func (c Config) Redacted() map[string]string {
	return map[string]string{
		"DATABASE_URL":                MaskSecret(c.DatabaseURL),
		"REDIS_URL":                   MaskSecret(c.RedisURL),
		"LLM_PROVIDER":                c.LLMProvider,
		"OLLAMA_BASE_URL":             c.OllamaBaseURL,
		"OLLAMA_MODEL":                c.OllamaModel,
		"OPENAI_API_KEY":              MaskSecret(c.OpenAIAPIKey),
		"OPENAI_MODEL":                c.OpenAIModel,
		"LLM_TRIGGER_THRESHOLD":       strconv.FormatFloat(c.LLMTriggerScore, 'f', -1, 64),
		"CACHE_BACKEND":               c.CacheBackend,
		"REASONING_CACHE_TTL_MINUTES": strconv.Itoa(int(c.ReasoningCacheTTL.Minutes())),
		"NOTIFIER":                    c.Notifier,
		"SENDGRID_API_KEY":            MaskSecret(c.SendGridAPIKey),
		"SENDER_EMAIL":                c.SenderEmail,
		"ALERT_RECIPIENTS":            strings.Join(c.AlertRecipients, ","),
		"ALERT_DEDUP_HOURS":           strconv.Itoa(int(c.AlertDedupWindow.Hours())),
		"ALERT_MAX_RETRIES":           strconv.Itoa(c.AlertMaxRetries),
		"ALERT_MIN_BUCKET":            string(c.AlertMinBucket),
		"RETRY_LOOKBACK_HOURS":        strconv.Itoa(int(c.RetryLookback.Hours())),
		"RETRY_BATCH_SIZE":            strconv.Itoa(c.RetryBatchSize),
		"RETRY_LEASE_SECONDS":         strconv.Itoa(int(c.RetryLease.Seconds())),
		"MONITOR_ROUTES":              strings.Join(c.MonitorRoutes, ","),
		"MONITOR_INTERVAL_SECONDS":    strconv.Itoa(int(c.MonitorInterval.Seconds())),
		"KAFKA_BROKERS":               strings.Join(c.KafkaBrokers, ","),
	}
}

// Placeholders lists keys whose values still carry template defaults.
func (c Config) Placeholders() []string {
	var found []string
	check := func(key, v string) {
		lower := strings.ToLower(v)
		if strings.Contains(lower, "replace_me") || strings.Contains(lower, "://user:password@") {
			found = append(found, key)
		}
	}
	check("DATABASE_URL", c.DatabaseURL)
	check("REDIS_URL", c.RedisURL)
	check("OPENAI_API_KEY", c.OpenAIAPIKey)
	check("SENDGRID_API_KEY", c.SendGridAPIKey)
	check("SENDER_EMAIL", c.SenderEmail)
	return found
}
