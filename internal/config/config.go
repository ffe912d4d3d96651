// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	GRPCHealthAddr  string
	ContentPath     string // optional YAML override of the built-in chatbot catalog
	LiveIdleTTL     time.Duration
	Chat            ChatConfig
	Challenge       ChallengeConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig
	Timeout         TimeoutConfig
	ConversationLog ConversationLogConfig
}

// ChatConfig tunes chatbot sessions.
type ChatConfig struct {
	DailyQuota        int
	ReplyDelay        time.Duration
	EmotionReplyDelay time.Duration
}

// ChallengeConfig tunes challenge calendars.
type ChallengeConfig struct {
	TickInterval time.Duration
	FadeDelay    time.Duration
	DismissDelay time.Duration
	BasePoints   int
	StreakPoints int
}

// RateLimitConfig limits API requests per device. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// SSEConfig tunes the event stream.
type SSEConfig struct {
	Keepalive  time.Duration
	RetryDelay time.Duration
}

// TimeoutConfig holds server timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/dearie.db"),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ":9090"),
		ContentPath:    getEnv("CONTENT_PATH", ""),
		LiveIdleTTL:    getEnvDuration("LIVE_IDLE_TTL", 30*time.Minute),
		Chat: ChatConfig{
			DailyQuota:        getEnvInt("CHAT_DAILY_QUOTA", 10),
			ReplyDelay:        getEnvDuration("CHAT_REPLY_DELAY", 800*time.Millisecond),
			EmotionReplyDelay: getEnvDuration("CHAT_EMOTION_REPLY_DELAY", time.Second),
		},
		Challenge: ChallengeConfig{
			TickInterval: getEnvDuration("CHALLENGE_TICK_INTERVAL", time.Minute),
			FadeDelay:    getEnvDuration("CHALLENGE_FADE_DELAY", 2500*time.Millisecond),
			DismissDelay: getEnvDuration("CHALLENGE_DISMISS_DELAY", 4500*time.Millisecond),
			BasePoints:   getEnvInt("CHALLENGE_BASE_POINTS", 700),
			StreakPoints: getEnvInt("CHALLENGE_STREAK_POINTS", 300),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst: getEnvInt("RATE_LIMIT_BURST", 40),
		},
		SSE: SSEConfig{
			Keepalive:  getEnvDuration("SSE_KEEPALIVE", 10*time.Second),
			RetryDelay: getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Chat.DailyQuota < 0 {
		return fmt.Errorf("CHAT_DAILY_QUOTA must be >= 0")
	}
	if c.Chat.ReplyDelay < 0 || c.Chat.EmotionReplyDelay < 0 {
		return fmt.Errorf("chat reply delays must be >= 0")
	}
	if c.Challenge.TickInterval <= 0 {
		return fmt.Errorf("CHALLENGE_TICK_INTERVAL must be > 0")
	}
	if c.Challenge.FadeDelay <= 0 || c.Challenge.DismissDelay <= c.Challenge.FadeDelay {
		return fmt.Errorf("CHALLENGE_DISMISS_DELAY must be after CHALLENGE_FADE_DELAY")
	}
	if c.Challenge.BasePoints < 0 || c.Challenge.StreakPoints < 0 {
		return fmt.Errorf("challenge points must be >= 0")
	}
	if c.LiveIdleTTL <= 0 {
		return fmt.Errorf("LIVE_IDLE_TTL must be > 0")
	}
	if c.SSE.Keepalive <= 0 || c.SSE.RetryDelay <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE and SSE_RETRY_DELAY must be > 0")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0 when rate limiting is enabled")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("800ms") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
