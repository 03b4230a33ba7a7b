package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken string
	AdminRoleIDs []string

	// Hypixel / SkyHelper
	HypixelAPIKey      string
	SkyHelperURLs      []string
	SkyHelperAPIKey    string
	SkyHelperAPIBearer string

	// Promotion rules file
	RoleConfigPath string

	// Database
	DatabasePath string

	// DM throttle
	DMInterval   time.Duration
	DMBackoff    time.Duration
	DMMaxRetries int

	// Metrics
	MetricsAddr string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:       os.Getenv("DISCORD_TOKEN"),
		AdminRoleIDs:       parseIDs(os.Getenv("ADMIN_ROLE_IDS")),
		HypixelAPIKey:      os.Getenv("HYPIXEL_API_KEY"),
		SkyHelperURLs:      splitList(getEnvOrDefault("SKYHELPER_API_URLS", "https://api.altpapier.dev")),
		SkyHelperAPIKey:    os.Getenv("SKYHELPER_API_KEY"),
		SkyHelperAPIBearer: os.Getenv("SKYHELPER_API_BEARER"),
		RoleConfigPath:     getEnvOrDefault("ROLE_CONFIG_PATH", "./config/role_requirements.json"),
		DatabasePath:       getEnvOrDefault("DATABASE_PATH", "./data/bot.db"),
		MetricsAddr:        os.Getenv("METRICS_ADDR"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:            getEnvOrDefault("LOG_FILE", "discord.log"),
	}

	var err error
	if cfg.DMInterval, err = durationMS("DM_INTERVAL_MS", 1200); err != nil {
		return nil, err
	}
	if cfg.DMBackoff, err = durationMS("DM_BACKOFF_MS", 3000); err != nil {
		return nil, err
	}
	if cfg.DMMaxRetries, err = strconv.Atoi(getEnvOrDefault("DM_MAX_RETRIES", "2")); err != nil || cfg.DMMaxRetries < 0 {
		return nil, fmt.Errorf("invalid DM_MAX_RETRIES: %q", os.Getenv("DM_MAX_RETRIES"))
	}

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.HypixelAPIKey == "" {
		return nil, fmt.Errorf("HYPIXEL_API_KEY is required")
	}

	return cfg, nil
}

func durationMS(key string, def int) (time.Duration, error) {
	raw := getEnvOrDefault(key, strconv.Itoa(def))
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// parseIDs keeps the numeric entries of a comma separated list
func parseIDs(raw string) []string {
	var ids []string
	for _, part := range splitList(raw) {
		if _, err := strconv.ParseUint(part, 10, 64); err == nil {
			ids = append(ids, part)
		}
	}
	return ids
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
