package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            string
	DiscordBotToken string
	GuildIDs        []string
	RetentionWindow time.Duration
	PruneInterval   time.Duration
	JWTSecret       string
	LogLevel        string
	LogFormat       string
	Environment     string
}

func Load() *Config {
	return &Config{
		Port:            getEnvOrDefault("PORT", "8080"),
		DiscordBotToken: os.Getenv("DISCORD_BOT_TOKEN"),
		GuildIDs:        splitList(os.Getenv("GUILD_IDS")),
		RetentionWindow: time.Duration(getEnvInt("RETENTION_HOURS", 24)) * time.Hour,
		PruneInterval:   time.Duration(getEnvInt("PRUNE_INTERVAL_MINUTES", 60)) * time.Minute,
		JWTSecret:       os.Getenv("JWT_SECRET"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:       getEnvOrDefault("LOG_FORMAT", "text"),
		Environment:     getEnvOrDefault("ENVIRONMENT", "development"),
	}
}

func (c *Config) Validate() error {
	var problems []string

	if c.DiscordBotToken == "" {
		problems = append(problems, "DISCORD_BOT_TOKEN is required")
	}

	if len(c.GuildIDs) == 0 {
		problems = append(problems, "GUILD_IDS must name at least one guild")
	}

	if c.RetentionWindow <= 0 {
		problems = append(problems, "RETENTION_HOURS must be positive")
	}

	if c.PruneInterval <= 0 {
		problems = append(problems, "PRUNE_INTERVAL_MINUTES must be positive")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		problems = append(problems, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		problems = append(problems, "LOG_FORMAT must be one of: text, json")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
