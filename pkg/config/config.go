// Package config loads service settings from the process environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("invalid integer setting, using fallback", "key", key, "error", err)
		return fallback
	}
	return parsed
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("invalid boolean setting, using fallback", "key", key, "error", err)
		return fallback
	}
	return parsed
}

// GetSeconds reads an integer number of seconds as a duration.
func GetSeconds(key string, fallback int) time.Duration {
	return time.Duration(GetInt(key, fallback)) * time.Second
}
