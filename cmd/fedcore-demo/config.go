package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// config holds the demo app's runtime configuration, loaded from
// environment variables the same way internal/config.Config.Load does for
// the teacher bridge — one getEnv/parseDuration/parseInt helper set, no
// config file format, exiting only on the one setting the app truly can't
// run without (the domain it's federating as).
type config struct {
	LocalDomain string // e.g. https://demo.example.org
	Username    string // the single actor this demo serves, e.g. "alice"
	DatabaseURL string // sqlite file path, sqlite://, or postgres:// DSN
	Port        string

	RSAPrivateKeyPath string
	RSAPublicKeyPath  string

	InboxCacheTTL     time.Duration
	RetryPollInterval time.Duration

	MaxConcurrentActivities int
	MaxPerOriginConcurrency int
}

func loadConfig() *config {
	domain := getEnv("LOCAL_DOMAIN", "")
	if domain == "" {
		fatalln("LOCAL_DOMAIN must be set, e.g. https://demo.example.org")
	}
	return &config{
		LocalDomain:       strings.TrimRight(domain, "/"),
		Username:          getEnv("FEDCORE_USERNAME", "demo"),
		DatabaseURL:       getEnv("DATABASE_URL", "fedcore-demo.db"),
		Port:              getEnv("PORT", "8000"),
		RSAPrivateKeyPath: getEnv("RSA_PRIVATE_KEY_PATH", "private.pem"),
		RSAPublicKeyPath:  getEnv("RSA_PUBLIC_KEY_PATH", "public.pem"),
		InboxCacheTTL:           parseDuration(os.Getenv("KEY_CACHE_TTL"), time.Hour),
		RetryPollInterval:       parseDuration(os.Getenv("RETRY_POLL_INTERVAL"), 500*time.Millisecond),
		MaxConcurrentActivities: parseInt(os.Getenv("MAX_CONCURRENT_ACTIVITIES"), 0),
		MaxPerOriginConcurrency: parseInt(os.Getenv("MAX_PER_ORIGIN_CONCURRENCY"), 0),
	}
}

func (c *config) actorURL() string       { return c.BaseURL("/users/" + c.Username) }
func (c *config) inboxURL() string       { return c.BaseURL("/users/" + c.Username + "/inbox") }
func (c *config) sharedInboxURL() string { return c.BaseURL("/inbox") }

// BaseURL joins path onto LocalDomain.
func (c *config) BaseURL(path string) string {
	return c.LocalDomain + path
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}

func fatalln(msg string) {
	os.Stderr.WriteString("ERROR: " + msg + "\n")
	os.Exit(1)
}
