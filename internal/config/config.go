// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/patchbot/internal/dispatch"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	DBPath         string
	LogLevel       slog.Level
	LogBufferLines int
	GatewayToken   string
	AllowedOrigin  string
	GRPCHealthAddr string

	PixelDrain PixelDrainConfig
	GitHub     GitHubConfig
	Catalog    CatalogConfig

	OwnerID            string
	DailyDispatchLimit int
	RateLimitLocation  *time.Location
	ArtifactDir        string
	SessionIdleTTL     time.Duration // 0 disables idle reaping
	HistoryRetention   time.Duration // 0 keeps history forever
}

// PixelDrainConfig configures the artifact host.
type PixelDrainConfig struct {
	APIKey string
	APIURL string
}

// GitHubConfig configures workflow dispatch.
type GitHubConfig struct {
	Token      string
	Owner      string
	Repo       string
	Ref        string
	APIURL     string
	WorkflowID string
	// Workflows maps API levels to workflow files and wins over the
	// built-in table.
	Workflows     map[string]string
	TemplatesFile string
}

// CatalogConfig configures the device catalog.
type CatalogConfig struct {
	URL      string
	CacheTTL time.Duration
}

// perLevelWorkflowEnv maps API levels to their override variables.
var perLevelWorkflowEnv = map[string]string{
	"33": "GITHUB_WORKFLOW_ID_A13",
	"34": "GITHUB_WORKFLOW_ID_A14",
	"35": "GITHUB_WORKFLOW_ID_A15",
	"36": "GITHUB_WORKFLOW_ID_A16",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := time.LoadLocation(getEnv("RATE_LIMIT_TZ", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: RATE_LIMIT_TZ: %w", err)
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./data/patchbot.db"),
		LogLevel:       level,
		LogBufferLines: getEnvInt("LOG_BUFFER_LINES", 1000),
		GatewayToken:   getEnv("GATEWAY_TOKEN", ""),
		AllowedOrigin:  getEnv("ALLOWED_ORIGIN", "*"),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		PixelDrain: PixelDrainConfig{
			APIKey: getEnv("PIXELDRAIN_API_KEY", ""),
			APIURL: strings.TrimRight(getEnv("PIXELDRAIN_API_URL", "https://pixeldrain.com/api"), "/"),
		},
		GitHub: GitHubConfig{
			Token:         getEnv("GITHUB_TOKEN", ""),
			Owner:         getEnv("GITHUB_OWNER", ""),
			Repo:          getEnv("GITHUB_REPO", ""),
			Ref:           getEnv("GITHUB_REF", "master"),
			APIURL:        strings.TrimRight(getEnv("GITHUB_API_URL", "https://api.github.com"), "/"),
			WorkflowID:    getEnv("GITHUB_WORKFLOW_ID", ""),
			TemplatesFile: getEnv("WORKFLOW_TEMPLATES_FILE", ""),
			Workflows:     make(map[string]string),
		},
		Catalog: CatalogConfig{
			URL:      strings.TrimRight(getEnv("CATALOG_URL", "http://localhost:9837"), "/"),
			CacheTTL: getEnvDuration("CATALOG_CACHE_TTL", 30*time.Minute),
		},
		OwnerID:            getEnv("OWNER_ID", ""),
		DailyDispatchLimit: getEnvInt("DAILY_DISPATCH_LIMIT", 3),
		RateLimitLocation:  loc,
		ArtifactDir:        getEnv("ARTIFACT_DIR", os.TempDir()),
		SessionIdleTTL:     getEnvDuration("SESSION_IDLE_TTL", 0),
		HistoryRetention:   getEnvDuration("HISTORY_RETENTION", 720*time.Hour),
	}

	if cfg.GitHub.TemplatesFile != "" {
		overrides, err := dispatch.LoadOverrides(cfg.GitHub.TemplatesFile)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		for level, wf := range overrides {
			cfg.GitHub.Workflows[level] = wf
		}
	}
	for level, key := range perLevelWorkflowEnv {
		if wf := getEnv(key, ""); wf != "" {
			cfg.GitHub.Workflows[level] = wf
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	required := []struct{ key, value string }{
		{"PIXELDRAIN_API_KEY", c.PixelDrain.APIKey},
		{"GITHUB_TOKEN", c.GitHub.Token},
		{"GITHUB_OWNER", c.GitHub.Owner},
		{"GITHUB_REPO", c.GitHub.Repo},
		{"GITHUB_WORKFLOW_ID", c.GitHub.WorkflowID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}
	if c.DailyDispatchLimit <= 0 {
		errs = append(errs, errors.New("DAILY_DISPATCH_LIMIT must be > 0"))
	}
	if c.LogBufferLines <= 0 {
		errs = append(errs, errors.New("LOG_BUFFER_LINES must be > 0"))
	}
	if c.SessionIdleTTL < 0 || c.HistoryRetention < 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TTL and HISTORY_RETENTION cannot be negative"))
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare numbers are seconds.
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// IsContainer reports whether the process runs inside a container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
