package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string

	CatalogOverlayPath string

	JWTSecret     string
	TokenTTLHrs   int
	MCPEndpoint   string
	MCPTimeoutSec int

	LLMProvider      string // openai
	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	LLMReviewerModel string
	LLMTimeoutSec    int

	AgentMaxSteps   int
	ReviewerEnabled bool

	AlarmPollSec int

	HeartbeatEnabled     bool
	HeartbeatIntervalSec int
	HeartbeatStaleSec    int

	WeatherGeocodeURL  string
	WeatherForecastURL string
	WeatherUnits       string
	WeatherTimeoutSec  int
}

func FromEnv() Config {
	dataDir := stringOrDefault("WARDEN_DATA_DIR", "/data")
	dbPath := stringOrDefault("WARDEN_DB_PATH", filepath.Join(dataDir, "warden", "warden.sqlite"))

	return Config{
		Environment: stringOrDefault("WARDEN_ENV", "development"),
		HTTPAddr:    stringOrDefault("WARDEN_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      dbPath,

		CatalogOverlayPath: stringOrDefault("WARDEN_CATALOG_OVERLAY", filepath.Join(dataDir, "warden", "catalog.json")),

		JWTSecret:     stringOrDefault("WARDEN_JWT_SECRET", "dev-secret-change-me"),
		TokenTTLHrs:   intOrDefault("WARDEN_TOKEN_TTL_HOURS", 12),
		MCPEndpoint:   stringOrDefault("WARDEN_MCP_ENDPOINT", "http://127.0.0.1:8080/mcp"),
		MCPTimeoutSec: intOrDefault("WARDEN_MCP_TIMEOUT_SECONDS", 30),

		LLMProvider:      stringOrDefault("WARDEN_LLM_PROVIDER", "openai"),
		LLMBaseURL:       stringOrDefault("WARDEN_LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:        strings.TrimSpace(os.Getenv("WARDEN_LLM_API_KEY")),
		LLMModel:         stringOrDefault("WARDEN_LLM_MODEL", "gpt-4o-mini"),
		LLMReviewerModel: strings.TrimSpace(os.Getenv("WARDEN_LLM_REVIEWER_MODEL")),
		LLMTimeoutSec:    intOrDefault("WARDEN_LLM_TIMEOUT_SECONDS", 60),

		AgentMaxSteps:   intOrDefault("WARDEN_AGENT_MAX_STEPS", 8),
		ReviewerEnabled: boolOrDefault("WARDEN_REVIEWER_ENABLED", true),

		AlarmPollSec: intOrDefault("WARDEN_ALARM_POLL_SECONDS", 15),

		HeartbeatEnabled:     boolOrDefault("WARDEN_HEARTBEAT_ENABLED", true),
		HeartbeatIntervalSec: intOrDefault("WARDEN_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:    intOrDefault("WARDEN_HEARTBEAT_STALE_SECONDS", 120),

		WeatherGeocodeURL:  strings.TrimSpace(os.Getenv("WARDEN_WEATHER_GEOCODE_URL")),
		WeatherForecastURL: strings.TrimSpace(os.Getenv("WARDEN_WEATHER_FORECAST_URL")),
		WeatherUnits:       stringOrDefault("WARDEN_WEATHER_UNITS", "metric"),
		WeatherTimeoutSec:  intOrDefault("WARDEN_WEATHER_TIMEOUT_SECONDS", 8),
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
