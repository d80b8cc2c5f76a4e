package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	appErrors "github.com/noah-isme/flex-statement/pkg/errors"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// DefaultBaseURL is the broker's flex web service root.
	DefaultBaseURL = "https://ndcdyn.interactivebrokers.com/AccountManagement/FlexWebService"
	// ProtocolVersion is the request format version the service expects.
	ProtocolVersion = 3
)

type Config struct {
	Env        string
	OutputPath string

	Flex    FlexConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// FlexConfig holds credentials and transport tuning for the flex web service.
type FlexConfig struct {
	Token             string
	QueryID           string
	BaseURL           string
	Version           int
	UserAgent         string
	RequestTimeout    time.Duration
	FetchTimeout      time.Duration
	WaitDuration      time.Duration
	MaxPayloadBytes   int64
	AllowEmptyPayload bool
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig controls the optional Prometheus textfile export.
type MetricsConfig struct {
	File string
}

// Load reads configuration from the process environment and an optional .env
// file in the working directory. It does not check required keys; call
// Validate before any network activity.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, appErrors.WrapAs(appErrors.ErrConfiguration, err, "failed to read .env")
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) Config {
	cfg := Config{}

	cfg.Env = v.GetString("ENV")
	cfg.OutputPath = v.GetString("OUTPUT_PATH")

	maxPayload := v.GetInt64("FLEX_MAX_PAYLOAD_BYTES")
	if maxPayload <= 0 {
		maxPayload = 64 * 1024 * 1024
	}
	version := v.GetInt("FLEX_VERSION")
	if version <= 0 {
		version = ProtocolVersion
	}

	cfg.Flex = FlexConfig{
		Token:             strings.TrimSpace(v.GetString("TOKEN")),
		QueryID:           strings.TrimSpace(v.GetString("QUERY_ID")),
		BaseURL:           strings.TrimRight(v.GetString("FLEX_BASE_URL"), "/"),
		Version:           version,
		UserAgent:         v.GetString("FLEX_USER_AGENT"),
		RequestTimeout:    parseDuration(v.GetString("FLEX_REQUEST_TIMEOUT"), 2*time.Second),
		FetchTimeout:      parseDuration(v.GetString("FLEX_FETCH_TIMEOUT"), 10*time.Second),
		WaitDuration:      parseDuration(v.GetString("FLEX_WAIT"), 5*time.Second),
		MaxPayloadBytes:   maxPayload,
		AllowEmptyPayload: v.GetBool("FLEX_ALLOW_EMPTY"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Metrics = MetricsConfig{
		File: v.GetString("METRICS_FILE"),
	}

	return cfg
}

// Validate reports missing credentials as a configuration error.
func (c Config) Validate() error {
	var missing []string
	if c.Flex.Token == "" {
		missing = append(missing, "TOKEN")
	}
	if c.Flex.QueryID == "" {
		missing = append(missing, "QUERY_ID")
	}
	if len(missing) > 0 {
		return appErrors.Clone(appErrors.ErrConfiguration,
			fmt.Sprintf("missing required environment variables: %s", strings.Join(missing, " and ")))
	}
	if c.Flex.BaseURL == "" {
		return appErrors.Clone(appErrors.ErrConfiguration, "FLEX_BASE_URL must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("OUTPUT_PATH", "data/processed/flex_statement.csv")

	v.SetDefault("TOKEN", "")
	v.SetDefault("QUERY_ID", "")
	v.SetDefault("FLEX_BASE_URL", DefaultBaseURL)
	v.SetDefault("FLEX_VERSION", ProtocolVersion)
	v.SetDefault("FLEX_USER_AGENT", "flex-statement/1.0")
	v.SetDefault("FLEX_REQUEST_TIMEOUT", "2s")
	v.SetDefault("FLEX_FETCH_TIMEOUT", "10s")
	v.SetDefault("FLEX_WAIT", "5s")
	v.SetDefault("FLEX_MAX_PAYLOAD_BYTES", 64*1024*1024)
	v.SetDefault("FLEX_ALLOW_EMPTY", false)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("METRICS_FILE", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
