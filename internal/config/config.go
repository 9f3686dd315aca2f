package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sheerbytes/camrelay/internal/transfer"
	"gopkg.in/yaml.v3"
)

// Event sources.
const (
	SourceParticle  = "particle"
	SourceWebSocket = "ws"
)

// RelayConfig holds configuration for the relay binary.
type RelayConfig struct {
	Source            string        `yaml:"source"`
	ProductID         int           `yaml:"product_id"`
	Token             string        `yaml:"token"`
	APIURL            string        `yaml:"api_url"`
	WSURL             string        `yaml:"ws_url"`
	EventName         string        `yaml:"event_name"`
	LocationEventName string        `yaml:"location_event_name"`
	FunctionName      string        `yaml:"function_name"`
	DataDir           string        `yaml:"data_dir"`
	CatalogPath       string        `yaml:"catalog_path"` // empty disables the catalog
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	Digest            string        `yaml:"digest"`
	ChunkTimeout      time.Duration `yaml:"chunk_timeout"`
	RestartDelay      time.Duration `yaml:"restart_delay"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	CallsPerSecond    float64       `yaml:"calls_per_second"`
	CallBurst         int           `yaml:"call_burst"`
	MaxFileSize       int           `yaml:"max_file_size"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() RelayConfig {
	return RelayConfig{
		Source:            SourceParticle,
		APIURL:            "https://api.particle.io",
		EventName:         "camera",
		LocationEventName: "loc",
		FunctionName:      "camera",
		DataDir:           "./data",
		LogLevel:          "info",
		LogFormat:         "text",
		Digest:            transfer.DigestSHA1,
		ChunkTimeout:      20 * time.Second,
		RestartDelay:      30 * time.Second,
		RetryDelay:        20 * time.Second,
		ReconnectDelay:    5 * time.Second,
		CallsPerSecond:    2,
		CallBurst:         4,
		MaxFileSize:       16 << 20,
	}
}

// ParseRelayConfig parses relay configuration from an optional YAML file,
// environment variables and flags, in increasing precedence.
func ParseRelayConfig() (RelayConfig, error) {
	return parseRelayConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseRelayConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseRelayConfigWithFlagSet(fs *flag.FlagSet, args []string) (RelayConfig, error) {
	cfg := Defaults()

	path := os.Getenv("CAMRELAY_CONFIG")
	if p, ok := configFlag(args); ok {
		path = p
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return RelayConfig{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return RelayConfig{}, err
	}

	// Flags override file and environment
	fs.String("config", path, "path to a YAML config file")
	fs.StringVar(&cfg.Source, "source", cfg.Source, "event source (particle, ws)")
	fs.IntVar(&cfg.ProductID, "product-id", cfg.ProductID, "Particle product id")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "API access token")
	fs.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "Particle API base URL")
	fs.StringVar(&cfg.WSURL, "ws-url", cfg.WSURL, "websocket event feed URL (ws source)")
	fs.StringVar(&cfg.EventName, "event-name", cfg.EventName, "name of transfer events")
	fs.StringVar(&cfg.LocationEventName, "location-event-name", cfg.LocationEventName, "name of location events")
	fs.StringVar(&cfg.FunctionName, "function-name", cfg.FunctionName, "device function that receives commands")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for saved artifacts")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "sqlite transfer catalog path (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")
	fs.StringVar(&cfg.Digest, "digest", cfg.Digest, "file digest algorithm (sha1, sha256, crc32c)")
	fs.DurationVar(&cfg.ChunkTimeout, "chunk-timeout", cfg.ChunkTimeout, "wait after the last chunk before requesting missing chunks")
	fs.DurationVar(&cfg.RestartDelay, "restart-delay", cfg.RestartDelay, "wait after a failed verification before requesting a restart")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "wait between failed command deliveries")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "wait before reconnecting the event source")
	fs.Float64Var(&cfg.CallsPerSecond, "calls-per-second", cfg.CallsPerSecond, "device function call rate limit (0 disables)")
	fs.IntVar(&cfg.CallBurst, "call-burst", cfg.CallBurst, "device function call burst")
	fs.IntVar(&cfg.MaxFileSize, "max-file-size", cfg.MaxFileSize, "largest accepted file in bytes")
	if err := fs.Parse(args); err != nil {
		return RelayConfig{}, err
	}

	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *RelayConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports misconfiguration.
func (c RelayConfig) Validate() error {
	var errs []error
	switch c.Source {
	case SourceParticle:
		if c.ProductID <= 0 {
			errs = append(errs, errors.New("product id is required for the particle source"))
		}
		if c.Token == "" {
			errs = append(errs, errors.New("token is required for the particle source"))
		}
		if c.APIURL == "" {
			errs = append(errs, errors.New("api url is required for the particle source"))
		}
	case SourceWebSocket:
		if c.WSURL == "" {
			errs = append(errs, errors.New("ws url is required for the ws source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	if c.EventName == "" || c.LocationEventName == "" {
		errs = append(errs, errors.New("event names must not be empty"))
	} else if c.EventName == c.LocationEventName {
		errs = append(errs, errors.New("event name and location event name must differ"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir is required"))
	}
	if c.ChunkTimeout <= 0 || c.RestartDelay <= 0 || c.RetryDelay <= 0 {
		errs = append(errs, errors.New("chunk timeout, restart delay and retry delay must be positive"))
	} else if c.RestartDelay <= c.ChunkTimeout {
		errs = append(errs, errors.New("restart delay must be longer than chunk timeout"))
	}
	if c.CallsPerSecond < 0 {
		errs = append(errs, errors.New("calls per second must not be negative"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, errors.New("max file size must be positive"))
	}
	if _, err := transfer.NewVerifier(c.Digest); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// configFlag finds -config/--config in args without consuming them.
func configFlag(args []string) (string, bool) {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value, true
		}
		if i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func applyEnv(cfg *RelayConfig) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"CAMRELAY_SOURCE", &cfg.Source},
		{"AUTH_TOKEN", &cfg.Token},
		{"CAMRELAY_TOKEN", &cfg.Token},
		{"CAMRELAY_API_URL", &cfg.APIURL},
		{"CAMRELAY_WS_URL", &cfg.WSURL},
		{"CAMRELAY_EVENT_NAME", &cfg.EventName},
		{"CAMRELAY_LOCATION_EVENT_NAME", &cfg.LocationEventName},
		{"CAMRELAY_FUNCTION_NAME", &cfg.FunctionName},
		{"CAMRELAY_DATA_DIR", &cfg.DataDir},
		{"CAMRELAY_CATALOG_PATH", &cfg.CatalogPath},
		{"CAMRELAY_LOG_LEVEL", &cfg.LogLevel},
		{"CAMRELAY_LOG_FORMAT", &cfg.LogFormat},
		{"CAMRELAY_DIGEST", &cfg.Digest},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CAMRELAY_PRODUCT_ID", &cfg.ProductID},
		{"CAMRELAY_CALL_BURST", &cfg.CallBurst},
		{"CAMRELAY_MAX_FILE_SIZE", &cfg.MaxFileSize},
	}
	for _, s := range ints {
		if v := os.Getenv(s.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", s.key, err)
			}
			*s.dst = n
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CAMRELAY_CHUNK_TIMEOUT", &cfg.ChunkTimeout},
		{"CAMRELAY_RESTART_DELAY", &cfg.RestartDelay},
		{"CAMRELAY_RETRY_DELAY", &cfg.RetryDelay},
		{"CAMRELAY_RECONNECT_DELAY", &cfg.ReconnectDelay},
	}
	for _, s := range durations {
		if v := os.Getenv(s.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", s.key, err)
			}
			*s.dst = d
		}
	}

	if v := os.Getenv("CAMRELAY_CALLS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CAMRELAY_CALLS_PER_SECOND: %w", err)
		}
		cfg.CallsPerSecond = f
	}
	return nil
}
