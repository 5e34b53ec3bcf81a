package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
	envPrefix        = "RELAY_"
)

// Backend kinds.
const (
	BackendOllama   = "ollama"
	BackendLoopback = "loopback"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RelayConfig describes runtime options for relayd. It is loaded once at
// start and not modified afterwards.
type RelayConfig struct {
	Environment string
	HTTPAddress string

	Backend        string // ollama|loopback
	BackendBaseURL string
	Model          string
	// ConnectTimeout bounds dialing the backend.
	ConnectTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for the backend's first byte.
	ResponseHeaderTimeout time.Duration
	// MaxStreamDuration caps a single generation; zero means unlimited.
	MaxStreamDuration     time.Duration
	MaxRequestBytes       int64
	GenerationOptionsFile string
	KeepAlive             string
	LoopbackDelay         time.Duration

	LogFile     string
	LogLevel    string
	LogMaxBytes int64

	// LedgerPath is empty to disable accounting, a postgres:// DSN, or a SQLite file path.
	LedgerPath  string
	LedgerAsync bool

	ShutdownTimeout time.Duration
}

// LedgerEnabled reports whether a ledger is configured.
func (c RelayConfig) LedgerEnabled() bool {
	return strings.TrimSpace(c.LedgerPath) != ""
}

// LedgerIsPostgres reports whether LedgerPath is a Postgres DSN.
func (c RelayConfig) LedgerIsPostgres() bool {
	p := strings.TrimSpace(c.LedgerPath)
	return strings.HasPrefix(p, "postgres://") || strings.HasPrefix(p, "postgresql://")
}

// LoadRelayConfig reads config/setting.ini, merges config/<env>/relay.ini over
// it, then applies RELAY_* environment overrides.
func LoadRelayConfig(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}
	if env := os.Getenv(envPrefix + "ENV"); strings.TrimSpace(env) != "" {
		s.Environment = strings.TrimSpace(env)
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return RelayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string) string {
		return firstNonEmpty(os.Getenv(envPrefix+strings.ToUpper(key)), merged[key])
	}

	cfg := RelayConfig{
		Environment:           s.Environment,
		HTTPAddress:           firstNonEmpty(get("http_address"), ":8080"),
		Backend:               strings.ToLower(firstNonEmpty(get("backend"), BackendOllama)),
		BackendBaseURL:        firstNonEmpty(get("backend_base_url"), "http://localhost:11434"),
		Model:                 firstNonEmpty(get("model"), "llama3"),
		GenerationOptionsFile: get("generation_options_file"),
		KeepAlive:             get("keep_alive"),
		LogFile:               get("log_file"),
		LogLevel:              strings.ToLower(firstNonEmpty(get("log_level"), "info")),
		LedgerPath:            strings.TrimSpace(get("ledger_path")),
		LedgerAsync:           parseOptionalBool(get("ledger_async"), true),
	}

	durations := []struct {
		key      string
		target   *time.Duration
		fallback time.Duration
	}{
		{"connect_timeout", &cfg.ConnectTimeout, 5 * time.Second},
		{"response_header_timeout", &cfg.ResponseHeaderTimeout, 60 * time.Second},
		{"max_stream_duration", &cfg.MaxStreamDuration, 0},
		{"loopback_delay", &cfg.LoopbackDelay, 0},
		{"shutdown_timeout", &cfg.ShutdownTimeout, 10 * time.Second},
	}
	for _, d := range durations {
		v, err := parseOptionalDuration(get(d.key), d.fallback)
		if err != nil {
			return RelayConfig{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = v
	}

	if cfg.MaxRequestBytes, err = parseOptionalSize(get("max_request_bytes"), 8<<20); err != nil {
		return RelayConfig{}, fmt.Errorf("invalid max_request_bytes: %w", err)
	}
	if cfg.LogMaxBytes, err = parseOptionalSize(get("log_max_bytes"), 64<<20); err != nil {
		return RelayConfig{}, fmt.Errorf("invalid log_max_bytes: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c RelayConfig) Validate() error {
	switch c.Backend {
	case BackendOllama:
		u, err := url.Parse(c.BackendBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid backend_base_url %q", c.BackendBaseURL)
		}
		if strings.TrimSpace(c.Model) == "" {
			return errors.New("model required for ollama backend")
		}
	case BackendLoopback:
	default:
		return fmt.Errorf("unknown backend %q (want ollama or loopback)", c.Backend)
	}
	if c.MaxRequestBytes <= 0 {
		return errors.New("max_request_bytes must be positive")
	}
	if c.KeepAlive != "" {
		if _, err := time.ParseDuration(c.KeepAlive); err != nil {
			return fmt.Errorf("invalid keep_alive %q: %w", c.KeepAlive, err)
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"`)
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	if v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}

// parseOptionalSize accepts plain byte counts or KiB/MiB/GiB suffixes.
func parseOptionalSize(v string, fallback int64) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	mult := int64(1)
	upper := strings.ToUpper(v)
	for _, suffix := range []struct {
		s string
		m int64
	}{{"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10}, {"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}} {
		if strings.HasSuffix(upper, suffix.s) {
			mult = suffix.m
			v = strings.TrimSpace(v[:len(v)-len(suffix.s)])
			break
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	return n * mult, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
