// Package config loads and validates shade-nvim runtime configuration from
// YAML, with environment overrides for the fields that scripts commonly set.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB

	// EnvSocket overrides the configured socket path. It is what
	// `:echo v:servername` scripts export before launching the client.
	EnvSocket = "SHADE_NVIM_SOCKET"

	defaultDialTimeoutMS    = 3000
	defaultRequestTimeoutMS = 15000
)

// Test seams.
var (
	readFileFn    = readLimitedFile
	lookupEnvFn   = os.LookupEnv
	userHomeDirFn = os.UserHomeDir
)

// unixSocketPattern accepts absolute filesystem paths. windowsPipePattern
// accepts named pipe paths like \\.\pipe\nvim.12345.0.
var (
	unixSocketPattern  = regexp.MustCompile(`^/[^\x00]+$`)
	windowsPipePattern = regexp.MustCompile(`^\\\\\.\\pipe\\[^\x00\\]+$`)
)

// Config is shade-nvim runtime configuration.
type Config struct {
	// Socket is the editor's RPC endpoint: a unix socket path, or a named
	// pipe path on Windows. Required unless provided via flag or env.
	Socket string `yaml:"socket" json:"socket"`

	// WaitForSocket makes startup block until the socket appears instead of
	// failing when the editor has not finished booting.
	WaitForSocket bool `yaml:"wait_for_socket" json:"wait_for_socket"`

	DialTimeoutMS    int `yaml:"dial_timeout_ms" json:"dial_timeout_ms"`
	RequestTimeoutMS int `yaml:"request_timeout_ms" json:"request_timeout_ms"`

	// BridgeAddr is the listen address for the WebSocket event bridge.
	// Empty disables the bridge. Loopback only.
	BridgeAddr string `yaml:"bridge_addr,omitempty" json:"bridge_addr,omitempty"`

	// TraceDB is the SQLite file receiving the RPC trace. Empty disables
	// tracing.
	TraceDB string `yaml:"trace_db,omitempty" json:"trace_db,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns the defaults applied when fields are absent.
func DefaultConfig() Config {
	return Config{
		DialTimeoutMS:    defaultDialTimeoutMS,
		RequestTimeoutMS: defaultRequestTimeoutMS,
		LogLevel:         "info",
	}
}

// DefaultPath resolves the config file location: $XDG_CONFIG_HOME or
// ~/.config on unix, LOCALAPPDATA on Windows, falling back to the temp dir
// when no home directory resolves.
func DefaultPath() string {
	var base string
	if runtime.GOOS == "windows" {
		base = strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
	} else {
		base = strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[config] using temp dir as config path fallback", "error", err)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "shade-nvim", "config.yaml")
}

// Load reads the config file, applies defaults and environment overrides,
// and validates the result. A missing file yields defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readFileFn(path, maxConfigFileBytes)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save validates cfg and atomically writes it to path.
func Save(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path required")
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save config: marshal: %w", err)
	}
	return atomicWrite(path, raw)
}

// DialTimeout converts the millisecond field. YAML has no duration type, so
// timeouts are stored as integer milliseconds.
func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// Level parses LogLevel into a slog level, defaulting to Info for anything
// unrecognized.
func (c Config) Level() slog.Level {
	lvl, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ParseLogLevel maps the config/flag spelling to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ValidSocketPath reports whether s looks like a dialable local endpoint.
func ValidSocketPath(s string) bool {
	return unixSocketPattern.MatchString(s) || windowsPipePattern.MatchString(s)
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnvFn(EnvSocket); ok {
		v = strings.TrimSpace(v)
		if ValidSocketPath(v) {
			cfg.Socket = v
		} else {
			slog.Warn("[config] ignoring invalid socket path from environment",
				"var", EnvSocket, "value", v)
		}
	}
}

// applyDefaultsAndValidate fills missing defaults and validates cfg in-place.
func applyDefaultsAndValidate(cfg *Config) error {
	if cfg.DialTimeoutMS <= 0 {
		cfg.DialTimeoutMS = defaultDialTimeoutMS
	}
	if cfg.RequestTimeoutMS <= 0 {
		cfg.RequestTimeoutMS = defaultRequestTimeoutMS
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		slog.Warn("[config] unknown log_level, falling back to info", "configured", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	cfg.Socket = strings.TrimSpace(cfg.Socket)
	if cfg.Socket != "" && !ValidSocketPath(cfg.Socket) {
		return fmt.Errorf("socket %q is not an absolute socket path or named pipe", cfg.Socket)
	}

	cfg.BridgeAddr = strings.TrimSpace(cfg.BridgeAddr)
	if cfg.BridgeAddr != "" {
		if err := validateLoopbackAddr(cfg.BridgeAddr); err != nil {
			return fmt.Errorf("bridge_addr: %w", err)
		}
	}
	return nil
}

// validateLoopbackAddr rejects bridge listen addresses that would expose the
// editor to the network. The bridge carries whatever the editor emits, so it
// never binds beyond loopback.
func validateLoopbackAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("listen address %q is not loopback", addr)
	}
	return nil
}

// atomicWrite uses temp-file + rename in the target directory so a crash
// never leaves a partially written config behind.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Close(); err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}
