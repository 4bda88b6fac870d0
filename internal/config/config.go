package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/ucb-deployer/internal/logger"
)

// Config holds every setting of the deployer process.
type Config struct {
	// Listen is the host:port the webhook listens on.
	Listen string `yaml:"listen"`
	// WebhookPath is the route receiving build notifications.
	WebhookPath string `yaml:"webhook_path"`
	// MaxBodySize caps the accepted request body in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`
	// Secret is the shared HMAC key configured in Unity Cloud Build.
	Secret string `yaml:"secret"`
	// HealthListen is the gRPC health address; empty disables it.
	HealthListen string `yaml:"health_listen"`
	// LockFile is the PID marker guarding the output root; empty disables it.
	LockFile string `yaml:"lock_file"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// MaxWorkers bounds concurrent ingestions.
	MaxWorkers int `yaml:"max_workers"`
	// QueueSize bounds ingestions waiting for a worker.
	QueueSize int `yaml:"queue_size"`

	Paths         Paths         `yaml:"paths"`
	Download      Download      `yaml:"download"`
	Staging       Staging       `yaml:"staging"`
	Metrics       Metrics       `yaml:"metrics"`
	Notifications Notifications `yaml:"notifications"`
}

// Paths are the filesystem roots the pipeline works in.
type Paths struct {
	// Staging holds per-ingestion download and extraction directories.
	Staging string `yaml:"staging"`
	// Output holds one deployment slot per project and target.
	Output string `yaml:"output"`
	// Archives holds zip snapshots of replaced slots.
	Archives string `yaml:"archives"`
	// Accompaniment holds per-project resources merged into each install.
	Accompaniment string `yaml:"accompaniment"`
	// Journal is the SQLite database recording ingestions; empty disables it.
	Journal string `yaml:"journal"`
}

// Download tunes artifact retrieval.
type Download struct {
	// Timeout bounds a whole download.
	Timeout time.Duration `yaml:"timeout"`
	// ChunkSize is the streaming buffer size in bytes.
	ChunkSize int `yaml:"chunk_size"`
}

// Staging controls what happens to staging directories.
type Staging struct {
	// KeepOnSuccess retains staging directories of successful ingestions.
	KeepOnSuccess bool `yaml:"keep_on_success"`
}

// Metrics controls the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Notifications controls desktop notifications.
type Notifications struct {
	Enabled bool `yaml:"enabled"`
}

const (
	// DefaultConfigFilename is looked up when no --config flag is given.
	DefaultConfigFilename = "ucb-deployer.yaml"

	// DefaultListen matches a local development bind.
	DefaultListen = "127.0.0.1:8080"

	// DockerHost is the bind host used when DOCKER=1.
	DockerHost = "0.0.0.0"

	// DefaultMaxBodySize is 1 MiB.
	DefaultMaxBodySize = 1 << 20

	// DefaultMaxWorkers is the number of concurrent ingestions.
	DefaultMaxWorkers = 5

	// DefaultQueueSize is the number of ingestions allowed to wait.
	DefaultQueueSize = 64

	// DefaultDownloadTimeout bounds one artifact download.
	DefaultDownloadTimeout = 30 * time.Minute

	// DefaultChunkSize is the download buffer, 1 MiB.
	DefaultChunkSize = 1 << 20

	// DefaultFilePermissions is the default file permission for files written by the deployer.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is the default permission for directories created by the deployer.
	DefaultDirPermissions = 0o755
)

// Environment variable names.
const (
	EnvSecret     = "UCB_TOKEN"
	EnvMaxWorkers = "MAX_WORKERS"
	EnvDebug      = "APP_DEBUG"
	EnvDocker     = "DOCKER"
	EnvListen     = "UCB_LISTEN"
)

var (
	// ErrSecretRequired is returned when neither the file nor UCB_TOKEN sets a secret.
	ErrSecretRequired = errors.New("webhook secret must be provided")
	// ErrInvalidListen is returned for an unresolvable listen address.
	ErrInvalidListen = errors.New("invalid listen address")
	// ErrInvalidWorkers is returned for non-positive worker or queue sizes.
	ErrInvalidWorkers = errors.New("max_workers and queue_size must be positive")
	// ErrInvalidPaths is returned when a required path is empty.
	ErrInvalidPaths = errors.New("staging, output, archives and accompaniment paths must be set")
	// ErrInvalidLogLevel is returned for unknown log levels.
	ErrInvalidLogLevel = errors.New("unknown log level")
	// ErrInvalidDownload is returned for non-positive download settings.
	ErrInvalidDownload = errors.New("download timeout and chunk size must be positive")
	// ErrInvalidWebhookPath is returned when the webhook path is not absolute.
	ErrInvalidWebhookPath = errors.New("webhook_path must start with /")

	errConfigIsNotSet = errors.New("configuration is not set")
)

// EnvProvider looks up environment variables.
type EnvProvider interface {
	LookupEnv(key string) (string, bool)
}

// OSEnv reads the process environment.
type OSEnv struct{}

// LookupEnv implements EnvProvider.
func (OSEnv) LookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnv is an in-memory EnvProvider, handy in tests.
type MapEnv map[string]string

// LookupEnv implements EnvProvider.
func (m MapEnv) LookupEnv(key string) (string, bool) {
	v, ok := m[key]

	return v, ok
}

// Default returns the settings used when nothing else is configured.
func Default() *Config {
	return &Config{
		Listen:      DefaultListen,
		WebhookPath: "/",
		MaxBodySize: DefaultMaxBodySize,
		LockFile:    "ucb-deployer.pid",
		LogLevel:    "info",
		MaxWorkers:  DefaultMaxWorkers,
		QueueSize:   DefaultQueueSize,
		Paths: Paths{
			Staging:       "tmp",
			Output:        "output",
			Archives:      filepath.Join("output", "archives"),
			Accompaniment: filepath.Join("resources", "accompaniment"),
			Journal:       "ucb-deployer.db",
		},
		Download: Download{
			Timeout:   DefaultDownloadTimeout,
			ChunkSize: DefaultChunkSize,
		},
		Metrics: Metrics{
			Path: "/metrics",
		},
		Notifications: Notifications{
			Enabled: true,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path and env.
// An empty path skips the file; a missing file at a non-empty path is an error.
func Load(path string, env EnvProvider) (*Config, error) {
	cfg := Default()

	if path != "" {
		contents, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read settings: %w", err)
		}

		if err := yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}

	if env != nil {
		if err := applyEnv(cfg, env); err != nil {
			return nil, err
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config, env EnvProvider) error {
	if v, ok := env.LookupEnv(EnvSecret); ok && v != "" {
		cfg.Secret = v
	}

	if v, ok := env.LookupEnv(EnvMaxWorkers); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidWorkers, EnvMaxWorkers, v)
		}

		cfg.MaxWorkers = n
	}

	if v, ok := env.LookupEnv(EnvDebug); ok && isTruthy(v) {
		cfg.LogLevel = "debug"
	}

	if v, ok := env.LookupEnv(EnvListen); ok && v != "" {
		cfg.Listen = v
	}

	if v, ok := env.LookupEnv(EnvDocker); ok && strings.TrimSpace(v) == "1" {
		_, port, err := net.SplitHostPort(cfg.Listen)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidListen, err)
		}

		cfg.Listen = net.JoinHostPort(DockerHost, port)
	}

	return nil
}

func isTruthy(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))

	return err == nil && b
}

// Validate checks the provided settings for required fields and formatting.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Secret == "" {
		return ErrSecretRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.Listen); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidListen, err)
	}

	if cfg.HealthListen != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.HealthListen); err != nil {
			return fmt.Errorf("%w: health: %w", ErrInvalidListen, err)
		}
	}

	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		return ErrInvalidWebhookPath
	}

	if cfg.MaxWorkers <= 0 || cfg.QueueSize <= 0 {
		return ErrInvalidWorkers
	}

	if cfg.Download.Timeout <= 0 || cfg.Download.ChunkSize <= 0 || cfg.MaxBodySize <= 0 {
		return ErrInvalidDownload
	}

	p := cfg.Paths
	if p.Staging == "" || p.Output == "" || p.Archives == "" || p.Accompaniment == "" {
		return ErrInvalidPaths
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.LogLevel)
	}

	return nil
}

// Save writes cfg to path as YAML, omitting nothing. Used by `ucb-deployer init`.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may hold the secret.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}
