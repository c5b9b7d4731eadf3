package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for feedwatcher.
type Config struct {
	InstanceID string           `toml:"instance_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // debug, info (default), warn or error
	Store      StoreConfig      `toml:"store"`
	Source     SourceConfig     `toml:"source"`
	Archive    ArchiveConfig    `toml:"archive"`
	Encryption EncryptionConfig `toml:"encryption"`
	Worker     WorkerConfig     `toml:"worker"`
	Server     ServerConfig     `toml:"server"`
}

// StoreConfig represents configuration for the key-value store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" (default), "badger" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for sqlite and badger
}

// SourceConfig represents configuration for the feed source and the signed-in session.
type SourceConfig struct {
	Type        string `toml:"type"`         // "graph"
	BaseURL     string `toml:"base_url"`     // defaults to https://graph.facebook.com
	APIVersion  string `toml:"api_version"`  // defaults to v2.1
	CookiesPath string `toml:"cookies_path"` // exported browser cookies (JSON)
	TokenPath   string `toml:"token_path"`   // bearer token of the session
}

// ArchiveConfig represents configuration for the archive backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type        string `toml:"type"` // "github" (default), "filesystem", "s3" or "memory"
	AuthorName  string `toml:"author_name,omitempty"`
	AuthorEmail string `toml:"author_email,omitempty"`

	// GitHub-specific fields (only used when Type == "github")
	GitHubAPIURL string `toml:"github_api_url,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
}

// EncryptionConfig controls how the archive credential is sealed at rest.
type EncryptionConfig struct {
	Type         string `toml:"type"`          // "age" (default) or "none"
	IdentityPath string `toml:"identity_path"` // age X25519 identity file
}

// WorkerConfig tunes the polling engine.
type WorkerConfig struct {
	TickSeconds           int `toml:"tick_seconds"`
	StartupDelaySeconds   int `toml:"startup_delay_seconds"`
	ScanPageSize          int `toml:"scan_page_size"`
	DatePageSize          int `toml:"date_page_size"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"` // 0 disables the timeout
}

// ServerConfig holds the address of the local message boundary.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

const (
	DefaultGraphURL   = "https://graph.facebook.com"
	DefaultAPIVersion = "v2.1"
	DefaultListen     = "127.0.0.1:7878"
)

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(instanceID, baseDir string) *Config {
	cfg := &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		Store: StoreConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Source: SourceConfig{
			Type:        "graph",
			CookiesPath: filepath.Join(baseDir, "session", "cookies.json"),
			TokenPath:   filepath.Join(baseDir, "session", "token"),
		},
		Archive: ArchiveConfig{Type: "github"},
		Encryption: EncryptionConfig{
			Type:         "age",
			IdentityPath: filepath.Join(baseDir, "keys", "credential.key"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Source.Type == "" {
		c.Source.Type = "graph"
	}
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = DefaultGraphURL
	}
	if c.Source.APIVersion == "" {
		c.Source.APIVersion = DefaultAPIVersion
	}
	if c.Worker.TickSeconds <= 0 {
		c.Worker.TickSeconds = 60
	}
	if c.Worker.StartupDelaySeconds <= 0 {
		c.Worker.StartupDelaySeconds = 1
	}
	if c.Worker.ScanPageSize <= 0 {
		c.Worker.ScanPageSize = 10
	}
	if c.Worker.DatePageSize <= 0 {
		c.Worker.DatePageSize = 100
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
