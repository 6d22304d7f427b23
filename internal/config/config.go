package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Game      GameConfig      `yaml:"game" json:"game"`
	Downloads DownloadsConfig `yaml:"downloads" json:"downloads"`
	Backups   BackupConfig    `yaml:"backups" json:"backups"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// HTTPConfig contains HTTP API settings
type HTTPConfig struct {
	Host string    `yaml:"host" json:"host"`
	Port int       `yaml:"port" json:"port"`
	TLS  TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig contains TLS/HTTPS settings
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	SelfSigned bool   `yaml:"self_signed" json:"self_signed"` // generate cert_file and key_file when missing
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	JWTSecret           string `yaml:"jwt_secret" json:"-"`
	AccessTokenDuration string `yaml:"access_token_duration" json:"access_token_duration"`
	BcryptCost          int    `yaml:"bcrypt_cost" json:"bcrypt_cost"`
	AdminUsername       string `yaml:"admin_username" json:"admin_username"`
	AdminPasswordHash   string `yaml:"admin_password_hash" json:"-"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	SSH       SSHConfig       `yaml:"ssh" json:"ssh"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled                bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute      int  `yaml:"requests_per_minute" json:"requests_per_minute"`
	LoginAttemptsPerMinute int  `yaml:"login_attempts_per_minute" json:"login_attempts_per_minute"` // rejected logins per client IP
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

// SSHConfig contains SSH security settings used by the SFTP backup destination
type SSHConfig struct {
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	ConfigDir string `yaml:"config_dir" json:"config_dir"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	BackupDir string `yaml:"backup_dir" json:"backup_dir"`
	ServerDir string `yaml:"server_dir" json:"server_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// MetricsConfig contains metrics collection settings
type MetricsConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	Interval      int  `yaml:"interval" json:"interval"` // seconds
	RetentionDays int  `yaml:"retention_days" json:"retention_days"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Game:      DefaultGameConfig(),
		Downloads: DefaultDownloadsConfig(),
		Backups:   DefaultBackupConfig(),
		Database: DatabaseConfig{
			Path:           "./data/papermc-manager.db",
			MaxConnections: 10,
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("JWT_SECRET", "change-me-in-production"),
			AccessTokenDuration: "12h",
			BcryptCost:          12,
			AdminUsername:       "admin",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:                true,
				RequestsPerMinute:      120,
				LoginAttemptsPerMinute: 10,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			},
			SSH: SSHConfig{
				KnownHostsPath:  "./data/known_hosts",
				TrustOnFirstUse: true,
			},
		},
		Storage: StorageConfig{
			ConfigDir: "./configs",
			DataDir:   "./data",
			BackupDir: "./data/backups",
			ServerDir: "./server",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			Interval:      15,
			RetentionDays: 2,
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFile(GetConfigPath())
}

// LoadFile loads configuration from configPath, which may not exist
func LoadFile(configPath string) (*Config, error) {
	cfg, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadLocalFile loads configuration for local tools that never serve the HTTP API,
// so auth settings are not checked.
func LoadLocalFile(configPath string) (*Config, error) {
	cfg, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateLocal(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func load(configPath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.openSecrets(); err != nil {
		return nil, err
	}

	// Normalize storage paths based on config location
	cfg.normalizeStoragePaths(configPath)

	return cfg, nil
}

func (c *Config) applyEnv() {
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.Auth.JWTSecret = jwtSecret
	}

	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		c.Auth.AdminPasswordHash = hash
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}

	if backupDir := os.Getenv("BACKUP_DIR"); backupDir != "" {
		c.Storage.BackupDir = backupDir
	}

	if serverDir := os.Getenv("SERVER_DIR"); serverDir != "" {
		c.Storage.ServerDir = serverDir
	}

	if knownHostsPath := os.Getenv("KNOWN_HOSTS_PATH"); knownHostsPath != "" {
		c.Security.SSH.KnownHostsPath = knownHostsPath
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be set to a secure value")
	}

	// Check for unexpanded environment variables
	if strings.HasPrefix(c.Auth.JWTSecret, "${") {
		return fmt.Errorf("JWT_SECRET contains unexpanded environment variable")
	}

	if _, err := time.ParseDuration(c.Auth.AccessTokenDuration); err != nil {
		return fmt.Errorf("access_token_duration is invalid: %w", err)
	}

	if c.HTTP.TLS.Enabled {
		if c.HTTP.TLS.CertFile == "" || c.HTTP.TLS.KeyFile == "" {
			return fmt.Errorf("TLS is enabled but cert_file or key_file is missing")
		}
	}

	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 14 {
		return fmt.Errorf("bcrypt_cost must be between 10 and 14")
	}

	return c.ValidateLocal()
}

// ValidateLocal checks the game, download and backup settings
func (c *Config) ValidateLocal() error {
	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	if err := c.Downloads.Validate(); err != nil {
		return fmt.Errorf("downloads: %w", err)
	}
	if err := c.Backups.Validate(); err != nil {
		return fmt.Errorf("backups: %w", err)
	}

	return nil
}

// AccessTokenTTL returns the parsed access token lifetime
func (c *Config) AccessTokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.AccessTokenDuration)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk, sealing secrets when $ENCRYPTION_KEY is set
func Save(cfg *Config, path string) error {
	cfg, err := sealedCopy(cfg)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	configDir := c.Storage.ConfigDir
	if strings.TrimSpace(configDir) == "" {
		configDir = baseDir
	}
	c.Storage.ConfigDir = resolvePath(configDir)

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.BackupDir) == "" {
		c.Storage.BackupDir = filepath.Join(c.Storage.DataDir, "backups")
	}
	c.Storage.BackupDir = resolvePath(c.Storage.BackupDir)

	if strings.TrimSpace(c.Storage.ServerDir) == "" {
		c.Storage.ServerDir = filepath.Join(rootDir, "server")
	}
	c.Storage.ServerDir = resolvePath(c.Storage.ServerDir)

	if strings.TrimSpace(c.Security.SSH.KnownHostsPath) == "" {
		c.Security.SSH.KnownHostsPath = filepath.Join(c.Storage.DataDir, "known_hosts")
	}
	c.Security.SSH.KnownHostsPath = resolvePath(c.Security.SSH.KnownHostsPath)

	if c.Backups.Destination.Type == "local" || c.Backups.Destination.Type == "" {
		if strings.TrimSpace(c.Backups.Destination.Path) == "" {
			c.Backups.Destination.Path = c.Storage.BackupDir
		}
		c.Backups.Destination.Path = resolvePath(c.Backups.Destination.Path)
	}

	if c.HTTP.TLS.SelfSigned {
		if strings.TrimSpace(c.HTTP.TLS.CertFile) == "" {
			c.HTTP.TLS.CertFile = filepath.Join(c.Storage.DataDir, "tls", "server.crt")
		}
		if strings.TrimSpace(c.HTTP.TLS.KeyFile) == "" {
			c.HTTP.TLS.KeyFile = filepath.Join(c.Storage.DataDir, "tls", "server.key")
		}
	}

	if c.Game.Console.LogFile != "" && !filepath.IsAbs(c.Game.Console.LogFile) {
		c.Game.Console.LogFile = filepath.Join(c.Storage.DataDir, c.Game.Console.LogFile)
	}
}
