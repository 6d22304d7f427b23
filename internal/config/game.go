package config

import (
	"fmt"
	"strings"
	"time"
)

// GameConfig contains the settings of the supervised PaperMC process
type GameConfig struct {
	JavaPath       string        `yaml:"java_path" json:"java_path"`
	Executable     string        `yaml:"executable" json:"executable"`
	JavaArgs       []string      `yaml:"java_args" json:"java_args"`
	ServerArgs     []string      `yaml:"server_args" json:"server_args"`
	StartupTimeout string        `yaml:"startup_timeout" json:"startup_timeout"`
	ReadyPattern   string        `yaml:"ready_pattern" json:"ready_pattern"`
	StopCommand    string        `yaml:"stop_command" json:"stop_command"`
	StopTimeout    string        `yaml:"stop_timeout" json:"stop_timeout"`
	KillGrace      string        `yaml:"kill_grace" json:"kill_grace"`
	StopWarnings   []StopWarning `yaml:"stop_warnings" json:"stop_warnings"`
	SaveCommand    string        `yaml:"save_command" json:"save_command"`
	SaveAckPattern string        `yaml:"save_ack_pattern" json:"save_ack_pattern"`
	SaveTimeout    string        `yaml:"save_timeout" json:"save_timeout"`
	SaveSchedule   string        `yaml:"save_schedule" json:"save_schedule"` // cron expression, empty disables
	AutoStart      bool          `yaml:"auto_start" json:"auto_start"`
	Console        ConsoleConfig `yaml:"console" json:"console"`
}

// StopWarning is broadcast with "say" before a graceful stop
type StopWarning struct {
	Delay   string `yaml:"delay" json:"delay"`
	Message string `yaml:"message" json:"message"`
}

// ConsoleConfig contains console buffering and logging settings
type ConsoleConfig struct {
	BufferLines    int    `yaml:"buffer_lines" json:"buffer_lines"`
	LogFile        string `yaml:"log_file" json:"log_file"`
	LogMaxSize     int    `yaml:"log_max_size" json:"log_max_size"`
	LogMaxBackups  int    `yaml:"log_max_backups" json:"log_max_backups"`
	LogMaxAge      int    `yaml:"log_max_age" json:"log_max_age"`
	HistoryEnabled bool   `yaml:"history_enabled" json:"history_enabled"`
}

// DownloadsConfig contains download sources for the server jar and plugins
type DownloadsConfig struct {
	ServerURL    string            `yaml:"server_url" json:"server_url"`
	ServerSHA256 string            `yaml:"server_sha256" json:"server_sha256"`
	Timeout      string            `yaml:"timeout" json:"timeout"`
	UserAgent    string            `yaml:"user_agent" json:"user_agent"`
	Plugins      map[string]string `yaml:"plugins" json:"plugins"`
}

// BackupConfig contains world backup settings
type BackupConfig struct {
	Enabled     bool              `yaml:"enabled" json:"enabled"`
	Schedule    string            `yaml:"schedule" json:"schedule"`
	Directories []string          `yaml:"directories" json:"directories"`
	Exclude     []string          `yaml:"exclude" json:"exclude"`
	Compression CompressionConfig `yaml:"compression" json:"compression"`
	Retention   RetentionConfig   `yaml:"retention" json:"retention"`
	Destination BackupDestination `yaml:"destination" json:"destination"`
}

// CompressionConfig selects the archive format
type CompressionConfig struct {
	Type  string `yaml:"type" json:"type"` // "gzip" or "none"
	Level int    `yaml:"level" json:"level"`
}

// RetentionConfig specifies backup retention policy
type RetentionConfig struct {
	Count int `yaml:"count" json:"count"` // Keep last N backups
}

// BackupDestination represents a backup storage destination
type BackupDestination struct {
	Type string `yaml:"type" json:"type"` // "local", "sftp", "s3"
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Bucket          string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	PathPrefix      string `yaml:"path_prefix,omitempty" json:"path_prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"-"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"-"`

	Host           string `yaml:"host,omitempty" json:"host,omitempty"`
	Port           int    `yaml:"port,omitempty" json:"port,omitempty"`
	Username       string `yaml:"username,omitempty" json:"username,omitempty"`
	Password       string `yaml:"password,omitempty" json:"-"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty" json:"private_key_path,omitempty"`
}

// DefaultGameConfig returns PaperMC defaults
func DefaultGameConfig() GameConfig {
	return GameConfig{
		JavaPath:       "java",
		Executable:     "paper-1.21.1-123.jar",
		JavaArgs:       []string{"-Xms2G", "-Xmx2G"},
		ServerArgs:     []string{"nogui"},
		StartupTimeout: "120s",
		ReadyPattern:   "Done (",
		StopCommand:    "stop",
		StopTimeout:    "60s",
		KillGrace:      "5s",
		StopWarnings: []StopWarning{
			{Delay: "0s", Message: "Server shutting down in 10 seconds..."},
			{Delay: "10s", Message: "Server shutting down now"},
		},
		SaveCommand:    "save-all",
		SaveAckPattern: "Saved the game",
		SaveTimeout:    "30s",
		Console: ConsoleConfig{
			BufferLines:    1000,
			LogFile:        "console/console.log",
			LogMaxSize:     50,
			LogMaxBackups:  10,
			LogMaxAge:      14,
			HistoryEnabled: true,
		},
	}
}

// DefaultDownloadsConfig returns the PaperMC build and plugin sources
func DefaultDownloadsConfig() DownloadsConfig {
	return DownloadsConfig{
		ServerURL: "https://api.papermc.io/v2/projects/paper/versions/1.21.1/builds/123/downloads/paper-1.21.1-123.jar",
		Timeout:   "10m",
		UserAgent: "papermc-setup",
		Plugins: map[string]string{
			"geyser":     "https://download.geysermc.org/v2/projects/geyser/versions/latest/builds/latest/downloads/spigot",
			"floodgate":  "https://download.geysermc.org/v2/projects/floodgate/versions/latest/builds/latest/downloads/spigot",
			"viaversion": "https://hangarcdn.papermc.io/plugins/ViaVersion/ViaVersion/versions/5.1.1/PAPER/ViaVersion-5.1.1.jar",
		},
	}
}

// DefaultBackupConfig returns the world backup defaults
func DefaultBackupConfig() BackupConfig {
	return BackupConfig{
		Enabled:     false,
		Schedule:    "0 */6 * * *",
		Directories: []string{"world", "world_nether", "world_the_end"},
		Exclude:     []string{"session.lock"},
		Compression: CompressionConfig{Type: "gzip", Level: 6},
		Retention:   RetentionConfig{Count: 10},
		Destination: BackupDestination{Type: "local"},
	}
}

// Validate checks the game settings
func (g *GameConfig) Validate() error {
	if strings.TrimSpace(g.Executable) == "" {
		return fmt.Errorf("executable is required")
	}
	if !isValidPath(g.Executable) {
		return fmt.Errorf("executable contains invalid characters")
	}
	if g.JavaPath != "" && !isValidPath(g.JavaPath) {
		return fmt.Errorf("java_path contains invalid characters")
	}
	for _, arg := range append(append([]string{}, g.JavaArgs...), g.ServerArgs...) {
		if !isValidArgs(arg) {
			return fmt.Errorf("argument %q contains invalid characters", arg)
		}
	}
	for name, value := range map[string]string{
		"startup_timeout": g.StartupTimeout,
		"stop_timeout":    g.StopTimeout,
		"kill_grace":      g.KillGrace,
		"save_timeout":    g.SaveTimeout,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s is invalid: %w", name, err)
		}
	}
	for i, warning := range g.StopWarnings {
		if _, err := parseDuration(warning.Delay); err != nil {
			return fmt.Errorf("stop_warnings[%d].delay is invalid: %w", i, err)
		}
	}
	return nil
}

// StartupTimeoutDuration returns the parsed startup timeout
func (g *GameConfig) StartupTimeoutDuration() time.Duration {
	return mustDuration(g.StartupTimeout, 120*time.Second)
}

// StopTimeoutDuration returns the parsed stop timeout
func (g *GameConfig) StopTimeoutDuration() time.Duration {
	return mustDuration(g.StopTimeout, 60*time.Second)
}

// KillGraceDuration returns the parsed kill grace period
func (g *GameConfig) KillGraceDuration() time.Duration {
	return mustDuration(g.KillGrace, 5*time.Second)
}

// SaveTimeoutDuration returns the parsed save acknowledgement timeout
func (g *GameConfig) SaveTimeoutDuration() time.Duration {
	return mustDuration(g.SaveTimeout, 30*time.Second)
}

// WarningDelay returns the parsed delay of w
func (w StopWarning) WarningDelay() time.Duration {
	return mustDuration(w.Delay, 0)
}

// Validate checks the download settings
func (d *DownloadsConfig) Validate() error {
	if d.ServerURL != "" && !strings.HasPrefix(d.ServerURL, "http://") && !strings.HasPrefix(d.ServerURL, "https://") {
		return fmt.Errorf("server_url must be an http(s) URL")
	}
	for name, url := range d.Plugins {
		if name == "" || strings.ContainsAny(name, `/\.`) {
			return fmt.Errorf("plugin name %q is invalid", name)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("plugin %s url must be an http(s) URL", name)
		}
	}
	if _, err := parseDuration(d.Timeout); err != nil {
		return fmt.Errorf("timeout is invalid: %w", err)
	}
	return nil
}

// TimeoutDuration returns the parsed download timeout
func (d *DownloadsConfig) TimeoutDuration() time.Duration {
	return mustDuration(d.Timeout, 10*time.Minute)
}

// Validate checks the backup settings
func (b *BackupConfig) Validate() error {
	if !b.Enabled {
		return nil
	}
	if len(b.Directories) == 0 {
		return fmt.Errorf("at least one directory is required")
	}
	for _, dir := range b.Directories {
		if !isValidPath(dir) || strings.Contains(dir, "..") {
			return fmt.Errorf("directory %q is invalid", dir)
		}
	}
	switch b.Compression.Type {
	case "", "gzip", "none":
	default:
		return fmt.Errorf("compression type must be 'gzip' or 'none'")
	}
	if b.Retention.Count < 0 {
		return fmt.Errorf("retention count must not be negative")
	}

	dest := b.Destination
	switch dest.Type {
	case "", "local":
	case "s3":
		if dest.Bucket == "" {
			return fmt.Errorf("s3 destination requires a bucket")
		}
	case "sftp":
		if dest.Host == "" || dest.Username == "" {
			return fmt.Errorf("sftp destination requires host and username")
		}
		if dest.Password == "" && dest.PrivateKeyPath == "" {
			return fmt.Errorf("sftp destination requires a password or private_key_path")
		}
	default:
		return fmt.Errorf("destination type must be 'local', 's3' or 'sftp'")
	}
	return nil
}

func parseDuration(value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

func mustDuration(value string, fallback time.Duration) time.Duration {
	d, err := parseDuration(value)
	if err != nil || (d == 0 && strings.TrimSpace(value) == "") {
		return fallback
	}
	return d
}

func isValidPath(s string) bool {
	// Block shell metacharacters and newlines
	dangerous := ";|&$`()<>\"'\n"
	return !strings.ContainsAny(s, dangerous)
}

func isValidArgs(s string) bool {
	dangerous := ";|&`$()<>\\\n"
	return !strings.ContainsAny(s, dangerous)
}
