package types

// Config represents application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Providers ProvidersConfig `yaml:"providers"`
	Retry     RetryConfig     `yaml:"retry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIPrefix string `yaml:"api_prefix"`
	RateLimit int    `yaml:"rate_limit"` // requests per second per client, 0 disables
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver         string `yaml:"driver"` // "postgres" or "memory"
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"ssl_mode"`
	MaxConnections int    `yaml:"max_connections"`
}

// SchedulerConfig represents job runner configuration
type SchedulerConfig struct {
	Workers        int `yaml:"workers"`
	PollInterval   int `yaml:"poll_interval"`   // milliseconds
	PollingBackoff int `yaml:"polling_backoff"` // milliseconds
	Lease          int `yaml:"lease"`           // seconds a claimed job may run before it is handed out again
}

// ProvidersConfig represents storage provider client configuration
type ProvidersConfig struct {
	OneDrive  OneDriveConfig  `yaml:"onedrive"`
	Nextcloud NextcloudConfig `yaml:"nextcloud"`
}

// OneDriveConfig represents Microsoft Graph client configuration
type OneDriveConfig struct {
	GraphURL          string  `yaml:"graph_url"`
	LoginURL          string  `yaml:"login_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Timeout           int     `yaml:"timeout"` // seconds
}

// NextcloudConfig represents Nextcloud client configuration
type NextcloudConfig struct {
	Timeout int `yaml:"timeout"` // seconds
}

// RetryConfig represents retry configuration
type RetryConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
