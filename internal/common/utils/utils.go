package utils

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

// LoadConfig loads configuration from file
func LoadConfig() (*types.Config, error) {
	// A missing .env is fine, it only feeds the overrides below
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	config := defaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(config)

	return config, nil
}

// defaultConfig returns default configuration
func defaultConfig() *types.Config {
	return &types.Config{
		Server: types.ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			APIPrefix: "/api/v1",
		},
		Database: types.DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			Name:           "folder_copy",
			User:           "postgres",
			SSLMode:        "disable",
			MaxConnections: 20,
		},
		Scheduler: types.SchedulerConfig{
			Workers:        4,
			PollInterval:   500,
			PollingBackoff: 3000,
			Lease:          300,
		},
		Providers: types.ProvidersConfig{
			OneDrive: types.OneDriveConfig{
				GraphURL:          "https://graph.microsoft.com/v1.0",
				LoginURL:          "https://login.microsoftonline.com",
				RequestsPerSecond: 10,
				Timeout:           30,
			},
			Nextcloud: types.NextcloudConfig{
				Timeout: 30,
			},
		},
		Retry: types.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500,
			MaxDelay:     5000,
		},
		Logging: types.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *types.Config) {
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		config.Database.Password = dbPassword
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// GenerateID generates a unique ID for entities
func GenerateID() string {
	return uuid.NewString()
}

// NormalizeWorkPackageMap turns a caller supplied id mapping into integer
// pairs. Every key and value must be a positive integer, given either as a
// JSON number or as a numeric string.
func NormalizeWorkPackageMap(raw types.WorkPackageMap) (map[int64]int64, error) {
	out := make(map[int64]int64, len(raw))

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		source, err := parseID(k)
		if err != nil {
			return nil, errors.InvalidArgument("invalid work package map key").WithDetails("key", k)
		}
		target, err := parseID(raw[k])
		if err != nil {
			return nil, errors.InvalidArgument("invalid work package map value").WithDetails("key", k)
		}
		out[source] = target
	}

	return out, nil
}

func parseID(v interface{}) (int64, error) {
	var id int64
	switch val := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, err
		}
		id = n
	case float64:
		if val != math.Trunc(val) {
			return 0, fmt.Errorf("not an integer: %v", val)
		}
		id = int64(val)
	case int:
		id = int64(val)
	case int64:
		id = val
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}

	if id <= 0 {
		return 0, fmt.Errorf("id must be positive: %d", id)
	}
	return id, nil
}
