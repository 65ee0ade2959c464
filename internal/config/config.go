package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Libraries   LibrariesConfig   `mapstructure:"libraries"`
	Quality     QualityConfig     `mapstructure:"quality"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// SecretKey enables encryption of download client credentials at
	// rest. Empty means credentials are stored in plain text.
	SecretKey string `mapstructure:"secret_key"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

// LibrariesConfig maps media classes to destination roots.
type LibrariesConfig struct {
	MoviesPath string `mapstructure:"movies_path"`
	TVPath     string `mapstructure:"tv_path"`
}

// QualityConfig points at user-supplied quality definitions.
type QualityConfig struct {
	// FormatsPath is a YAML file of custom formats merged into the
	// default profile. Empty means built-in formats only.
	FormatsPath string `mapstructure:"formats_path"`
}

// SeedingConfig holds the torrent removal thresholds.
type SeedingConfig struct {
	MinRatio    float64       `mapstructure:"min_ratio"`
	MinSeedTime time.Duration `mapstructure:"min_seed_time"`
	MaxSeedTime time.Duration `mapstructure:"max_seed_time"`
}

// AcquisitionConfig holds the pipeline tunables.
type AcquisitionConfig struct {
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	StalledThreshold       time.Duration `mapstructure:"stalled_threshold"`
	Seeding                SeedingConfig `mapstructure:"seeding"`
	AutoBlockAfter         int           `mapstructure:"auto_block_after"`
	DeleteOnFail           bool          `mapstructure:"delete_on_fail"`
	SearchAlternative      bool          `mapstructure:"search_alternative"`
	SampleThresholdBytes   int64         `mapstructure:"sample_threshold_bytes"`
	ImportTimeout          time.Duration `mapstructure:"import_timeout"`
	RecycleBinPath         string        `mapstructure:"recycle_bin_path"`
	RecycleBinMaxAge       time.Duration `mapstructure:"recycle_bin_max_age"`
	KeepOldFiles           bool          `mapstructure:"keep_old_files"`
	SplitMultiEpisodeFiles bool          `mapstructure:"split_multi_episode_files"`
	BlocklistRetention     time.Duration `mapstructure:"blocklist_retention"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.halyard")
	}

	v.SetEnvPrefix("HALYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; defaults plus env suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.secret_key", "")

	v.SetDefault("database.path", "./data/halyard.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "./data/logs")

	v.SetDefault("libraries.movies_path", "./media/movies")
	v.SetDefault("libraries.tv_path", "./media/tv")

	v.SetDefault("quality.formats_path", "")

	v.SetDefault("acquisition.poll_interval", "5s")
	v.SetDefault("acquisition.stalled_threshold", "6h")
	v.SetDefault("acquisition.seeding.min_ratio", 1.0)
	v.SetDefault("acquisition.seeding.min_seed_time", "24h")
	v.SetDefault("acquisition.seeding.max_seed_time", "168h")
	v.SetDefault("acquisition.auto_block_after", 3)
	v.SetDefault("acquisition.delete_on_fail", true)
	v.SetDefault("acquisition.search_alternative", true)
	v.SetDefault("acquisition.sample_threshold_bytes", 100*1024*1024)
	v.SetDefault("acquisition.import_timeout", "1h")
	v.SetDefault("acquisition.recycle_bin_path", "")
	v.SetDefault("acquisition.recycle_bin_max_age", "720h")
	v.SetDefault("acquisition.keep_old_files", false)
	v.SetDefault("acquisition.split_multi_episode_files", false)
	v.SetDefault("acquisition.blocklist_retention", "2160h")
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
