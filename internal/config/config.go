package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Artifacts ArtifactsConfig `yaml:"artifacts" mapstructure:"artifacts"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Map       MapConfig       `yaml:"map" mapstructure:"map"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ArtifactsConfig configures where rendered charts are written.
type ArtifactsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// FetchConfig configures remote workbook downloads.
type FetchConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// AnalysisConfig configures the importance model.
type AnalysisConfig struct {
	Trees          int   `yaml:"trees" mapstructure:"trees"`
	MaxDepth       int   `yaml:"max_depth" mapstructure:"max_depth"`
	MinSamplesLeaf int   `yaml:"min_samples_leaf" mapstructure:"min_samples_leaf"`
	Seed           int64 `yaml:"seed" mapstructure:"seed"`
	MinYears       int   `yaml:"min_years" mapstructure:"min_years"`
}

// MapConfig configures the GeoJSON map export.
type MapConfig struct {
	Shapefile string `yaml:"shapefile" mapstructure:"shapefile"`
	NameField string `yaml:"name_field" mapstructure:"name_field"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the configuration is usable. Collected problems are
// reported together.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Artifacts.Dir == "" {
		problems = append(problems, "artifacts.dir is required")
	}
	if c.Analysis.Trees < 1 {
		problems = append(problems, "analysis.trees must be >= 1")
	}
	if c.Analysis.MinYears < 2 {
		problems = append(problems, "analysis.min_years must be >= 2")
	}
	if c.Fetch.TimeoutSecs <= 0 {
		problems = append(problems, "fetch.timeout_secs must be > 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRIMESTAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "crimestat.db")
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "crimestat-cli/1.0")
	v.SetDefault("analysis.trees", 100)
	v.SetDefault("analysis.max_depth", 10)
	v.SetDefault("analysis.min_samples_leaf", 1)
	v.SetDefault("analysis.seed", 0)
	v.SetDefault("analysis.min_years", 2)
	v.SetDefault("map.name_field", "NAME")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
