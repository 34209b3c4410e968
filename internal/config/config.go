package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. ZORA_DB_HOST.
const EnvPrefix = "ZORA"

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	DB          struct {
		Driver   string `mapstructure:"driver"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		Path     string `mapstructure:"path"`
	} `mapstructure:"db"`
	Server struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`
	Engine struct {
		DefaultAgent    string        `mapstructure:"default_agent"`
		DefaultTaskType string        `mapstructure:"default_task_type"`
		SyncInterval    time.Duration `mapstructure:"sync_interval"`
	} `mapstructure:"engine"`
	Tasks struct {
		// Backend is "store" (agent_tasks table) or "http".
		Backend string        `mapstructure:"backend"`
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"tasks"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Telemetry struct {
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
		ServiceName  string `mapstructure:"service_name"`
	} `mapstructure:"telemetry"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "workflows")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.path", "workflows.db")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("engine.default_agent", "zora_core_agent")
	v.SetDefault("engine.default_task_type", "workflow_step")
	v.SetDefault("engine.sync_interval", time.Duration(0))
	v.SetDefault("tasks.backend", "store")
	v.SetDefault("tasks.url", "")
	v.SetDefault("tasks.timeout", 10*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "zora-workflows")
}

// LoadConfig loads the configuration from an optional YAML file and the environment.
// An empty path searches for config.yaml in . and ./config; a missing file is not an error
// in that case.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.Tasks.URL = normalizeBaseURL(config.Tasks.URL)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported db.driver %q", c.DB.Driver)
	}
	switch c.Tasks.Backend {
	case "store":
	case "http":
		if c.Tasks.URL == "" {
			return fmt.Errorf("config: tasks.url is required for the http backend")
		}
	default:
		return fmt.Errorf("config: unsupported tasks.backend %q", c.Tasks.Backend)
	}
	if c.Engine.SyncInterval < 0 {
		return fmt.Errorf("config: engine.sync_interval must not be negative")
	}
	return nil
}

// PostgresDSN renders the db section as a key/value connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeBaseURL strips trailing slashes so paths can be appended directly.
func normalizeBaseURL(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
