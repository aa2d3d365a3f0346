// Package config loads devicebridge configuration from defaults, an optional
// YAML file and DEVICEBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. DEVICEBRIDGE_DISPATCH_TIMEOUT.
const EnvPrefix = "DEVICEBRIDGE"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	ChangeFeed ChangeFeedConfig `mapstructure:"changefeed"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	DLQ        DLQConfig        `mapstructure:"dlq"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// DispatchConfig addresses the remote device command.
type DispatchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	EnvelopeKey   string        `mapstructure:"envelope_key"`
	DeviceID      string        `mapstructure:"device_id"`
	Method        string        `mapstructure:"method"`
}

type ArtifactsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
}

type ChangeFeedConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Name         string        `mapstructure:"name"`
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns a postgres connection string usable by pgx and golang-migrate.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type OpenSearchConfig struct {
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
}

// SinkConfig controls how inbound telemetry is routed into the document store.
type SinkConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Subject    string `mapstructure:"subject"`
	QueueGroup string `mapstructure:"queue_group"`
	TopicField string `mapstructure:"topic_field"`
	DatabaseID string `mapstructure:"database_id"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SecretsConfig struct {
	KeyPrefix string `mapstructure:"key_prefix"`
}

type RelayConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	KeysSubject string `mapstructure:"keys_subject"`
	QueueGroup  string `mapstructure:"queue_group"`
}

type IngestionConfig struct {
	Workers int `mapstructure:"workers"`
}

type DLQConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Stream  string        `mapstructure:"stream"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration. An empty configPath searches ./config.yaml and
// /etc/telhawk/devicebridge/config.yaml; a missing search-path file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/telhawk/devicebridge")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "devicebridge")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("dispatch.timeout", "30s")
	v.SetDefault("dispatch.subject_prefix", "devices")
	v.SetDefault("dispatch.envelope_key", "data")
	v.SetDefault("dispatch.device_id", "")
	v.SetDefault("dispatch.method", "")

	v.SetDefault("artifacts.enabled", true)
	v.SetDefault("artifacts.bucket", "devicebridge-artifacts")

	v.SetDefault("changefeed.enabled", false)
	v.SetDefault("changefeed.name", "telemetry")
	v.SetDefault("changefeed.batch_size", 100)
	v.SetDefault("changefeed.poll_interval", "1s")
	v.SetDefault("changefeed.lease_ttl", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "devicebridge")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "devicebridge")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.tls_skip_verify", true)

	v.SetDefault("sink.enabled", true)
	v.SetDefault("sink.subject", "telemetry.inbound")
	v.SetDefault("sink.queue_group", "devicebridge-sink")
	v.SetDefault("sink.topic_field", "topic")
	v.SetDefault("sink.database_id", "telemetry")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("secrets.key_prefix", "devicebridge:secret:")

	v.SetDefault("relay.enabled", true)
	v.SetDefault("relay.keys_subject", "devicebridge.keys")
	v.SetDefault("relay.queue_group", "devicebridge-keys")

	v.SetDefault("ingestion.workers", 4)

	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.stream", "DEVICEBRIDGE_DLQ")
	v.SetDefault("dlq.max_age", "168h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate reports every setting that would keep the service from running.
func (c *Config) Validate() error {
	var errs []error
	if c.Dispatch.DeviceID == "" {
		errs = append(errs, errors.New("dispatch.device_id is required"))
	}
	if c.Dispatch.Method == "" {
		errs = append(errs, errors.New("dispatch.method is required"))
	}
	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.timeout must be positive, got %s", c.Dispatch.Timeout))
	}
	if c.Dispatch.SubjectPrefix == "" || strings.ContainsAny(c.Dispatch.SubjectPrefix, " *>") {
		errs = append(errs, fmt.Errorf("dispatch.subject_prefix %q is not a valid subject token", c.Dispatch.SubjectPrefix))
	}
	if c.Ingestion.Workers < 1 {
		errs = append(errs, fmt.Errorf("ingestion.workers must be at least 1, got %d", c.Ingestion.Workers))
	}
	if c.Sink.Enabled && c.Sink.DatabaseID == "" {
		errs = append(errs, errors.New("sink.database_id is required when the sink is enabled"))
	}
	return errors.Join(errs...)
}
