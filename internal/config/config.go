package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "echo_client.cfg.json"

// SessionConfig holds relay connection and reconnect settings.
type SessionConfig struct {
	URL                  string        `json:"url" mapstructure:"url"`
	PositionInterval     time.Duration `json:"positionInterval" mapstructure:"positionInterval"`
	MaxReconnectAttempts int           `json:"maxReconnectAttempts" mapstructure:"maxReconnectAttempts"`
	InitialBackoff       time.Duration `json:"initialBackoff" mapstructure:"initialBackoff"`
	MaxBackoff           time.Duration `json:"maxBackoff" mapstructure:"maxBackoff"`
	BackoffMultiplier    float64       `json:"backoffMultiplier" mapstructure:"backoffMultiplier"`
	InboxSize            int           `json:"inboxSize" mapstructure:"inboxSize"`
}

// ReconcileConfig holds remote player interpolation settings.
type ReconcileConfig struct {
	LerpFactor float64 `json:"lerpFactor" mapstructure:"lerpFactor"`
	TimeScaled bool    `json:"timeScaled" mapstructure:"timeScaled"`
}

// PulseConfig holds the defaults for locally fired pulses.
type PulseConfig struct {
	Speed      float64 `json:"speed" mapstructure:"speed"`
	Damage     float64 `json:"damage" mapstructure:"damage"`
	MaxBounces int     `json:"maxBounces" mapstructure:"maxBounces"`
	Lifetime   float64 `json:"lifetime" mapstructure:"lifetime"`
	Radius     float64 `json:"radius" mapstructure:"radius"`
}

// MemoryConfig holds in-memory/file export storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
	Format         string `json:"format" mapstructure:"format"` // json or msgpack
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds Postgres storage backend settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// DSN returns the libpq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// InfluxConfig holds InfluxDB storage backend settings
type InfluxConfig struct {
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
	// BackupPath receives gzipped line protocol when the server is unreachable.
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// URL returns the server address of the InfluxDB instance.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// StorageConfig selects and configures the match recorder backend
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
	Influx   InfluxConfig   `json:"influx" mapstructure:"influx"`
}

// OTelConfig holds OpenTelemetry log export settings
type OTelConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout   time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint       string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `json:"insecure" mapstructure:"insecure"`
	MetricInterval time.Duration `json:"metricInterval" mapstructure:"metricInterval"`
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// RelayConfig holds relay server settings
type RelayConfig struct {
	Listen          string        `json:"listen" mapstructure:"listen"`
	BroadcastRate   time.Duration `json:"broadcastRate" mapstructure:"broadcastRate"`
	MaxMessageBytes int64         `json:"maxMessageBytes" mapstructure:"maxMessageBytes"`
	MessagesPerSec  int           `json:"messagesPerSec" mapstructure:"messagesPerSec"`
}

// Load reads configuration from the JSON file in configDir and sets default
// values. A missing file is not an error: the defaults are used and the
// returned bool is false.
func Load(configDir string) (bool, error) {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("error reading config file: %w", err)
	}
	return true, nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./echologs")

	viper.SetDefault("server.url", "ws://localhost:8765")

	viper.SetDefault("session.positionInterval", "100ms")
	viper.SetDefault("session.maxReconnectAttempts", 5)
	viper.SetDefault("session.initialBackoff", "1s")
	viper.SetDefault("session.maxBackoff", "30s")
	viper.SetDefault("session.backoffMultiplier", 2.0)
	viper.SetDefault("session.inboxSize", 1024)

	viper.SetDefault("reconcile.lerpFactor", 0.3)
	viper.SetDefault("reconcile.timeScaled", false)

	viper.SetDefault("pulse.speed", 15.0)
	viper.SetDefault("pulse.damage", 20.0)
	viper.SetDefault("pulse.maxBounces", 3)
	viper.SetDefault("pulse.lifetime", 5.0)
	viper.SetDefault("pulse.radius", 0.3)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./matches")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.memory.format", "json")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "echo")

	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "echo-chamber")
	viper.SetDefault("influx.bucket", "matches")
	viper.SetDefault("influx.backupPath", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "echo-client")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.metricInterval", "1m")

	viper.SetDefault("relay.listen", ":8765")
	viper.SetDefault("relay.broadcastRate", "100ms")
	viper.SetDefault("relay.maxMessageBytes", 64*1024)
	viper.SetDefault("relay.messagesPerSec", 60)
}

// GetSessionConfig returns the relay connection settings.
func GetSessionConfig() SessionConfig {
	return SessionConfig{
		URL:                  viper.GetString("server.url"),
		PositionInterval:     viper.GetDuration("session.positionInterval"),
		MaxReconnectAttempts: viper.GetInt("session.maxReconnectAttempts"),
		InitialBackoff:       viper.GetDuration("session.initialBackoff"),
		MaxBackoff:           viper.GetDuration("session.maxBackoff"),
		BackoffMultiplier:    viper.GetFloat64("session.backoffMultiplier"),
		InboxSize:            viper.GetInt("session.inboxSize"),
	}
}

// GetReconcileConfig returns the interpolation settings.
func GetReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		LerpFactor: viper.GetFloat64("reconcile.lerpFactor"),
		TimeScaled: viper.GetBool("reconcile.timeScaled"),
	}
}

// GetPulseConfig returns the local pulse defaults.
func GetPulseConfig() PulseConfig {
	return PulseConfig{
		Speed:      viper.GetFloat64("pulse.speed"),
		Damage:     viper.GetFloat64("pulse.damage"),
		MaxBounces: viper.GetInt("pulse.maxBounces"),
		Lifetime:   viper.GetFloat64("pulse.lifetime"),
		Radius:     viper.GetFloat64("pulse.radius"),
	}
}

// GetStorageConfig returns the recorder backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
			Format:         viper.GetString("storage.memory.format"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
		Influx: InfluxConfig{
			Protocol:   viper.GetString("influx.protocol"),
			Host:       viper.GetString("influx.host"),
			Port:       viper.GetString("influx.port"),
			Token:      viper.GetString("influx.token"),
			Org:        viper.GetString("influx.org"),
			Bucket:     viper.GetString("influx.bucket"),
			BackupPath: viper.GetString("influx.backupPath"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
	}
}

// GetGraylogConfig returns the GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetRelayConfig returns the relay server settings.
func GetRelayConfig() RelayConfig {
	return RelayConfig{
		Listen:          viper.GetString("relay.listen"),
		BroadcastRate:   viper.GetDuration("relay.broadcastRate"),
		MaxMessageBytes: viper.GetInt64("relay.maxMessageBytes"),
		MessagesPerSec:  viper.GetInt("relay.messagesPerSec"),
	}
}

// UnmarshalKey decodes a nested config value, such as world.walls, into v.
func UnmarshalKey(key string, v any) error {
	if err := viper.UnmarshalKey(key, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// Flags defines the command line overrides shared by both programs. Bind
// them with BindFlags after parsing.
func Flags(program string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(program, pflag.ContinueOnError)
	fs.String("config", ".", "directory containing "+FileName)
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("logs-dir", "", "directory for log files")
	fs.String("server-url", "", "relay WebSocket URL")
	fs.String("storage", "", "match recorder backend (memory, sqlite, postgres, influx, none)")
	fs.String("listen", "", "relay listen address")
	return fs
}

var flagKeys = map[string]string{
	"log-level":  "logLevel",
	"logs-dir":   "logsDir",
	"server-url": "server.url",
	"storage":    "storage.type",
	"listen":     "relay.listen",
}

// BindFlags makes explicitly set flags override file and default values.
func BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}
