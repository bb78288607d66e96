package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/potrero/rcsim/internal/database"
	"github.com/potrero/rcsim/internal/influx"
	"github.com/potrero/rcsim/internal/simulator"
	"github.com/potrero/rcsim/internal/world"
	"github.com/potrero/rcsim/pkg/core"
)

// FileName is the config file looked up in the config directory.
const FileName = "rcsim.cfg.json"

// ErrInvalidPoint is returned for obstacle entries that are not [x, y] pairs.
var ErrInvalidPoint = errors.New("obstacle point must be [x, y]")

// StorageConfig selects where obstacles come from.
type StorageConfig struct {
	Source     string // memory, sqlite or postgres
	Map        string
	Points     []core.Point
	SqlitePath string
	Postgres   database.PostgresConfig
}

// RelayConfig holds remote relay settings.
type RelayConfig struct {
	Enabled    bool
	URL        string
	Secret     string
	AckTimeout time.Duration
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// LogConfig names the node and where its logs go.
type LogConfig struct {
	Node           string
	Dir            string
	Level          string
	GraylogEnabled bool
	GraylogAddress string
}

type SentryConfig struct {
	DSN         string
	Environment string
}

// SetDefaults registers every default value.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./rcsimlogs")
	viper.SetDefault("node", "rcsim")

	viper.SetDefault("world.min", -10.0)
	viper.SetDefault("world.max", 10.0)

	viper.SetDefault("sim.initialX", 0.0)
	viper.SetDefault("sim.initialY", 0.0)
	viper.SetDefault("sim.initialHeading", 90.0)
	viper.SetDefault("sim.headingIncrement", 90.0)
	viper.SetDefault("sim.publishInterval", "50ms")

	viper.SetDefault("rc.publishInterval", "100ms")

	viper.SetDefault("obstacles.source", "memory")
	viper.SetDefault("obstacles.map", "default")
	viper.SetDefault("obstacles.points", [][]int{{1, 2}, {4, 3}, {-6, 7}})

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "rcsim")
	viper.SetDefault("db.sslMode", "disable")
	viper.SetDefault("db.sqlitePath", "")

	viper.SetDefault("relay.enabled", false)
	viper.SetDefault("relay.url", "ws://localhost:5000/ws/sim")
	viper.SetDefault("relay.secret", "")
	viper.SetDefault("relay.ackTimeout", "10s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "rcsim-metrics")
	viper.SetDefault("influx.bucket", "rcsim_performance")

	viper.SetDefault("monitor.interval", "10s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "rcsim")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "development")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Defaults stay in
// effect when the file is missing; the error reports it.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetSimulatorConfig returns the simulator constants.
func GetSimulatorConfig() simulator.Config {
	return simulator.Config{
		Bounds: world.Bounds{
			Min: viper.GetFloat64("world.min"),
			Max: viper.GetFloat64("world.max"),
		},
		InitialPose: core.Pose{
			Position: core.Position{
				X: viper.GetFloat64("sim.initialX"),
				Y: viper.GetFloat64("sim.initialY"),
			},
			Heading: viper.GetFloat64("sim.initialHeading"),
		},
		HeadingIncrement: viper.GetFloat64("sim.headingIncrement"),
		PublishInterval:  viper.GetDuration("sim.publishInterval"),
	}
}

// GetRCInterval returns the keyboard command publish period.
func GetRCInterval() time.Duration {
	return viper.GetDuration("rc.publishInterval")
}

// GetMonitorInterval returns the status report period.
func GetMonitorInterval() time.Duration {
	return viper.GetDuration("monitor.interval")
}

// GetStorageConfig returns the obstacle source settings.
func GetStorageConfig() (StorageConfig, error) {
	var raw [][]int
	if err := viper.UnmarshalKey("obstacles.points", &raw); err != nil {
		return StorageConfig{}, fmt.Errorf("decoding obstacles.points: %w", err)
	}

	points := make([]core.Point, 0, len(raw))
	for i, p := range raw {
		if len(p) != 2 {
			return StorageConfig{}, fmt.Errorf("%w: entry %d has %d values", ErrInvalidPoint, i, len(p))
		}
		points = append(points, core.Point{X: p[0], Y: p[1]})
	}

	return StorageConfig{
		Source:     viper.GetString("obstacles.source"),
		Map:        viper.GetString("obstacles.map"),
		Points:     points,
		SqlitePath: viper.GetString("db.sqlitePath"),
		Postgres: database.PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
			SSLMode:  viper.GetString("db.sslMode"),
		},
	}, nil
}

// GetRelayConfig returns the relay settings.
func GetRelayConfig() RelayConfig {
	return RelayConfig{
		Enabled:    viper.GetBool("relay.enabled"),
		URL:        viper.GetString("relay.url"),
		Secret:     viper.GetString("relay.secret"),
		AckTimeout: viper.GetDuration("relay.ackTimeout"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() influx.Config {
	return influx.Config{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetLogConfig returns the process identity and log sink settings.
func GetLogConfig() LogConfig {
	return LogConfig{
		Node:           viper.GetString("node"),
		Dir:            viper.GetString("logsDir"),
		Level:          viper.GetString("logLevel"),
		GraylogEnabled: viper.GetBool("graylog.enabled"),
		GraylogAddress: viper.GetString("graylog.address"),
	}
}

// GetSentryConfig returns crash reporting settings. An empty DSN disables it.
func GetSentryConfig() SentryConfig {
	return SentryConfig{
		DSN:         viper.GetString("sentry.dsn"),
		Environment: viper.GetString("sentry.environment"),
	}
}
