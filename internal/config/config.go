package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration: hardware constants, default
// test parameters, setter bounds and the optional result archive. All of it
// is fixed at startup; only the test parameters have runtime setters, and
// those live in the kernel.
type Config struct {
	Serial   SerialConfig   `mapstructure:"serial"`
	Machine  MachineConfig  `mapstructure:"machine"`
	Motor    MotorConfig    `mapstructure:"motor"`
	LoadCell LoadCellConfig `mapstructure:"loadcell"`
	Test     TestConfig     `mapstructure:"test"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Database DatabaseConfig `mapstructure:"database"`
}

type SerialConfig struct {
	// Device is the serial device path; empty or "-" uses stdin/stdout.
	Device string `mapstructure:"device"`
	Baud   int    `mapstructure:"baud"`
}

type MachineConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	TareSamples  int           `mapstructure:"tare_samples"`
}

type MotorConfig struct {
	StepsPerRev   int     `mapstructure:"steps_per_rev"`
	Microstepping int     `mapstructure:"microstepping"`
	LeadMM        float64 `mapstructure:"lead_mm"`
	MaxSpeed      float64 `mapstructure:"max_speed"`    // steps/s
	Acceleration  float64 `mapstructure:"acceleration"` // steps/s²
}

type LoadCellConfig struct {
	Capacity          float64 `mapstructure:"capacity"`           // rated capacity (N)
	CalibrationFactor float64 `mapstructure:"calibration_factor"` // counts per newton
	OverloadLimit     float64 `mapstructure:"overload_limit"`     // hardware ceiling (N)
}

// TestConfig holds the default test parameters applied at startup.
type TestConfig struct {
	Speed          float64 `mapstructure:"speed"`
	MaxForce       float64 `mapstructure:"max_force"`
	MaxExtension   float64 `mapstructure:"max_extension"`
	SampleRateMS   int     `mapstructure:"sample_rate_ms"`
	StopOnBreak    bool    `mapstructure:"stop_on_break"`
	BreakThreshold float64 `mapstructure:"break_threshold"`
}

// LimitsConfig bounds the runtime-mutable parameters. The force bound is
// the load cell rated capacity and lives in LoadCellConfig.
type LimitsConfig struct {
	MaxSpeed     float64 `mapstructure:"max_speed"`     // mm/s
	MaxExtension float64 `mapstructure:"max_extension"` // mm
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("serial.device", "")
	viper.SetDefault("serial.baud", 115200)

	viper.SetDefault("machine.tick_interval", "2ms")
	viper.SetDefault("machine.tare_samples", 10)

	// 1.8° motor on a DM542T at 1/16 microstepping, 8 mm lead screw.
	viper.SetDefault("motor.steps_per_rev", 200)
	viper.SetDefault("motor.microstepping", 16)
	viper.SetDefault("motor.lead_mm", 8.0)
	viper.SetDefault("motor.max_speed", 4000)
	viper.SetDefault("motor.acceleration", 2000)

	// 500 N S-type cell behind a NAU7802 at gain 128.
	viper.SetDefault("loadcell.capacity", 500.0)
	viper.SetDefault("loadcell.calibration_factor", 420000.0)
	viper.SetDefault("loadcell.overload_limit", 480.0)

	viper.SetDefault("test.speed", 1.0)
	viper.SetDefault("test.max_force", 450.0)
	viper.SetDefault("test.max_extension", 100.0)
	viper.SetDefault("test.sample_rate_ms", 50)
	viper.SetDefault("test.stop_on_break", true)
	viper.SetDefault("test.break_threshold", 0.5)

	viper.SetDefault("limits.max_speed", 100.0)
	viper.SetDefault("limits.max_extension", 150.0)

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "tensiletester")
	viper.SetDefault("database.user", "tensiletester")
	viper.SetDefault("database.max_connections", 4)

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
