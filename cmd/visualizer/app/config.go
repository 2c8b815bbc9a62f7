package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/quadcopter-visualizer/internal/rawlog"
	"github.com/roman-kulish/quadcopter-visualizer/internal/serialport"
	"github.com/roman-kulish/quadcopter-visualizer/internal/station"
	"github.com/roman-kulish/quadcopter-visualizer/internal/telemetry"
	"github.com/roman-kulish/quadcopter-visualizer/internal/window"
)

// Config represents the main application configuration
type Config struct {
	Settings    Settings               `yaml:"settings"`
	Serial      SerialConfig           `yaml:"serial"`
	Window      WindowConfig           `yaml:"window"`
	Instruments []telemetry.Instrument `yaml:"instruments"`
	RawLog      RawLogConfig           `yaml:"rawLog"`
	Export      ExportConfig           `yaml:"export"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel      string        `yaml:"logLevel"`
	LogFile       string        `yaml:"logFile"`
	Headless      bool          `yaml:"headless"`
	StatsInterval time.Duration `yaml:"statsInterval"` // Headless statistics log cadence
}

// SerialConfig represents the telemetry link settings
type SerialConfig struct {
	Port            string        `yaml:"port"` // Empty or "None" to start disconnected
	BaudRate        int           `yaml:"baudRate"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	ReconnectMin    time.Duration `yaml:"reconnectMin"`
	ReconnectMax    time.Duration `yaml:"reconnectMax"`
	MaxLineLength   int           `yaml:"maxLineLength"`
	LocalTimestamps bool          `yaml:"localTimestamps"` // Derive ticks locally for streams without TIME
	Simulate        bool          `yaml:"simulate"`        // Use the built-in simulator instead of a serial port
}

// WindowConfig represents the plot window settings
type WindowConfig struct {
	SpanMs          int64         `yaml:"spanMs"`
	StepMs          int64         `yaml:"stepMs"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

// RawLogConfig represents the raw line feed settings
type RawLogConfig struct {
	Capacity int `yaml:"capacity"`
}

// ExportConfig represents the picture export settings
type ExportConfig struct {
	Path        string `yaml:"path"` // Written on exit when set, .png or .jpg
	Width       int    `yaml:"width"`
	PanelHeight int    `yaml:"panelHeight"`
}

// ConfigError is a custom error type for configuration errors
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// NewConfig returns the built-in configuration
func NewConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel:      slog.LevelInfo.String(),
			StatsInterval: 5 * time.Second,
		},
		Serial: SerialConfig{
			BaudRate:      serialport.DefaultBaudRate,
			PollInterval:  station.DefaultPollInterval,
			ReconnectMin:  station.DefaultMinBackoff,
			ReconnectMax:  station.DefaultMaxBackoff,
			MaxLineLength: 4096,
		},
		Window: WindowConfig{
			SpanMs:          window.DefaultSpan,
			StepMs:          window.DefaultStep,
			RefreshInterval: window.DefaultRefreshInterval,
		},
		Instruments: telemetry.DefaultInstruments(),
		RawLog: RawLogConfig{
			Capacity: rawlog.DefaultCapacity,
		},
	}
}

// LoadConfig reads the YAML configuration file over the built-in defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := NewConfig()
	if path == "" {
		return config, config.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Level returns the configured log level
func (s Settings) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s.LogLevel))
	return level, err
}

// Connected reports whether a port is selected at startup.
func (s SerialConfig) Connected() bool {
	return s.Port != "" && s.Port != NoPort
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if _, err := c.Settings.Level(); err != nil {
		invalid("settings.logLevel", "%q is not a log level", c.Settings.LogLevel)
	}
	if c.Settings.StatsInterval <= 0 {
		invalid("settings.statsInterval", "must be positive")
	}

	if c.Serial.BaudRate <= 0 {
		invalid("serial.baudRate", "must be positive, got %d", c.Serial.BaudRate)
	}
	if c.Serial.PollInterval <= 0 {
		invalid("serial.pollInterval", "must be positive")
	}
	if c.Serial.ReconnectMin <= 0 || c.Serial.ReconnectMax < c.Serial.ReconnectMin {
		invalid("serial.reconnectMin", "backoff range %s..%s is invalid", c.Serial.ReconnectMin, c.Serial.ReconnectMax)
	}
	if c.Serial.MaxLineLength <= 0 {
		invalid("serial.maxLineLength", "must be positive")
	}

	if c.Window.SpanMs <= 0 {
		invalid("window.spanMs", "must be positive, got %d", c.Window.SpanMs)
	}
	if c.Window.StepMs <= 0 || c.Window.StepMs > c.Window.SpanMs {
		invalid("window.stepMs", "must be in (0, %d], got %d", c.Window.SpanMs, c.Window.StepMs)
	}
	if c.Window.RefreshInterval <= 0 {
		invalid("window.refreshInterval", "must be positive")
	}

	if len(c.Instruments) == 0 {
		invalid("instruments", "at least one instrument is required")
	}
	for i, inst := range c.Instruments {
		if err := inst.Validate(); err != nil {
			invalid(fmt.Sprintf("instruments[%d]", i), "%s", err.Error())
		}
	}
	if _, err := telemetry.Tags(c.Instruments); err != nil {
		invalid("instruments", "%s", err.Error())
	}

	if c.RawLog.Capacity <= 0 {
		invalid("rawLog.capacity", "must be positive, got %d", c.RawLog.Capacity)
	}
	if c.Export.Width < 0 || c.Export.PanelHeight < 0 {
		invalid("export", "picture size must not be negative")
	}

	return errors.Join(errs...)
}
