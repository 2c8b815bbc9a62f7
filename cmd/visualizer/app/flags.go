package app

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/roman-kulish/quadcopter-visualizer/internal/serialport"
)

// Options are the command line flags. Flags that are set override the
// configuration file.
type Options struct {
	ConfigPath string
	Port       string
	LogLevel   string
	LogFile    string
	Export     string
	Simulate   bool
	Headless   bool
	ListPorts  bool

	flagSet *pflag.FlagSet
}

// ParseFlags parses the command line arguments, without the program name.
// It returns pflag.ErrHelp when help was requested.
func ParseFlags(name string, args []string, output io.Writer) (*Options, error) {
	var o Options

	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVarP(&o.ConfigPath, "config", "c", "", "path to the configuration file")
	flagSet.StringVarP(&o.Port, "port", "p", "", `serial port to open at startup, "None" to start disconnected`)
	flagSet.StringVar(&o.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.StringVar(&o.LogFile, "log-file", "", "write logs to this file (the terminal UI discards them otherwise)")
	flagSet.StringVar(&o.Export, "export", "", "write a picture of the plots to this .png or .jpg file on exit")
	flagSet.BoolVar(&o.Simulate, "simulate", false, "read from the built-in simulator instead of a serial port")
	flagSet.BoolVar(&o.Headless, "headless", false, "run without the terminal UI and log statistics")
	flagSet.BoolVar(&o.ListPorts, "list-ports", false, "list serial ports and exit")

	flagSet.Usage = func() {
		fmt.Fprintf(output, "Usage: %s [flags]\n\nFlags:\n%s", name, flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() > 0 {
		flagSet.Usage()
		return nil, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	o.flagSet = flagSet
	return &o, nil
}

func (o *Options) changed(name string) bool {
	return o.flagSet != nil && o.flagSet.Changed(name)
}

// Apply overrides the configuration with the flags that were set, then
// validates the result.
func (o *Options) Apply(config *Config) error {
	if o.changed("port") {
		config.Serial.Port = o.Port
	}
	if o.changed("log-level") {
		config.Settings.LogLevel = o.LogLevel
	}
	if o.changed("log-file") {
		config.Settings.LogFile = o.LogFile
	}
	if o.changed("export") {
		config.Export.Path = o.Export
	}
	if o.changed("simulate") {
		config.Serial.Simulate = o.Simulate
	}
	if config.Serial.Simulate && config.Serial.Port == "" {
		config.Serial.Port = serialport.SimulatorPort
	}
	if o.changed("headless") {
		config.Settings.Headless = o.Headless
	}

	return config.Validate()
}
