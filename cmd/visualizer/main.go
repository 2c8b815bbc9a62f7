package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/roman-kulish/quadcopter-visualizer/cmd/visualizer/app"
)

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	options, err := app.ParseFlags(os.Args[0], os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		bootLogger.Error(err.Error())
		os.Exit(2)
	}

	if options.ListPorts {
		if err = app.ListPorts(os.Stdout); err != nil {
			bootLogger.Error(fmt.Sprintf("failed to list serial ports: %s", err.Error()))
			os.Exit(1)
		}
		return
	}

	config, err := app.LoadConfig(options.ConfigPath)
	if err == nil {
		err = options.Apply(config)
	}
	if err != nil {
		bootLogger.Error(fmt.Sprintf("failed to load configuration: %s", err.Error()), slog.String("path", options.ConfigPath))
		os.Exit(1)
	}

	var logLevel slog.LevelVar
	logger, closeLog, err := app.NewLogger(config.Settings, &logLevel)
	if err != nil {
		bootLogger.Error(err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())
		bootLogger.Error(err.Error())

		cancel()
		_ = closeLog()
		os.Exit(1)
	}
	_ = closeLog()
}
