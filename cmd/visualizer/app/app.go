package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/roman-kulish/quadcopter-visualizer/internal/chart"
	"github.com/roman-kulish/quadcopter-visualizer/internal/rawlog"
	"github.com/roman-kulish/quadcopter-visualizer/internal/serialport"
	"github.com/roman-kulish/quadcopter-visualizer/internal/series"
	"github.com/roman-kulish/quadcopter-visualizer/internal/station"
	"github.com/roman-kulish/quadcopter-visualizer/internal/telemetry"
	"github.com/roman-kulish/quadcopter-visualizer/internal/window"
)

// NoPort is the port menu entry meaning disconnected
const NoPort = "None"

// components is the wired telemetry pipeline
type components struct {
	registry *series.Registry
	windows  *window.Manager
	feed     *rawlog.Feed
	station  *station.Station
	simulate bool
}

// Run starts the visualizer and blocks until the context is cancelled or the
// user quits the terminal UI.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	c, err := newComponents(config, logger)
	if err != nil {
		return err
	}

	if config.Serial.Connected() {
		if err = c.station.Connect(config.Serial.Port); err != nil {
			// not fatal, the station retries in the background
			logger.Warn(fmt.Sprintf("failed to open port: %s", err.Error()), slog.String("port", config.Serial.Port))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.station.Run(ctx); err != nil {
			logger.Error(err.Error())
		}
	}()

	if config.Settings.Headless {
		err = runHeadless(ctx, config, c, logger)
	} else {
		err = runTUI(ctx, config, c, logger)
	}

	cancel()
	wg.Wait()

	if config.Export.Path != "" {
		if exportErr := exportPicture(config.Export, c.windows); exportErr != nil {
			err = errors.Join(err, fmt.Errorf("exporting picture: %w", exportErr))
		} else {
			logger.Info("picture exported", slog.String("path", config.Export.Path))
		}
	}

	return err
}

func newComponents(config *Config, logger *slog.Logger) (*components, error) {
	registry, err := series.NewRegistry(config.Instruments)
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}

	windows, err := window.New(registry,
		window.WithSpan(config.Window.SpanMs),
		window.WithStep(config.Window.StepMs),
		window.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating window manager: %w", err)
	}

	feed, err := rawlog.NewFeed(config.RawLog.Capacity)
	if err != nil {
		return nil, fmt.Errorf("creating raw log: %w", err)
	}

	transport, err := newTransport(config, logger)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	options := []func(*station.Station){
		station.WithLogger(logger),
		station.WithPollInterval(config.Serial.PollInterval),
		station.WithBackoff(config.Serial.ReconnectMin, config.Serial.ReconnectMax),
		station.WithWindow(windows),
		station.WithFeed(feed),
		station.WithMaxLineLength(config.Serial.MaxLineLength),
	}
	if config.Serial.LocalTimestamps {
		options = append(options, station.WithLocalTimestamps())
	}

	st, err := station.New(transport, registry, options...)
	if err != nil {
		return nil, fmt.Errorf("creating station: %w", err)
	}

	return &components{
		registry: registry,
		windows:  windows,
		feed:     feed,
		station:  st,
		simulate: config.Serial.Simulate,
	}, nil
}

// listPorts returns the entries of the port menu. Serial ports carry their
// USB details when the enumerator can provide them, otherwise only the names
// the transport lists.
func (c *components) listPorts() ([]serialport.PortInfo, error) {
	if !c.simulate {
		if ports, err := serialport.Ports(); err == nil {
			return ports, nil
		}
	}

	names, err := c.station.Ports()
	if err != nil {
		return nil, err
	}
	ports := make([]serialport.PortInfo, 0, len(names))
	for _, name := range names {
		info := serialport.PortInfo{Name: name}
		if c.simulate {
			info.Product = "simulator"
		}
		ports = append(ports, info)
	}
	return ports, nil
}

func newTransport(config *Config, logger *slog.Logger) (serialport.Transport, error) {
	if !config.Serial.Simulate {
		return serialport.NewSerial(
			serialport.WithBaudRate(config.Serial.BaudRate),
			serialport.WithLogger(logger)), nil
	}

	sim, err := serialport.NewSimulator(config.Instruments,
		serialport.WithBanner("Quadcopter simulator", "Calibrating IMU... done"))
	if err != nil {
		return nil, err
	}
	return sim, nil
}

// ListPorts writes the serial ports of the system to w.
func ListPorts(w io.Writer) error {
	ports, err := serialport.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		_, err = fmt.Fprintln(w, "no serial ports found")
		return err
	}
	for _, p := range ports {
		if _, err = fmt.Fprintln(w, p.String()); err != nil {
			return err
		}
	}
	return nil
}

// NewLogger creates the application logger. The terminal UI owns stdout, so
// without a log file its logs are discarded. The returned function closes
// the log file.
func NewLogger(settings Settings, level *slog.LevelVar) (*slog.Logger, func() error, error) {
	l, err := settings.Level()
	if err != nil {
		return nil, nil, err
	}
	level.Set(l)

	var out io.Writer = io.Discard
	closer := func() error { return nil }

	switch {
	case settings.LogFile != "":
		f, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out, closer = f, f.Close

	case settings.Headless:
		out = os.Stdout
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer, nil
}

// exportPicture renders the visible windows into a picture file.
func exportPicture(config ExportConfig, windows *window.Manager) error {
	renderer, err := chart.NewRenderer(chart.RenderConfig{
		Width:       config.Width,
		PanelHeight: config.PanelHeight,
	})
	if err != nil {
		return err
	}

	slices, err := windows.VisibleSlices()
	if err != nil {
		return err
	}

	img, err := renderer.Render(slices)
	if err != nil {
		return err
	}

	f, err := os.Create(config.Path)
	if err != nil {
		return err
	}

	if err = chart.Export(f, config.Path, img); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

// runHeadless refreshes the windows and logs statistics until the context
// is cancelled.
func runHeadless(ctx context.Context, config *Config, c *components, logger *slog.Logger) error {
	logger.Info("running headless",
		slog.String("port", config.Serial.Port),
		slog.Bool("simulate", config.Serial.Simulate))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.windows.Run(ctx, config.Window.RefreshInterval, nil); err != nil {
			logger.Error(err.Error())
		}
	}()

	ticker := time.NewTicker(config.Settings.StatsInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil

		case <-ticker.C:
			for line := range c.feed.Since(lastSeq) {
				lastSeq = line.Seq
				if line.Kind.IsError() {
					logger.Warn("bad line", slog.String("kind", line.Kind.String()), slog.String("line", line.Text))
				}
			}

			stats := c.registry.Stats()
			logger.Info(c.station.State().Summary(),
				slog.Uint64("samples", stats.Samples),
				slog.Uint64("dropped", stats.Dropped))
			logReadings(logger, c.registry.Instruments(), c.registry.Telemetry())
		}
	}
}

// logReadings logs the latest reading of every instrument, channels in
// legend order.
func logReadings(logger *slog.Logger, instruments []telemetry.Instrument, t *telemetry.Telemetry) {
	for _, inst := range instruments {
		r, ok := t.Reading(inst.Name)
		if !ok {
			continue
		}

		attrs := []any{slog.String("instrument", inst.Name), slog.Int64("timestamp", r.Timestamp)}
		for _, name := range inst.ChannelNames() {
			attrs = append(attrs, slog.Int64(name, r.Values[name]))
		}
		logger.Info("reading", attrs...)
	}
}
