// Command deviced runs the MCP device server against simulated hardware.
// It serves the device tools over a framed serial link (a tty or the
// process stdio) and a newline-delimited TCP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgemcp/device-server-go/devicetools"
	"github.com/edgemcp/device-server-go/devicetools/devicetest"
	"github.com/edgemcp/device-server-go/internal/config"
	"github.com/edgemcp/device-server-go/serial"
	"github.com/edgemcp/device-server-go/server"
	"github.com/edgemcp/device-server-go/tcpserver"
)

func main() {
	configPath := flag.String("config", "", "path to the deviced YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	level := new(slog.LevelVar)
	level.Set(logLevel(cfg.Logging.Level))
	log := newLogger(cfg.Logging.Format, level)

	srv := server.New(
		server.WithLogger(log),
		server.WithInfo(cfg.Server.Name, cfg.Server.Version),
		server.WithQueueDepth(cfg.Server.QueueDepth),
		server.WithMaxResultBytes(cfg.Server.MaxResultBytes),
	)

	display := devicetest.NewSimDisplay()
	gpio := devicetest.NewSimGPIO()
	system := devicetest.NewSimSystem()
	if err := registerTools(srv, cfg, display, gpio, system); err != nil {
		return err
	}

	if cfg.Serial.Enabled {
		rw, err := openSerial(cfg.Serial.Device)
		if err != nil {
			return fmt.Errorf("opening serial device: %w", err)
		}
		st, err := serial.New(rw, cfg.SerialTransportConfig(), serial.WithLogger(log))
		if err != nil {
			return err
		}
		if err := srv.AddTransport("serial", st); err != nil {
			return err
		}
	}
	if cfg.TCP.Enabled {
		tt, err := tcpserver.New(cfg.TCPTransportConfig(), tcpserver.WithLogger(log))
		if err != nil {
			return err
		}
		if err := srv.AddTransport("tcp", tt); err != nil {
			return err
		}
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Error("shutdown failed", slog.String("err", err.Error()))
		}
	}()

	// Config changes on disk retune the log level without a restart.
	// Everything else requires one.
	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, log, func(c *config.Config) {
				level.Set(logLevel(c.Logging.Level))
			})
			if err != nil && ctx.Err() == nil {
				log.Warn("config watcher stopped", slog.String("err", err.Error()))
			}
		}()
	}

	log.Info("deviced running",
		slog.String("name", cfg.Server.Name),
		slog.Bool("serial", cfg.Serial.Enabled),
		slog.Bool("tcp", cfg.TCP.Enabled))

	<-ctx.Done()
	return nil
}

func registerTools(srv *server.Server, cfg *config.Config, display *devicetest.SimDisplay, gpio *devicetest.SimGPIO, system *devicetest.SimSystem) error {
	health := serverHealth{srv}
	if cfg.Tools.Echo {
		if err := srv.RegisterTool(devicetools.NewEchoTool()); err != nil {
			return err
		}
	}
	if cfg.Tools.Display {
		if err := srv.RegisterTool(devicetools.NewDisplayTool(display)); err != nil {
			return err
		}
	}
	if cfg.Tools.GPIO {
		if err := srv.RegisterTool(devicetools.NewGPIOTool(gpio)); err != nil {
			return err
		}
	}
	if cfg.Tools.System {
		if err := srv.RegisterTool(devicetools.NewSystemTool(system)); err != nil {
			return err
		}
	}
	if cfg.Tools.Status {
		if err := srv.RegisterTool(devicetools.NewStatusTool(display, gpio, system, health)); err != nil {
			return err
		}
	}
	return nil
}

// serverHealth feeds server counters into the status tool.
type serverHealth struct {
	srv *server.Server
}

func (h serverHealth) ErrorCount() uint64 {
	return h.srv.Stats().Errors
}

func (h serverHealth) ActiveConnections() int {
	return h.srv.Stats().ActiveConnections
}

// stdioPipe serves the framed protocol over the process streams. Logs go
// to stderr so the frames own stdout.
type stdioPipe struct {
	io.Reader
	io.Writer
}

func openSerial(device string) (io.ReadWriter, error) {
	if device == "stdio" {
		return stdioPipe{os.Stdin, os.Stdout}, nil
	}
	return os.OpenFile(device, os.O_RDWR, 0)
}

func newLogger(format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
