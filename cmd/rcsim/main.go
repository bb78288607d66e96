package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/potrero/rcsim/internal/config"
	"github.com/potrero/rcsim/internal/logging"
	intOtel "github.com/potrero/rcsim/internal/otel"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   string = "0.1.0"
	BuildDate string = "unknown"

	AppName string = "rcsim"
)

var configDir = flag.String("config", ".", "directory containing "+config.FileName)

// app holds the process-wide ambient services shared by every subcommand.
type app struct {
	SessionStart time.Time
	Node         string
	LogsDir      string

	Logs     *logging.SlogManager
	Logger   *slog.Logger
	ZLogger  zerolog.Logger
	Provider *intOtel.Provider

	closers []func() error
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [-config dir] [command]

Commands:
  run        simulator, keyboard controller and map viewer in this terminal (default)
  headless   simulator and relay, logging to stdout
  seedmap    write the configured obstacle points into the configured database map
  version    print version information

Flags:
`, AppName)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	command := "run"
	if flag.NArg() > 0 {
		command = strings.ToLower(flag.Arg(0))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var err error
	switch command {
	case "run":
		err = runTerminal(ctx)
	case "headless":
		err = runHeadless(ctx)
	case "seedmap":
		err = runSeedMap(ctx)
	case "version":
		fmt.Printf("%s %s (built %s)\n", AppName, Version, BuildDate)
	default:
		usage()
		stop()
		os.Exit(2)
	}
	stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

// newApp loads config and sets up logging, OTel and crash reporting.
// console receives text logs; pass nil while the terminal UI owns stdout.
func newApp(ctx context.Context, console io.Writer) (*app, error) {
	a := &app{SessionStart: time.Now()}

	// defaults stay in effect without a file
	cfgErr := config.Load(*configDir)

	logCfg := config.GetLogConfig()
	a.Node = logCfg.Node
	a.LogsDir = logCfg.Dir
	level := logCfg.Level

	logFile, err := logging.OpenLogFile(a.LogsDir, AppName, a.SessionStart)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, logFile.Close)

	var graylog io.Writer
	var graylogErr error
	if logCfg.GraylogEnabled {
		gw, err := logging.OpenGraylog(logCfg.GraylogAddress)
		if err != nil {
			graylogErr = err
		} else {
			graylog = gw
			a.closers = append(a.closers, gw.Close)
		}
	}

	otelCfg := config.GetOTelConfig()
	providerCfg := intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
		Node:         a.Node,
	}
	if otelCfg.Enabled {
		otelFile, err := logging.OpenLogFile(a.LogsDir, AppName+".otel", a.SessionStart)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, otelFile.Close)
		providerCfg.LogWriter = otelFile
	}
	a.Provider, err = intOtel.New(ctx, providerCfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("setting up otel: %w", err)
	}
	// runs before the files close
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Provider.Shutdown(shutdownCtx)
	})

	session := a.SessionStart.UTC().Format("20060102_150405")
	a.Logs = logging.NewSlogManager()
	a.Logs.Setup(logging.Options{
		Level:    level,
		Console:  console,
		File:     logFile,
		Graylog:  graylog,
		Provider: a.Provider.LoggerProvider(),
		Context: func() []slog.Attr {
			return []slog.Attr{slog.String("node", a.Node), slog.String("session", session)}
		},
	})
	a.Logger = a.Logs.Logger()
	a.ZLogger = logging.NewZerolog(level, logFile, graylog).With().Str("node", a.Node).Logger()

	if cfgErr != nil {
		a.Logger.Warn("Config file not loaded, using defaults", "dir", *configDir, "error", cfgErr)
	}
	if graylogErr != nil {
		a.Logger.Warn("Graylog unavailable", "error", graylogErr)
	}

	if sentryCfg := config.GetSentryConfig(); sentryCfg.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         sentryCfg.DSN,
			Environment: sentryCfg.Environment,
			Release:     AppName + "@" + Version,
			ServerName:  a.Node,
		})
		if err != nil {
			a.Logger.Warn("Sentry init failed", "error", err)
		} else {
			a.closers = append(a.closers, func() error {
				sentry.Flush(2 * time.Second)
				return nil
			})
		}
	}

	a.Logger.Info("Starting", "app", AppName, "version", Version, "build", BuildDate, "config", filepath.Join(*configDir, config.FileName))
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Logger != nil {
			a.Logger.Warn("Error during shutdown", "error", err)
		}
	}
	a.closers = nil
}

// guard runs fn, reporting a panic to sentry and returning it as an error
// so the task group shuts the process down cleanly.
func guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Recover(r)
				hub.Flush(5 * time.Second)
				err = fmt.Errorf("%s crashed: %v", name, r)
			}
		}()
		return fn()
	}
}
