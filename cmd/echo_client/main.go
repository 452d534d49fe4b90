package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"golang.org/x/sync/errgroup"

	"github.com/echochamber/arena/internal/config"
	"github.com/echochamber/arena/internal/game"
	"github.com/echochamber/arena/internal/logging"
	intOtel "github.com/echochamber/arena/internal/otel"
	"github.com/echochamber/arena/internal/pulse"
	"github.com/echochamber/arena/internal/reconcile"
	"github.com/echochamber/arena/internal/session"
	"github.com/echochamber/arena/internal/world"
)

const ProgramName = "echo_client"

var (
	SessionStartTime = time.Now()

	SlogManager  *logging.SlogManager
	Logger       *slog.Logger
	ZLogger      zerolog.Logger
	OTelProvider *intOtel.Provider
	LogFile      *os.File
)

func main() {
	flags := config.Flags(ProgramName)
	patrolling := flags.Bool("patrol", false, "walk a circle around spawn and fire along the heading")
	fireEvery := flags.Duration("fire-interval", 2*time.Second, "time between patrol shots, 0 disables firing")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	setupLogging(flags)
	defer shutdownLogging()

	args := flags.Args()
	if len(args) > 0 && strings.ToLower(args[0]) == "inspect" {
		if len(args) < 2 {
			fmt.Println("No export files provided.")
			os.Exit(2)
		}
		if err := inspectExports(os.Stdout, args[1:]); err != nil {
			Logger.Error("Inspect failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*patrolling, *fireEvery); err != nil {
		Logger.Error("Client stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogging(flags *pflag.FlagSet) {
	SlogManager = logging.NewSlogManager(ProgramName)
	SlogManager.Setup(logging.Options{Level: "info"})
	Logger = SlogManager.Logger()

	if err := config.BindFlags(flags); err != nil {
		Logger.Warn("Failed to bind flags", "error", err)
	}
	configDir, _ := flags.GetString("config")
	found, err := config.Load(configDir)
	switch {
	case err != nil:
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	case !found:
		Logger.Info("No config file found, using defaults", "dir", configDir)
	default:
		Logger.Info("Loaded config", "dir", configDir)
	}

	var logOut io.Writer
	LogFile, err = logging.OpenLogFile(viper.GetString("logsDir"), ProgramName, SessionStartTime)
	if err != nil {
		Logger.Error("Failed to open log file, logging to stdout", "error", err)
	} else {
		logOut = LogFile
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		OTelProvider, err = intOtel.New(context.Background(), intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      logOut,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
			MetricInterval: otelCfg.MetricInterval,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		}
	}

	var graylog *logging.GelfHandler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		graylog, err = logging.NewGelfHandler(gl.Address, ProgramName, viper.GetString("logLevel"))
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", gl.Address)
		}
	}

	var provider *sdklog.LoggerProvider
	if OTelProvider != nil {
		provider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(logging.Options{
		Level:    viper.GetString("logLevel"),
		File:     logOut,
		Provider: provider,
		Graylog:  graylog,
		Context:  sessionAttrs,
	})
	Logger = SlogManager.Logger()
	if LogFile != nil {
		Logger.Info("Logging to file", "path", LogFile.Name())
	}

	zOut := logOut
	if zOut == nil {
		zOut = os.Stdout
	}
	level, err := zerolog.ParseLevel(viper.GetString("logLevel"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	ZLogger = zerolog.New(zOut).Level(level).With().Timestamp().Str("service", ProgramName).Logger()
}

// connState mirrors the session state for log records written off the loop
// goroutine.
var connState atomic.Value

// sessionAttrs tags every record with the connection state.
func sessionAttrs() []slog.Attr {
	state, _ := connState.Load().(string)
	return []slog.Attr{slog.String("state", state)}
}

func shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shut down OTel: %v\n", err)
		}
	}
	_ = SlogManager.Close()
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

func run(patrolling bool, fireEvery time.Duration) error {
	recorder := initRecorder()

	level, err := loadWorld()
	if err != nil {
		return err
	}

	sc := config.GetSessionConfig()
	rc := config.GetReconcileConfig()
	pc := config.GetPulseConfig()

	cfg := game.Config{
		Session: session.Config{
			URL:                  sc.URL,
			PositionInterval:     sc.PositionInterval,
			MaxReconnectAttempts: sc.MaxReconnectAttempts,
			InitialBackoff:       sc.InitialBackoff,
			MaxBackoff:           sc.MaxBackoff,
			BackoffMultiplier:    sc.BackoffMultiplier,
			InboxSize:            sc.InboxSize,
		},
		Reconcile: reconcile.Options{LerpFactor: rc.LerpFactor, TimeScaled: rc.TimeScaled},
		Pulse: pulse.Params{
			Speed:      pc.Speed,
			BaseDamage: pc.Damage,
			MaxBounces: pc.MaxBounces,
			Lifetime:   pc.Lifetime,
			Radius:     pc.Radius,
		},
		Oracle:   level,
		Recorder: recorder,
		Sink:     &logSink{logger: Logger},
		Logger:   Logger,
	}
	if patrolling {
		cfg.Controller = newPatrol(fireEvery)
	}

	arena, err := game.New(cfg)
	if err != nil {
		return fmt.Errorf("creating game: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	Logger.Info("Connecting to relay", "url", sc.URL, "walls", len(level.Walls()))
	if err := arena.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return arena.Run(gctx, game.DefaultFrameInterval)
	})
	err = g.Wait()

	Logger.Info("Shutting down", "frames", arena.Frames())
	if cerr := arena.Close(); cerr != nil {
		Logger.Error("Failed to close recorder", "error", cerr)
	}
	return err
}

// loadWorld builds the level from world.walls, falling back to the built in
// test level.
func loadWorld() (*world.World, error) {
	var walls []world.WallConfig
	if err := config.UnmarshalKey("world.walls", &walls); err != nil {
		return nil, err
	}
	if len(walls) == 0 {
		return world.TestLevel(), nil
	}
	w, err := world.FromConfig(walls)
	if err != nil {
		return nil, fmt.Errorf("loading world: %w", err)
	}
	return w, nil
}
