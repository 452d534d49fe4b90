package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/echochamber/arena/internal/config"
	"github.com/echochamber/arena/internal/logging"
	"github.com/echochamber/arena/internal/relay"
)

const ProgramName = "echo_relay"

var SessionStartTime = time.Now()

func main() {
	flags := config.Flags(ProgramName)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, closeLog := setupLogger(flags)
	defer closeLog()

	if err := run(log); err != nil {
		log.Error().Err(err).Msg("Relay stopped with error")
		closeLog()
		os.Exit(1)
	}
}

func setupLogger(flags *pflag.FlagSet) (zerolog.Logger, func()) {
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log := zerolog.New(console).With().Timestamp().Str("service", ProgramName).Logger()

	if err := config.BindFlags(flags); err != nil {
		log.Warn().Err(err).Msg("Failed to bind flags")
	}
	configDir, _ := flags.GetString("config")
	if found, err := config.Load(configDir); err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults!")
	} else if found {
		log.Info().Str("dir", configDir).Msg("Loaded config")
	}

	level, err := zerolog.ParseLevel(viper.GetString("logLevel"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = console
	closeFn := func() {}
	f, err := logging.OpenLogFile(viper.GetString("logsDir"), ProgramName, SessionStartTime)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open log file, logging to console only")
	} else {
		out = zerolog.MultiLevelWriter(console, f)
		closeFn = func() { _ = f.Close() }
	}

	log = zerolog.New(out).Level(level).With().Timestamp().Str("service", ProgramName).Logger()
	return log, closeFn
}

func run(log zerolog.Logger) error {
	rc := config.GetRelayConfig()
	hub, err := relay.NewHub(relay.Config{
		BroadcastRate:   rc.BroadcastRate,
		MaxMessageBytes: rc.MaxMessageBytes,
		MessagesPerSec:  rc.MessagesPerSec,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("creating hub: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "players": hub.Players()})
	})

	srv := &http.Server{
		Addr:              rc.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", rc.Listen).Msg("Relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
