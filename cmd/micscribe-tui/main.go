package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"micscribe/internal/bootstrap"
	"micscribe/internal/config"
	"micscribe/internal/observability"
	"micscribe/internal/tui"
	"micscribe/internal/usecase"
)

func main() {
	var logPath string
	flag.StringVar(&logPath, "log", defaultLogPath(), "File that receives log output")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	observability.InitLoggerTo(logFile, cfg.Log.Level, false)
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	sink := tui.NewSink()
	services, err := bootstrap.BuildWithConfig(cfg, sink, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.MetricsAddr != "" {
		observability.ServeMetrics(ctx, cfg.MetricsAddr, services.Registry, logger)
	}

	program := tea.NewProgram(
		tui.New(ctx, services.Controller, services.Devices),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	sink.Attach(program)

	final, runErr := program.Run()

	var transcript string
	if model, ok := final.(tui.Model); ok {
		transcript = model.Transcript()
	}
	result, err := services.Controller.Stop(context.Background())
	switch {
	case err == nil:
		transcript = result.Transcript
	case !errors.Is(err, usecase.ErrNoActiveSession):
		logger.Warn().Err(err).Msg("stop on exit failed")
	}
	if err := services.Devices.Release(); err != nil {
		logger.Warn().Err(err).Msg("release on exit failed")
	}

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		logger.Error().Err(runErr).Msg("tui exited with error")
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}

	// Leave the transcript on the terminal once the alt screen is gone.
	if transcript != "" {
		fmt.Println(transcript)
	}
	logger.Info().Msg("shutdown complete")
}

func defaultLogPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "micscribe", "tui.log")
}
