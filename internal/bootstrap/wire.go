package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"micscribe/internal/audio"
	"micscribe/internal/config"
	"micscribe/internal/devices"
	"micscribe/internal/observability"
	"micscribe/internal/platform/pulse"
	"micscribe/internal/ports"
	"micscribe/internal/providers/deepgram"
	"micscribe/internal/providers/scripted"
	"micscribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Devices    *devices.Catalog
	Config     config.Config
	Registry   *prometheus.Registry
}

// Build loads configuration and wires all backend dependencies.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, eventSink, observability.GetLogger())
}

// BuildWithConfig wires the runtime graph for an already loaded config.
func BuildWithConfig(cfg config.Config, eventSink ports.EventSink, logger zerolog.Logger) (Services, error) {
	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	capture := audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logger)
	slot := devices.NewStreamSlot(capture)
	prober := audio.NewAccessProber(capture, audioCfg, logger)

	enumerator, err := pulse.NewEnumerator(cfg.Devices.Command, logger)
	if err != nil {
		return Services{}, err
	}

	engine, err := buildEngine(cfg, slot, audioCfg, logger)
	if err != nil {
		return Services{}, err
	}

	catalog := devices.NewCatalog(enumerator, prober, slot, eventSink, metrics, logger, devices.Config{
		Settle:        cfg.Devices.Settle,
		Audio:         audioCfg,
		InitialDevice: cfg.Devices.InitialDevice,
	})

	controller := usecase.NewSessionController(engine, prober, catalog, eventSink, metrics, logger, usecase.Config{
		Language: cfg.Language,
	})

	logger.Info().
		Str("engine", cfg.Engine).
		Str("language", cfg.Language).
		Str("input_format", cfg.Audio.InputFormat).
		Msg("runtime wired")

	return Services{
		Controller: controller,
		Devices:    catalog,
		Config:     cfg,
		Registry:   registry,
	}, nil
}

func buildEngine(cfg config.Config, capture ports.AudioCapture, audioCfg ports.AudioConfig, logger zerolog.Logger) (ports.RecognitionEngine, error) {
	switch cfg.Engine {
	case config.EngineScripted:
		script, err := scripted.LoadScript(cfg.ScriptFile)
		if err != nil {
			return nil, err
		}
		return scripted.NewEngine(script, logger), nil
	case config.EngineDeepgram:
		return deepgram.NewEngine(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			SmartFormat: cfg.Deepgram.SmartFormat,
			Audio:       audioCfg,
			ChunkSize:   cfg.Audio.ChunkSize,
		}, capture, logger), nil
	default:
		return nil, fmt.Errorf("unknown recognition engine %q", cfg.Engine)
	}
}
