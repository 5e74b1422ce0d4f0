package audio

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"micscribe/internal/domain"
	"micscribe/internal/ports"
)

// AccessProber checks microphone access by briefly opening a capture on the
// default input. The probe stream is closed before RequestAccess returns.
type AccessProber struct {
	capture ports.AudioCapture
	cfg     ports.AudioConfig
	logger  zerolog.Logger
}

func NewAccessProber(capture ports.AudioCapture, cfg ports.AudioConfig, logger zerolog.Logger) *AccessProber {
	cfg.InputDevice = ""
	return &AccessProber{
		capture: capture,
		cfg:     cfg,
		logger:  logger.With().Str("component", "prober").Logger(),
	}
}

// RequestAccess implements ports.PermissionProber.
func (p *AccessProber) RequestAccess(ctx context.Context) error {
	session, err := p.capture.Start(ctx, p.cfg)
	if err != nil {
		category := ClassifyAccessError(err)
		p.logger.Debug().Err(err).Str("category", string(category)).Msg("microphone access probe failed")
		return &domain.AccessError{Category: category, Err: err}
	}
	if err := session.Stop(); err != nil {
		p.logger.Debug().Err(err).Msg("probe stream did not close cleanly")
	}
	return nil
}

var (
	notAllowedMarkers = []string{"permission denied", "access denied", "operation not permitted"}
	notFoundMarkers   = []string{"no such", "not found", "cannot find", "connection refused"}
)

// ClassifyAccessError maps a capture failure onto an access category using
// the output the capture process left behind.
func ClassifyAccessError(err error) domain.AccessCategory {
	if err == nil || errors.Is(err, exec.ErrNotFound) {
		return domain.AccessOther
	}
	text := err.Error()
	var captureErr *CaptureError
	if errors.As(err, &captureErr) {
		text = captureErr.Stderr + " " + text
	}
	text = strings.ToLower(text)

	for _, marker := range notAllowedMarkers {
		if strings.Contains(text, marker) {
			return domain.AccessNotAllowed
		}
	}
	for _, marker := range notFoundMarkers {
		if strings.Contains(text, marker) {
			return domain.AccessNotFound
		}
	}
	return domain.AccessOther
}
