package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"micscribe/internal/ports"
)

const (
	defaultSampleRate  = 16000
	defaultChannels    = 1
	defaultInputFormat = "pulse"
	defaultInputDevice = "default"

	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// CaptureError is returned when ffmpeg could not open the input. Stderr
// holds what ffmpeg printed before exiting.
type CaptureError struct {
	Device string
	Stderr string
	Err    error
}

func (e *CaptureError) Error() string {
	msg := fmt.Sprintf("capture %q exited before audio started", e.Device)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// FFMPEGCapture streams microphone PCM audio using ffmpeg.
type FFMPEGCapture struct {
	command string
	logger  zerolog.Logger
}

func NewFFMPEGCapture(command string, logger zerolog.Logger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{
		command: command,
		logger:  logger.With().Str("component", "capture").Logger(),
	}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	// Children that inherit stderr must not keep Wait from returning.
	cmd.WaitDelay = stopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &CaptureError{Device: cfg.InputDevice, Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	timer := time.NewTimer(startupGrace)
	defer timer.Stop()

	select {
	case err := <-waitErr:
		return nil, &CaptureError{Device: cfg.InputDevice, Stderr: trimOutput(stderr.String()), Err: err}
	case <-timer.C:
	}

	c.logger.Debug().Str("device", cfg.InputDevice).Str("format", cfg.InputFormat).Msg("capture started")
	return &ffmpegSession{
		device:  cfg.InputDevice,
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
		logger:  c.logger,
	}, nil
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = defaultInputFormat
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = defaultInputDevice
	}
	return cfg
}

func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type ffmpegSession struct {
	device string
	stdout io.ReadCloser
	stderr *lockedBuffer
	logger zerolog.Logger

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg and kills it if it does not exit in time.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		timer := time.NewTimer(stopGrace)
		defer timer.Stop()

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-timer.C:
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}

		if out := trimOutput(s.stderr.String()); out != "" {
			if s.stopErr != nil {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, out)
			}
			s.logger.Debug().Str("device", s.device).Str("stderr", out).Msg("capture stopped")
		}
	})

	return s.stopErr
}

// normalizeStopErr drops the exit status ffmpeg reports after an interrupt
// and the pipe timeout left by stray children.
func normalizeStopErr(err error) error {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// lockedBuffer lets Stop read stderr while exec's copier still writes it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
