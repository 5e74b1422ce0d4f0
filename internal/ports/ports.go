package ports

import (
	"context"
	"io"

	"micscribe/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// RecognitionSession is one underlying engine session. Events is closed
// after the end event has been delivered.
type RecognitionSession interface {
	Events() <-chan domain.RecognitionEvent
	Stop() error
}

// RecognitionEngine starts continuous recognition sessions. A Start error
// means the engine rejected the call synchronously.
type RecognitionEngine interface {
	Start(ctx context.Context, cfg domain.RecognitionConfig) (RecognitionSession, error)
}

// DeviceEnumerator lists the media devices the platform exposes.
type DeviceEnumerator interface {
	Enumerate(ctx context.Context) ([]domain.RawDevice, error)
}

// PermissionProber asks the platform for microphone access. Failures are
// reported as *domain.AccessError.
type PermissionProber interface {
	RequestAccess(ctx context.Context) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptChanged(text string)
	DevicesChanged(devices []domain.DeviceDescriptor)
	SessionError(code domain.ErrorCode, detail string)
	// Notice is a short-lived status line that does not change the session.
	Notice(text string)
}
