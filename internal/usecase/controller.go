package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"micscribe/internal/domain"
	"micscribe/internal/observability"
	"micscribe/internal/ports"
	"micscribe/internal/transcript"
)

var (
	ErrNoActiveSession  = errors.New("no active recording session")
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrStartCanceled    = errors.New("recording start canceled by stop")
)

const stopDrainTimeout = 4 * time.Second

// Config controls recognition sessions.
type Config struct {
	Language string
}

// DeviceSelection is the part of the device catalog the controller needs.
type DeviceSelection interface {
	Selected() string
	Release() error
}

// SessionController is the recording state machine. It keeps the user's
// intent to record separate from the lifecycle of the underlying engine
// session, restarting the engine whenever it ends on its own.
//
// Engine events and user actions are serialized by mu, and sink events are
// emitted while it is held so the UI sees transitions in order. Sinks must
// not call back into the controller synchronously.
type SessionController struct {
	engine  ports.RecognitionEngine
	prober  ports.PermissionProber
	devices DeviceSelection
	events  ports.EventSink
	metrics *observability.Metrics
	logger  zerolog.Logger
	cfg     Config

	mu         sync.Mutex
	recording  bool
	starting   bool
	// cancelStart records a stop issued while a start was in flight.
	cancelStart bool
	startText   string
	reason     domain.SessionStateReason
	transcript *transcript.Accumulator
	current    *activeSession
	generation uint64
	sessionCtx context.Context
	log        zerolog.Logger
}

func NewSessionController(
	engine ports.RecognitionEngine,
	prober ports.PermissionProber,
	devices DeviceSelection,
	events ports.EventSink,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *SessionController {
	logger = logger.With().Str("component", "session").Logger()
	return &SessionController{
		engine:     engine,
		prober:     prober,
		devices:    devices,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		reason:     domain.SessionReasonReady,
		transcript: transcript.NewAccumulator(),
		log:        logger,
	}
}

// Start begins a recording that appends to visibleText. A Stop issued
// while Start is still probing access or starting the engine wins: Start
// then returns ErrStartCanceled and leaves the controller idle.
func (c *SessionController) Start(ctx context.Context, visibleText string) error {
	c.mu.Lock()
	if c.recording || c.starting {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.starting = true
	c.cancelStart = false
	c.startText = visibleText
	c.mu.Unlock()

	if err := c.prober.RequestAccess(ctx); err != nil {
		reason := accessReason(err)
		c.mu.Lock()
		c.starting = false
		c.cancelStart = false
		c.reason = reason
		c.logger.Warn().Err(err).Str("reason", string(reason)).Msg("microphone access refused")
		c.events.SessionStateChanged(domain.SessionStateIdle, reason)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	canceled := c.cancelStart
	c.mu.Unlock()
	if canceled {
		return c.abortStart(nil)
	}

	session, err := c.engine.Start(ctx, c.recognitionConfig())
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.cancelStart = false
		c.reason = domain.SessionReasonStartFailed
		c.logger.Error().Err(err).Msg("recognition engine refused to start")
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStartFailed)
		c.events.SessionError(domain.ErrorCodeRecognition, err.Error())
		c.mu.Unlock()
		return fmt.Errorf("start recognition: %w", err)
	}

	c.mu.Lock()
	if c.cancelStart {
		c.mu.Unlock()
		return c.abortStart(session)
	}
	defer c.mu.Unlock()

	c.starting = false
	c.recording = true
	c.sessionCtx = ctx
	c.log = observability.WithRecordingID(c.logger, "")
	c.transcript.Begin(visibleText)
	c.attachLocked(session)
	c.reason = domain.SessionReasonRecordingStarted

	c.metrics.RecordingStarted()
	c.log.Info().Str("device", c.devices.Selected()).Str("language", c.cfg.Language).Msg("recording started")
	c.events.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonRecordingStarted)
	return nil
}

// abortStart unwinds a start that a Stop overtook. session is the engine
// session started before the stop was noticed, if any.
func (c *SessionController) abortStart(session ports.RecognitionSession) error {
	if session != nil {
		go func() {
			for range session.Events() {
			}
		}()
		if err := session.Stop(); err != nil {
			c.logger.Debug().Err(err).Msg("engine session stop after canceled start")
		}
	}
	if err := c.devices.Release(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to release device stream")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	c.cancelStart = false
	c.reason = domain.SessionReasonRecordingEnded
	c.logger.Info().Msg("recording start canceled")
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonRecordingEnded)
	return ErrStartCanceled
}

// Stop ends the recording on the user's request. Pending provisional text
// is committed, the engine session is detached so its late events (and its
// end) cannot trigger a restart, and the held device stream is released.
func (c *SessionController) Stop(_ context.Context) (domain.StopResult, error) {
	c.mu.Lock()
	if !c.recording {
		if c.starting {
			c.cancelStart = true
			text := c.startText
			c.mu.Unlock()
			return domain.StopResult{Transcript: text}, nil
		}
		c.mu.Unlock()
		return domain.StopResult{}, ErrNoActiveSession
	}

	c.recording = false
	active := c.detachLocked()
	if c.transcript.Flush() {
		c.events.TranscriptChanged(c.transcript.Text())
	}
	text := c.transcript.Text()
	c.reason = domain.SessionReasonRecordingEnded

	c.metrics.RecordingStopped()
	c.log.Info().Msg("recording stopped by user")
	c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonRecordingEnded)
	logger := c.log
	c.mu.Unlock()

	if active != nil {
		if err := active.session.Stop(); err != nil {
			logger.Warn().Err(err).Msg("engine session did not stop cleanly")
		}
		if !waitForEvents(active, stopDrainTimeout) {
			logger.Warn().Msg("engine session kept emitting after stop")
		}
	}
	if err := c.devices.Release(); err != nil {
		logger.Warn().Err(err).Msg("failed to release device stream")
	}

	return domain.StopResult{Transcript: text}, nil
}

// Toggle starts a recording when idle and stops it otherwise, including a
// recording that is still starting.
func (c *SessionController) Toggle(ctx context.Context, visibleText string) error {
	c.mu.Lock()
	recording := c.recording || c.starting
	c.mu.Unlock()

	if recording {
		_, err := c.Stop(ctx)
		return err
	}
	return c.Start(ctx, visibleText)
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := domain.SessionStateIdle
	if c.recording {
		state = domain.SessionStateActive
	}
	return domain.Status{
		State:   state,
		Kind:    domain.StatusKindFor(state),
		Active:  c.recording,
		Message: domain.ReasonMessage(c.reason),
	}
}

// Transcript returns the visible transcript.
func (c *SessionController) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Text()
}

func (c *SessionController) recognitionConfig() domain.RecognitionConfig {
	return domain.RecognitionConfig{
		Language:       c.cfg.Language,
		Continuous:     true,
		InterimResults: true,
		DeviceID:       c.devices.Selected(),
	}
}

func (c *SessionController) attachLocked(session ports.RecognitionSession) {
	c.generation++
	active := &activeSession{
		generation: c.generation,
		session:    session,
		eventsDone: make(chan struct{}),
	}
	c.current = active
	go c.consumeRecognitionEvents(active)
}

func (c *SessionController) detachLocked() *activeSession {
	active := c.current
	c.current = nil
	c.generation++
	return active
}

// consumeRecognitionEvents feeds one session's events into the state
// machine. A channel closed without an end event is treated as an end.
func (c *SessionController) consumeRecognitionEvents(active *activeSession) {
	defer close(active.eventsDone)

	for event := range active.session.Events() {
		c.handleEvent(active.generation, event)
	}
	c.handleEvent(active.generation, domain.RecognitionEvent{Type: domain.RecognitionEventEnd})
}

func (c *SessionController) handleEvent(generation uint64, event domain.RecognitionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.generation != generation {
		return
	}

	switch event.Type {
	case domain.RecognitionEventStart:
		c.log.Debug().Uint64("generation", generation).Msg("engine session started")
	case domain.RecognitionEventResult:
		if event.Result == nil {
			return
		}
		finals, interims := transcript.Segments(*event.Result)
		if c.transcript.Apply(finals, interims) {
			c.events.TranscriptChanged(c.transcript.Text())
		}
	case domain.RecognitionEventError:
		c.handleErrorLocked(event)
	case domain.RecognitionEventEnd:
		c.handleEndLocked()
	}
}

func (c *SessionController) handleErrorLocked(event domain.RecognitionEvent) {
	c.metrics.RecognitionError(string(event.Error))

	// Silence is routine in continuous mode.
	if event.Error == domain.RecognitionErrorNoSpeech {
		c.log.Debug().Msg("no speech detected")
		return
	}

	reason := recognitionErrorReason(event.Error)
	c.log.Warn().Str("code", string(event.Error)).Str("detail", event.Detail).Msg("recognition failed")

	active := c.detachLocked()
	c.recording = false
	if c.transcript.Flush() {
		c.events.TranscriptChanged(c.transcript.Text())
	}
	c.reason = reason
	c.metrics.RecordingStopped()

	detail := event.Detail
	if detail == "" {
		detail = string(event.Error)
	}
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
	c.events.SessionError(domain.ErrorCodeRecognition, detail)

	// The consumer goroutine keeps draining while the engine shuts down.
	go stopQuietly(active, c.log)
}

func (c *SessionController) handleEndLocked() {
	if !c.recording {
		return
	}

	if c.transcript.Flush() {
		c.events.TranscriptChanged(c.transcript.Text())
	}
	c.transcript.Begin(c.transcript.Text())

	previous := c.current
	session, err := c.engine.Start(c.sessionCtx, c.recognitionConfig())
	if err != nil {
		c.detachLocked()
		c.recording = false
		c.reason = domain.SessionReasonRecordingEnded
		c.metrics.RecordingStopped()
		c.log.Error().Err(err).Msg("engine restart failed")
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonRecordingEnded)
		c.events.SessionError(domain.ErrorCodeRestart, err.Error())
		return
	}

	c.metrics.SessionRestarted()
	c.log.Info().Uint64("previous_generation", previous.generation).Msg("engine session ended, restarted")
	c.attachLocked(session)
}

func stopQuietly(active *activeSession, logger zerolog.Logger) {
	if active == nil {
		return
	}
	if err := active.session.Stop(); err != nil {
		logger.Debug().Err(err).Msg("engine session stop after error")
	}
}

func accessReason(err error) domain.SessionStateReason {
	var accessErr *domain.AccessError
	if errors.As(err, &accessErr) && accessErr.Category == domain.AccessNotFound {
		return domain.SessionReasonMicrophoneNotFound
	}
	return domain.SessionReasonPermissionDenied
}

func recognitionErrorReason(code domain.RecognitionErrorCode) domain.SessionStateReason {
	switch code {
	case domain.RecognitionErrorAudioCapture:
		return domain.SessionReasonAudioCaptureFailed
	case domain.RecognitionErrorNotAllowed:
		return domain.SessionReasonPermissionDenied
	case domain.RecognitionErrorNetwork:
		return domain.SessionReasonNetworkFailed
	default:
		return domain.SessionReasonRecognitionFailed
	}
}
