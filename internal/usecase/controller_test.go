package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"micscribe/internal/domain"
	"micscribe/internal/ports"
)

func TestSessionControllerInterimThenFinal(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	events := &fakeEventSink{}
	controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, events)

	if err := controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	session := engine.session(0)
	session.emit(resultEvent(0, interim("testing")))
	session.emit(resultEvent(0, final("testing one two")))

	waitFor(t, func() bool { return controller.Transcript() == "testing one two " })

	transcripts := events.snapshotTranscripts()
	if len(transcripts) != 2 || transcripts[0] != "testing" || transcripts[1] != "testing one two " {
		t.Fatalf("unexpected transcript updates: %q", transcripts)
	}
	status := controller.Status()
	if status.State != domain.SessionStateActive || !status.Active || status.Kind != domain.StatusKindRecording {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestSessionControllerOnlyProcessesNewResults(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, &fakeEventSink{})

	if err := controller.Start(context.Background(), "seed "); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	session := engine.session(0)
	session.emit(resultEvent(0, final("one")))
	session.emit(resultEvent(1, final("one"), interim("tw")))
	session.emit(resultEvent(1, final("one"), final("two")))

	waitFor(t, func() bool { return controller.Transcript() == "seed one two " })
}

func TestSessionControllerNoSpeechIsSwallowed(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	events := &fakeEventSink{}
	controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, events)

	if err := controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	before := controller.Status()

	session := engine.session(0)
	session.emit(domain.RecognitionEvent{Type: domain.RecognitionEventError, Error: domain.RecognitionErrorNoSpeech})
	session.emit(resultEvent(0, interim("after")))
	waitFor(t, func() bool { return controller.Transcript() == "after" })

	if after := controller.Status(); after != before {
		t.Fatalf("status changed: %+v -> %+v", before, after)
	}
	if states := events.snapshotStates(); len(states) != 1 {
		t.Fatalf("expected only the start transition, got %+v", states)
	}
	if errs := events.snapshotErrors(); len(errs) != 0 {
		t.Fatalf("expected no error events, got %+v", errs)
	}
}

func TestSessionControllerNotAllowedStopsWithoutRestart(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	events := &fakeEventSink{}
	controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, events)

	if err := controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	session := engine.session(0)
	session.emit(resultEvent(0, interim("half")))
	session.emit(domain.RecognitionEvent{Type: domain.RecognitionEventError, Error: domain.RecognitionErrorNotAllowed})
	session.end()

	waitFor(t, func() bool { return !controller.Status().Active })
	waitFor(t, func() bool { return session.stopCount() > 0 })
	waitFor(t, session.drained)

	if engine.startCount() != 1 {
		t.Fatalf("expected no restart, got %d starts", engine.startCount())
	}
	status := controller.Status()
	if status.State != domain.SessionStateIdle || status.Kind != domain.StatusKindReady {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Message != domain.ReasonMessage(domain.SessionReasonPermissionDenied) {
		t.Fatalf("unexpected message: %q", status.Message)
	}
	if controller.Transcript() != "half " {
		t.Fatalf("expected provisional flushed, got %q", controller.Transcript())
	}

	states := events.snapshotStates()
	last := states[len(states)-1]
	if last.state != domain.SessionStateIdle || last.reason != domain.SessionReasonPermissionDenied {
		t.Fatalf("unexpected final transition: %+v", last)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeRecognition {
		t.Fatalf("expected recognition error event, got %+v", errs)
	}
}

func TestSessionControllerHardErrorReasons(t *testing.T) {
	t.Parallel()

	cases := map[domain.RecognitionErrorCode]domain.SessionStateReason{
		domain.RecognitionErrorAudioCapture: domain.SessionReasonAudioCaptureFailed,
		domain.RecognitionErrorNetwork:      domain.SessionReasonNetworkFailed,
		domain.RecognitionErrorOther:        domain.SessionReasonRecognitionFailed,
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()

			engine := &fakeEngine{}
			events := &fakeEventSink{}
			controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, events)
			if err := controller.Start(context.Background(), ""); err != nil {
				t.Fatalf("start failed: %v", err)
			}
			engine.session(0).emit(domain.RecognitionEvent{Type: domain.RecognitionEventError, Error: code})
			engine.session(0).end()

			waitFor(t, func() bool { return !controller.Status().Active })
			waitFor(t, engine.session(0).drained)
			if engine.startCount() != 1 {
				t.Fatalf("hard error must not restart")
			}
			states := events.snapshotStates()
			if states[len(states)-1].reason != want {
				t.Fatalf("unexpected reason: %s", states[len(states)-1].reason)
			}
		})
	}
}

func TestSessionControllerRestartsOnUnexpectedEnd(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	events := &fakeEventSink{}
	devices := &fakeDevices{selected: "mic-7"}
	controller := newTestController(engine, &fakeProber{}, devices, events)

	if err := controller.Start(context.Background(), "intro "); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	engine.session(0).emit(resultEvent(0, final("committed")))
	engine.session(0).emit(resultEvent(1, final("committed"), interim("hello worl")))
	engine.session(0).end()

	waitFor(t, func() bool { return engine.startCount() == 2 })
	if got := controller.Transcript(); got != "intro committed hello worl " {
		t.Fatalf("unexpected transcript after restart: %q", got)
	}

	const restarts = 5
	for i := 1; i <= restarts; i++ {
		engine.session(i).end()
		want := i + 2
		waitFor(t, func() bool { return engine.startCount() == want })
	}

	if got := controller.Transcript(); got != "intro committed hello worl " {
		t.Fatalf("restarts changed transcript: %q", got)
	}
	if !controller.Status().Active {
		t.Fatalf("expected recording to continue")
	}
	if states := events.snapshotStates(); len(states) != 1 {
		t.Fatalf("restarts must not change the toggle, got %+v", states)
	}

	cfg := engine.config(restarts + 1)
	if cfg.DeviceID != "mic-7" || cfg.Language != "pt-BR" || !cfg.Continuous || !cfg.InterimResults {
		t.Fatalf("unexpected restart config: %+v", cfg)
	}

	engine.session(restarts+1).emit(resultEvent(0, final("more")))
	waitFor(t, func() bool { return controller.Transcript() == "intro committed hello worl more " })
}

func TestSessionControllerClosedChannelCountsAsEnd(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, &fakeEventSink{})

	if err := controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	engine.session(0).close()

	waitFor(t, func() bool { return engine.startCount() == 2 })
	if !controller.Status().Active {
		t.Fatalf("expected recording to continue")
	}
}

func TestSessionControllerRestartFailureIsTerminal(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{failAfter: 1, err: errors.New("engine busy")}
	events := &fakeEventSink{}
	controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, events)

	if err := controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	engine.session(0).emit(resultEvent(0, interim("pending")))
	engine.session(0).end()

	waitFor(t, func() bool { return !controller.Status().Active })

	if controller.Transcript() != "pending " {
		t.Fatalf("expected provisional kept, got %q", controller.Transcript())
	}
	states := events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonRecordingEnded {
		t.Fatalf("unexpected reason: %s", states[len(states)-1].reason)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeRestart {
		t.Fatalf("expected restart error, got %+v", errs)
	}
}

func TestSessionControllerStopSuppressesRestart(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	devices := &fakeDevices{}
	events := &fakeEventSink{}
	controller := newTestController(engine, &fakeProber{}, devices, events)

	if err := controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	session := engine.session(0)
	session.emit(resultEvent(0, interim("hello worl")))
	waitFor(t, func() bool { return controller.Transcript() == "hello worl" })

	session.endOnStop = true
	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if result.Transcript != "hello worl " {
		t.Fatalf("unexpected stop transcript: %q", result.Transcript)
	}
	if session.stopCount() != 1 {
		t.Fatalf("expected engine session stopped")
	}
	if devices.releaseCount() != 1 {
		t.Fatalf("expected device stream released")
	}
	if engine.startCount() != 1 {
		t.Fatalf("late end after stop must not restart")
	}

	status := controller.Status()
	if status.Active || status.Message != domain.ReasonMessage(domain.SessionReasonRecordingEnded) {
		t.Fatalf("unexpected status: %+v", status)
	}
	if _, err := controller.Stop(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestSessionControllerNewRecordingAppends(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, &fakeEventSink{})

	if err := controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	engine.session(0).emit(resultEvent(0, final("first")))
	waitFor(t, func() bool { return controller.Transcript() == "first " })

	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if err := controller.Start(context.Background(), result.Transcript); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	engine.session(1).emit(resultEvent(0, final("second")))
	waitFor(t, func() bool { return controller.Transcript() == "first second " })
}

func TestSessionControllerPermissionRefused(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	events := &fakeEventSink{}
	prober := &fakeProber{err: &domain.AccessError{Category: domain.AccessNotFound}}
	controller := newTestController(engine, prober, &fakeDevices{}, events)

	err := controller.Start(context.Background(), "")
	var accessErr *domain.AccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("expected access error, got %v", err)
	}
	if engine.startCount() != 0 {
		t.Fatalf("engine must not start without permission")
	}
	states := events.snapshotStates()
	if len(states) != 1 || states[0].reason != domain.SessionReasonMicrophoneNotFound {
		t.Fatalf("unexpected transitions: %+v", states)
	}

	prober.err = errors.New("denied")
	_ = controller.Start(context.Background(), "")
	states = events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonPermissionDenied {
		t.Fatalf("expected permission denied, got %s", states[len(states)-1].reason)
	}
}

func TestSessionControllerEngineStartFailure(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{failAfter: 0, err: errors.New("no engine")}
	events := &fakeEventSink{}
	controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, events)

	if err := controller.Start(context.Background(), ""); err == nil {
		t.Fatalf("expected start error")
	}
	status := controller.Status()
	if status.Active || status.Message != domain.ReasonMessage(domain.SessionReasonStartFailed) {
		t.Fatalf("unexpected status: %+v", status)
	}

	engine.err = nil
	engine.failAfter = -1
	if err := controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("controller must accept a new start after failure: %v", err)
	}
}

func TestSessionControllerToggle(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	controller := newTestController(engine, &fakeProber{}, &fakeDevices{}, &fakeEventSink{})

	if err := controller.Toggle(context.Background(), "x "); err != nil {
		t.Fatalf("toggle on failed: %v", err)
	}
	if err := controller.Start(context.Background(), ""); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if err := controller.Toggle(context.Background(), ""); err != nil {
		t.Fatalf("toggle off failed: %v", err)
	}
	if controller.Status().Active {
		t.Fatalf("expected idle after second toggle")
	}
	if controller.Transcript() != "x " {
		t.Fatalf("unexpected transcript: %q", controller.Transcript())
	}
}

func TestSessionControllerStopDuringStartCancelsRecording(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	devices := &fakeDevices{}
	events := &fakeEventSink{}
	prober := &fakeProber{entered: make(chan struct{}, 1), release: make(chan struct{})}
	controller := newTestController(engine, prober, devices, events)

	started := make(chan error, 1)
	go func() { started <- controller.Start(context.Background(), "seed ") }()
	<-prober.entered

	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop while starting failed: %v", err)
	}
	if result.Transcript != "seed " {
		t.Fatalf("unexpected stop transcript: %q", result.Transcript)
	}
	close(prober.release)

	if err := <-started; !errors.Is(err, ErrStartCanceled) {
		t.Fatalf("expected ErrStartCanceled, got %v", err)
	}
	if engine.startCount() != 0 {
		t.Fatalf("engine must not start after stop")
	}
	if controller.Status().Active {
		t.Fatalf("controller must stay idle")
	}
	if devices.releaseCount() != 1 {
		t.Fatalf("expected device stream released")
	}
	states := events.snapshotStates()
	if len(states) != 1 || states[0].state != domain.SessionStateIdle || states[0].reason != domain.SessionReasonRecordingEnded {
		t.Fatalf("unexpected transitions: %+v", states)
	}

	if err := controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("controller must accept a new start after a canceled one: %v", err)
	}
	if !controller.Status().Active {
		t.Fatalf("expected recording after new start")
	}
}

func TestSessionControllerToggleDuringStartStops(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	prober := &fakeProber{entered: make(chan struct{}), release: make(chan struct{})}
	controller := newTestController(engine, prober, &fakeDevices{}, &fakeEventSink{})

	started := make(chan error, 1)
	go func() { started <- controller.Toggle(context.Background(), "") }()
	<-prober.entered

	if err := controller.Toggle(context.Background(), ""); err != nil {
		t.Fatalf("second toggle should stop the pending start, got %v", err)
	}
	close(prober.release)

	if err := <-started; !errors.Is(err, ErrStartCanceled) {
		t.Fatalf("expected ErrStartCanceled, got %v", err)
	}
	if engine.startCount() != 0 || controller.Status().Active {
		t.Fatalf("recording must not come up after a stop")
	}
}

func TestSessionControllerInitialStatus(t *testing.T) {
	t.Parallel()

	controller := newTestController(&fakeEngine{}, &fakeProber{}, &fakeDevices{}, &fakeEventSink{})
	status := controller.Status()
	if status.State != domain.SessionStateIdle || status.Active || status.Message != "Ready to record" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func newTestController(engine ports.RecognitionEngine, prober ports.PermissionProber, devices DeviceSelection, events ports.EventSink) *SessionController {
	return NewSessionController(engine, prober, devices, events, nil, zerolog.Nop(), Config{Language: "pt-BR"})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func interim(text string) domain.RecognitionResult {
	return domain.RecognitionResult{Alternatives: []domain.Alternative{{Transcript: text}}}
}

func final(text string) domain.RecognitionResult {
	return domain.RecognitionResult{IsFinal: true, Alternatives: []domain.Alternative{{Transcript: text}}}
}

func resultEvent(index int, results ...domain.RecognitionResult) domain.RecognitionEvent {
	return domain.RecognitionEvent{
		Type:   domain.RecognitionEventResult,
		Result: &domain.ResultEvent{ResultIndex: index, Results: results},
	}
}

type fakeEngine struct {
	mu sync.Mutex
	// failAfter makes every start from that index on fail with err; a
	// negative value (or nil err) never fails.
	failAfter int
	err       error
	sessions  []*fakeRecognitionSession
	configs   []domain.RecognitionConfig
	attempts  int
}

func (f *fakeEngine) Start(_ context.Context, cfg domain.RecognitionConfig) (ports.RecognitionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil && f.failAfter >= 0 && len(f.sessions) >= f.failAfter {
		return nil, f.err
	}
	session := &fakeRecognitionSession{events: make(chan domain.RecognitionEvent, 32)}
	f.sessions = append(f.sessions, session)
	f.configs = append(f.configs, cfg)
	return session, nil
}

func (f *fakeEngine) session(i int) *fakeRecognitionSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeEngine) config(i int) domain.RecognitionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[i]
}

func (f *fakeEngine) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type fakeRecognitionSession struct {
	mu        sync.Mutex
	events    chan domain.RecognitionEvent
	closed    bool
	stops     int
	endOnStop bool
}

func (f *fakeRecognitionSession) Events() <-chan domain.RecognitionEvent { return f.events }

func (f *fakeRecognitionSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.endOnStop && !f.closed {
		f.events <- domain.RecognitionEvent{Type: domain.RecognitionEventEnd}
	}
	f.closeLocked()
	return nil
}

func (f *fakeRecognitionSession) emit(event domain.RecognitionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- event
}

func (f *fakeRecognitionSession) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- domain.RecognitionEvent{Type: domain.RecognitionEventEnd}
	f.closeLocked()
}

func (f *fakeRecognitionSession) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
}

func (f *fakeRecognitionSession) closeLocked() {
	if !f.closed {
		close(f.events)
		f.closed = true
	}
}

func (f *fakeRecognitionSession) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeRecognitionSession) drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed && len(f.events) == 0
}

type fakeProber struct {
	mu  sync.Mutex
	err error

	// When set, RequestAccess signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeProber) RequestAccess(_ context.Context) error {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

type fakeDevices struct {
	mu       sync.Mutex
	selected string
	releases int
}

func (f *fakeDevices) Selected() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func (f *fakeDevices) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeDevices) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

type fakeEventSink struct {
	mu sync.Mutex

	states      []stateEvent
	transcripts []string
	devices     [][]domain.DeviceDescriptor
	errors      []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptChanged(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, text)
}

func (f *fakeEventSink) DevicesChanged(devices []domain.DeviceDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, devices)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) Notice(_ string) {}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotTranscripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.transcripts))
	copy(out, f.transcripts)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}
