package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"micscribe/internal/domain"
	"micscribe/internal/ports"
)

const (
	defaultAPIBaseURL   = "https://api.deepgram.com/v1"
	defaultModel        = "nova-2"
	defaultChunkSize    = 4096
	defaultCloseTimeout = 3 * time.Second
)

var ErrMissingAPIKey = errors.New("DEEPGRAM_API_KEY is not configured")

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool

	// Audio is the capture template; the device comes from each session's
	// recognition config.
	Audio        ports.AudioConfig
	ChunkSize    int
	CloseTimeout time.Duration
}

// Engine implements ports.RecognitionEngine by streaming microphone audio
// to Deepgram's live transcription endpoint.
type Engine struct {
	cfg     Config
	capture ports.AudioCapture
	dialer  *websocket.Dialer
	logger  zerolog.Logger
}

func NewEngine(cfg Config, capture ports.AudioCapture, logger zerolog.Logger) *Engine {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	return &Engine{
		cfg:     cfg,
		capture: capture,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "deepgram").Logger(),
	}
}

// Start rejects the call only for configuration problems. Microphone and
// network failures are reported on the session's event channel, followed
// by an end event.
func (e *Engine) Start(ctx context.Context, rc domain.RecognitionConfig) (ports.RecognitionSession, error) {
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	wsURL, err := buildListenURL(e.cfg, rc)
	if err != nil {
		return nil, err
	}

	audioCfg := e.cfg.Audio
	audioCfg.InputDevice = rc.DeviceID

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &streamingSession{
		engine:   e,
		events:   make(chan domain.RecognitionEvent, 64),
		stopping: make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go s.run(sessionCtx, wsURL, audioCfg)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.done:
		}
	}()

	return s, nil
}

// streamingSession is one websocket connection. Events must be drained
// until closed.
type streamingSession struct {
	engine *Engine

	events   chan domain.RecognitionEvent
	stopping chan struct{}
	readDone chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc

	mu   sync.Mutex
	mic  ports.AudioSession
	conn *websocket.Conn

	stopOnce sync.Once

	errMu   sync.Mutex
	errCode domain.RecognitionErrorCode
	err     error

	// results is owned by readLoop.
	results []domain.RecognitionResult
}

func (s *streamingSession) Events() <-chan domain.RecognitionEvent {
	return s.events
}

// Stop ends the capture so Deepgram can flush its last results, then waits
// for the session to finish. The connection is torn down if that takes
// longer than the close timeout.
func (s *streamingSession) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stopping)
		mic := s.mic
		s.mu.Unlock()

		if mic != nil {
			_ = mic.Stop()
		}
	})

	timer := time.NewTimer(s.engine.cfg.CloseTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.cancel()
	<-s.done
	return errors.New("deepgram session did not close in time")
}

func (s *streamingSession) run(ctx context.Context, wsURL string, audioCfg ports.AudioConfig) {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	logger := s.engine.logger.With().Str("device", audioCfg.InputDevice).Logger()

	mic, err := s.engine.capture.Start(ctx, audioCfg)
	if err != nil {
		if ctx.Err() == nil {
			s.setErr(domain.RecognitionErrorAudioCapture, fmt.Errorf("open microphone: %w", err))
		}
		s.finish(logger)
		return
	}
	if !s.attachMic(mic) {
		_ = mic.Stop()
		s.finish(logger)
		return
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+s.engine.cfg.APIKey)

	conn, resp, err := s.engine.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		code := domain.RecognitionErrorNetwork
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			code = domain.RecognitionErrorNotAllowed
		}
		if !s.isStopping() && ctx.Err() == nil {
			s.setErr(code, fmt.Errorf("connect to Deepgram websocket: %w", err))
		}
		s.stopMic()
		s.finish(logger)
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	logger.Debug().Msg("deepgram session open")
	s.emit(domain.RecognitionEvent{Type: domain.RecognitionEventStart})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(conn)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(conn, mic)
	}()
	wg.Wait()

	_ = conn.Close()
	s.finish(logger)
}

// finish reports the first failure, if any, and the end of the session.
func (s *streamingSession) finish(logger zerolog.Logger) {
	code, err := s.waitErr()
	if err != nil {
		logger.Warn().Err(err).Str("code", string(code)).Msg("deepgram session failed")
		s.emit(domain.RecognitionEvent{Type: domain.RecognitionEventError, Error: code, Detail: err.Error()})
	}
	logger.Debug().Msg("deepgram session ended")
	s.emit(domain.RecognitionEvent{Type: domain.RecognitionEventEnd})
}

func (s *streamingSession) attachMic(mic ports.AudioSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopping:
		return false
	default:
	}
	s.mic = mic
	return true
}

func (s *streamingSession) stopMic() {
	s.mu.Lock()
	mic := s.mic
	s.mu.Unlock()
	if mic != nil {
		_ = mic.Stop()
	}
}

func (s *streamingSession) isStopping() bool {
	select {
	case <-s.stopping:
		return true
	default:
		return false
	}
}

func (s *streamingSession) readerGone() bool {
	select {
	case <-s.readDone:
		return true
	default:
		return false
	}
}

func (s *streamingSession) waitErr() (domain.RecognitionErrorCode, error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.errCode, s.err
}

func (s *streamingSession) setErr(code domain.RecognitionErrorCode, err error) {
	if err == nil {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.errCode = code
		s.err = err
	}
}

// writeLoop pumps microphone audio until the capture ends, then asks
// Deepgram to flush and close the stream.
func (s *streamingSession) writeLoop(conn *websocket.Conn, mic ports.AudioSession) {
	buf := make([]byte, s.engine.cfg.ChunkSize)
	for {
		n, err := mic.Read(buf)
		if n > 0 {
			if writeErr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); writeErr != nil {
				if !s.readerGone() && !s.isStopping() {
					s.setErr(domain.RecognitionErrorNetwork, fmt.Errorf("send audio: %w", writeErr))
				}
				_ = conn.Close()
				return
			}
		}
		if err != nil {
			if !s.readerGone() && !s.isStopping() {
				s.setErr(domain.RecognitionErrorAudioCapture, fmt.Errorf("microphone stream ended: %w", err))
			}
			break
		}
	}

	if s.readerGone() {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil && !s.readerGone() {
		s.setErr(domain.RecognitionErrorNetwork, fmt.Errorf("close stream: %w", err))
		_ = conn.Close()
	}
}

func (s *streamingSession) readLoop(conn *websocket.Conn) {
	defer s.stopMic()
	defer close(s.readDone)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !s.isStopping() && !isNormalClose(err) {
				s.setErr(domain.RecognitionErrorNetwork, fmt.Errorf("read provider event: %w", err))
			}
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = strings.TrimSpace(response.Description)
			}
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(domain.RecognitionErrorOther, errors.New(message))
			return
		}

		alternative, ok := extractAlternative(response)
		if !ok {
			continue
		}
		s.emitResult(alternative, response.IsFinal || response.SpeechFinal)
	}
}

// emitResult keeps the session's cumulative result list: an interim
// replaces a trailing interim, anything else opens a new entry.
func (s *streamingSession) emitResult(alternative domain.Alternative, final bool) {
	result := domain.RecognitionResult{
		Alternatives: []domain.Alternative{alternative},
		IsFinal:      final,
	}

	last := len(s.results) - 1
	if last >= 0 && !s.results[last].IsFinal {
		s.results[last] = result
	} else {
		s.results = append(s.results, result)
		last++
	}

	snapshot := make([]domain.RecognitionResult, len(s.results))
	copy(snapshot, s.results)
	s.emit(domain.RecognitionEvent{
		Type:   domain.RecognitionEventResult,
		Result: &domain.ResultEvent{ResultIndex: last, Results: snapshot},
	})
}

// isNormalClose reports a close frame that ends the stream without error.
// Deepgram closes this way after CloseStream and when it ends a stream on
// its own.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

func (s *streamingSession) emit(event domain.RecognitionEvent) {
	s.events <- event
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []deepgramAlternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []deepgramAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractAlternative(response deepgramResponse) (domain.Alternative, bool) {
	candidates := response.Channel.Alternatives
	if len(candidates) == 0 || strings.TrimSpace(candidates[0].Transcript) == "" {
		if len(response.Results.Channels) > 0 {
			candidates = response.Results.Channels[0].Alternatives
		}
	}
	if len(candidates) == 0 {
		return domain.Alternative{}, false
	}
	text := strings.TrimSpace(candidates[0].Transcript)
	if text == "" {
		return domain.Alternative{}, false
	}
	return domain.Alternative{Transcript: text, Confidence: candidates[0].Confidence}, true
}

func buildListenURL(cfg Config, rc domain.RecognitionConfig) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultAPIBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	sampleRate := cfg.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := cfg.Audio.Channels
	if channels <= 0 {
		channels = 1
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	query.Set("channels", fmt.Sprintf("%d", channels))
	query.Set("interim_results", fmt.Sprintf("%t", rc.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if rc.Language != "" {
		query.Set("language", rc.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
