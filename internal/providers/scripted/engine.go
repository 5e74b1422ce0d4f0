// Package scripted replays recognition sessions described in a YAML file.
// It drives the app without a network connection or vendor account.
package scripted

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"micscribe/internal/domain"
	"micscribe/internal/ports"
)

// Script lists the sessions handed out by successive Start calls.
type Script struct {
	// Loop restarts from the first session once all were used. Without it,
	// later sessions stay open silently until stopped.
	Loop     bool            `yaml:"loop"`
	Sessions []SessionScript `yaml:"sessions"`
}

// SessionScript is one engine session.
type SessionScript struct {
	// Reject makes Start fail with this message.
	Reject string `yaml:"reject"`
	Steps  []Step `yaml:"steps"`
}

// Step is one event, emitted After the previous one.
type Step struct {
	After   time.Duration               `yaml:"after"`
	Type    domain.RecognitionEventType `yaml:"type"`
	Index   int                         `yaml:"index"`
	Results []domain.RecognitionResult  `yaml:"results"`
	Error   domain.RecognitionErrorCode `yaml:"error"`
	Detail  string                      `yaml:"detail"`
}

// LoadScript reads and validates a script file.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return Script{}, fmt.Errorf("decode script: %w", err)
	}
	for i, session := range script.Sessions {
		for j, step := range session.Steps {
			switch step.Type {
			case domain.RecognitionEventResult, domain.RecognitionEventError, domain.RecognitionEventEnd:
			default:
				return Script{}, fmt.Errorf("session %d step %d: unsupported event type %q", i, j, step.Type)
			}
			if step.Type == domain.RecognitionEventError && step.Error == "" {
				return Script{}, fmt.Errorf("session %d step %d: error step needs an error code", i, j)
			}
			if step.After < 0 {
				return Script{}, fmt.Errorf("session %d step %d: negative delay", i, j)
			}
		}
	}
	return script, nil
}

// Engine implements ports.RecognitionEngine from a Script.
type Engine struct {
	script Script
	logger zerolog.Logger

	mu      sync.Mutex
	next    int
	started []domain.RecognitionConfig
}

func NewEngine(script Script, logger zerolog.Logger) *Engine {
	return &Engine{
		script: script,
		logger: logger.With().Str("component", "scripted").Logger(),
	}
}

func (e *Engine) Start(ctx context.Context, cfg domain.RecognitionConfig) (ports.RecognitionSession, error) {
	e.mu.Lock()
	script, ok := e.takeLocked()
	e.started = append(e.started, cfg)
	e.mu.Unlock()

	if script.Reject != "" {
		return nil, errors.New(script.Reject)
	}
	if !ok {
		e.logger.Debug().Msg("script exhausted, holding session open")
	}

	s := &session{
		events: make(chan domain.RecognitionEvent, len(script.Steps)+2),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(ctx, script.Steps)
	return s, nil
}

// Starts returns the configs passed to Start so far.
func (e *Engine) Starts() []domain.RecognitionConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.RecognitionConfig, len(e.started))
	copy(out, e.started)
	return out
}

func (e *Engine) takeLocked() (SessionScript, bool) {
	if len(e.script.Sessions) == 0 {
		return SessionScript{}, false
	}
	if e.next >= len(e.script.Sessions) {
		if !e.script.Loop {
			return SessionScript{}, false
		}
		e.next = 0
	}
	script := e.script.Sessions[e.next]
	e.next++
	return script, true
}

type session struct {
	events chan domain.RecognitionEvent

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (s *session) Events() <-chan domain.RecognitionEvent {
	return s.events
}

func (s *session) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *session) run(ctx context.Context, steps []Step) {
	defer close(s.done)
	defer close(s.events)

	s.events <- domain.RecognitionEvent{Type: domain.RecognitionEventStart}

	for _, step := range steps {
		if !s.wait(ctx, step.After) {
			break
		}
		event := domain.RecognitionEvent{Type: step.Type, Error: step.Error, Detail: step.Detail}
		if step.Type == domain.RecognitionEventResult {
			event.Result = &domain.ResultEvent{ResultIndex: step.Index, Results: step.Results}
		}
		s.events <- event
		if step.Type == domain.RecognitionEventEnd {
			return
		}
	}

	select {
	case <-s.stop:
	case <-ctx.Done():
	}
	s.events <- domain.RecognitionEvent{Type: domain.RecognitionEventEnd}
}

func (s *session) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-s.stop:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}
