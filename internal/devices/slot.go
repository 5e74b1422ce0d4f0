package devices

import (
	"context"
	"sync"

	"micscribe/internal/ports"
)

// StreamSlot holds at most one open microphone stream. Opening a stream
// always closes the previous holder first, whoever opened it.
type StreamSlot struct {
	capture ports.AudioCapture

	mu      sync.Mutex
	current ports.AudioSession
}

func NewStreamSlot(capture ports.AudioCapture) *StreamSlot {
	return &StreamSlot{capture: capture}
}

// Start implements ports.AudioCapture.
func (s *StreamSlot) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		_ = s.current.Stop()
		s.current = nil
	}

	session, err := s.capture.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.current = session
	return &slotSession{AudioSession: session, slot: s}, nil
}

// Release closes the held stream, if any.
func (s *StreamSlot) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	err := s.current.Stop()
	s.current = nil
	return err
}

// Held reports whether a stream is currently open.
func (s *StreamSlot) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *StreamSlot) forget(session ports.AudioSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == session {
		s.current = nil
	}
}

type slotSession struct {
	ports.AudioSession
	slot *StreamSlot
}

func (s *slotSession) Stop() error {
	s.slot.forget(s.AudioSession)
	return s.AudioSession.Stop()
}

func (s *slotSession) Close() error {
	return s.Stop()
}
