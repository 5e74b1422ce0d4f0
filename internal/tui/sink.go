package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"micscribe/internal/domain"
	"micscribe/internal/ports"
)

var _ ports.EventSink = (*Sink)(nil)

// Sink forwards backend events into a running program. Events raised
// before Attach are dropped.
type Sink struct {
	mu   sync.RWMutex
	send func(tea.Msg)
}

func NewSink() *Sink {
	return &Sink{}
}

// Attach routes subsequent events to program.
func (s *Sink) Attach(program *tea.Program) {
	s.attach(program.Send)
}

func (s *Sink) attach(send func(tea.Msg)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send = send
}

func (s *Sink) dispatch(msg tea.Msg) {
	s.mu.RLock()
	send := s.send
	s.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

func (s *Sink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.dispatch(SessionStateMsg{State: state, Reason: reason})
}

func (s *Sink) TranscriptChanged(text string) {
	s.dispatch(TranscriptMsg{Text: text})
}

func (s *Sink) DevicesChanged(list []domain.DeviceDescriptor) {
	s.dispatch(DevicesMsg{Devices: list})
}

func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	s.dispatch(ErrorMsg{Code: code, Detail: detail})
}

func (s *Sink) Notice(text string) {
	s.dispatch(NoticeMsg{Text: text})
}
