package tui

import "micscribe/internal/domain"

// SessionStateMsg carries a session transition from the controller.
type SessionStateMsg struct {
	State  domain.SessionState
	Reason domain.SessionStateReason
}

// TranscriptMsg carries the full visible transcript.
type TranscriptMsg struct {
	Text string
}

// DevicesMsg carries a rebuilt microphone catalog.
type DevicesMsg struct {
	Devices []domain.DeviceDescriptor
}

// ErrorMsg carries a backend error reported through the sink.
type ErrorMsg struct {
	Code   domain.ErrorCode
	Detail string
}

// NoticeMsg carries a transient status line.
type NoticeMsg struct {
	Text string
}

// ToggledMsg is the outcome of a toggle request.
type ToggledMsg struct {
	Status domain.Status
	Err    error
}

// RefreshedMsg is the outcome of a catalog refresh. The list itself
// arrives as a DevicesMsg.
type RefreshedMsg struct {
	Selected string
	Err      error
}

// SelectedMsg is the outcome of a device selection.
type SelectedMsg struct {
	ID  string
	Err error
}

// ClearNoticeMsg drops a notice once it has been shown long enough. Seq
// matches the notice it belongs to.
type ClearNoticeMsg struct {
	Seq int
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}
