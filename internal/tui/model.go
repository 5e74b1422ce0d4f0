// Package tui is a terminal front end for the dictation controller.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"micscribe/internal/devices"
	"micscribe/internal/domain"
	"micscribe/internal/usecase"
)

// Recorder is the slice of the session controller the TUI drives.
type Recorder interface {
	Toggle(ctx context.Context, visibleText string) error
	Status() domain.Status
}

// DeviceCatalog is the slice of the device catalog the TUI drives.
type DeviceCatalog interface {
	Refresh(ctx context.Context, forcePermissionPrompt bool) ([]domain.DeviceDescriptor, error)
	SelectDevice(ctx context.Context, id string) error
	Selected() string
}

// Model is the root bubbletea model.
//
// Update never calls the recorder or the catalog directly: both report
// through the sink while holding their own locks, and the sink blocks
// until Update has consumed the message. Every backend call runs in a
// tea.Cmd instead.
type Model struct {
	ctx      context.Context
	recorder Recorder
	catalog  DeviceCatalog

	// Session
	state      domain.SessionState
	statusText string
	busy       bool

	// Transcript as shown; seeds the next recording.
	transcript string

	// Devices
	devices  []domain.DeviceDescriptor
	selected string

	// A notice replaces the idle status line until it expires.
	notice    string
	noticeSeq int

	// Errors
	errorMessage   string
	errorTransient bool

	width  int
	height int
}

// New creates a Model bound to a recorder and a device catalog.
func New(ctx context.Context, recorder Recorder, catalog DeviceCatalog) Model {
	return Model{
		ctx:        ctx,
		recorder:   recorder,
		catalog:    catalog,
		state:      domain.SessionStateIdle,
		statusText: domain.ReasonMessage(domain.SessionReasonReady),
	}
}

// Init loads the device catalog without prompting for access and applies
// a preselected device.
func (m Model) Init() tea.Cmd {
	return refreshCmd(m.ctx, m.catalog, false, true)
}

func toggleCmd(ctx context.Context, recorder Recorder, visibleText string) tea.Cmd {
	return func() tea.Msg {
		err := recorder.Toggle(ctx, visibleText)
		if errors.Is(err, usecase.ErrStartCanceled) {
			err = nil
		}
		return ToggledMsg{Status: recorder.Status(), Err: err}
	}
}

func refreshCmd(ctx context.Context, catalog DeviceCatalog, forcePermission, applySelection bool) tea.Cmd {
	return func() tea.Msg {
		_, err := catalog.Refresh(ctx, forcePermission)
		selected := catalog.Selected()
		if err == nil && applySelection && selected != "" {
			if selErr := catalog.SelectDevice(ctx, selected); selErr != nil {
				selected = ""
			}
		}
		return RefreshedMsg{Selected: selected, Err: err}
	}
}

func selectCmd(ctx context.Context, catalog DeviceCatalog, id string) tea.Cmd {
	return func() tea.Msg {
		err := catalog.SelectDevice(ctx, id)
		if err != nil {
			id = catalog.Selected()
		}
		return SelectedMsg{ID: id, Err: err}
	}
}

func clearNoticeCmd(seq int) tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return ClearNoticeMsg{Seq: seq}
	})
}

func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SessionStateMsg:
		m.state = msg.State
		if text := domain.ReasonMessage(msg.Reason); text != "" {
			m.statusText = text
		}
		return m, nil

	case TranscriptMsg:
		m.transcript = msg.Text
		return m, nil

	case DevicesMsg:
		m.devices = msg.Devices
		return m, nil

	case ErrorMsg:
		m.errorMessage = domain.ErrorMessage(msg.Code, msg.Detail)
		if msg.Detail != "" && msg.Detail != m.errorMessage {
			m.errorMessage += " (" + msg.Detail + ")"
		}
		m.errorTransient = true
		return m, clearTransientErrorCmd()

	case NoticeMsg:
		m.noticeSeq++
		m.notice = msg.Text
		return m, clearNoticeCmd(m.noticeSeq)

	case ClearNoticeMsg:
		if msg.Seq == m.noticeSeq {
			m.notice = ""
		}
		return m, nil

	case ToggledMsg:
		m.busy = false
		m.state = msg.Status.State
		if msg.Status.Message != "" {
			m.statusText = msg.Status.Message
		}
		if msg.Err != nil {
			return m.transientError(msg.Err.Error())
		}
		return m, nil

	case RefreshedMsg:
		// Failures were already reported through the sink.
		m.busy = false
		m.selected = msg.Selected
		return m, nil

	case SelectedMsg:
		m.busy = false
		m.selected = msg.ID
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		return m, tea.Quit

	case KeyToggle:
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.errorMessage = ""
		return m, toggleCmd(m.ctx, m.recorder, m.transcript)

	case KeyCycleDevice:
		if m.busy || len(m.devices) == 0 {
			return m, nil
		}
		if m.recording() {
			return m.transientError("stop recording before changing the microphone")
		}
		choices := m.deviceChoices()
		next := choices[(lo.IndexOf(choices, m.selected)+1)%len(choices)]
		if next == m.selected {
			return m, nil
		}
		m.busy = true
		return m, selectCmd(m.ctx, m.catalog, next)

	case KeyRefresh:
		if m.busy {
			return m, nil
		}
		m.busy = true
		return m, refreshCmd(m.ctx, m.catalog, true, false)

	case KeyClear:
		if !m.recording() {
			m.transcript = ""
		}
		return m, nil
	}

	return m, nil
}

func (m Model) transientError(text string) (tea.Model, tea.Cmd) {
	m.errorMessage = text
	m.errorTransient = true
	return m, clearTransientErrorCmd()
}

func (m Model) recording() bool {
	return m.state == domain.SessionStateActive
}

// deviceChoices is the tab cycle: the system default first, then every
// listed device.
func (m Model) deviceChoices() []string {
	choices := []string{""}
	for _, device := range m.devices {
		if device.ID != "" {
			choices = append(choices, device.ID)
		}
	}
	return choices
}

// selectedIndex is the catalog position of the selected device, or -1
// when the selection is not listed.
func (m Model) selectedIndex() int {
	for i, device := range m.devices {
		if device.ID == m.selected {
			return i
		}
	}
	return -1
}

// View renders the model.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	divider := DividerStyle.Render(strings.Repeat("─", width))

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(divider)
	b.WriteString("\n")
	b.WriteString(m.renderDevice())
	b.WriteString("\n")
	b.WriteString(divider)
	b.WriteString("\n")
	b.WriteString(m.renderTranscript(width))
	b.WriteString("\n")
	b.WriteString(divider)
	b.WriteString("\n")
	if m.errorMessage != "" {
		b.WriteString(ErrorTextStyle.Render(m.errorMessage))
		b.WriteString("\n")
	}
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	dot := IdleDotStyle.Render("○")
	text := m.statusText
	if m.notice != "" {
		text = m.notice
	}
	status := ReadyStatusStyle.Render(text)
	if m.recording() {
		dot = RecordingDotStyle.Render("●")
		status = RecordingStatusStyle.Render(m.statusText)
	}
	return fmt.Sprintf("%s %s  %s", dot, TitleStyle.Render("micscribe"), status)
}

func (m Model) renderDevice() string {
	if len(m.devices) == 0 {
		return DimStyle.Render("Microphone: " + devices.DefaultMicrophoneLabel)
	}
	index := m.selectedIndex()
	if index < 0 {
		return DimStyle.Render("Microphone: ") + SelectedStyle.Render(devices.DefaultMicrophoneLabel) +
			DimStyle.Render(fmt.Sprintf("  (%d available)", len(m.devices)))
	}
	label := devices.DisplayLabel(m.devices[index], index+1)
	return DimStyle.Render("Microphone: ") + SelectedStyle.Render(label) +
		DimStyle.Render(fmt.Sprintf("  (%d/%d)", index+1, len(m.devices)))
}

func (m Model) renderTranscript(width int) string {
	if m.transcript == "" {
		return DimStyle.Render("Your transcript will appear here...")
	}
	wrapped := lipgloss.NewStyle().Width(width).Render(m.transcript)

	// Header, device line, dividers, error and footer take the rest.
	room := m.height - 7
	if m.height <= 0 || room < 1 {
		return wrapped
	}
	lines := strings.Split(wrapped, "\n")
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"space", "record"},
		{"tab", "microphone"},
		{"r", "refresh"},
		{"c", "clear"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, FooterKeyStyle.Render(k.key)+" "+FooterDescStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}

// Transcript returns the transcript as shown.
func (m Model) Transcript() string {
	return m.transcript
}
