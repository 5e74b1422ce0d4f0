package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"micscribe/internal/domain"
)

func TestSinkDropsEventsBeforeAttach(t *testing.T) {
	sink := NewSink()
	sink.TranscriptChanged("lost")

	var got []tea.Msg
	sink.attach(func(msg tea.Msg) { got = append(got, msg) })
	if len(got) != 0 {
		t.Fatalf("expected no messages, got %v", got)
	}
}

func TestSinkTranslatesEvents(t *testing.T) {
	sink := NewSink()
	var got []tea.Msg
	sink.attach(func(msg tea.Msg) { got = append(got, msg) })

	list := []domain.DeviceDescriptor{{ID: "usb", Label: "Yeti", GroupKey: "usb"}}
	sink.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonRecordingStarted)
	sink.TranscriptChanged("hi ")
	sink.DevicesChanged(list)
	sink.SessionError(domain.ErrorCodeRecognition, "boom")
	sink.Notice("Loaded 1 microphone(s)")

	if len(got) != 5 {
		t.Fatalf("messages = %d, want 5", len(got))
	}
	if msg, ok := got[0].(SessionStateMsg); !ok || msg.State != domain.SessionStateActive || msg.Reason != domain.SessionReasonRecordingStarted {
		t.Errorf("state msg = %#v", got[0])
	}
	if msg, ok := got[1].(TranscriptMsg); !ok || msg.Text != "hi " {
		t.Errorf("transcript msg = %#v", got[1])
	}
	if msg, ok := got[2].(DevicesMsg); !ok || len(msg.Devices) != 1 || msg.Devices[0].ID != "usb" {
		t.Errorf("devices msg = %#v", got[2])
	}
	if msg, ok := got[3].(ErrorMsg); !ok || msg.Code != domain.ErrorCodeRecognition || msg.Detail != "boom" {
		t.Errorf("error msg = %#v", got[3])
	}
	if msg, ok := got[4].(NoticeMsg); !ok || msg.Text != "Loaded 1 microphone(s)" {
		t.Errorf("notice msg = %#v", got[4])
	}
}
