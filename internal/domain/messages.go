package domain

import "fmt"

// ReasonMessage is the status-line text for a session transition.
func ReasonMessage(reason SessionStateReason) string {
	switch reason {
	case SessionReasonReady:
		return "Ready to record"
	case SessionReasonRequestingAccess:
		return "Requesting microphone permission..."
	case SessionReasonRecordingStarted:
		return "Recording... speak now!"
	case SessionReasonRecordingEnded:
		return "Recording finished"
	case SessionReasonStartFailed:
		return "Could not start recording. Try again."
	case SessionReasonPermissionDenied:
		return "Microphone permission denied. Allow microphone access."
	case SessionReasonMicrophoneNotFound:
		return "No microphone found. Connect a microphone and refresh."
	case SessionReasonAudioCaptureFailed:
		return "Audio capture failed. Check the microphone."
	case SessionReasonNetworkFailed:
		return "Network error. Check your connection."
	case SessionReasonRecognitionFailed:
		return "Speech recognition error."
	default:
		return ""
	}
}

// DevicesLoadedMessage reports the outcome of a device refresh.
func DevicesLoadedMessage(count int) string {
	if count == 0 {
		return "No microphone found. Connect a microphone and refresh."
	}
	return fmt.Sprintf("Loaded %d microphone(s)", count)
}

// ErrorMessage is the user-facing summary of a backend error.
func ErrorMessage(code ErrorCode, detail string) string {
	switch code {
	case ErrorCodeStartup:
		return "Startup failed"
	case ErrorCodeRecognition:
		return "Speech recognition error"
	case ErrorCodeRestart:
		return "Recording ended"
	case ErrorCodeDeviceEnumeration:
		return "Error loading microphones. Check permissions."
	case ErrorCodeDeviceSelect:
		return "Error configuring the selected microphone. Using the default microphone."
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// StatusKindFor maps a session state to the status-line class.
func StatusKindFor(state SessionState) StatusKind {
	if state == SessionStateActive {
		return StatusKindRecording
	}
	return StatusKindReady
}
