package domain

// SessionState models the recording lifecycle seen by the user.
type SessionState string

const (
	SessionStateIdle   SessionState = "idle"
	SessionStateActive SessionState = "recording"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady              SessionStateReason = "ready"
	SessionReasonRequestingAccess   SessionStateReason = "requesting_access"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonRecordingEnded     SessionStateReason = "recording_ended"
	SessionReasonStartFailed        SessionStateReason = "start_failed"
	SessionReasonPermissionDenied   SessionStateReason = "permission_denied"
	SessionReasonMicrophoneNotFound SessionStateReason = "microphone_not_found"
	SessionReasonAudioCaptureFailed SessionStateReason = "audio_capture_failed"
	SessionReasonNetworkFailed      SessionStateReason = "network_failed"
	SessionReasonRecognitionFailed  SessionStateReason = "recognition_failed"
)

// StatusKind is the category class of the status line.
type StatusKind string

const (
	StatusKindReady     StatusKind = "ready"
	StatusKindRecording StatusKind = "recording"
)

// ErrorCode identifies backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodeRecognition       ErrorCode = "recognition"
	ErrorCodeRestart           ErrorCode = "restart"
	ErrorCodeDeviceEnumeration ErrorCode = "device_enumeration"
	ErrorCodeDeviceSelect      ErrorCode = "device_select"
)

// RecognitionErrorCode is the category an engine reports with an error event.
type RecognitionErrorCode string

const (
	RecognitionErrorNoSpeech     RecognitionErrorCode = "no-speech"
	RecognitionErrorAudioCapture RecognitionErrorCode = "audio-capture"
	RecognitionErrorNotAllowed   RecognitionErrorCode = "not-allowed"
	RecognitionErrorNetwork      RecognitionErrorCode = "network"
	RecognitionErrorOther        RecognitionErrorCode = "other"
)

// RecognitionEventType identifies engine callbacks.
type RecognitionEventType string

const (
	RecognitionEventStart  RecognitionEventType = "start"
	RecognitionEventResult RecognitionEventType = "result"
	RecognitionEventError  RecognitionEventType = "error"
	RecognitionEventEnd    RecognitionEventType = "end"
)

// Alternative is one hypothesis for an utterance.
type Alternative struct {
	Transcript string  `json:"transcript" yaml:"transcript"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// RecognitionResult holds the alternatives for one utterance.
type RecognitionResult struct {
	Alternatives []Alternative `json:"alternatives" yaml:"alternatives"`
	IsFinal      bool          `json:"isFinal" yaml:"final"`
}

// ResultEvent carries the cumulative result list of a session. Entries
// before ResultIndex were already delivered by earlier events.
type ResultEvent struct {
	ResultIndex int                 `json:"resultIndex"`
	Results     []RecognitionResult `json:"results"`
}

// RecognitionEvent is a single engine callback.
type RecognitionEvent struct {
	Type   RecognitionEventType `json:"type"`
	Result *ResultEvent         `json:"result,omitempty"`
	Error  RecognitionErrorCode `json:"error,omitempty"`
	Detail string               `json:"detail,omitempty"`
}

// RecognitionConfig is handed to the engine on every (re)start.
type RecognitionConfig struct {
	Language       string
	Continuous     bool
	InterimResults bool
	DeviceID       string
}

// DeviceKind mirrors the media device kinds a platform reports.
type DeviceKind string

const (
	DeviceKindAudioInput  DeviceKind = "audioinput"
	DeviceKindAudioOutput DeviceKind = "audiooutput"
	DeviceKindVideoInput  DeviceKind = "videoinput"
)

// RawDevice is an entry exactly as the platform enumerates it.
type RawDevice struct {
	ID       string
	Label    string
	GroupKey string
	Kind     DeviceKind
}

// DeviceDescriptor is a de-duplicated audio input offered to the user.
type DeviceDescriptor struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	GroupKey string `json:"groupKey"`
}

// StopResult is returned once recording is stopped.
type StopResult struct {
	Transcript string `json:"transcript"`
}

// Status summarizes the current runtime status.
type Status struct {
	State   SessionState `json:"state"`
	Kind    StatusKind   `json:"kind"`
	Active  bool         `json:"active"`
	Message string       `json:"message,omitempty"`
}
