// Package events defines the engine's outward-facing event envelope and
// payload shapes: a string Type enum plus one payload struct per event.
package events

// Type names one of the engine's outward event kinds.
type Type string

const (
	SetAlertSucceeded        Type = "SET_ALERT_SUCCEEDED"
	SetAlertFailed           Type = "SET_ALERT_FAILED"
	DeleteAlertSucceeded     Type = "DELETE_ALERT_SUCCEEDED"
	DeleteAlertFailed        Type = "DELETE_ALERT_FAILED"
	AlertVolumeChanged       Type = "ALERT_VOLUME_CHANGED"
	SpeakerOpened            Type = "SPEAKER_OPENED"
	SpeakerClosed            Type = "SPEAKER_CLOSED"
	BufferStateChanged       Type = "BUFFER_STATE_CHANGED"
	SpeakerMarkerEncountered Type = "SPEAKER_MARKER_ENCOUNTERED"
	VolumeChanged            Type = "VOLUME_CHANGED"
	MicrophoneOpened         Type = "MICROPHONE_OPENED"
	MicrophoneClosed         Type = "MICROPHONE_CLOSED"
	OpenMicrophoneTimedOut   Type = "OPEN_MICROPHONE_TIMED_OUT"
	SynchronizeClock         Type = "SYNCHRONIZE_CLOCK"
	ExceptionEncountered     Type = "EXCEPTION_ENCOUNTERED"
	UXStateChanged           Type = "UX_STATE_CHANGED"
	DisconnectRequested      Type = "DISCONNECT_REQUESTED"
)

// Event is the envelope every component hands to the engine's event
// channel. Data holds one of the payload structs below, or nil for
// payload-less events.
type Event struct {
	Type Type        `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// BufferState names the speaker/microphone buffer fill-level state machine.
type BufferState string

const (
	BufferNone            BufferState = "none"
	BufferOverrun         BufferState = "overrun"
	BufferOverrunWarning  BufferState = "overrun_warning"
	BufferUnderrun        BufferState = "underrun"
	BufferUnderrunWarning BufferState = "underrun_warning"
)

// MessageRef identifies the inbound message a malformed/exception/overrun
// report pertains to.
type MessageRef struct {
	Topic          string `json:"topic"`
	SequenceNumber uint32 `json:"sequenceNumber"`
}

type SetAlertSucceededData struct {
	Token string `json:"token"`
}

type SetAlertFailedData struct {
	Token string `json:"token"`
}

type DeleteAlertSucceededData struct {
	Token string `json:"token"`
}

type DeleteAlertFailedData struct {
	Token string `json:"token"`
}

type AlertVolumeChangedData struct {
	Volume uint8 `json:"volume"`
}

type SpeakerOpenedData struct {
	Offset uint64 `json:"offset"`
}

type SpeakerClosedData struct {
	Offset uint64 `json:"offset"`
}

type BufferStateChangedData struct {
	Message MessageRef  `json:"message"`
	State   BufferState `json:"state"`
}

type SpeakerMarkerEncounteredData struct {
	Marker uint32 `json:"marker"`
}

type VolumeChangedData struct {
	Volume uint8   `json:"volume"`
	Offset *uint64 `json:"offset,omitempty"`
}

type WakeWordIndices struct {
	BeginOffset uint64 `json:"beginOffset"`
	EndOffset   uint64 `json:"endOffset"`
}

type WakeWordPayload struct {
	WakeWord        string          `json:"wakeWord"`
	WakeWordIndices WakeWordIndices `json:"wakeWordIndices"`
}

// Initiator describes what triggered a microphone open.
type Initiator struct {
	Type    string           `json:"type"` // "tap" | "hold" | "wakeword"
	Payload *WakeWordPayload `json:"payload,omitempty"`
}

type MicrophoneOpenedData struct {
	Profile   string     `json:"profile"`
	Offset    uint64     `json:"offset"`
	Initiator *Initiator `json:"initiator,omitempty"`
}

type MicrophoneClosedData struct {
	Offset uint64 `json:"offset"`
}

type ExceptionEncounteredData struct {
	Message MessageRef `json:"message"`
	Index   *int       `json:"index,omitempty"`
	Kind    string     `json:"kind"`
}

type UXState string

const (
	UXIdle                  UXState = "idle"
	UXThinking              UXState = "thinking"
	UXSpeaking              UXState = "speaking"
	UXAlerting              UXState = "alerting"
	UXNotificationAvailable UXState = "notification-available"
	UXDoNotDisturb          UXState = "do-not-disturb"
	UXListening             UXState = "listening"
)

type UXStateChangedData struct {
	State UXState `json:"state"`
}

type DisconnectRequestedData struct {
	Cause string `json:"cause"`
}
