// Package schema defines the wire message envelope and per-topic
// payload contracts exchanged over the IPC fabric (spec.md §4.2, §6).
package schema

// Upstream topics: workers publish, the orchestrator and HTTP adapter
// subscribe.
const (
	TopicWakewordDetected = "ww.detected"
	TopicSTTTranscription = "stt.transcription"
	TopicLLMResponse      = "llm.response"
	TopicTTSCompletion    = "tts.speak" // bidirectional: completion form upstream
	TopicVisionDetection  = "visn.detection"
	TopicSensor           = "esp.sensor"
	TopicAlert            = "esp.alert"
	TopicRemoteIntent     = "remote.intent"
	TopicRemoteHeartbeat  = "remote.heartbeat"
	TopicHealthPrefix     = "health." // health.<service>
)

// Downstream topics: the orchestrator publishes, workers subscribe.
const (
	TopicListenStart  = "cmd.listen.start"
	TopicListenStop   = "cmd.listen.stop"
	TopicPauseVision  = "cmd.pause_vision"
	TopicVisionMode   = "cmd.vision.mode"
	TopicLLMRequest   = "llm.request"
	TopicTTSRequest   = "tts.speak" // bidirectional: request form downstream
	TopicNavCmd       = "nav.cmd"
	TopicSessionState = "session.remote"
	TopicCancelAll    = "cmd.cancel_all"
	TopicPhase        = "phase"
	TopicNavBlocked   = "nav.blocked"
)

// Direction is the set of legal nav.cmd / llm.response directions.
type Direction string

const (
	DirForward  Direction = "forward"
	DirBackward Direction = "backward"
	DirLeft     Direction = "left"
	DirRight    Direction = "right"
	DirStop     Direction = "stop"
	DirScan     Direction = "scan"
	DirNone     Direction = ""
)

// ValidNavDirection reports whether d is a legal nav.cmd direction.
// Unlike ValidLLMDirection, the empty direction is not accepted — a
// nav.cmd must always say what to do.
func ValidNavDirection(d Direction) bool {
	switch d {
	case DirForward, DirBackward, DirLeft, DirRight, DirStop, DirScan:
		return true
	default:
		return false
	}
}

// ValidLLMDirection reports whether d is a legal llm.response direction,
// including the empty string (the model declining to move the robot).
func ValidLLMDirection(d Direction) bool {
	if d == DirNone {
		return true
	}
	return ValidNavDirection(d)
}

// VisionMode is the set of legal cmd.vision.mode values.
type VisionMode string

const (
	VisionModeOff          VisionMode = "off"
	VisionModeOn           VisionMode = "on"
	VisionModeOnWithStream VisionMode = "on_with_stream"
)

func ValidVisionMode(m VisionMode) bool {
	switch m {
	case VisionModeOff, VisionModeOn, VisionModeOnWithStream:
		return true
	default:
		return false
	}
}

// AlertKind is the set of legal esp.alert kinds.
type AlertKind string

const (
	AlertCollision   AlertKind = "collision"
	AlertWarningZone AlertKind = "warning_zone"
	AlertClear       AlertKind = "clear"
)
