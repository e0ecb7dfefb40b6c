package schema

// BBox is a [x, y, w, h] bounding box in source-image pixel coordinates.
type BBox [4]float64

// WakewordDetected is the ww.detected payload.
type WakewordDetected struct {
	Timestamp  int64   `json:"timestamp"`
	Keyword    string  `json:"keyword"`
	Confidence float64 `json:"confidence"`
}

// Transcription is the stt.transcription payload.
type Transcription struct {
	Timestamp   int64   `json:"timestamp"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Language    string  `json:"language,omitempty"`
	DurationsMs []int   `json:"durations_ms,omitempty"`
}

// LLMResponse is the llm.response payload.
type LLMResponse struct {
	Timestamp int64     `json:"timestamp"`
	RequestID string    `json:"request_id"`
	Speak     string    `json:"speak"`
	Direction Direction `json:"direction"`
	Track     string    `json:"track,omitempty"`
	Raw       string    `json:"raw,omitempty"`
}

// TTSCompletion is the upstream completion form of tts.speak.
type TTSCompletion struct {
	Timestamp int64  `json:"timestamp"`
	RequestID string `json:"request_id"`
	Done      bool   `json:"done"`
}

// TTSRequest is the downstream request form of tts.speak.
type TTSRequest struct {
	Timestamp int64  `json:"timestamp"`
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
}

// VisionDetection is the visn.detection payload.
type VisionDetection struct {
	Timestamp  int64   `json:"timestamp"`
	Label      string  `json:"label"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	RequestID  string  `json:"request_id,omitempty"`
}

// Sensor is the esp.sensor payload, parsed from the UART DATA: line.
type Sensor struct {
	Timestamp   int64 `json:"timestamp"`
	S1          int   `json:"s1"`
	S2          int   `json:"s2"`
	S3          int   `json:"s3"`
	MQ2         int   `json:"mq2"`
	LMotor      int   `json:"lmotor"`
	RMotor      int   `json:"rmotor"`
	MinDistance int   `json:"min_distance"`
	Obstacle    bool  `json:"obstacle"`
	Warning     bool  `json:"warning"`
}

// Alert is the esp.alert payload, parsed from the UART ALERT: line.
type Alert struct {
	Timestamp int64     `json:"timestamp"`
	Kind      AlertKind `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	S1        int       `json:"s1,omitempty"`
	S2        int       `json:"s2,omitempty"`
	S3        int       `json:"s3,omitempty"`
}

// RemoteIntent is the remote.intent payload, produced by the HTTP
// adapter's POST /intent handler.
type RemoteIntent struct {
	Timestamp  int64             `json:"timestamp"`
	Intent     string            `json:"intent"`
	Direction  Direction         `json:"direction,omitempty"`
	Text       string            `json:"text,omitempty"`
	Speed      int               `json:"speed,omitempty"`
	DurationMs int               `json:"duration_ms,omitempty"`
	Extras     map[string]string `json:"extras,omitempty"`
}

// RemoteHeartbeat is the remote.heartbeat payload.
type RemoteHeartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

// Health is the health.<service> payload.
type Health struct {
	Timestamp int64  `json:"timestamp"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
}

// ListenStart is the cmd.listen.start payload.
type ListenStart struct {
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"session_id"`
}

// ListenStop is the cmd.listen.stop payload.
type ListenStop struct {
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// PauseVision is the cmd.pause_vision payload.
type PauseVision struct {
	Timestamp int64 `json:"timestamp"`
	Paused    bool  `json:"paused"`
}

// VisionModeCmd is the cmd.vision.mode payload.
type VisionModeCmd struct {
	Timestamp int64      `json:"timestamp"`
	Mode      VisionMode `json:"mode"`
}

// WorldSnapshot is the embedded world-context view inside an
// llm.request payload (spec.md §3).
type WorldSnapshot struct {
	S1                int     `json:"s1"`
	S2                int     `json:"s2"`
	S3                int     `json:"s3"`
	MQ2               int     `json:"mq2"`
	MinDistance       int     `json:"min_distance"`
	Obstacle          bool    `json:"obstacle"`
	Warning           bool    `json:"warning"`
	LastDetectedLabel string  `json:"last_detected_label,omitempty"`
	LastDetectedConf  float64 `json:"last_detected_confidence,omitempty"`
	LastDetectedBBox  BBox    `json:"last_detected_bbox,omitempty"`
	Phase             string  `json:"phase"`
	MotorEnabled      bool    `json:"motor_enabled"`
}

// LLMRequest is the llm.request payload.
type LLMRequest struct {
	Timestamp int64         `json:"timestamp"`
	RequestID string        `json:"request_id"`
	Text      string        `json:"text"`
	World     WorldSnapshot `json:"world"`
}

// NavCmd is the nav.cmd payload.
type NavCmd struct {
	Timestamp  int64     `json:"timestamp"`
	Direction  Direction `json:"direction"`
	Speed      int       `json:"speed,omitempty"`
	DurationMs int       `json:"duration_ms,omitempty"`
}

// SessionState is the session.remote payload.
type SessionState struct {
	Timestamp int64 `json:"timestamp"`
	Active    bool  `json:"active"`
	LastSeen  int64 `json:"last_seen"`
}

// CancelAll is the cmd.cancel_all payload.
type CancelAll struct {
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// PhaseEvent is the phase payload.
type PhaseEvent struct {
	Timestamp int64  `json:"timestamp"`
	Phase     string `json:"phase"`
}

// NavBlocked is the nav.blocked payload: an observable record that a
// commanded direction was suppressed by the obstacle-avoidance
// invariant (spec.md §8.2, §7 "safety violations ... surfaced as
// nav.blocked").
type NavBlocked struct {
	Timestamp int64     `json:"timestamp"`
	Requested Direction `json:"requested"`
	Reason    string    `json:"reason,omitempty"`
}
