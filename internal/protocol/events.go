package protocol

import "time"

// EventType names one kind of narration session event.
type EventType string

const (
	EventSessionStarted   EventType = "started"
	EventSessionEnded     EventType = "ended"
	EventStateChanged     EventType = "state"
	EventSentenceStarted  EventType = "sentence.started"
	EventSentenceFinished EventType = "sentence.finished"
	EventSentenceSkipped  EventType = "sentence.skipped"
	EventInterrupt        EventType = "interrupt"
	EventSummary          EventType = "summary"
	EventSummaryFailed    EventType = "summary.failed"
	EventVoiceCommand     EventType = "voice.command"
	EventVoiceFailure     EventType = "voice.failure"
)

// SessionEvent is emitted by the reading controller on every state change
// and narration milestone.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	State     string    `json:"state,omitempty"`
	From      string    `json:"from,omitempty"`
	// Sentence is the current sentence index, -1 when not applicable.
	Sentence  int       `json:"sentence"`
	Total     int       `json:"total,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const SubjectSessionPrefix = "reader.session"

// Subject returns the bus subject an event is published on.
func (e SessionEvent) Subject() string {
	return SubjectSessionPrefix + "." + string(e.Type)
}

// SubjectAll matches every session event.
const SubjectAll = SubjectSessionPrefix + ".>"

// Node presence subjects. Heartbeats are published on
// SubjectNodeHeartbeat + "." + node id.
const (
	SubjectNodeAnnounce  = "reader.node.announce"
	SubjectNodeHeartbeat = "reader.node.heartbeat"
)

// Capability is one backend a reader node offers, e.g. "tts.exec".
type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeAnnounce struct {
	NodeID       string       `json:"node_id"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}
