// Package event builds the OpenTelemetry-shaped event records every
// other component emits (spec §3 "Event", §4.4) and implements the
// safe, cycle-safe serializer used to turn arbitrary host payloads into
// JSON-able data.
package event

import "time"

// Level is the event severity, following the spec's DEBUG..CRITICAL scale.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Channel classifies which subsystem produced the event.
type Channel string

const (
	ChannelLLM      Channel = "LLM"
	ChannelTool     Channel = "TOOL"
	ChannelSystem   Channel = "SYSTEM"
	ChannelSecurity Channel = "SECURITY"
	ChannelNetwork  Channel = "NETWORK"
	ChannelProcess  Channel = "PROCESS"
)

// Direction qualifies the data flow direction of an event, when known.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionInternal Direction = "internal"
)

// Event is the base record for all telemetry (spec §3 "Event").
type Event struct {
	ID             string         `json:"id,omitempty"`
	AgentID        string         `json:"agent_id"`
	SessionID      string         `json:"session_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	EventType      string         `json:"name"`
	Channel        Channel        `json:"channel,omitempty"`
	Level          Level          `json:"level"`
	Direction      Direction      `json:"direction,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	TraceID        string         `json:"trace_id"`
	SpanID         string         `json:"span_id"`
	ParentSpanID   string         `json:"parent_span_id,omitempty"`
	Attributes     map[string]any `json:"attributes"`
}
