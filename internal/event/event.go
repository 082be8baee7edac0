// Package event defines the Event and EventResponse value types that
// every other core component exchanges. It has no dependency on
// topology, router, transport, or mod packages: it is the leaf of the
// dependency graph spec.md §2 describes.
package event

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// Visibility controls which live agents a delivered Event is eligible
// to reach, independent of destination-based recipient resolution.
type Visibility string

const (
	VisibilityNetwork Visibility = "network"
	VisibilityChannel Visibility = "channel"
	VisibilityPrivate Visibility = "private"
	VisibilityNone    Visibility = "none"
)

// SourceType tags who produced an Event.
type SourceType string

const (
	SourceAgent   SourceType = "agent"
	SourceNetwork SourceType = "network"
	SourceMod     SourceType = "mod"
)

// ErrorCode is the taxonomy from spec.md §7, carried on EventResponse
// and on transport-level error replies.
type ErrorCode string

const (
	ErrInvalidEvent        ErrorCode = "InvalidEvent"
	ErrUnknownAgent        ErrorCode = "UnknownAgent"
	ErrQueueFull           ErrorCode = "QueueFull"
	ErrNotAuthorized       ErrorCode = "NotAuthorized"
	ErrModRejected         ErrorCode = "ModRejected"
	ErrTaskNotFound        ErrorCode = "TaskNotFound"
	ErrTaskNotCancellable  ErrorCode = "TaskNotCancellable"
	ErrUnavailable         ErrorCode = "Unavailable"
	ErrBusy                ErrorCode = "Busy"
)

const (
	DestBroadcastPrefix = "agent:broadcast"
	DestAgentPrefix     = "agent:"
	DestChannelPrefix   = "channel:"
	DestModPrefix       = "mod:"
)

// Event is the uniform unit of communication described in spec.md §3.
// Payload and Metadata are free-form maps; constructing an Event runs
// them through structpb to guarantee they are protobuf-Struct (hence
// JSON) representable, the one point in the system where that
// conversion happens (spec.md §9).
type Event struct {
	EventID          string         `json:"event_id"`
	EventName        string         `json:"event_name"`
	SourceID         string         `json:"source_id"`
	SourceType       SourceType     `json:"source_type,omitempty"`
	DestinationID    string         `json:"destination_id,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Visibility       Visibility     `json:"visibility,omitempty"`
	AllowedAgents    []string       `json:"allowed_agents,omitempty"`
	Timestamp        float64        `json:"timestamp,omitempty"`
	RelevantMod      string         `json:"relevant_mod,omitempty"`
	RelevantAgentID  string         `json:"relevant_agent_id,omitempty"`
	RequiresResponse bool           `json:"requires_response,omitempty"`
	ResponseTo       string         `json:"response_to,omitempty"`
}

// EventResponse is the at-most-one synchronous reply to an Event
// marked RequiresResponse, produced by a mod or, as a default, by the
// Router itself.
type EventResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	ErrorCode ErrorCode      `json:"error_code,omitempty"`
}

// InvalidEventError reports a schema or visibility violation caught
// by Validate.
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event: %s", e.Reason)
}

// Validate enforces the invariants of spec.md §3: event_name must be
// non-empty, a channel destination coerces visibility to channel, and
// private visibility requires a non-empty allowed-agents set.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.EventName) == "" {
		return &InvalidEventError{Reason: "event_name must not be empty"}
	}
	if strings.HasPrefix(e.DestinationID, DestChannelPrefix) {
		e.Visibility = VisibilityChannel
	}
	if e.Visibility == VisibilityPrivate && len(e.AllowedAgents) == 0 {
		return &InvalidEventError{Reason: "private visibility requires allowed_agents"}
	}
	if _, err := normalizeMap(e.Payload); err != nil {
		return &InvalidEventError{Reason: "payload is not representable: " + err.Error()}
	}
	if _, err := normalizeMap(e.Metadata); err != nil {
		return &InvalidEventError{Reason: "metadata is not representable: " + err.Error()}
	}
	return nil
}

// normalizeMap round-trips m through structpb to guarantee it is a
// JSON/protobuf-Struct representable map, then hands back the
// canonical Go representation (maps, slices, scalars — no structpb
// types leak past this boundary).
func normalizeMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

// Clone returns a deep copy suitable for a mod to mutate before
// returning Pass, per the Mod Pipeline rule in spec.md §4.4.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Payload != nil {
		payload, _ := normalizeMap(e.Payload)
		clone.Payload = payload
	}
	if e.Metadata != nil {
		metadata, _ := normalizeMap(e.Metadata)
		clone.Metadata = metadata
	}
	if e.AllowedAgents != nil {
		clone.AllowedAgents = append([]string(nil), e.AllowedAgents...)
	}
	return &clone
}

// IsBroadcast reports whether DestinationID targets all live agents.
func (e *Event) IsBroadcast() bool { return e.DestinationID == DestBroadcastPrefix }

// IsModDestination reports whether DestinationID targets a single mod
// by identifier, bypassing agent recipients entirely.
func (e *Event) IsModDestination() (string, bool) {
	if strings.HasPrefix(e.DestinationID, DestModPrefix) {
		return strings.TrimPrefix(e.DestinationID, DestModPrefix), true
	}
	return "", false
}

// ChannelName returns the channel named by DestinationID, if any.
func (e *Event) ChannelName() (string, bool) {
	if strings.HasPrefix(e.DestinationID, DestChannelPrefix) {
		return strings.TrimPrefix(e.DestinationID, DestChannelPrefix), true
	}
	return "", false
}

// TargetAgentID returns the single agent DestinationID names, if any
// — either the explicit "agent:<id>" form or a bare agent-id.
func (e *Event) TargetAgentID() (string, bool) {
	d := e.DestinationID
	if d == "" || d == DestBroadcastPrefix || strings.HasPrefix(d, DestChannelPrefix) || strings.HasPrefix(d, DestModPrefix) {
		return "", false
	}
	if strings.HasPrefix(d, DestAgentPrefix) {
		return strings.TrimPrefix(d, DestAgentPrefix), true
	}
	return d, true
}

// MatchPattern implements the single subscription-matching rule of
// spec.md §4.1: P matches N iff P==N, P=="*", or P ends in ".*" and N
// has the stripped prefix followed by a dot.
func MatchPattern(pattern, name string) bool {
	if pattern == name || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(name, prefix+".")
	}
	return false
}
