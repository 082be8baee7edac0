// Package wire defines the streaming RPC wire message and a
// hand-written grpc.ServiceDesc/client stub for it. The pack did not
// retrieve protoc-generated stubs for this repo's service, so this
// package plays that role by hand: a plain Go struct carried by a
// JSON encoding.Codec instead of a generated protobuf message,
// registered against the real google.golang.org/grpc runtime
// (spec.md §9, SPEC_FULL.md §3).
package wire

import "github.com/openagents/network/internal/event"

// Kind discriminates the purpose of an Envelope on the Connect
// stream; exactly one of the payload fields below is populated for
// each kind.
type Kind string

const (
	KindRegister Kind = "register"
	KindAck      Kind = "ack"
	KindHeartbeat Kind = "heartbeat"
	KindEvent    Kind = "event"
	KindResponse Kind = "response"
	KindError    Kind = "error"
)

// Envelope is the single message type exchanged over the gRPC
// streaming transport's bidirectional Connect call.
type Envelope struct {
	Kind Kind `json:"kind"`

	// KindRegister / KindAck
	AgentID       string         `json:"agent_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Capabilities  []string       `json:"capabilities,omitempty"`
	Subscriptions []string       `json:"subscriptions,omitempty"`
	Reclaim       bool           `json:"reclaim,omitempty"`

	// KindEvent
	Event *event.Event `json:"event,omitempty"`

	// KindResponse, correlated to the Event.EventID it answers
	CorrelationID string                `json:"correlation_id,omitempty"`
	Response      *event.EventResponse  `json:"response,omitempty"`

	// KindError
	ErrorCode    event.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
