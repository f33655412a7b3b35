// Package agent implements the transport to remote agents.
//
// The agentlink.v1.AgentService messages are google.protobuf.BytesValue
// wrappers around the JSON documents defined in this package, which keeps
// object key order and int64 values exact on the wire.
package agent

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ashureev/agentlink/internal/domain"
)

// StreamEventsRequest opens the event stream of an agent.
type StreamEventsRequest struct {
	AgentID      string        `json:"agentId"`
	FromPosition domain.Cursor `json:"fromPosition"`
}

// StreamExecutionStateRequest opens the execution state stream of an agent.
type StreamExecutionStateRequest struct {
	AgentID string `json:"agentId"`
}

// SendResponseRequest carries a question response to an agent.
type SendResponseRequest struct {
	AgentID  string          `json:"agentId"`
	Response domain.Response `json:"response"`
}

// Ack acknowledges a SendResponse call.
type Ack struct {
	OK bool `json:"ok"`
}

// toMessage encodes v as a JSON document.
func toMessage(v any) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return wrapperspb.Bytes(b), nil
}

// fromMessage decodes the JSON document in m into v.
func fromMessage(m *wrapperspb.BytesValue, v any) error {
	if err := json.Unmarshal(m.GetValue(), v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
