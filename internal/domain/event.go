// Package domain contains core domain types shared by the agentlink packages.
package domain

import (
	"bytes"
	"encoding/json"
)

// EventType is the discriminator of an event envelope.
type EventType string

const (
	EventAgentCreated     EventType = "agent.created"
	EventAgentStopped     EventType = "agent.stopped"
	EventOutputChat       EventType = "output.chat"
	EventOutputReasoning  EventType = "output.reasoning"
	EventOutputInfo       EventType = "output.info"
	EventOutputWarning    EventType = "output.warning"
	EventOutputError      EventType = "output.error"
	EventOutputArtifact   EventType = "output.artifact"
	EventInputReceived    EventType = "input.received"
	EventInputHandled     EventType = "input.handled"
	EventQuestionRequest  EventType = "question.request"
	EventQuestionResponse EventType = "question.response"
	EventReset            EventType = "reset"
	EventAbort            EventType = "abort"
)

var knownEventTypes = map[EventType]struct{}{
	EventAgentCreated:     {},
	EventAgentStopped:     {},
	EventOutputChat:       {},
	EventOutputReasoning:  {},
	EventOutputInfo:       {},
	EventOutputWarning:    {},
	EventOutputError:      {},
	EventOutputArtifact:   {},
	EventInputReceived:    {},
	EventInputHandled:     {},
	EventQuestionRequest:  {},
	EventQuestionResponse: {},
	EventReset:            {},
	EventAbort:            {},
}

// Known reports whether t is an event kind this client understands.
// Unknown kinds still decode; consumers skip them.
func (t EventType) Known() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// HandledStatus is the outcome carried by an input.handled event.
type HandledStatus string

const (
	HandledOK        HandledStatus = "ok"
	HandledError     HandledStatus = "error"
	HandledCancelled HandledStatus = "cancelled"
)

// Artifact describes the payload of an output.artifact event.
type Artifact struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Event is a single envelope from the agent event stream.
// It is a flat record; which fields are meaningful depends on Type.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`

	// output.*, input.received, input.handled
	Message string `json:"message,omitempty"`

	// input.handled
	Status HandledStatus `json:"status,omitempty"`

	// question.request, question.response
	RequestID       string          `json:"requestId,omitempty"`
	Question        *Question       `json:"question,omitempty"`
	AutoSubmitAfter int             `json:"autoSubmitAfter,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`

	// reset
	What []string `json:"what,omitempty"`

	// abort
	Reason string `json:"reason,omitempty"`

	// output.artifact
	Artifact *Artifact `json:"artifact,omitempty"`
}

// QuestionRequest extracts the question request carried by a
// question.request event.
func (e Event) QuestionRequest() (QuestionRequest, bool) {
	if e.Type != EventQuestionRequest || e.Question == nil {
		return QuestionRequest{}, false
	}
	return QuestionRequest{
		RequestID:       e.RequestID,
		Timestamp:       e.Timestamp,
		Question:        *e.Question,
		AutoSubmitAfter: e.AutoSubmitAfter,
	}, true
}

// IsCancellation reports whether a question.response carries a null result.
func (e Event) IsCancellation() bool {
	r := bytes.TrimSpace(e.Result)
	return len(r) == 0 || bytes.Equal(r, []byte("null"))
}

// Cursor is a resumption position in the event stream.
// The zero value is the start of the stream.
type Cursor int64

// StartOfStream is the cursor used when no position is known yet.
const StartOfStream Cursor = 0

// Batch is one unit delivered by the event stream. Position is the cursor
// after every event in the batch has been applied.
type Batch struct {
	Events   []Event `json:"events"`
	Position Cursor  `json:"position"`
}
