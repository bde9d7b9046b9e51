package bus

import "time"

type Kind string

const (
	KindInbound          Kind = "message.inbound"
	KindAssistant        Kind = "message.assistant"
	KindStreamFragment   Kind = "stream.fragment"
	KindStreamEnd        Kind = "stream.end"
	KindToolStarted      Kind = "tool.started"
	KindToolCompleted    Kind = "tool.completed"
	KindApprovalRequest  Kind = "approval.request"
	KindApprovalResponse Kind = "approval.response"
)

// Event carries exactly one payload, selected by Kind.
type Event struct {
	ID   string
	Kind Kind
	At   time.Time

	Inbound          *Inbound
	Assistant        *Assistant
	StreamFragment   *StreamFragment
	StreamEnd        *StreamEnd
	Tool             *Tool
	ApprovalRequest  *ApprovalRequest
	ApprovalResponse *ApprovalResponse
}

// Inbound is a user (or synthesized) message entering the turn pipeline.
type Inbound struct {
	ConversationID string `json:"conversation_id"`
	Channel        string `json:"channel"`
	Profile        string `json:"profile,omitempty"`
	Content        string `json:"content"`
}

// Assistant is the finalized reply for one turn.
type Assistant struct {
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	Channel        string `json:"channel"`
	Content        string `json:"content"`
}

type StreamFragment struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// StreamEnd marks the end of a turn's streamed output. Exactly one is
// published per turn, on every path including failures.
type StreamEnd struct {
	ConversationID string `json:"conversation_id"`
	Error          string `json:"error,omitempty"`
}

// Tool describes a tool invocation starting or completing.
type Tool struct {
	InvocationID   string `json:"invocation_id"`
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
	Error          string `json:"error,omitempty"`
}

// ApprovalRequest asks a human to approve a pending command.
type ApprovalRequest struct {
	InvocationID   string `json:"invocation_id"`
	ConversationID string `json:"conversation_id"`
	Channel        string `json:"channel"`
	Command        string `json:"command"`
}

type ApprovalResponse struct {
	InvocationID string `json:"invocation_id"`
	Approved     bool   `json:"approved"`
}
