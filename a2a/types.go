// Package a2a implements the agent-to-agent task bridge (spec.md
// §4.10): a JSON-RPC/gRPC surface for agents to exchange messages,
// track tasks, and anchor a task to an on-chain escrow so settlement
// can be verified against live chain state.
package a2a

import "time"

// Anti-DoS bounds on one message/task. original_source's a2a/mod.rs
// imports these as MAX_* constants from tos_common without exposing
// their values in this retrieval pack; the numbers below are this
// daemon's own choice of generous-but-bounded defaults; see DESIGN.md.
const (
	MaxPartsPerMessage   = 32
	MaxTextPartBytes     = 64 * 1024
	MaxFileInlineBytes   = 1 << 20
	MaxDataPartBytes     = 256 * 1024
	MaxMetadataKeys      = 32
	MaxHistoryLength     = 50
	MaxPushConfigsPerTask = 8
	MaxArtifactsPerTask  = 32
)

// Role is who authored a Message.
type Role string

const (
	RoleUnspecified Role = ""
	RoleUser        Role = "user"
	RoleAgent       Role = "agent"
)

// PartKind tags which field of Part carries content.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// Part is one piece of a Message's content. Exactly one of Text/FileURI/
// FileData/Data is populated, per Kind.
type Part struct {
	Kind     PartKind        `json:"kind"`
	Text     string          `json:"text,omitempty"`
	FileURI  string          `json:"fileUri,omitempty"`
	FileName string          `json:"fileName,omitempty"`
	FileData []byte          `json:"fileData,omitempty"`
	Data     map[string]any  `json:"data,omitempty"`
}

// Message is one turn in a Task's history.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskState is where a Task sits in its lifecycle.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// IsTerminal reports whether state accepts no further SendMessage calls
// against the same task. Completed is not terminal: a completed task can
// still be continued by a follow-up SendMessage or be canceled.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// TaskStatus is a Task's current lifecycle state and when it got there.
type TaskStatus struct {
	State     TaskState  `json:"state"`
	Message   *Message   `json:"message,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Artifact is a named output a task produces (a file, a data blob, a
// final response), surfaced independently of the message history.
type Artifact struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Parts []Part `json:"parts"`
}

// SettlementStatus is the settlement status the caller declares in the
// anchor's settlementStatus metadata field (escrow-locked when absent or
// unrecognised). It is not derived from the escrow's on-chain state.
type SettlementStatus string

const (
	SettlementStatusNone         SettlementStatus = "none"
	SettlementStatusEscrowLocked SettlementStatus = "escrow-locked"
	SettlementStatusClaimed      SettlementStatus = "claimed"
	SettlementStatusRefunded     SettlementStatus = "refunded"
	SettlementStatusDisputed     SettlementStatus = "disputed"
)

// TosTaskAnchor binds a Task to an on-chain escrow, set once at task
// creation by validateSettlementAnchor and never re-derived afterward
// (a task's anchor is fixed at creation time; settlement progress is
// read fresh from chain state by whoever asks, not cached here).
type TosTaskAnchor struct {
	EscrowID         uint64           `json:"escrowId"`
	AgentAccount     string           `json:"agentAccount"`
	SettlementStatus SettlementStatus `json:"settlementStatus"`
}

// Task is one unit of agent work, anchored optionally to an escrow.
type Task struct {
	ID            string         `json:"id"`
	ContextID     string         `json:"contextId"`
	Status        TaskStatus     `json:"status"`
	Artifacts     []Artifact     `json:"artifacts"`
	History       []Message      `json:"history"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	TosTaskAnchor *TosTaskAnchor `json:"tosTaskAnchor,omitempty"`
}

// PushNotificationConfig is a webhook a caller wants task status/
// artifact events pushed to.
type PushNotificationConfig struct {
	ID     string         `json:"id"`
	URL    string         `json:"url"`
	Token  string         `json:"token,omitempty"`
	Header map[string]any `json:"header,omitempty"`
}

// AgentInterface advertises one transport binding for this service.
type AgentInterface struct {
	URL             string `json:"url"`
	ProtocolBinding string `json:"protocolBinding"`
}

// AgentProvider names who operates this service.
type AgentProvider struct {
	URL          string `json:"url"`
	Organization string `json:"organization"`
}

// AgentCapabilities advertises which optional surfaces this service
// implements.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
	TosOnChainSettlement   bool `json:"tosOnChainSettlement"`
}

// AgentCard is this service's self-description, served by
// GetExtendedAgentCard and at the A2A discovery well-known path.
type AgentCard struct {
	ProtocolVersion  string            `json:"protocolVersion"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Version          string            `json:"version"`
	SupportedInterfaces []AgentInterface `json:"supportedInterfaces"`
	Provider         AgentProvider     `json:"provider"`
	Capabilities     AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string        `json:"defaultInputModes"`
	DefaultOutputModes []string        `json:"defaultOutputModes"`
}

// StreamEventKind tags a StreamEvent's concrete payload.
type StreamEventKind string

const (
	StreamEventStatusUpdate   StreamEventKind = "status-update"
	StreamEventArtifactUpdate StreamEventKind = "artifact-update"
)

// StreamEvent is one item of a SendStreamingMessage/SubscribeToTask
// response. Kept as a finite, eagerly built slice per call rather than
// a live push channel: the original's own stream type
// (stream::Iter<std::vec::IntoIter<StreamResponse>>) is exactly this,
// a pre-computed iterator, not an open-ended subscription.
type StreamEvent struct {
	Kind      StreamEventKind `json:"kind"`
	TaskID    string          `json:"taskId"`
	ContextID string          `json:"contextId"`
	Status    *TaskStatus     `json:"status,omitempty"`
	Artifact  *Artifact       `json:"artifact,omitempty"`
	Final     bool            `json:"final"`
}

// SendMessageConfiguration tunes one SendMessage call.
type SendMessageConfiguration struct {
	AcceptedOutputModes    []string                `json:"acceptedOutputModes,omitempty"`
	Blocking               bool                    `json:"blocking"`
	HistoryLength          *int                    `json:"historyLength,omitempty"`
	PushNotificationConfig *PushNotificationConfig `json:"pushNotificationConfig,omitempty"`
}

// SendMessageRequest is the input to SendMessage/SendStreamingMessage.
type SendMessageRequest struct {
	Message       Message                   `json:"message"`
	Configuration *SendMessageConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
}

// SendMessageResponse carries the Task a SendMessage call produced.
// Service.SendMessage always sets Task and never sets Message.
type SendMessageResponse struct {
	Task    *Task    `json:"task,omitempty"`
	Message *Message `json:"message,omitempty"`
}
