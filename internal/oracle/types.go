// Package oracle defines the uniform request/response/stream abstraction
// that sits above every backend-specific wire format. Nothing above this
// package's Client interface may inspect which concrete backend
// produced a Response.
package oracle

import (
	"context"
	"encoding/json"
)

// Role identifies the speaker for a Message.
type Role string

// Recognised conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is a marker interface implemented by every message content block.
// Four kinds are modeled: text, thinking, tool-use, and tool-result. The
// backend adapters encode text, tool-use and tool-result parts and skip
// ThinkingPart. Multimodal content (images, documents, citations) is out
// of scope for this system.
type Part interface {
	isPart()
}

// TextPart is a plain text content block.
type TextPart struct {
	Text string
}

// ThinkingPart carries provider-issued reasoning content. Treated as
// opaque by everything above the oracle package.
type ThinkingPart struct {
	Text      string
	Signature string
}

// ToolUsePart declares a tool invocation requested by the model.
type ToolUsePart struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultPart carries a tool result fed back to the model.
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is a single chat message: a role plus ordered content parts.
type Message struct {
	Role  Role
	Parts []Part
}

// ToolDefinition describes one tool exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolChoiceMode controls how the model is steered toward tool use.
type ToolChoiceMode string

// Recognised tool-choice modes.
const (
	ToolChoiceAuto ToolChoiceMode = "auto"
	ToolChoiceNone ToolChoiceMode = "none"
	ToolChoiceAny  ToolChoiceMode = "any"
	ToolChoiceTool ToolChoiceMode = "tool"
)

// ToolChoice optionally constrains tool-use behavior for a Request.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// TokenUsage tracks token counts for one call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// StopReason records why generation stopped.
type StopReason string

// Recognised stop reasons.
const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
)

// ToolCall is a single tool invocation requested by the model, decoded out
// of a Response's ToolUsePart content.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Request captures the inputs to one model invocation. Exactly one of
// Complete or Stream is used by the caller for a given Request value; the
// request shape is identical either way.
type Request struct {
	Messages       []Message
	System         string
	Tools          []ToolDefinition
	ToolChoice     *ToolChoice
	Temperature    float32
	MaxTokens      int
	StopSequences  []string
}

// Response is the result of a non-streaming invocation.
type Response struct {
	Content    string
	StopReason StopReason
	Usage      TokenUsage
	ToolCalls  []ToolCall
}

// ChunkType classifies one streamed Chunk.
type ChunkType string

// Recognised chunk types, forming a finite single-pass sequence terminated
// by ChunkDone.
const (
	ChunkText          ChunkType = "text"
	ChunkToolUseStart  ChunkType = "tool_use_start"
	ChunkToolUseDelta  ChunkType = "tool_use_delta"
	ChunkToolUseEnd    ChunkType = "tool_use_end"
	ChunkDone          ChunkType = "done"
)

// Chunk is one event from a streaming invocation.
type Chunk struct {
	Type       ChunkType
	Text       string
	ToolCallID string
	ToolName   string
	ToolInput  json.RawMessage
	Response   *Response // populated on ChunkDone
}

// Streamer delivers incremental model output. Callers must drain Recv
// until it returns a ChunkDone chunk or an error, then call Close. A
// Streamer is single-pass and not restartable.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is the provider-agnostic oracle transport. The only component
// permitted to speak a backend-specific wire format is the concrete
// implementation behind this interface.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (Streamer, error)
	CountTokens(text string) int
	ContextWindow() int
	// IsAvailable reports whether the client's circuit is presently closed
	// or half-open, i.e. whether a call is likely to be attempted rather
	// than rejected outright. The fallback answers it from its providers'
	// breakers; the backend adapters, which hold no breaker, always answer
	// true. `forge status` reports it for the configured client.
	IsAvailable() bool
}
