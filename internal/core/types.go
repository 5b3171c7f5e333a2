package core

import "time"

// Message roles used in a decision conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a single tool invocation request as emitted by the model.
// Arguments is the raw JSON object string, not yet validated.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its raw arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec describes the function signature.
type FunctionSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters,omitempty"` // JSON Schema
}

// Certificate holds the fields extracted upstream from a certificate document.
type Certificate struct {
	CandidateName        string  `json:"candidate_name" yaml:"candidate_name"`
	University           string  `json:"university_name" yaml:"university_name"`
	Degree               string  `json:"degree_name" yaml:"degree_name"`
	IssueDate            string  `json:"issue_date" yaml:"issue_date"`
	CertificateID        string  `json:"certificate_id,omitempty" yaml:"certificate_id"`
	RawText              string  `json:"raw_text,omitempty" yaml:"raw_text"`
	ExtractionConfidence float64 `json:"extraction_confidence,omitempty" yaml:"extraction_confidence"`
}

// Authority is the issuing institution contacted for verification.
type Authority struct {
	Name       string `json:"name" yaml:"name"`
	Email      string `json:"email" yaml:"email"`
	Country    string `json:"country,omitempty" yaml:"country"`
	Department string `json:"department,omitempty" yaml:"department"`
}

// Reply is the correspondence received back from the issuing authority.
type Reply struct {
	ID          string    `json:"id,omitempty" yaml:"id"`
	SenderEmail string    `json:"sender_email" yaml:"sender_email"`
	SenderName  string    `json:"sender_name,omitempty" yaml:"sender_name"`
	Subject     string    `json:"subject,omitempty" yaml:"subject"`
	Body        string    `json:"body" yaml:"body"`
	ReferenceID string    `json:"reference_id,omitempty" yaml:"reference_id"`
	ReceivedAt  time.Time `json:"received_at,omitempty" yaml:"received_at"`
}

// Seed is the upstream context a decision session starts from.
// Reply is nil when no authority contact was found or no reply arrived.
type Seed struct {
	Certificate Certificate `json:"certificate" yaml:"certificate"`
	Authority   *Authority  `json:"authority,omitempty" yaml:"authority"`
	// Correspondence is the outgoing verification request text, if drafted.
	Correspondence string `json:"correspondence,omitempty" yaml:"correspondence"`
	Reply          *Reply `json:"reply,omitempty" yaml:"reply"`
}
