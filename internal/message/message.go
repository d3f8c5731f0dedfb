// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package message defines the harness's append-only conversation
// history types: messages, tool calls, and tool results.
package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
	Tool      Role = "tool"
)

// ErrorKind classifies why a tool invocation failed.
type ErrorKind string

const (
	ErrNone               ErrorKind = "none"
	ErrNotFound           ErrorKind = "not_found"
	ErrValidationFailed   ErrorKind = "validation_failed"
	ErrPermissionDenied   ErrorKind = "permission_denied"
	ErrIO                 ErrorKind = "io_error"
	ErrParse              ErrorKind = "parse_error"
	ErrInternal           ErrorKind = "internal_error"
)

// CompressedSentinel prefixes the content of every compressed
// surrogate message (spec §6).
const CompressedSentinel = "\U0001F4AC [Compressed] "

// ToolCall is one function invocation requested by the model within
// an assistant message's batch.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON object, serialized as text
}

// ToolResult is the outcome of executing one ToolCall.
type ToolResult struct {
	ToolCallID       string
	Success          bool
	Data             string // present on success
	ErrorKind        ErrorKind
	ErrorMessage     string
	Thinking         string // set for sub-agent-produced results
	ExecutionTimeMS  int64
	DataSizeBytes    int
	CompletedAtUnix  int64
}

// escapeJSONString mirrors spec §6's textual-form escaping rules.
func escapeJSONString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// toolResultWire is the stable JSON shape defined in spec §6.
type toolResultWire struct {
	Success      bool   `json:"success"`
	Data         string `json:"data"`
	ErrorMessage string `json:"error_message"`
	ErrorType    string `json:"error_type"`
	Metadata     struct {
		ExecutionTimeMS int64 `json:"execution_time_ms"`
		DataSizeBytes   int   `json:"data_size_bytes"`
		Timestamp       int64 `json:"timestamp"`
	} `json:"metadata"`
}

// Serialize renders the ToolResult into the stable textual form used
// as the content of a tool-role message (spec §6). It marshals a fixed
// struct with encoding/json, so every field appears, in the order
// spec.md lists them, even when empty; escapeJSONString is used only by
// the fallback form below.
func (r ToolResult) Serialize() string {
	w := toolResultWire{
		Success:      r.Success,
		Data:         r.Data,
		ErrorMessage: r.ErrorMessage,
		ErrorType:    string(r.ErrorKind),
	}
	w.Metadata.ExecutionTimeMS = r.ExecutionTimeMS
	w.Metadata.DataSizeBytes = r.DataSizeBytes
	w.Metadata.Timestamp = r.CompletedAtUnix

	out, err := json.Marshal(w)
	if err != nil {
		// Fall back to a minimal hand-escaped form; json.Marshal on
		// this struct cannot fail in practice, but never panic.
		return fmt.Sprintf(`{"success":%t,"data":"%s","error_message":"%s"}`,
			r.Success, escapeJSONString(r.Data), escapeJSONString(r.ErrorMessage))
	}
	return string(out)
}

// Message is one entry in the append-only conversation history.
type Message struct {
	ID        string
	Role      Role
	Content   string // grows in place while streaming (assistant only)
	Thinking  string // grows in place while streaming (assistant only)
	ToolCalls []ToolCall
	ToolCallID string // set on Role == Tool: the call this message answers

	DisplayOnly bool // not sent to the model, UI-facing only
	Compressed  bool // this message is a compression surrogate

	CreatedAt time.Time
}

// New creates a message with a generated timestamp. Callers supply an
// ID (the orchestrator owns ID generation so it can keep tool-call
// correlation consistent).
func New(id string, role Role) *Message {
	return &Message{ID: id, Role: role, CreatedAt: time.Now()}
}

// AppendContent grows the content buffer during streaming.
func (m *Message) AppendContent(delta string) { m.Content += delta }

// AppendThinking grows the thinking buffer during streaming.
func (m *Message) AppendThinking(delta string) { m.Thinking += delta }

// HasToolCalls reports whether this assistant message carries a tool batch.
func (m *Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// History is the append-only message list owned by the orchestrator.
// All mutation outside of append happens through ReplaceRange (used by
// the compression engine and by the orchestrator's Cancel) or the
// in-place streaming growth methods above.
type History struct {
	messages []*Message
}

// NewHistory creates an empty history.
func NewHistory() *History { return &History{} }

// Append adds a message to the end of the history.
func (h *History) Append(m *Message) { h.messages = append(h.messages, m) }

// Len returns the number of messages.
func (h *History) Len() int { return len(h.messages) }

// At returns the message at index i, or nil if out of range.
func (h *History) At(i int) *Message {
	if i < 0 || i >= len(h.messages) {
		return nil
	}
	return h.messages[i]
}

// Last returns the most recently appended message, or nil if empty.
func (h *History) Last() *Message {
	if len(h.messages) == 0 {
		return nil
	}
	return h.messages[len(h.messages)-1]
}

// Snapshot returns a shallow copy of the underlying slice. Individual
// *Message pointers are shared; callers must not mutate them outside
// the orchestrator's single-writer discipline.
func (h *History) Snapshot() []*Message {
	out := make([]*Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// ReplaceRange atomically swaps messages[start:end) for surrogates.
// Used by the compression engine (spec §4.7 step 4) and by the
// orchestrator's Cancel to drop the in-progress assistant message. Panics if
// the range is invalid — this is a programmer error, not a runtime
// condition callers should handle.
func (h *History) ReplaceRange(start, end int, surrogates []*Message) {
	if start < 0 || end > len(h.messages) || start > end {
		panic(fmt.Sprintf("message: invalid replace range [%d:%d) of %d", start, end, len(h.messages)))
	}
	tail := make([]*Message, len(h.messages)-end)
	copy(tail, h.messages[end:])

	next := make([]*Message, 0, start+len(surrogates)+len(tail))
	next = append(next, h.messages[:start]...)
	next = append(next, surrogates...)
	next = append(next, tail...)
	h.messages = next
}

// ForModel returns the subset of messages that should be sent to the
// provider: DisplayOnly messages are elided.
func (h *History) ForModel() []*Message {
	out := make([]*Message, 0, len(h.messages))
	for _, m := range h.messages {
		if m.DisplayOnly {
			continue
		}
		out = append(out, m)
	}
	return out
}

// NewCompressedSurrogate builds a surrogate message carrying the
// sentinel-prefixed summary text produced by the compression engine.
func NewCompressedSurrogate(id string, role Role, summary string) *Message {
	return &Message{
		ID:         id,
		Role:       role,
		Content:    CompressedSentinel + summary,
		Compressed: true,
		CreatedAt:  time.Now(),
	}
}
