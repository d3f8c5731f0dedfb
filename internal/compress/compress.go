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
// Package compress implements the Compression Engine (spec §4.7): it
// protects the most recent exchanges, hands everything older to an
// LLM-driven compression agent armed with four summarization tools,
// and atomically swaps the result into the history.
package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/humanjesse/LocalHarness-sub001/internal/message"
	msgctx "github.com/humanjesse/LocalHarness-sub001/internal/context"
	"github.com/humanjesse/LocalHarness-sub001/internal/tokencount"
	"github.com/humanjesse/LocalHarness-sub001/internal/tool"
)

// protectedPairs is the number of trailing user+assistant pairs never
// offered to the compression agent (spec §4.7 step 1).
const protectedPairs = 5

// targetFraction is the token budget the engine aims for after
// compression, as a fraction of max_context (spec §4.7 step 5).
const targetFraction = 0.40

// MaxIterations and Temperature are the fixed parameters the
// compression agent runs with (spec §4.7 step 2).
const (
	MaxIterations = 15
	Temperature   = 0.7
)

// Stats summarizes one compression run (spec §4.7 step 6).
type Stats struct {
	OriginalCount         int
	CompressedCount       int
	ToolResultsCompressed int
	MessagesProtected     int
}

// Request is what the Engine hands to an AgentRunner: a private tool
// registry scoped to the four compression tools, plus the fixed
// agent parameters.
type Request struct {
	SystemPrompt  string
	Task          string
	Tools         *tool.Registry
	MaxIterations int
	Temperature   float64
}

// AgentRunner executes the compression agent's conversational loop
// (in production, the orchestrator's adapter around agentexec.Run) and drives the
// registered tools until the agent stops. Injected rather than
// imported directly so this package never depends on agentexec,
// mirroring the teacher's LLMCaller injection in memory_compressor.go.
type AgentRunner func(ctx context.Context, req Request) error

// Engine runs the compression procedure against a live history and
// tracker.
type Engine struct {
	estimator *tokencount.Estimator
}

// New creates a compression Engine using the shared token estimator.
func New() *Engine {
	return &Engine{estimator: tokencount.Shared()}
}

// accumulator collects the surrogate coverage the compression agent's
// tools build up as they run.
type accumulator struct {
	mu       sync.Mutex
	covered  map[int]*message.Message // candidate index -> surrogate
	segments map[int]int              // start index -> exclusive end, for segment collapse
}

func newAccumulator() *accumulator {
	return &accumulator{covered: make(map[int]*message.Message), segments: make(map[int]int)}
}

// Compress runs the full procedure described in spec §4.7 against
// hist, using runner to drive the compression agent. It is a no-op if
// fewer than protectedPairs user messages exist (nothing to compress).
func (e *Engine) Compress(ctx context.Context, hist *message.History, tracker *msgctx.Tracker, maxContext int, idGen func() string, runner AgentRunner) (Stats, error) {
	snapshot := hist.Snapshot()
	protectedStart := protectedTailStart(snapshot)
	if protectedStart <= 0 {
		return Stats{}, nil
	}

	candidates := snapshot[:protectedStart]
	protected := snapshot[protectedStart:]

	acc := newAccumulator()
	registry := e.buildToolRegistry(candidates, protected, maxContext, acc)

	req := Request{
		SystemPrompt:  compressionSystemPrompt,
		Task:          compressionTask(candidates),
		Tools:         registry,
		MaxIterations: MaxIterations,
		Temperature:   Temperature,
	}
	if runner != nil {
		if err := runner(ctx, req); err != nil {
			return Stats{}, fmt.Errorf("compress: agent run failed: %w", err)
		}
	}

	surrogates, toolResultsCompressed := e.finalize(candidates, acc, idGen)

	hist.ReplaceRange(0, protectedStart, surrogates)
	tracker.RecomputeTokens(hist.Snapshot())

	return Stats{
		OriginalCount:         len(candidates),
		CompressedCount:       len(surrogates),
		ToolResultsCompressed: toolResultsCompressed,
		MessagesProtected:     len(protected),
	}, nil
}

// protectedTailStart returns the candidate-local boundary: the index
// of the 5th-from-end user message, or 0 if fewer than protectedPairs
// user messages exist (everything protected, no candidates).
func protectedTailStart(msgs []*message.Message) int {
	userSeen := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.User {
			userSeen++
			if userSeen == protectedPairs {
				return i
			}
		}
	}
	return 0
}

// finalize walks every candidate index and produces the ordered
// surrogate list. Indices the agent never touched fall back to a
// deterministic heuristic summary, guaranteeing the candidate run is
// always fully replaced (spec §4.7 step 4) even if the agent stops
// early or every tool call fails.
func (e *Engine) finalize(candidates []*message.Message, acc *accumulator, idGen func() string) ([]*message.Message, int) {
	acc.mu.Lock()
	defer acc.mu.Unlock()

	var surrogates []*message.Message
	toolResultsCompressed := 0

	i := 0
	for i < len(candidates) {
		if end, ok := acc.segments[i]; ok && end > i && end <= len(candidates) {
			for j := i; j < end; j++ {
				if candidates[j].Role == message.Tool {
					toolResultsCompressed++
				}
			}
			surrogates = append(surrogates, acc.covered[i])
			i = end
			continue
		}
		if surrogate, ok := acc.covered[i]; ok {
			if candidates[i].Role == message.Tool {
				toolResultsCompressed++
			}
			surrogates = append(surrogates, surrogate)
			i++
			continue
		}
		// Uncovered: deterministic fallback, grounded in the
		// teacher's simpleCompress text-extraction heuristic.
		surrogates = append(surrogates, fallbackSurrogate(idGen(), candidates[i]))
		if candidates[i].Role == message.Tool {
			toolResultsCompressed++
		}
		i++
	}

	return surrogates, toolResultsCompressed
}

func fallbackSurrogate(id string, m *message.Message) *message.Message {
	switch m.Role {
	case message.User:
		return message.NewCompressedSurrogate(id, message.User, truncate(m.Content, 200))
	case message.Assistant:
		summary := truncate(m.Content, 800)
		if m.HasToolCalls() {
			summary = fmt.Sprintf("Invoked %d tool call(s). %s", len(m.ToolCalls), summary)
		}
		return message.NewCompressedSurrogate(id, message.Assistant, summary)
	case message.Tool:
		sur := message.NewCompressedSurrogate(id, message.Tool, "tool result received, details elided")
		sur.ToolCallID = m.ToolCallID
		return sur
	default:
		return message.NewCompressedSurrogate(id, m.Role, "previous instruction")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const compressionSystemPrompt = `You compress older conversation history to free context budget.
Use get_compression_metadata to inspect candidate messages, compress_tool_result for
individual tool-result messages, compress_conversation_segment to collapse runs of
user/assistant exchanges, and verify_compression_target to check whether the
projected token total has reached the target. Summaries must preserve concrete
facts (file paths, identifiers, decisions) and drop conversational filler.`

func compressionTask(candidates []*message.Message) string {
	return fmt.Sprintf("Compress %d candidate messages (indices 0..%d) down to the target token budget.", len(candidates), len(candidates)-1)
}

// buildToolRegistry wires the four compression tools named in spec
// §4.7 step 2 against candidates (read-only) and acc (write-only
// coverage map).
func (e *Engine) buildToolRegistry(candidates, protected []*message.Message, maxContext int, acc *accumulator) *tool.Registry {
	reg := tool.NewRegistry()

	metadataSchema, _ := tool.NewSchema("get_compression_metadata", `{"type":"object","properties":{}}`)
	reg.Register(&tool.Definition{
		Name:        "get_compression_metadata",
		Description: "List every candidate message not yet compressed, with role, index, approximate tokens, and a content preview.",
		Schema:      metadataSchema,
		Metadata:    tool.Metadata{DefaultRisk: tool.RiskSafe},
		Run: func(ctx context.Context, args map[string]any) message.ToolResult {
			acc.mu.Lock()
			defer acc.mu.Unlock()
			type entry struct {
				Index       int    `json:"index"`
				Role        string `json:"role"`
				ApproxTokens int   `json:"approx_tokens"`
				Preview     string `json:"preview"`
			}
			var entries []entry
			for i, m := range candidates {
				if _, done := acc.covered[i]; done {
					continue
				}
				entries = append(entries, entry{
					Index:        i,
					Role:         string(m.Role),
					ApproxTokens: e.estimator.Message(m),
					Preview:      truncate(m.Content, 80),
				})
			}
			out, _ := json.Marshal(entries)
			return message.ToolResult{Success: true, Data: string(out)}
		},
	})

	toolResultSchema, _ := tool.NewSchema("compress_tool_result", `{
		"type":"object",
		"properties":{"index":{"type":"integer"},"summary":{"type":"string"}},
		"required":["index","summary"]
	}`)
	reg.Register(&tool.Definition{
		Name:        "compress_tool_result",
		Description: "Replace one tool-result candidate message with a metadata-aware summary surrogate.",
		Schema:      toolResultSchema,
		Metadata:    tool.Metadata{DefaultRisk: tool.RiskSafe},
		Run: func(ctx context.Context, args map[string]any) message.ToolResult {
			idx, summary, err := indexAndSummary(args)
			if err != nil {
				return message.ToolResult{Success: false, ErrorKind: message.ErrValidationFailed, ErrorMessage: err.Error()}
			}
			if idx < 0 || idx >= len(candidates) || candidates[idx].Role != message.Tool {
				return message.ToolResult{Success: false, ErrorKind: message.ErrValidationFailed, ErrorMessage: "index is not a tool-result candidate"}
			}
			sur := message.NewCompressedSurrogate(candidates[idx].ID, message.Tool, summary)
			sur.ToolCallID = candidates[idx].ToolCallID
			acc.mu.Lock()
			acc.covered[idx] = sur
			acc.mu.Unlock()
			return message.ToolResult{Success: true, Data: "compressed"}
		},
	})

	segmentSchema, _ := tool.NewSchema("compress_conversation_segment", `{
		"type":"object",
		"properties":{
			"start":{"type":"integer"},
			"end":{"type":"integer"},
			"summary":{"type":"string"},
			"role":{"type":"string","enum":["user","assistant"]}
		},
		"required":["start","end","summary","role"]
	}`)
	reg.Register(&tool.Definition{
		Name:        "compress_conversation_segment",
		Description: "Collapse a contiguous run of user/assistant candidate messages [start, end) into one summary surrogate.",
		Schema:      segmentSchema,
		Metadata:    tool.Metadata{DefaultRisk: tool.RiskSafe},
		Run: func(ctx context.Context, args map[string]any) message.ToolResult {
			start, ok1 := asInt(args["start"])
			end, ok2 := asInt(args["end"])
			summary, ok3 := args["summary"].(string)
			role, ok4 := args["role"].(string)
			if !ok1 || !ok2 || !ok3 || !ok4 || start < 0 || end <= start || end > len(candidates) {
				return message.ToolResult{Success: false, ErrorKind: message.ErrValidationFailed, ErrorMessage: "invalid segment bounds"}
			}
			r := message.User
			budget := 50
			if role == "assistant" {
				r = message.Assistant
				budget = 200
			}
			sur := message.NewCompressedSurrogate(candidates[start].ID, r, truncate(summary, budget*4))
			acc.mu.Lock()
			acc.covered[start] = sur
			acc.segments[start] = end
			acc.mu.Unlock()
			return message.ToolResult{Success: true, Data: "compressed"}
		},
	})

	verifySchema, _ := tool.NewSchema("verify_compression_target", `{"type":"object","properties":{}}`)
	reg.Register(&tool.Definition{
		Name:        "verify_compression_target",
		Description: "Report whether the projected post-compression token total has reached the 0.40x max_context target.",
		Schema:      verifySchema,
		Metadata:    tool.Metadata{DefaultRisk: tool.RiskSafe},
		Run: func(ctx context.Context, args map[string]any) message.ToolResult {
			acc.mu.Lock()
			projected := 0
			i := 0
			for i < len(candidates) {
				if end, ok := acc.segments[i]; ok && end > i && end <= len(candidates) {
					projected += e.estimator.Message(acc.covered[i])
					i = end
					continue
				}
				if sur, ok := acc.covered[i]; ok {
					projected += e.estimator.Message(sur)
					i++
					continue
				}
				projected += e.estimator.Message(candidates[i])
				i++
			}
			acc.mu.Unlock()
			for _, m := range protected {
				projected += e.estimator.Message(m)
			}
			target := int(targetFraction * float64(maxContext))
			met := maxContext <= 0 || projected <= target
			out, _ := json.Marshal(map[string]any{
				"met":              met,
				"projected_tokens": projected,
				"target_tokens":    target,
			})
			return message.ToolResult{Success: true, Data: string(out)}
		},
	})

	return reg
}

func indexAndSummary(args map[string]any) (int, string, error) {
	idx, ok := asInt(args["index"])
	if !ok {
		return 0, "", fmt.Errorf("index must be an integer")
	}
	summary, ok := args["summary"].(string)
	if !ok {
		return 0, "", fmt.Errorf("summary must be a string")
	}
	return idx, summary, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
