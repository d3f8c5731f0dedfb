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
// Package agentexec runs one isolated sub-agent conversation: a
// private message history, a filtered tool list, and a provider loop
// that stops on a tool-call-free response, the iteration cap, or a
// fatal provider error (spec §4.8).
package agentexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/humanjesse/LocalHarness-sub001/internal/agentdef"
	"github.com/humanjesse/LocalHarness-sub001/internal/message"
	"github.com/humanjesse/LocalHarness-sub001/internal/permission"
	"github.com/humanjesse/LocalHarness-sub001/internal/provider"
	"github.com/humanjesse/LocalHarness-sub001/internal/tool"
)

// ProgressKind tags one entry in the optional progress callback
// stream (spec §4.8 "thinking, content, tool_call, iteration,
// complete, embedding, storage").
type ProgressKind string

const (
	ProgressThinking ProgressKind = "thinking"
	ProgressContent  ProgressKind = "content"
	ProgressToolCall ProgressKind = "tool_call"
	ProgressIteration ProgressKind = "iteration"
	ProgressComplete ProgressKind = "complete"
	ProgressEmbedding ProgressKind = "embedding"
	ProgressStorage  ProgressKind = "storage"
)

// Progress is one emitted event.
type Progress struct {
	Kind      ProgressKind
	Text      string
	ToolName  string
	Iteration int
}

// ProgressCallback receives Agent Executor progress events.
type ProgressCallback func(Progress)

// Stats reports how a run concluded (spec §4.8).
type Stats struct {
	IterationsUsed int
	ToolCallsMade  int
	ElapsedMS      int64
}

// Result is what Run returns (spec §4.8).
type Result struct {
	Success      bool
	Data         string
	ErrorMessage string
	Stats        Stats
	Thinking     string
}

// subAgentScopePrefix namespaces the session grants Run auto-issues so
// they never collide with a user-session grant of the same tool name.
const subAgentScopePrefix = "sub-agent:"

// Run executes def's private conversation for task using prov. The
// sub-agent's tool list is filtered to def.Capabilities.AllowedTools
// and every call still passes through permMgr: auto-granted within the
// sub-agent's own scope unless a policy explicitly denies it (spec
// §4.8, decided in SPEC_FULL.md §6).
func Run(
	ctx context.Context,
	def agentdef.Definition,
	task string,
	registry *tool.Registry,
	permMgr *permission.Manager,
	prov provider.Provider,
	model string,
	progress ProgressCallback,
) Result {
	start := time.Now()

	filtered := registry.Filtered(def.Capabilities.AllowedTools)
	scope := subAgentScopePrefix + def.Name

	history := message.NewHistory()
	history.Append(messageWithContent(message.System, def.SystemPrompt))
	history.Append(messageWithContent(message.User, task))

	maxIter := def.Capabilities.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	var lastThinking string
	toolCallsMade := 0
	iteration := 0

	for iteration < maxIter {
		iteration++
		if progress != nil {
			progress(Progress{Kind: ProgressIteration, Iteration: iteration})
		}

		assistant := message.New(uuid.NewString(), message.Assistant)
		pipe := provider.NewPipe()

		opts := provider.Options{
			EnableThinking: def.Capabilities.Thinking,
			Tools:          filtered.ListSchemas(),
			Temperature:    def.Capabilities.Temperature,
		}
		if def.Capabilities.ContextSizeOverride > 0 {
			cs := def.Capabilities.ContextSizeOverride
			opts.ContextSize = &cs
		}

		runModel := model
		if def.Capabilities.ModelOverride != "" {
			runModel = def.Capabilities.ModelOverride
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- prov.ChatStream(ctx, runModel, history.ForModel(), opts, pipe)
		}()

		done := false
		var streamErr error
		for !done {
			chunks := pipe.Drain(50 * time.Millisecond)
			for _, c := range chunks {
				switch c.Type {
				case provider.ThinkingDelta:
					assistant.AppendThinking(c.ThinkingDelta)
					lastThinking = assistant.Thinking
					if progress != nil {
						progress(Progress{Kind: ProgressThinking, Text: c.ThinkingDelta, Iteration: iteration})
					}
				case provider.ContentDelta:
					assistant.AppendContent(c.ContentDelta)
					if progress != nil {
						progress(Progress{Kind: ProgressContent, Text: c.ContentDelta, Iteration: iteration})
					}
				case provider.ToolCallsBatch:
					assistant.ToolCalls = c.ToolCalls
				case provider.Done:
					if c.Err != nil {
						streamErr = c.Err
					}
					done = true
				}
			}
			select {
			case <-ctx.Done():
				return Result{Success: false, ErrorMessage: ctx.Err().Error(), Stats: Stats{IterationsUsed: iteration, ToolCallsMade: toolCallsMade, ElapsedMS: time.Since(start).Milliseconds()}, Thinking: lastThinking}
			default:
			}
			if done {
				break
			}
		}
		if err := <-errCh; err != nil && streamErr == nil {
			streamErr = err
		}
		if streamErr != nil {
			return Result{
				Success:      false,
				ErrorMessage: fmt.Sprintf("provider error: %v", streamErr),
				Stats:        Stats{IterationsUsed: iteration, ToolCallsMade: toolCallsMade, ElapsedMS: time.Since(start).Milliseconds()},
				Thinking:     lastThinking,
			}
		}

		history.Append(assistant)

		if !assistant.HasToolCalls() {
			if progress != nil {
				progress(Progress{Kind: ProgressComplete, Text: assistant.Content, Iteration: iteration})
			}
			return Result{
				Success:  true,
				Data:     assistant.Content,
				Stats:    Stats{IterationsUsed: iteration, ToolCallsMade: toolCallsMade, ElapsedMS: time.Since(start).Milliseconds()},
				Thinking: lastThinking,
			}
		}

		for _, call := range assistant.ToolCalls {
			toolCallsMade++
			if progress != nil {
				progress(Progress{Kind: ProgressToolCall, ToolName: call.Name, Iteration: iteration})
			}

			var meta tool.Metadata
			if toolDef, ok := filtered.Lookup(call.Name); ok {
				meta = toolDef.Metadata
			}
			var args map[string]any
			if call.Arguments != "" {
				_ = json.Unmarshal([]byte(call.Arguments), &args)
			}

			toolMsg := message.New(uuid.NewString(), message.Tool)
			toolMsg.ToolCallID = call.ID
			if !permMgr.AutoApproveScope(call.Name, scope, "sub-agent scope: "+def.Name, args, meta) {
				denial := message.ToolResult{
					Success:      false,
					ErrorKind:    message.ErrPermissionDenied,
					ErrorMessage: "denied by policy",
				}
				toolMsg.Content = denial.Serialize()
				history.Append(toolMsg)
				continue
			}

			result := filtered.Execute(ctx, call.Name, call.Arguments)
			toolMsg.Content = result.Serialize()
			history.Append(toolMsg)
		}
	}

	return Result{
		Success:      false,
		ErrorMessage: fmt.Sprintf("agent %s exceeded max_iterations (%d)", def.Name, maxIter),
		Stats:        Stats{IterationsUsed: iteration, ToolCallsMade: toolCallsMade, ElapsedMS: time.Since(start).Milliseconds()},
		Thinking:     lastThinking,
	}
}

func messageWithContent(role message.Role, content string) *message.Message {
	m := message.New(uuid.NewString(), role)
	m.Content = content
	return m
}
