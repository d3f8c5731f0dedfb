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
// Package orchestrator implements the main conversational loop (spec
// §4.10): it owns the message history, tool executor, context
// tracker, provider handle, stream pipe, permission manager, and agent
// registry, and interleaves streaming, tool execution, and
// compression checkpoints.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/humanjesse/LocalHarness-sub001/internal/agentdef"
	"github.com/humanjesse/LocalHarness-sub001/internal/agentexec"
	"github.com/humanjesse/LocalHarness-sub001/internal/compress"
	msgctx "github.com/humanjesse/LocalHarness-sub001/internal/context"
	"github.com/humanjesse/LocalHarness-sub001/internal/inject"
	"github.com/humanjesse/LocalHarness-sub001/internal/log"
	"github.com/humanjesse/LocalHarness-sub001/internal/message"
	"github.com/humanjesse/LocalHarness-sub001/internal/permission"
	"github.com/humanjesse/LocalHarness-sub001/internal/provider"
	"github.com/humanjesse/LocalHarness-sub001/internal/tool"
	"github.com/humanjesse/LocalHarness-sub001/internal/toolexec"

	"go.uber.org/zap"
)

// UIEventKind tags the abstract UI events the core emits; concrete
// rendering is an out-of-scope collaborator (spec §1).
type UIEventKind string

const (
	EventRedrawRequested   UIEventKind = "redraw_requested"
	EventPermissionPrompt  UIEventKind = "permission_prompt_shown"
	EventProgressUpdate    UIEventKind = "progress_update"
	EventErrorNotice       UIEventKind = "error_notice"
	EventTurnEnded         UIEventKind = "turn_ended"
)

// UIEvent is one abstract event handed to the (out-of-scope) UI layer.
type UIEvent struct {
	Kind    UIEventKind
	Text    string
	ToolName string
}

// UISink receives UI events. The orchestrator never blocks on it.
type UISink func(UIEvent)

// streamDrainBudget bounds how long one orchestrator iteration spends
// draining the pipe before yielding back to the caller (spec §4.10
// step 4: "a short budget (e.g., 10 ms of work)").
const streamDrainBudget = 10 * time.Millisecond

// Config bundles the orchestrator's tunables.
type Config struct {
	Model              string
	MaxContext         int
	MaxIterations      int
	MaxToolDepth       int
	Temperature        float64
	EnableThinking     bool
}

// Orchestrator is the single-threaded (except the streaming worker)
// main loop driver.
type Orchestrator struct {
	history   *message.History
	executor  *toolexec.Executor
	tracker   *msgctx.Tracker
	tools     *tool.Registry
	permMgr   *permission.Manager
	agents    *agentdef.Registry
	prov      provider.Provider
	compressor *compress.Engine
	ui        UISink
	cfg       Config

	pipe            *provider.Pipe
	streaming       bool
	streamCancel    context.CancelFunc
	currentAssistant *message.Message
	iterationCount  int
	toolCallDepth   int
	compressing     bool
}

// New wires an Orchestrator from its collaborators.
func New(
	tools *tool.Registry,
	permMgr *permission.Manager,
	agents *agentdef.Registry,
	prov provider.Provider,
	ui UISink,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		history:    message.NewHistory(),
		executor:   toolexec.New(tools),
		tracker:    msgctx.New(),
		tools:      tools,
		permMgr:    permMgr,
		agents:     agents,
		prov:       prov,
		compressor: compress.New(),
		ui:         ui,
		cfg:        cfg,
	}
}

func (o *Orchestrator) emit(ev UIEvent) {
	if o.ui != nil {
		o.ui(ev)
	}
}

// SubmitUserTurn appends a user message and starts the first streaming
// round. Resets tool_call_depth for the new turn (spec §4.10
// "Iteration accounting").
func (o *Orchestrator) SubmitUserTurn(ctx context.Context, content string) error {
	m := message.New(uuid.NewString(), message.User)
	m.Content = content
	o.history.Append(m)
	o.tracker.RecomputeTokens(o.history.Snapshot())

	o.iterationCount = 0
	o.toolCallDepth = 0
	return o.beginStreamingRound(ctx)
}

func (o *Orchestrator) beginStreamingRound(ctx context.Context) error {
	o.currentAssistant = message.New(uuid.NewString(), message.Assistant)
	o.history.Append(o.currentAssistant)
	o.pipe = provider.NewPipe()
	o.streaming = true

	preamble := inject.Build(o.tracker, o.lastUserContent(), o.iterationCount, o.cfg.MaxIterations, o.toolCallDepth, o.cfg.MaxToolDepth)
	outbound := o.history.ForModel()
	if preamble != "" {
		sys := message.New(uuid.NewString(), message.System)
		sys.Content = preamble
		sys.DisplayOnly = false
		outbound = append([]*message.Message{sys}, outbound...)
	}

	opts := provider.Options{
		EnableThinking: o.cfg.EnableThinking,
		Tools:          o.tools.ListSchemas(),
		Temperature:    o.cfg.Temperature,
	}
	if o.cfg.MaxContext > 0 {
		cs := o.cfg.MaxContext
		opts.ContextSize = &cs
	}

	roundCtx, cancel := context.WithCancel(ctx)
	o.streamCancel = cancel

	pipe := o.pipe
	go func() {
		if err := o.prov.ChatStream(roundCtx, o.cfg.Model, outbound, opts, pipe); err != nil {
			log.Warn("orchestrator: chat_stream worker exited", zap.Error(err))
		}
	}()
	return nil
}

func (o *Orchestrator) lastUserContent() string {
	for i := o.history.Len() - 1; i >= 0; i-- {
		if m := o.history.At(i); m.Role == message.User {
			return m.Content
		}
	}
	return ""
}

// TickResult describes what Tick did, for callers (e.g. a CLI loop)
// deciding whether to poll again immediately or block on input.
type TickResult string

const (
	TickIdle           TickResult = "idle"
	TickProgressed     TickResult = "progressed"
	TickAwaitingPermission TickResult = "awaiting_permission"
	TickTurnEnded      TickResult = "turn_ended"
)

// Tick runs one pass of the orchestrator's per-iteration dispatch
// (spec §4.10 steps 2-4). Step 1 (modal UI dispatch) and step 5
// (input polling) are the caller's responsibility since they depend on
// the concrete UI, an out-of-scope collaborator.
func (o *Orchestrator) Tick(ctx context.Context) TickResult {
	if o.executor.State() != toolexec.Idle {
		return o.advanceExecutor(ctx)
	}

	if !o.streaming && !o.compressing {
		if o.tracker.NeedsCompression(o.cfg.MaxContext) {
			o.runCompression(ctx)
			return TickProgressed
		}
	}

	if o.streaming {
		return o.drainStream(ctx)
	}

	return TickIdle
}

func (o *Orchestrator) advanceExecutor(ctx context.Context) TickResult {
	result := o.executor.Tick(o.permMgr, o.iterationCount, o.cfg.MaxIterations)
	switch result {
	case toolexec.ShowPermissionPrompt:
		o.emit(UIEvent{Kind: EventPermissionPrompt})
		return TickAwaitingPermission
	case toolexec.RenderRequested:
		switch o.executor.State() {
		case toolexec.Executing:
			o.runCurrentTool(ctx)
		case toolexec.CreatingDenialResult:
			o.appendSyntheticResult(o.executor.PendingResult())
			o.executor.AdvanceAfterExecution()
		}
		return TickProgressed
	case toolexec.IterationComplete:
		o.iterationCount++
		_ = o.beginStreamingRound(ctx)
		return TickProgressed
	case toolexec.IterationLimitReached:
		o.appendErrorNotice(fmt.Sprintf("tool iteration limit reached (%d)", o.cfg.MaxIterations))
		o.emit(UIEvent{Kind: EventTurnEnded})
		return TickTurnEnded
	default:
		return TickIdle
	}
}

func (o *Orchestrator) runCurrentTool(ctx context.Context) {
	call := o.executor.CurrentCall()
	if call == nil {
		o.executor.AdvanceAfterExecution()
		return
	}
	result := o.tools.Execute(ctx, call.Name, call.Arguments)
	result.ToolCallID = call.ID

	summary := message.New(uuid.NewString(), message.Tool)
	summary.ToolCallID = call.ID
	summary.DisplayOnly = true
	summary.Content = summarizeResult(result)
	o.history.Append(summary)

	toolMsg := message.New(uuid.NewString(), message.Tool)
	toolMsg.ToolCallID = call.ID
	toolMsg.Content = result.Serialize()
	o.history.Append(toolMsg)

	o.trackSideEffects(call.Name, result)
	o.tracker.RecomputeTokens(o.history.Snapshot())
	o.executor.AdvanceAfterExecution()
}

func (o *Orchestrator) appendSyntheticResult(result message.ToolResult) {
	call := o.executor.CurrentCall()
	if call != nil {
		result.ToolCallID = call.ID
	}
	toolMsg := message.New(uuid.NewString(), message.Tool)
	toolMsg.ToolCallID = result.ToolCallID
	toolMsg.Content = result.Serialize()
	o.history.Append(toolMsg)
	o.tracker.RecomputeTokens(o.history.Snapshot())
}

func summarizeResult(r message.ToolResult) string {
	if r.Success {
		return "ok"
	}
	return fmt.Sprintf("failed: %s", r.ErrorMessage)
}

// trackSideEffects is the hook for mirroring tool results into the
// context tracker (spec §4.5). It records nothing: it does not inspect
// toolName or result, so no read path, modified range or todo list
// reaches the tracker through it.
func (o *Orchestrator) trackSideEffects(toolName string, result message.ToolResult) {
	// Intentionally minimal: concrete tool implementations are
	// out-of-scope (spec §1). A real read/modify/todo tool's executor
	// closure is expected to call tracker.MarkRead / MarkModified /
	// SetTodos directly, since only it knows its own argument shape.
	_ = toolName
	_ = result
}

func (o *Orchestrator) drainStream(ctx context.Context) TickResult {
	chunks := o.pipe.Drain(streamDrainBudget)
	progressed := false
	for _, c := range chunks {
		progressed = true
		switch c.Type {
		case provider.ThinkingDelta:
			o.currentAssistant.AppendThinking(c.ThinkingDelta)
			o.emit(UIEvent{Kind: EventRedrawRequested})
		case provider.ContentDelta:
			o.currentAssistant.AppendContent(c.ContentDelta)
			o.emit(UIEvent{Kind: EventRedrawRequested})
		case provider.ToolCallsBatch:
			o.currentAssistant.ToolCalls = c.ToolCalls
		case provider.Done:
			o.streaming = false
			o.tracker.RecomputeTokens(o.history.Snapshot())
			if c.Err != nil {
				o.appendErrorNotice(fmt.Sprintf("provider error: %v", c.Err))
				o.emit(UIEvent{Kind: EventTurnEnded})
				return TickTurnEnded
			}
			if o.currentAssistant.HasToolCalls() && o.toolCallDepth < o.cfg.MaxToolDepth {
				o.toolCallDepth++
				o.executor.StartExecution(o.currentAssistant.ToolCalls)
			} else {
				o.emit(UIEvent{Kind: EventTurnEnded})
				return TickTurnEnded
			}
		}
	}
	if progressed {
		return TickProgressed
	}
	return TickIdle
}

// compressionRunner adapts agentexec.Run into a compress.AgentRunner,
// driving the built-in compression-agent definition against req's
// scoped tool registry instead of the orchestrator's own (spec §4.7
// step 2 "arms a compression agent"). System prompt, temperature and
// iteration cap come from req, so the compression agent runs at its
// own fixed parameters; the model is the orchestrator's cfg.Model.
func (o *Orchestrator) compressionRunner() compress.AgentRunner {
	return func(ctx context.Context, req compress.Request) error {
		def, _ := o.agents.Lookup(agentdef.CompressionAgentName)
		def.SystemPrompt = req.SystemPrompt
		def.Capabilities.MaxIterations = req.MaxIterations
		def.Capabilities.Temperature = req.Temperature

		result := agentexec.Run(ctx, def, req.Task, req.Tools, o.permMgr, o.prov, o.cfg.Model, nil)
		if !result.Success {
			return fmt.Errorf("orchestrator: compression agent run failed: %s", result.ErrorMessage)
		}
		return nil
	}
}

func (o *Orchestrator) runCompression(ctx context.Context) {
	o.compressing = true
	defer func() { o.compressing = false }()

	stats, err := o.compressor.Compress(ctx, o.history, o.tracker, o.cfg.MaxContext, func() string { return uuid.NewString() }, o.compressionRunner())
	if err != nil {
		log.Warn("orchestrator: compression failed", zap.Error(err))
		return
	}
	log.Info("orchestrator: compression complete",
		zap.Int("original", stats.OriginalCount),
		zap.Int("compressed", stats.CompressedCount),
		zap.Int("tool_results_compressed", stats.ToolResultsCompressed),
		zap.Int("messages_protected", stats.MessagesProtected),
	)
	o.emit(UIEvent{Kind: EventRedrawRequested})
}

func (o *Orchestrator) appendErrorNotice(text string) {
	m := message.New(uuid.NewString(), message.System)
	m.Content = text
	m.DisplayOnly = true
	o.history.Append(m)
}

// SetPermissionResponse forwards the user's choice to the tool
// executor (spec §4.10 step 2).
func (o *Orchestrator) SetPermissionResponse(mode permission.Mode) {
	o.executor.SetPermissionResponse(mode, o.permMgr)
}

// Cancel discards the in-progress assistant message, signals the
// streaming worker to abandon its round via the round's own
// cancellation context, and drains the pipe until done or worker exit
// (spec §4.10 "Cancellation").
func (o *Orchestrator) Cancel() {
	if !o.streaming {
		return
	}
	for i := o.history.Len() - 1; i >= 0; i-- {
		if o.history.At(i) == o.currentAssistant {
			o.history.ReplaceRange(i, i+1, nil)
			break
		}
	}
	if o.streamCancel != nil {
		o.streamCancel()
		o.streamCancel = nil
	}
	chunks := o.pipe.Drain(500 * time.Millisecond)
	for _, c := range chunks {
		if c.Type == provider.Done {
			break
		}
	}
	o.streaming = false
	o.tracker.RecomputeTokens(o.history.Snapshot())
}

// History exposes the message history for UI rendering.
func (o *Orchestrator) History() *message.History { return o.history }

// Tracker exposes the context tracker for UI rendering.
func (o *Orchestrator) Tracker() *msgctx.Tracker { return o.tracker }

// IsStreaming reports whether a streaming round is in flight.
func (o *Orchestrator) IsStreaming() bool { return o.streaming }

// IsBusy reports whether the caller should poll non-blockingly rather
// than block on input (spec §4.10 step 5).
func (o *Orchestrator) IsBusy() bool {
	return o.streaming || o.executor.State() != toolexec.Idle
}
