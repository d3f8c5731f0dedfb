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
// Package toolexec drives the per-batch tool execution state machine
// (spec §4.4). It never performs a tool call itself: it returns
// render_requested and leaves execution and message creation to the
// orchestrator, keeping history mutation single-writer.
package toolexec

import (
	"encoding/json"
	"time"

	"github.com/humanjesse/LocalHarness-sub001/internal/message"
	"github.com/humanjesse/LocalHarness-sub001/internal/permission"
	"github.com/humanjesse/LocalHarness-sub001/internal/tool"
)

// State is one of the six states spec §4.4 names.
type State int

const (
	Idle State = iota
	EvaluatingPolicy
	AwaitingPermission
	Executing
	CreatingDenialResult
	Completed
)

// TickResult tells the orchestrator what to do next.
type TickResult int

const (
	NoAction TickResult = iota
	RenderRequested
	ShowPermissionPrompt
	IterationComplete
	IterationLimitReached
)

// Executor is the tool-batch state machine. One Executor instance is
// reused across every batch in a turn; StartExecution resets it.
type Executor struct {
	registry *tool.Registry

	state State
	batch []message.ToolCall
	index int

	pendingReason    string
	pendingErrorKind message.ErrorKind
	pendingScope     string
}

// New creates an idle executor bound to a tool registry.
func New(registry *tool.Registry) *Executor {
	return &Executor{registry: registry, state: Idle}
}

// State reports the executor's current state (used by the
// orchestrator to decide whether it has pending work, spec §4.10).
func (e *Executor) State() State { return e.state }

// IsIdle reports whether the executor has no pending batch.
func (e *Executor) IsIdle() bool { return e.state == Idle }

// StartExecution stages a new tool batch at index 0 (spec §4.4 step 1).
func (e *Executor) StartExecution(calls []message.ToolCall) {
	e.batch = calls
	e.index = 0
	if len(calls) == 0 {
		e.state = Completed
		return
	}
	e.state = EvaluatingPolicy
}

// CurrentCall returns the tool call currently being processed, or nil
// if none is staged.
func (e *Executor) CurrentCall() *message.ToolCall {
	if e.index < 0 || e.index >= len(e.batch) {
		return nil
	}
	return &e.batch[e.index]
}

// PendingResult builds the synthetic ToolResult for the call at the
// executor's current index when state is CreatingDenialResult. It
// covers both explicit denial (policy or user) and the "skip" cases
// from spec §4.4 step 2 (missing metadata, invalid args): per spec §8
// every tool call must still produce exactly one tool-role message,
// so a skip is modeled here as a synthetic failure result rather than
// silently dropping the call.
func (e *Executor) PendingResult() message.ToolResult {
	return message.ToolResult{
		Success:         false,
		ErrorKind:       e.pendingErrorKind,
		ErrorMessage:    e.pendingReason,
		CompletedAtUnix: time.Now().Unix(),
	}
}

// Tick advances the state machine by one step (spec §4.4). iterCount
// and maxIter are only consulted in the Completed state.
func (e *Executor) Tick(permMgr *permission.Manager, iterCount, maxIter int) TickResult {
	switch e.state {
	case Idle:
		return NoAction
	case EvaluatingPolicy:
		return e.evaluatePolicy(permMgr)
	case AwaitingPermission:
		return ShowPermissionPrompt
	case Executing:
		return RenderRequested
	case CreatingDenialResult:
		return RenderRequested
	case Completed:
		if iterCount >= maxIter {
			return IterationLimitReached
		}
		return IterationComplete
	default:
		return NoAction
	}
}

// evaluatePolicy decides the call at e.index. A call that fails lookup
// or validation goes to CreatingDenialResult without asking the user;
// any other call moves to Executing, CreatingDenialResult (policy
// deny) or AwaitingPermission. With no call left the batch is Completed.
func (e *Executor) evaluatePolicy(permMgr *permission.Manager) TickResult {
	for {
		call := e.CurrentCall()
		if call == nil {
			e.state = Completed
			// Caller re-ticks to get the iteration_complete /
			// iteration_limit_reached verdict with accounting info.
			return NoAction
		}

		def, ok := e.registry.Lookup(call.Name)
		if !ok {
			permMgr.Audit.Record(call.Name, "unknown tool", permission.FailedValidation, false)
			e.pendingErrorKind = message.ErrNotFound
			e.pendingReason = "unknown tool: " + call.Name
			e.state = CreatingDenialResult
			return RenderRequested
		}

		var args map[string]any
		if call.Arguments == "" {
			args = map[string]any{}
		} else if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			permMgr.Audit.Record(call.Name, "malformed arguments", permission.FailedValidation, false)
			e.pendingErrorKind = message.ErrValidationFailed
			e.pendingReason = "malformed arguments: " + err.Error()
			e.state = CreatingDenialResult
			return RenderRequested
		}

		if def.Schema != nil {
			if err := def.Schema.Validate(map[string]any(args)); err != nil {
				permMgr.Audit.Record(call.Name, "schema validation failed", permission.FailedValidation, false)
				e.pendingErrorKind = message.ErrValidationFailed
				e.pendingReason = "argument validation failed: " + err.Error()
				e.state = CreatingDenialResult
				return RenderRequested
			}
		}

		scope := call.Name
		if len(def.Metadata.RequiredScopes) > 0 {
			scope = def.Metadata.RequiredScopes[0]
		}

		if permMgr.Session.HasGrant(call.Name, scope) {
			permMgr.Audit.Record(call.Name, "session grant present", permission.SessionGranted, true)
			e.state = Executing
			return RenderRequested
		}

		decision := permMgr.Policies.Evaluate(call.Name, args, def.Metadata)
		if decision.Allowed {
			permMgr.Audit.Record(call.Name, decision.Reason, permission.AutoApproved, true)
			e.state = Executing
			return RenderRequested
		}
		if !decision.AskUser {
			permMgr.Audit.Record(call.Name, decision.Reason, permission.DeniedByPolicy, false)
			e.pendingErrorKind = message.ErrPermissionDenied
			e.pendingReason = decision.Reason
			e.state = CreatingDenialResult
			return RenderRequested
		}

		e.pendingReason = decision.Reason
		e.pendingScope = scope
		e.state = AwaitingPermission
		return ShowPermissionPrompt
	}
}

// SetPermissionResponse delivers the user's (or auto-granted
// sub-agent) choice for the call currently awaiting permission. A
// repeated delivery for the same prompt is a no-op, satisfying the
// idempotence law in spec §8.
func (e *Executor) SetPermissionResponse(mode permission.Mode, permMgr *permission.Manager) {
	if e.state != AwaitingPermission {
		return
	}
	call := e.CurrentCall()
	if call == nil {
		return
	}

	if mode == permission.Deny {
		permMgr.Audit.Record(call.Name, "user denied", permission.DeniedByUser, false)
		e.pendingErrorKind = message.ErrPermissionDenied
		e.pendingReason = "User denied permission"
		e.state = CreatingDenialResult
		return
	}

	switch mode {
	case permission.AlwaysAllow:
		permMgr.Policies.AddPolicy(permission.Policy{Scope: call.Name, Mode: permission.AlwaysAllow})
	case permission.AskEachTime:
		permMgr.Session.AddGrant(permission.Grant{Tool: call.Name, Scope: e.pendingScope, GrantedAt: time.Now()})
	case permission.AllowOnce:
		// No persistent state change; this call only.
	}

	permMgr.Audit.Record(call.Name, "user approved", permission.UserApproved, true)
	e.state = Executing
}

// AdvanceAfterExecution is called by the orchestrator once it has run
// the registry executor (or built the denial result) and appended the
// tool-role message. It moves to the next call or to Completed.
func (e *Executor) AdvanceAfterExecution() {
	e.index++
	if e.index >= len(e.batch) {
		e.state = Completed
		return
	}
	e.state = EvaluatingPolicy
}
