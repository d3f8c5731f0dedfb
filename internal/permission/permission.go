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
// Package permission implements the policy engine, session grants,
// and audit log that arbitrate per-tool-invocation approval (spec
// §4.3).
package permission

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/humanjesse/LocalHarness-sub001/internal/pubsub"
	"github.com/humanjesse/LocalHarness-sub001/internal/tool"
)

// Mode is a policy's disposition toward a tool+scope pair.
type Mode string

const (
	AllowOnce    Mode = "allow_once"
	AlwaysAllow  Mode = "always_allow"
	AskEachTime  Mode = "ask_each_time"
	Deny         Mode = "deny"
)

// Policy is one persistent rule in the policy engine.
type Policy struct {
	Scope            string   `yaml:"scope"`
	Mode             Mode     `yaml:"mode"`
	AllowPathPatterns []string `yaml:"allow_path_patterns,omitempty"`
	DenyPathPatterns  []string `yaml:"deny_path_patterns,omitempty"`
}

// Decision is the result of evaluating a tool invocation against the
// policy engine.
type Decision struct {
	Allowed bool
	AskUser bool
	Reason  string
}

func matchesAnyPattern(patterns []string, path string) bool {
	if path == "" {
		return false
	}
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
	}
	return false
}

// pathFromArgs extracts a "path" argument if present, for path-pattern
// policy matching. Tools without a path argument never match a
// path-scoped policy.
func pathFromArgs(args map[string]any) string {
	if args == nil {
		return ""
	}
	if p, ok := args["path"].(string); ok {
		return p
	}
	return ""
}

// PolicyEngine holds the persistent policy list and evaluates
// decisions for a tool invocation (spec §4.3 policy engine).
type PolicyEngine struct {
	mu       sync.RWMutex
	policies []Policy
}

// NewPolicyEngine creates an engine seeded with policies (typically
// loaded from the out-of-scope policy file collaborator).
func NewPolicyEngine(policies []Policy) *PolicyEngine {
	cp := make([]Policy, len(policies))
	copy(cp, policies)
	return &PolicyEngine{policies: cp}
}

// AddPolicy appends a new policy, e.g. after a user chooses
// always_allow in a permission prompt (spec §4.4 step 3).
func (e *PolicyEngine) AddPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append(e.policies, p)
}

// Evaluate implements the ordering from spec §4.3: deny-patterns win;
// then always_allow; then ask_each_time; then safe-by-default
// auto-approve; otherwise ask.
func (e *PolicyEngine) Evaluate(toolName string, args map[string]any, meta tool.Metadata) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	path := pathFromArgs(args)

	for _, p := range e.policies {
		if p.Scope != toolName && p.Scope != "*" {
			continue
		}
		if matchesAnyPattern(p.DenyPathPatterns, path) {
			return Decision{Allowed: false, AskUser: false, Reason: "denied by deny-path policy"}
		}
	}

	for _, p := range e.policies {
		if p.Scope != toolName && p.Scope != "*" {
			continue
		}
		if p.Mode == Deny {
			return Decision{Allowed: false, AskUser: false, Reason: "denied by policy"}
		}
	}

	for _, p := range e.policies {
		if p.Scope != toolName && p.Scope != "*" {
			continue
		}
		if p.Mode == AlwaysAllow {
			if len(p.AllowPathPatterns) == 0 || matchesAnyPattern(p.AllowPathPatterns, path) || path == "" {
				return Decision{Allowed: true, AskUser: false, Reason: "always_allow policy"}
			}
		}
	}

	for _, p := range e.policies {
		if p.Scope != toolName && p.Scope != "*" {
			continue
		}
		if p.Mode == AskEachTime {
			return Decision{Allowed: false, AskUser: true, Reason: "policy requires per-call confirmation"}
		}
	}

	if meta.DefaultRisk == tool.RiskSafe {
		return Decision{Allowed: true, AskUser: false, Reason: "safe-by-default tool"}
	}

	return Decision{Allowed: false, AskUser: true, Reason: "no matching policy, asking user"}
}

// Grant is an in-memory "remember for session" approval (spec §4.3
// session state).
type Grant struct {
	Tool      string
	Scope     string
	GrantedAt time.Time
}

// SessionState holds per-tool+scope grants created by the user during
// the current session only; it is never persisted.
type SessionState struct {
	mu     sync.RWMutex
	grants map[string]Grant // key: tool+"\x00"+scope
}

// NewSessionState creates an empty session grant store.
func NewSessionState() *SessionState {
	return &SessionState{grants: make(map[string]Grant)}
}

func grantKey(toolName, scope string) string { return toolName + "\x00" + scope }

// HasGrant reports whether tool+scope was already granted this
// session.
func (s *SessionState) HasGrant(toolName, scope string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[grantKey(toolName, scope)]
	return ok
}

// AddGrant records a new session-scoped grant.
func (s *SessionState) AddGrant(g Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey(g.Tool, g.Scope)] = g
}

// Outcome classifies how a permission decision resolved, for the
// audit log (spec §4.3).
type Outcome string

const (
	AutoApproved    Outcome = "auto_approved"
	SessionGranted  Outcome = "session_granted"
	UserApproved    Outcome = "user_approved"
	DeniedByPolicy  Outcome = "denied_by_policy"
	DeniedByUser    Outcome = "denied_by_user"
	FailedValidation Outcome = "failed_validation"
)

// Entry is one immutable audit log record. The log owns its own copy
// of the reason string (spec §9 "Permission reasons are static where
// possible").
type Entry struct {
	At        time.Time
	ToolName  string
	Reason    string
	Outcome   Outcome
	Executed  bool
}

// AuditLog is an append-only record of every permission decision. It
// also fans out each new entry over a pubsub.Broker so a UI
// collaborator can live-tail the audit trail without polling Entries.
type AuditLog struct {
	mu      sync.Mutex
	entries []Entry
	events  *pubsub.Broker[Entry]
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{events: pubsub.NewBroker[Entry](0)}
}

// Record appends a new audit entry, copying the reason string so the
// log never aliases a caller-owned buffer, then publishes it to any
// subscribers.
func (l *AuditLog) Record(toolName, reason string, outcome Outcome, executed bool) {
	reasonCopy := string([]byte(reason))
	entry := Entry{
		At:       time.Now(),
		ToolName: toolName,
		Reason:   reasonCopy,
		Outcome:  outcome,
		Executed: executed,
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	l.events.PublishCreated(entry)
}

// Subscribe streams every audit entry recorded after the call, until
// ctx is done (spec §4.3 audit trail; a UI collaborator tails this
// instead of polling Entries).
func (l *AuditLog) Subscribe(ctx context.Context) <-chan pubsub.Event[Entry] {
	return l.events.Subscribe(ctx)
}

// Entries returns a defensive copy of every recorded decision.
func (l *AuditLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Manager combines the policy engine, session state, and audit log
// into the single permission-arbitration surface the Tool Executor
// FSM consults (spec §4.3/§4.4).
type Manager struct {
	Policies *PolicyEngine
	Session  *SessionState
	Audit    *AuditLog
}

// NewManager wires the three sub-components together.
func NewManager(policies []Policy) *Manager {
	return &Manager{
		Policies: NewPolicyEngine(policies),
		Session:  NewSessionState(),
		Audit:    NewAuditLog(),
	}
}

// AutoApproveScope grants blanket session approval for every call
// under a scope, used to implement the sub-agent bypass decision
// recorded in SPEC_FULL.md §6: a trusted sub-agent skips the
// "ask_user" requirement only, never a hard deny — the policy
// engine's deny-patterns and explicit deny mode are evaluated first
// and still win. Returns false when the policy engine denies the
// call outright, in which case the caller must not execute it.
// Always audited, never silent.
func (m *Manager) AutoApproveScope(toolName, scope, reason string, args map[string]any, meta tool.Metadata) bool {
	decision := m.Policies.Evaluate(toolName, args, meta)
	if !decision.Allowed && !decision.AskUser {
		m.Audit.Record(toolName, "sub-agent blocked: "+decision.Reason, DeniedByPolicy, false)
		return false
	}
	m.Session.AddGrant(Grant{Tool: toolName, Scope: scope, GrantedAt: time.Now()})
	m.Audit.Record(toolName, reason, AutoApproved, true)
	return true
}
