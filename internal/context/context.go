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
// Package context tracks per-session state the orchestrator needs
// outside the message history itself: which files have been read,
// which lines have been modified where, the todo list, and a running
// token estimate (spec §4.5). Despite the name this package has
// nothing to do with Go's context.Context.
package context

import (
	"sort"
	"sync"

	"github.com/humanjesse/LocalHarness-sub001/internal/message"
	"github.com/humanjesse/LocalHarness-sub001/internal/tokencount"
)

// LineRange is an inclusive [Start, End] range of modified lines.
type LineRange struct {
	Start int
	End   int
}

// TodoStatus is a todo item's lifecycle state.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is one entry in the tracked todo list.
type Todo struct {
	ID      string
	Content string
	Status  TodoStatus
}

// compressionThreshold is the fraction of the context window at which
// the tracker reports that compression is needed (spec §4.5/§4.7:
// "triggers when estimated tokens exceed 70% of the model's context
// window").
const compressionThreshold = 0.70

// Tracker accumulates read/modified-file state, todos, and a running
// token estimate across a session. The orchestrator consults it once
// per iteration to decide whether to run the compression engine.
type Tracker struct {
	mu sync.Mutex

	readFiles map[string]struct{}
	modified  map[string][]LineRange
	todos     []Todo

	estimator        *tokencount.Estimator
	estimatedTokens  int
}

// New creates an empty tracker using the shared token estimator.
func New() *Tracker {
	return &Tracker{
		readFiles: make(map[string]struct{}),
		modified:  make(map[string][]LineRange),
		estimator: tokencount.Shared(),
	}
}

// MarkRead records that path has been read at least once.
func (t *Tracker) MarkRead(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readFiles[path] = struct{}{}
}

// ReadFiles returns every path marked read, sorted for determinism.
func (t *Tracker) ReadFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.readFiles))
	for p := range t.readFiles {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// MarkModified records that path had lines [start, end] changed. A
// tool may report this any number of times per path; ranges accumulate
// rather than replace.
func (t *Tracker) MarkModified(path string, start, end int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modified[path] = append(t.modified[path], LineRange{Start: start, End: end})
}

// ModifiedFiles returns a copy of every modified path and its
// accumulated line ranges. The returned map has no defined path order.
func (t *Tracker) ModifiedFiles() map[string][]LineRange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]LineRange, len(t.modified))
	for p, ranges := range t.modified {
		cp := make([]LineRange, len(ranges))
		copy(cp, ranges)
		out[p] = cp
	}
	return out
}

// SetTodos replaces the todo list wholesale (the todo-management tool
// hands the orchestrator a full list on every call, per spec §4.5).
func (t *Tracker) SetTodos(todos []Todo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.todos = append([]Todo(nil), todos...)
}

// Todos returns a defensive copy of the current todo list.
func (t *Tracker) Todos() []Todo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Todo, len(t.todos))
	copy(out, t.todos)
	return out
}

// RecomputeTokens recalculates the running estimate from the full
// message slice. The orchestrator calls it after appending user and
// tool messages, when a streaming round ends or is canceled, and after
// every compression commit (spec §4.5 "tracks a running token estimate").
func (t *Tracker) RecomputeTokens(msgs []*message.Message) {
	total := t.estimator.History(msgs)
	t.mu.Lock()
	t.estimatedTokens = total
	t.mu.Unlock()
}

// EstimatedTokens returns the tracker's current running estimate.
func (t *Tracker) EstimatedTokens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.estimatedTokens
}

// NeedsCompression reports whether the running estimate exceeds 70% of
// maxContext (spec §4.5/§4.7).
func (t *Tracker) NeedsCompression(maxContext int) bool {
	if maxContext <= 0 {
		return false
	}
	t.mu.Lock()
	est := t.estimatedTokens
	t.mu.Unlock()
	return float64(est) > compressionThreshold*float64(maxContext)
}
