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
// Package tokencount estimates token usage for context-window
// accounting. Per spec §3 the estimator only needs to be monotonic and
// deterministic for identical inputs; the exact algorithm is an
// implementation choice (spec §9 Open Questions).
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/humanjesse/LocalHarness-sub001/internal/message"
)

// perMessageOverhead approximates the formatting cost (role markers,
// separators) a provider's wire format adds around each message.
const perMessageOverhead = 10

// Estimator counts tokens using cl100k_base when available, falling
// back to a char/4 heuristic so the estimate is never unavailable.
type Estimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

var (
	once     sync.Once
	shared   *Estimator
)

// Shared returns a process-wide Estimator singleton, matching the
// teacher's GetTokenCounter() pattern.
func Shared() *Estimator {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			shared = &Estimator{}
			return
		}
		shared = &Estimator{enc: enc}
	})
	return shared
}

// Count returns the token count for a single string.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc == nil {
		return approximate(text)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enc.Encode(text, nil, nil))
}

func approximate(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// Message estimates the token cost of a single message, including its
// tool calls and per-message formatting overhead.
func (e *Estimator) Message(m *message.Message) int {
	if m == nil {
		return 0
	}
	total := perMessageOverhead
	total += e.Count(m.Content)
	total += e.Count(m.Thinking)
	for _, tc := range m.ToolCalls {
		total += e.Count(tc.Name) + e.Count(tc.Arguments) + 5
	}
	return total
}

// History sums Message over every entry; used to recompute the
// tracker's running total after a compression commit.
func (e *Estimator) History(msgs []*message.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Message(m)
	}
	return total
}
