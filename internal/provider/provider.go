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
// Package provider defines the tagged-sum-type abstraction over local
// LLM providers (spec §4.1): a common streaming contract, capability
// masking, and the bounded chunk pipe between a provider's streaming
// worker and the orchestrator's main loop.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/humanjesse/LocalHarness-sub001/internal/config"
	"github.com/humanjesse/LocalHarness-sub001/internal/message"
	"github.com/humanjesse/LocalHarness-sub001/internal/tool"
)

// Capabilities records what a provider variant supports, consulted by
// MaskOptions before every dispatch (spec §4.1) and surfaced to a
// settings UI so it can render the right connection fields and explain
// why a toggle is greyed out (spec §3 "Provider Registry").
type Capabilities struct {
	SupportsThinking         bool
	SupportsKeepAlive        bool
	SupportsContextSizeParam bool
	SupportsNativeTools      bool
	SupportsJSONMode         bool
	SupportsStreaming        bool
	SupportsEmbeddings       bool

	DisplayName string
	DefaultPort int

	// ConfigWarnings carries non-fatal configuration problems the
	// caller noticed (spec §3: surfaced alongside capabilities, not
	// baked into the provider client itself, since only the config
	// loader sees the raw YAML).
	ConfigWarnings []string
	ConfigFields   []config.FieldDescriptor
}

// Options carries every knob chat_stream accepts (spec §4.1).
type Options struct {
	EnableThinking bool
	ResponseFormat string
	Tools          []tool.FunctionSchema
	KeepAlive      *time.Duration
	ContextSize    *int
	MaxTokens      int
	Temperature    float64
	RepeatPenalty  float64
}

// MaskOptions zeroes out fields a provider's capabilities don't
// support, so a provider implementation never has to defend against
// requesting something it cannot honor (spec §4.1).
func MaskOptions(opts Options, caps Capabilities) Options {
	masked := opts
	if !caps.SupportsThinking {
		masked.EnableThinking = false
	}
	if !caps.SupportsKeepAlive {
		masked.KeepAlive = nil
	}
	if !caps.SupportsContextSizeParam {
		masked.ContextSize = nil
	}
	if !caps.SupportsNativeTools {
		masked.Tools = nil
	}
	return masked
}

// ChunkType tags the variant of a streamed Chunk.
type ChunkType int

const (
	ThinkingDelta ChunkType = iota
	ContentDelta
	ToolCallsBatch
	Done
)

// Chunk is the unit pushed through the stream pipe. After tool-call
// accumulation (for providers that stream deltas) the shape is
// identical regardless of provider (spec §4.1).
type Chunk struct {
	Type          ChunkType
	ThinkingDelta string
	ContentDelta  string
	ToolCalls     []message.ToolCall
	StopReason    string
	Err           error // set on a terminal error Done chunk
}

// pipeCapacity bounds the MPSC queue between a provider's streaming
// worker and the orchestrator (spec §4.1 "bounded").
const pipeCapacity = 256

// Pipe is the bounded multi-producer/single-consumer queue a
// provider's streaming worker pushes into and the orchestrator drains
// from its main loop.
type Pipe struct {
	ch chan Chunk
}

// NewPipe creates an empty pipe.
func NewPipe() *Pipe {
	return &Pipe{ch: make(chan Chunk, pipeCapacity)}
}

// Push enqueues a chunk, blocking only on a full buffer or ctx
// cancellation (never silently dropping a chunk — unlike pubsub's
// Publish, chunk loss here would corrupt the assistant message).
func (p *Pipe) Push(ctx context.Context, c Chunk) error {
	select {
	case p.ch <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain pulls chunks for up to budget, appending each to out, and
// returns once budget elapses, the pipe is closed, or a Done chunk is
// read (spec §4.10 step 4: "pull chunks up to a short budget").
func (p *Pipe) Drain(budget time.Duration) []Chunk {
	var out []Chunk
	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	for {
		select {
		case c, ok := <-p.ch:
			if !ok {
				return out
			}
			out = append(out, c)
			if c.Type == Done {
				return out
			}
		case <-deadline.C:
			return out
		}
	}
}

// Close signals no more chunks will be pushed. Only the producing
// worker should call this.
func (p *Pipe) Close() { close(p.ch) }

// Provider is the tagged-sum-type interface every backend implements
// (spec §4.1).
type Provider interface {
	Name() string
	Capabilities() Capabilities
	ChatStream(ctx context.Context, model string, messages []*message.Message, opts Options, pipe *Pipe) error
	Embed(ctx context.Context, model, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Registry holds every provider variant the harness was built with,
// keyed by its Name(), and designates one of them the default (spec §3
// "Provider Registry": capability-tagged dispatch, name lookup,
// identifier enumeration, default iteration).
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	defaultKey string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under p.Name(), replacing any prior registration of
// the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// SetDefault designates which registered provider Default() returns.
// It is a no-op, returning an error, if name was never Register()ed.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider: %q is not registered", name)
	}
	r.defaultKey = name
	return nil
}

// Lookup returns the provider registered under name, if any.
func (r *Registry) Lookup(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns every registered provider's name in sorted order, for
// stable enumeration in a settings UI.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the provider designated by SetDefault, if one was
// set and is still registered.
func (r *Registry) Default() (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultKey == "" {
		return nil, false
	}
	p, ok := r.providers[r.defaultKey]
	return p, ok
}

// EmbedBatchLoop is the shared embed_batch implementation (SPEC_FULL.md
// §4 supplement): a simple sequential loop over Embed, since the spec
// names only the two entry points and not a batching optimization.
func EmbedBatchLoop(ctx context.Context, embed func(context.Context, string) ([]float32, error), texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ToolCallAccumulator accumulates incremental tool-call deltas by
// index for the OpenAI-compatible streaming path (spec §4.1: providers
// that stream tool calls as deltas must accumulate by call index and
// emit a single batch on finish).
type ToolCallAccumulator struct {
	byIndex map[int]*message.ToolCall
	order   []int
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{byIndex: make(map[int]*message.ToolCall)}
}

// Add merges a delta fragment into the call at index, creating it on
// first sight. A non-empty id or name overwrites the stored value and
// an empty one leaves it unchanged; arguments accumulate by
// concatenation.
func (a *ToolCallAccumulator) Add(index int, id, name, argsDelta string) {
	call, ok := a.byIndex[index]
	if !ok {
		call = &message.ToolCall{}
		a.byIndex[index] = call
		a.order = append(a.order, index)
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	call.Arguments += argsDelta
}

// Finish returns the accumulated calls in first-seen index order.
func (a *ToolCallAccumulator) Finish() []message.ToolCall {
	out := make([]message.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIndex[idx])
	}
	return out
}
