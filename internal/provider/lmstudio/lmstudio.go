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
// Package lmstudio implements the Provider interface against an
// LMStudio server's OpenAI-compatible /v1/chat/completions SSE stream.
// SSE parsing is grounded on the teacher's use of github.com/r3labs/sse/v2
// in pkg/mcp/transport/http.go.
package lmstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"

	"github.com/humanjesse/LocalHarness-sub001/internal/config"
	"github.com/humanjesse/LocalHarness-sub001/internal/message"
	"github.com/humanjesse/LocalHarness-sub001/internal/provider"
)

// Client is a Provider backed by a local LMStudio server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// New creates an LMStudio client.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:1234"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "lmstudio" }

// Capabilities reports what LMStudio's OpenAI-compatible endpoint
// supports: no keep_alive or context-size knobs, tool calls stream as
// incremental deltas requiring accumulation by index.
func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsThinking:         false,
		SupportsKeepAlive:        false,
		SupportsContextSizeParam: false,
		SupportsNativeTools:      true,
		SupportsJSONMode:         true,
		SupportsStreaming:        true,
		SupportsEmbeddings:       true,
		DisplayName:              "LM Studio",
		DefaultPort:              1234,
		ConfigFields: []config.FieldDescriptor{
			{Key: "endpoint", Label: "Server URL", Type: "text", Help: "Base URL of the LM Studio server", Default: "http://localhost:1234"},
		},
	}
}

type oaMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Stream      bool        `json:"stream"`
	Temperature float64     `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Tools       []oaTool    `json:"tools,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content,omitempty"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

func convertMessages(msgs []*message.Message) []oaMessage {
	out := make([]oaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := oaMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == message.Tool {
			om.ToolCallID = m.ToolCallID
			om.Content = (&message.ToolResult{ToolCallID: m.ToolCallID, Success: true, Data: m.Content}).Serialize()
		}
		for _, tc := range m.ToolCalls {
			otc := oaToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

// ChatStream streams one /v1/chat/completions round via SSE,
// accumulating tool-call deltas by index (spec §4.1) before emitting a
// single tool-calls-batch chunk on "tool_calls" finish.
func (c *Client) ChatStream(ctx context.Context, model string, messages []*message.Message, opts provider.Options, pipe *provider.Pipe) error {
	masked := provider.MaskOptions(opts, c.Capabilities())

	req := chatRequest{
		Model:       model,
		Messages:    convertMessages(messages),
		Stream:      true,
		Temperature: masked.Temperature,
		MaxTokens:   masked.MaxTokens,
	}
	for _, t := range masked.Tools {
		var ot oaTool
		ot.Type = "function"
		ot.Function.Name = t.Function.Name
		ot.Function.Description = t.Function.Description
		ot.Function.Parameters = t.Function.Parameters
		req.Tools = append(req.Tools, ot)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return c.terminal(ctx, pipe, fmt.Errorf("lmstudio: marshal request: %w", err))
	}

	sseClient := sse.NewClient(c.endpoint + "/v1/chat/completions")
	sseClient.Method = http.MethodPost
	sseClient.Body = bytes.NewReader(body)
	sseClient.Headers["Content-Type"] = "application/json"
	sseClient.Connection = c.httpClient

	acc := provider.NewToolCallAccumulator()
	var stopReason string
	var streamErr error

	err = sseClient.SubscribeWithContext(ctx, "", func(ev *sse.Event) {
		data := strings.TrimSpace(string(ev.Data))
		if data == "" || data == "[DONE]" {
			return
		}
		var chunk streamChunk
		if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
			return
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if pushErr := pipe.Push(ctx, provider.Chunk{Type: provider.ContentDelta, ContentDelta: choice.Delta.Content}); pushErr != nil {
					streamErr = pushErr
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.Add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				stopReason = choice.FinishReason
			}
		}
	})
	if err != nil {
		return c.terminal(ctx, pipe, fmt.Errorf("lmstudio: subscribe: %w", err))
	}
	if streamErr != nil {
		return streamErr
	}

	if calls := acc.Finish(); len(calls) > 0 {
		if err := pipe.Push(ctx, provider.Chunk{Type: provider.ToolCallsBatch, ToolCalls: calls}); err != nil {
			return err
		}
	}
	return pipe.Push(ctx, provider.Chunk{Type: provider.Done, StopReason: stopReason})
}

func (c *Client) terminal(ctx context.Context, pipe *provider.Pipe, err error) error {
	_ = pipe.Push(ctx, provider.Chunk{Type: provider.Done, Err: err})
	return err
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed calls LMStudio's /v1/embeddings endpoint.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("lmstudio: marshal embed request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("lmstudio: build embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("lmstudio: embed request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("lmstudio: embed status %d: %s", resp.StatusCode, string(respBody))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("lmstudio: decode embed response: %w", err)
	}
	if len(er.Data) == 0 {
		return nil, fmt.Errorf("lmstudio: empty embedding response")
	}
	return er.Data[0].Embedding, nil
}

// EmbedBatch loops over Embed (SPEC_FULL.md §4 supplement).
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return provider.EmbedBatchLoop(ctx, func(ctx context.Context, t string) ([]float32, error) {
		return c.Embed(ctx, model, t)
	}, texts)
}
