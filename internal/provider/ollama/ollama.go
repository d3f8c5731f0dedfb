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
// Package ollama implements the Provider interface against a local
// Ollama server's NDJSON /api/chat streaming endpoint. Grounded on the
// teacher's pkg/llm/ollama/client.go.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/humanjesse/LocalHarness-sub001/internal/config"
	"github.com/humanjesse/LocalHarness-sub001/internal/message"
	"github.com/humanjesse/LocalHarness-sub001/internal/provider"
)

// Client is a Provider backed by a local Ollama server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// New creates an Ollama client with defaults matching the teacher's
// (localhost:11434, 120s timeout).
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "ollama" }

// Capabilities reports what Ollama's /api/chat endpoint supports.
// Ollama delivers whole tool calls per chunk rather than incremental
// deltas, and accepts a keep_alive hint and a context-size (num_ctx)
// option directly.
func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsThinking:         true,
		SupportsKeepAlive:        true,
		SupportsContextSizeParam: true,
		SupportsNativeTools:      true,
		SupportsJSONMode:         true,
		SupportsStreaming:        true,
		SupportsEmbeddings:       true,
		DisplayName:              "Ollama",
		DefaultPort:              11434,
		ConfigFields: []config.FieldDescriptor{
			{Key: "endpoint", Label: "Server URL", Type: "text", Help: "Base URL of the Ollama server", Default: "http://localhost:11434"},
			{Key: "keep_alive", Label: "Keep model loaded", Type: "toggle", Help: "Keep the model resident between requests", Default: "true"},
		},
	}
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model     string                 `json:"model"`
	Messages  []ollamaMessage        `json:"messages"`
	Stream    bool                   `json:"stream"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
	Tools     []ollamaTool           `json:"tools,omitempty"`
	Think     bool                   `json:"think,omitempty"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type chatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Thinking string       `json:"thinking,omitempty"`
	Done    bool          `json:"done"`
}

func (c *Client) convertMessages(msgs []*message.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == message.Tool {
			om.Content = (&message.ToolResult{
				ToolCallID: m.ToolCallID,
				Success:    true,
				Data:       m.Content,
			}).Serialize()
		}
		for _, tc := range m.ToolCalls {
			var args any
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
			otc := ollamaToolCall{ID: tc.ID}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = args
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func convertTools(tools []toolSchema) []ollamaTool {
	out := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		out = append(out, ot)
	}
	return out
}

// toolSchema is a provider-agnostic view of tool.FunctionSchema to
// avoid importing the tool package's wire type directly here.
type toolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatStream streams one /api/chat round, pushing thinking/content
// deltas and a final tool-calls-batch + done chunk into pipe.
func (c *Client) ChatStream(ctx context.Context, model string, messages []*message.Message, opts provider.Options, pipe *provider.Pipe) error {
	masked := provider.MaskOptions(opts, c.Capabilities())

	schemas := make([]toolSchema, 0, len(masked.Tools))
	for _, t := range masked.Tools {
		schemas = append(schemas, toolSchema{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters})
	}

	req := chatRequest{
		Model:    model,
		Messages: c.convertMessages(messages),
		Stream:   true,
		Think:    masked.EnableThinking,
		Options: map[string]interface{}{
			"temperature": masked.Temperature,
		},
	}
	if masked.MaxTokens > 0 {
		req.Options["num_predict"] = masked.MaxTokens
	}
	if masked.ContextSize != nil {
		req.Options["num_ctx"] = *masked.ContextSize
	}
	if masked.RepeatPenalty > 0 {
		req.Options["repeat_penalty"] = masked.RepeatPenalty
	}
	if masked.KeepAlive != nil {
		req.KeepAlive = masked.KeepAlive.String()
	}
	if len(schemas) > 0 {
		req.Tools = convertTools(schemas)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return c.terminal(ctx, pipe, fmt.Errorf("ollama: marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return c.terminal(ctx, pipe, fmt.Errorf("ollama: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.terminal(ctx, pipe, fmt.Errorf("ollama: request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return c.terminal(ctx, pipe, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(respBody)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var toolCalls []message.ToolCall
	var stopReason string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var chunk chatResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			continue
		}

		if chunk.Thinking != "" {
			if err := pipe.Push(ctx, provider.Chunk{Type: provider.ThinkingDelta, ThinkingDelta: chunk.Thinking}); err != nil {
				return err
			}
		}
		if chunk.Message.Content != "" {
			if err := pipe.Push(ctx, provider.Chunk{Type: provider.ContentDelta, ContentDelta: chunk.Message.Content}); err != nil {
				return err
			}
		}
		for _, tc := range chunk.Message.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Function.Arguments)
			toolCalls = append(toolCalls, message.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: string(argsJSON)})
		}

		if chunk.Done {
			stopReason = "stop"
			if len(toolCalls) > 0 {
				stopReason = "tool_calls"
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return c.terminal(ctx, pipe, fmt.Errorf("ollama: stream read: %w", err))
	}

	if len(toolCalls) > 0 {
		if err := pipe.Push(ctx, provider.Chunk{Type: provider.ToolCallsBatch, ToolCalls: toolCalls}); err != nil {
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
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed calls Ollama's /api/embed endpoint for a single text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal embed request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: embed status %d: %s", resp.StatusCode, string(respBody))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("ollama: decode embed response: %w", err)
	}
	if len(er.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding response")
	}
	return er.Embeddings[0], nil
}

// EmbedBatch loops over Embed (SPEC_FULL.md §4 supplement).
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return provider.EmbedBatchLoop(ctx, func(ctx context.Context, t string) ([]float32, error) {
		return c.Embed(ctx, model, t)
	}, texts)
}
