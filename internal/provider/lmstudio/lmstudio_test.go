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
package lmstudio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanjesse/LocalHarness-sub001/internal/message"
	"github.com/humanjesse/LocalHarness-sub001/internal/provider"
)

func TestLMStudioCapabilities(t *testing.T) {
	c := New(Config{})
	caps := c.Capabilities()
	assert.False(t, caps.SupportsThinking)
	assert.False(t, caps.SupportsKeepAlive)
	assert.False(t, caps.SupportsContextSizeParam)
	assert.True(t, caps.SupportsNativeTools)
	assert.True(t, caps.SupportsJSONMode)
	assert.True(t, caps.SupportsStreaming)
	assert.True(t, caps.SupportsEmbeddings)
	assert.Equal(t, "LM Studio", caps.DisplayName)
	assert.Equal(t, 1234, caps.DefaultPort)
	require.NotEmpty(t, caps.ConfigFields)
	assert.Equal(t, "endpoint", caps.ConfigFields[0].Key)
}

func TestLMStudioNewAppliesDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "http://localhost:1234", c.endpoint)
	assert.Equal(t, "lmstudio", c.Name())
}

func writeSSE(w http.ResponseWriter, payload any) {
	b, _ := json.Marshal(payload)
	fmt.Fprintf(w, "data: %s\n\n", b)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestLMStudioChatStreamContentDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		var c1, c2 streamChunk
		c1.Choices = append(c1.Choices, struct {
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
		}{})
		c1.Choices[0].Delta.Content = "Hi"
		writeSSE(w, c1)

		c2.Choices = append(c2.Choices, c1.Choices[0])
		c2.Choices[0].Delta.Content = ""
		c2.Choices[0].FinishReason = "stop"
		writeSSE(w, c2)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	pipe := provider.NewPipe()
	msgs := []*message.Message{{Role: message.User, Content: "hello"}}
	err := c.ChatStream(context.Background(), "local-model", msgs, provider.Options{}, pipe)
	require.NoError(t, err)

	chunks := pipe.Drain(time.Second)
	require.Len(t, chunks, 2)
	assert.Equal(t, provider.ContentDelta, chunks[0].Type)
	assert.Equal(t, "Hi", chunks[0].ContentDelta)
	assert.Equal(t, provider.Done, chunks[1].Type)
	assert.Equal(t, "stop", chunks[1].StopReason)
}

func TestLMStudioChatStreamAccumulatesToolCallDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{\"path\":"}}]}}]}`+"\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.go\"}"}}]},"finish_reason":"tool_calls"}]}`+"\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	pipe := provider.NewPipe()
	err := c.ChatStream(context.Background(), "local-model", nil, provider.Options{}, pipe)
	require.NoError(t, err)

	chunks := pipe.Drain(time.Second)
	require.Len(t, chunks, 2)
	assert.Equal(t, provider.ToolCallsBatch, chunks[0].Type)
	require.Len(t, chunks[0].ToolCalls, 1)
	assert.Equal(t, "read_file", chunks[0].ToolCalls[0].Name)
	assert.Equal(t, `{"path":"a.go"}`, chunks[0].ToolCalls[0].Arguments)
}

func TestLMStudioEmbedSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.5}}}})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	v, err := c.Embed(context.Background(), "embed-model", "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, v)
}

func TestLMStudioConvertMessagesSetsToolCallID(t *testing.T) {
	msgs := []*message.Message{{Role: message.Tool, ToolCallID: "c1", Content: "result"}}
	out := convertMessages(msgs)
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].ToolCallID)
}
