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
package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolResultSerialize(t *testing.T) {
	tests := []struct {
		name string
		r    ToolResult
	}{
		{
			name: "success with data",
			r:    ToolResult{Success: true, Data: "line1\nline2", ExecutionTimeMS: 12, DataSizeBytes: 11, CompletedAtUnix: 100},
		},
		{
			name: "failure carries error kind and message",
			r:    ToolResult{Success: false, ErrorKind: ErrPermissionDenied, ErrorMessage: `denied: "bar"`, CompletedAtUnix: 200},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.r.Serialize()
			var decoded toolResultWire
			require.NoError(t, json.Unmarshal([]byte(out), &decoded))
			assert.Equal(t, tt.r.Success, decoded.Success)
			assert.Equal(t, string(tt.r.ErrorKind), decoded.ErrorType)
			assert.Equal(t, tt.r.CompletedAtUnix, decoded.Metadata.Timestamp)
		})
	}
}

func TestEscapeJSONString(t *testing.T) {
	in := "a\"b\\c\nd\re\tf"
	want := `a\"b\\c\nd\re\tf`
	assert.Equal(t, want, escapeJSONString(in))
}

func TestHistoryAppendAndSnapshot(t *testing.T) {
	h := NewHistory()
	assert.Equal(t, 0, h.Len())
	assert.Nil(t, h.Last())

	u := New("1", User)
	u.Content = "hi"
	h.Append(u)
	a := New("2", Assistant)
	h.Append(a)

	require.Equal(t, 2, h.Len())
	assert.Same(t, a, h.Last())
	assert.Same(t, u, h.At(0))
	assert.Nil(t, h.At(99))

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	snap[0] = New("replaced", User)
	assert.Equal(t, "1", h.At(0).ID, "snapshot must be a defensive copy of the slice")
}

func TestHistoryForModelElidesDisplayOnly(t *testing.T) {
	h := NewHistory()
	h.Append(New("1", User))
	display := New("2", Tool)
	display.DisplayOnly = true
	h.Append(display)
	h.Append(New("3", Assistant))

	out := h.ForModel()
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "3", out[1].ID)
}

func TestHistoryReplaceRange(t *testing.T) {
	h := NewHistory()
	for _, id := range []string{"a", "b", "c", "d"} {
		h.Append(New(id, User))
	}

	surrogate := NewCompressedSurrogate("s1", User, "summary")
	h.ReplaceRange(0, 2, []*Message{surrogate})

	require.Equal(t, 3, h.Len())
	assert.Equal(t, "s1", h.At(0).ID)
	assert.True(t, h.At(0).Compressed)
	assert.Equal(t, "c", h.At(1).ID)
	assert.Equal(t, "d", h.At(2).ID)
}

func TestHistoryReplaceRangeInvalidPanics(t *testing.T) {
	h := NewHistory()
	h.Append(New("a", User))
	assert.Panics(t, func() { h.ReplaceRange(0, 5, nil) })
	assert.Panics(t, func() { h.ReplaceRange(-1, 1, nil) })
	assert.Panics(t, func() { h.ReplaceRange(1, 0, nil) })
}

func TestAppendContentAndThinkingGrowInPlace(t *testing.T) {
	m := New("1", Assistant)
	m.AppendContent("Hi")
	m.AppendContent("!")
	m.AppendThinking("thinking...")
	assert.Equal(t, "Hi!", m.Content)
	assert.Equal(t, "thinking...", m.Thinking)
	assert.False(t, m.HasToolCalls())

	m.ToolCalls = append(m.ToolCalls, ToolCall{ID: "c1", Name: "read_file"})
	assert.True(t, m.HasToolCalls())
}

func TestNewCompressedSurrogateSentinel(t *testing.T) {
	m := NewCompressedSurrogate("s1", User, "a quick summary")
	assert.True(t, m.Compressed)
	assert.Equal(t, CompressedSentinel+"a quick summary", m.Content)
}
