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
package context

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/humanjesse/LocalHarness-sub001/internal/message"
)

func TestMarkReadIsDedupedAndSorted(t *testing.T) {
	tr := New()
	tr.MarkRead("b.go")
	tr.MarkRead("a.go")
	tr.MarkRead("b.go")
	assert.Equal(t, []string{"a.go", "b.go"}, tr.ReadFiles())
}

func TestMarkModifiedAccumulatesRanges(t *testing.T) {
	tr := New()
	tr.MarkModified("a.go", 1, 5)
	tr.MarkModified("a.go", 10, 12)

	mods := tr.ModifiedFiles()
	assert.Equal(t, []LineRange{{Start: 1, End: 5}, {Start: 10, End: 12}}, mods["a.go"])
}

func TestModifiedFilesIsDefensiveCopy(t *testing.T) {
	tr := New()
	tr.MarkModified("a.go", 1, 2)
	mods := tr.ModifiedFiles()
	mods["a.go"][0].Start = 999
	assert.Equal(t, 1, tr.ModifiedFiles()["a.go"][0].Start)
}

func TestSetTodosReplacesWholesale(t *testing.T) {
	tr := New()
	tr.SetTodos([]Todo{{ID: "1", Content: "a", Status: TodoPending}})
	tr.SetTodos([]Todo{{ID: "2", Content: "b", Status: TodoInProgress}})

	got := tr.Todos()
	assert.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

func TestTodosIsDefensiveCopy(t *testing.T) {
	tr := New()
	tr.SetTodos([]Todo{{ID: "1"}})
	got := tr.Todos()
	got[0].ID = "mutated"
	assert.Equal(t, "1", tr.Todos()[0].ID)
}

func TestRecomputeTokensAndEstimatedTokens(t *testing.T) {
	tr := New()
	assert.Equal(t, 0, tr.EstimatedTokens())

	m := message.New("1", message.User)
	m.Content = "hello world"
	tr.RecomputeTokens([]*message.Message{m})
	assert.Greater(t, tr.EstimatedTokens(), 0)
}

func TestNeedsCompressionThreshold(t *testing.T) {
	tr := New()
	msgs := []*message.Message{message.New("1", message.User)}
	msgs[0].Content = "short"
	tr.RecomputeTokens(msgs)

	assert.False(t, tr.NeedsCompression(0), "non-positive max context never needs compression")

	est := tr.EstimatedTokens()
	assert.False(t, tr.NeedsCompression(est*100))
	assert.True(t, tr.NeedsCompression(est))
}
