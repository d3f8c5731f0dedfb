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
package inject

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	msgctx "github.com/humanjesse/LocalHarness-sub001/internal/context"
)

func TestBuildEmptyTrackerAndMessageYieldsEmptyPreamble(t *testing.T) {
	tr := msgctx.New()
	out := Build(tr, "", 0, 10, 0, 10)
	assert.Empty(t, out)
}

func TestBuildIncludesReadFilesSection(t *testing.T) {
	tr := msgctx.New()
	tr.MarkRead("main.go")
	out := Build(tr, "", 0, 10, 0, 10)
	assert.Contains(t, out, "Files read so far:")
	assert.Contains(t, out, "- main.go")
}

func TestBuildIncludesModifiedFilesWithRanges(t *testing.T) {
	tr := msgctx.New()
	tr.MarkModified("a.go", 3, 9)
	out := Build(tr, "", 0, 10, 0, 10)
	assert.Contains(t, out, "Files modified:")
	assert.Contains(t, out, "- a.go (lines 3-9)")
}

func TestBuildIncludesTodosWithStatus(t *testing.T) {
	tr := msgctx.New()
	tr.SetTodos([]msgctx.Todo{{ID: "1", Content: "write tests", Status: msgctx.TodoInProgress}})
	out := Build(tr, "", 0, 10, 0, 10)
	assert.Contains(t, out, "Current todos:")
	assert.Contains(t, out, "- [in_progress] write tests")
}

func TestWorkflowHintVariants(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		contains string
	}{
		{"error text", "I'm seeing error: nil pointer", "investigate before proposing a fix"},
		{"stack trace", "here's a stack trace from the crash", "investigate before proposing a fix"},
		{"code block", "```\npanic\n```", "investigate before proposing a fix"},
		{"question", "what does this function do?", "answer directly"},
		{"bug report", "please fix this bug", "confirm the root cause"},
		{"plain statement", "add a new feature", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := workflowHint(tt.message)
			if tt.contains == "" {
				assert.Empty(t, got)
			} else {
				assert.Contains(t, got, tt.contains)
			}
		})
	}
}

func TestWorkflowHintEmptyMessage(t *testing.T) {
	assert.Empty(t, workflowHint("   "))
}

func TestSoftReminderFiresInWindowOnly(t *testing.T) {
	assert.Empty(t, softReminder(0, 10, 0, 10), "far below threshold: silent")
	assert.NotEmpty(t, softReminder(8, 10, 0, 10), "at 80%: reminder fires")
	assert.Empty(t, softReminder(10, 10, 0, 10), "at the cap: past the silence window")
}

func TestSoftReminderUsesFloorOnLowCap(t *testing.T) {
	// max=4 -> 75% is 3, below the floor of 8, so the floor applies
	// and nothing fires until count reaches 8 which exceeds max.
	assert.Empty(t, softReminder(3, 4, 0, 4))
}

func TestSoftReminderDisabledWhenMaxNonPositive(t *testing.T) {
	assert.Empty(t, softReminder(5, 0, 5, 0))
}

func TestBuildSectionsElidedWhenEmpty(t *testing.T) {
	tr := msgctx.New()
	tr.MarkRead("x.go")
	out := Build(tr, "", 0, 10, 0, 10)
	assert.NotContains(t, out, "Files modified:")
	assert.NotContains(t, out, "Current todos:")
}

func TestBuildTrailingWhitespaceTrimmed(t *testing.T) {
	tr := msgctx.New()
	tr.MarkRead("x.go")
	out := Build(tr, "", 0, 10, 0, 10)
	assert.False(t, strings.HasSuffix(out, "\n"))
}
