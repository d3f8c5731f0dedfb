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
// Package inject builds the synthetic preamble message prepended to
// each outbound provider request (spec §4.6). The preamble is never
// stored in history: it is rebuilt fresh on every call.
package inject

import (
	"fmt"
	"strings"

	msgctx "github.com/humanjesse/LocalHarness-sub001/internal/context"
)

// softReminderFloor mirrors the teacher's buildSoftReminder /
// buildTurnReminder floor: never nudge below this absolute count even
// on a low cap, so a max of e.g. 4 doesn't fire a reminder on call 3.
const softReminderFloor = 8

// Build renders the preamble for one outbound request. Empty sections
// are elided (spec §4.6). lastUserMessage is used to derive the
// workflow hint; iterationCount/maxIterations and toolCallDepth/
// maxToolDepth drive the supplemented soft-reminder line.
func Build(tracker *msgctx.Tracker, lastUserMessage string, iterationCount, maxIterations, toolCallDepth, maxToolDepth int) string {
	var b strings.Builder

	if files := tracker.ReadFiles(); len(files) > 0 {
		b.WriteString("Files read so far:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	if modified := tracker.ModifiedFiles(); len(modified) > 0 {
		b.WriteString("Files modified:\n")
		paths := sortedKeys(modified)
		for _, path := range paths {
			ranges := modified[path]
			var parts []string
			for _, r := range ranges {
				parts = append(parts, fmt.Sprintf("%d-%d", r.Start, r.End))
			}
			fmt.Fprintf(&b, "- %s (lines %s)\n", path, strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}

	if todos := tracker.Todos(); len(todos) > 0 {
		b.WriteString("Current todos:\n")
		for _, t := range todos {
			fmt.Fprintf(&b, "- [%s] %s\n", t.Status, t.Content)
		}
		b.WriteString("\n")
	}

	if hint := workflowHint(lastUserMessage); hint != "" {
		b.WriteString(hint)
		b.WriteString("\n")
	}

	if reminder := softReminder(iterationCount, maxIterations, toolCallDepth, maxToolDepth); reminder != "" {
		b.WriteString(reminder)
	}

	return strings.TrimRight(b.String(), "\n")
}

func sortedKeys(m map[string][]msgctx.LineRange) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// workflowHint derives a single-line nudge from the shape of the most
// recent user message (spec §4.6 item 4): a best-effort classification,
// not a parser.
func workflowHint(lastUserMessage string) string {
	trimmed := strings.TrimSpace(lastUserMessage)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(trimmed, "```") || strings.Contains(lower, "stack trace") || strings.Contains(lower, "error:"):
		return "Workflow hint: the user shared an error or code block; investigate before proposing a fix."
	case strings.HasSuffix(trimmed, "?"):
		return "Workflow hint: the user asked a question; answer directly before taking action."
	case strings.Contains(lower, "fix") || strings.Contains(lower, "bug"):
		return "Workflow hint: the user wants a bug fixed; confirm the root cause before editing."
	default:
		return ""
	}
}

// softReminder implements the SPEC_FULL.md-supplemented fifth preamble
// line, grounded in the teacher's buildSoftReminder/buildTurnReminder
// (pkg/agent/agent.go, pkg/agent/conversation_helpers.go): a nudge on
// every request whose count is at or above 75% of its cap (and never
// below softReminderFloor) but below 90% of it; outside that window it
// is silent. The iteration count is checked before tool_call_depth.
func softReminder(iterationCount, maxIterations, toolCallDepth, maxToolDepth int) string {
	if r := reminderWindow(iterationCount, maxIterations, "iterations", softReminderFloor); r != "" {
		return r
	}
	return reminderWindow(toolCallDepth, maxToolDepth, "tool calls", softReminderFloor)
}

func reminderWindow(count, max int, label string, floor int) string {
	if max <= 0 {
		return ""
	}
	threshold := int(float64(max) * 0.75)
	if threshold < floor {
		threshold = floor
	}
	upper := int(float64(max) * 0.90)
	if count >= threshold && count < upper {
		return fmt.Sprintf("Notice: %d of %d max %s used. Wrap up soon if you have enough information.", count, max, label)
	}
	return ""
}
