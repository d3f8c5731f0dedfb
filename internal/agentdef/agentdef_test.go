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
package agentdef

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanjesse/LocalHarness-sub001/internal/pubsub"
)

const validYAML = `
agent:
  name: release-notes
  description: Drafts release notes from recent commits.
  system_prompt: You write terse release notes.
  capabilities:
    allowed_tools: ["read_file"]
    max_iterations: 6
    temperature: 0.3
`

func TestParseFileValid(t *testing.T) {
	def, err := ParseFile([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, "release-notes", def.Name)
	assert.Equal(t, 6, def.Capabilities.MaxIterations)
	assert.Equal(t, []string{"read_file"}, def.Capabilities.AllowedTools)
	assert.False(t, def.BuiltIn)
}

func TestParseFileMissingNameErrors(t *testing.T) {
	_, err := ParseFile([]byte("agent:\n  description: no name here\n"))
	assert.Error(t, err)
}

func TestParseFileInvalidYAMLErrors(t *testing.T) {
	_, err := ParseFile([]byte("agent: [this is not a mapping"))
	assert.Error(t, err)
}

func TestNewRegistryIncludesBuiltins(t *testing.T) {
	r := NewRegistry()

	fc, ok := r.Lookup(FileCuratorName)
	require.True(t, ok)
	assert.True(t, fc.BuiltIn)

	ca, ok := r.Lookup(CompressionAgentName)
	require.True(t, ok)
	assert.True(t, ca.BuiltIn)

	assert.ElementsMatch(t, []string{FileCuratorName, CompressionAgentName}, r.Names())
}

func TestLoadExternalCannotShadowBuiltin(t *testing.T) {
	r := NewRegistry()
	r.loadExternal(Definition{Name: FileCuratorName, Description: "evil twin"})

	fc, ok := r.Lookup(FileCuratorName)
	require.True(t, ok)
	assert.True(t, fc.BuiltIn)
	assert.NotEqual(t, "evil twin", fc.Description)
}

func TestLoadExternalRegistersNewAgent(t *testing.T) {
	r := NewRegistry()
	r.loadExternal(Definition{Name: "release-notes", Description: "x"})

	d, ok := r.Lookup("release-notes")
	require.True(t, ok)
	assert.False(t, d.BuiltIn)
	assert.Contains(t, r.Names(), "release-notes")
}

func TestRemoveExternalLeavesBuiltinsIntact(t *testing.T) {
	r := NewRegistry()
	r.loadExternal(Definition{Name: "release-notes", Description: "x"})
	r.removeExternal("release-notes")
	_, ok := r.Lookup("release-notes")
	assert.False(t, ok)

	r.removeExternal(FileCuratorName)
	_, ok = r.Lookup(FileCuratorName)
	assert.True(t, ok, "built-ins are never removable")
}

func TestLoadDirectoryMissingDirIsNoOp(t *testing.T) {
	r := NewRegistry()
	err := r.LoadDirectory(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{FileCuratorName, CompressionAgentName}, r.Names())
}

func TestLoadDirectoryRegistersValidFilesAndSkipsBad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "release-notes.yaml"), []byte(validYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("agent: [nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored, not yaml"), 0o644))

	r := NewRegistry()
	err := r.LoadDirectory(dir)
	require.NoError(t, err)

	d, ok := r.Lookup("release-notes")
	require.True(t, ok)
	assert.Equal(t, 6, d.Capabilities.MaxIterations)
	assert.Len(t, r.Names(), 3) // 2 built-ins + 1 valid external
}

func TestLoadDirectoryExternalCannotShadowBuiltin(t *testing.T) {
	dir := t.TempDir()
	shadow := "agent:\n  name: " + FileCuratorName + "\n  description: evil twin\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shadow.yaml"), []byte(shadow), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadDirectory(dir))

	fc, ok := r.Lookup(FileCuratorName)
	require.True(t, ok)
	assert.True(t, fc.BuiltIn)
}

func TestExternalNamesTracksLoadOrderAndSurvivesRemoval(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.ExternalNames())

	r.loadExternal(Definition{Name: "first", Description: "a"})
	r.loadExternal(Definition{Name: "second", Description: "b"})
	assert.Equal(t, []string{"first", "second"}, r.ExternalNames())

	// Reloading an already-registered name must not duplicate its
	// entry in the order list.
	r.loadExternal(Definition{Name: "first", Description: "a-reloaded"})
	assert.Equal(t, []string{"first", "second"}, r.ExternalNames())

	r.removeExternal("first")
	assert.Equal(t, []string{"second"}, r.ExternalNames())
}

func TestSubscribePublishesCreatedUpdatedAndDeletedEvents(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := r.Subscribe(ctx)

	r.loadExternal(Definition{Name: "release-notes", Description: "v1"})
	evt := requireEvent(t, ch)
	assert.Equal(t, pubsub.Created, evt.Type)
	assert.Equal(t, "v1", evt.Payload.Description)

	r.loadExternal(Definition{Name: "release-notes", Description: "v2"})
	evt = requireEvent(t, ch)
	assert.Equal(t, pubsub.Updated, evt.Type)
	assert.Equal(t, "v2", evt.Payload.Description)

	r.removeExternal("release-notes")
	evt = requireEvent(t, ch)
	assert.Equal(t, pubsub.Deleted, evt.Type)
}

func requireEvent(t *testing.T, ch <-chan pubsub.Event[Definition]) pubsub.Event[Definition] {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a hot-reload event")
		return pubsub.Event[Definition]{}
	}
}

func TestWatchReloadsOnWriteAndRemovesOnDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "release-notes.yaml")

	r := NewRegistry()
	stop := make(chan struct{})
	defer close(stop)
	require.NoError(t, r.Watch(dir, stop))

	// Watch only observes events after it starts, so the file is created
	// here rather than before Watch is called.
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

	require.Eventually(t, func() bool {
		_, ok := r.Lookup("release-notes")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, ok := r.Lookup("release-notes")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
