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
// Package agentdef holds the Agent definition record, the built-in
// agents, and the external-directory loader with hot-reload (spec
// §4.9). YAML shapes are grounded in the teacher's
// pkg/agent/config_loader.go AgentConfigYAML.
package agentdef

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/humanjesse/LocalHarness-sub001/internal/csync"
	"github.com/humanjesse/LocalHarness-sub001/internal/log"
	"github.com/humanjesse/LocalHarness-sub001/internal/pubsub"
)

// Capabilities are the execution constraints an Agent Executor run
// must respect (spec §3 Agent definition).
type Capabilities struct {
	AllowedTools       []string `yaml:"allowed_tools"`
	MaxIterations      int      `yaml:"max_iterations"`
	ModelOverride      string   `yaml:"model_override,omitempty"`
	Temperature        float64  `yaml:"temperature"`
	ContextSizeOverride int     `yaml:"context_size_override,omitempty"`
	Thinking           bool     `yaml:"thinking"`
}

// Definition is one Agent record (spec §3).
type Definition struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
	Capabilities Capabilities `yaml:"capabilities"`
	BuiltIn      bool `yaml:"-"`
}

// fileShape mirrors the teacher's AgentConfigYAML root-key nesting,
// adapted to this spec's flatter Agent definition fields.
type fileShape struct {
	Agent struct {
		Name         string       `yaml:"name"`
		Description  string       `yaml:"description"`
		SystemPrompt string       `yaml:"system_prompt"`
		Capabilities Capabilities `yaml:"capabilities"`
	} `yaml:"agent"`
}

// ParseFile decodes one external agent definition file.
func ParseFile(data []byte) (Definition, error) {
	var fs fileShape
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return Definition{}, fmt.Errorf("agentdef: parse: %w", err)
	}
	if fs.Agent.Name == "" {
		return Definition{}, fmt.Errorf("agentdef: missing agent.name")
	}
	return Definition{
		Name:         fs.Agent.Name,
		Description:  fs.Agent.Description,
		SystemPrompt: fs.Agent.SystemPrompt,
		Capabilities: fs.Agent.Capabilities,
	}, nil
}

// FileCuratorName and CompressionAgentName are the two always-present
// built-in agents (spec §4.9).
const (
	FileCuratorName     = "file-curator"
	CompressionAgentName = "compression-agent"
)

func builtins() []Definition {
	return []Definition{
		{
			Name:        FileCuratorName,
			Description: "Surveys the workspace and curates a relevant file list for the main agent.",
			SystemPrompt: "You are a file curator. Given a task description, identify the files in the " +
				"workspace most relevant to it. Use the available read-only tools to inspect the tree " +
				"and report a prioritized, deduplicated file list with a one-line reason for each.",
			Capabilities: Capabilities{
				AllowedTools:  []string{"list_directory", "read_file", "search_files"},
				MaxIterations: 10,
				Temperature:   0.2,
			},
			BuiltIn: true,
		},
		{
			Name:        CompressionAgentName,
			Description: "Summarizes older conversation history to free context budget.",
			SystemPrompt: "You compress older conversation history to free context budget while preserving " +
				"concrete facts: file paths, identifiers, decisions, and outcomes.",
			Capabilities: Capabilities{
				AllowedTools: []string{
					"get_compression_metadata",
					"compress_tool_result",
					"compress_conversation_segment",
					"verify_compression_target",
				},
				MaxIterations: 15,
				Temperature:   0.7,
			},
			BuiltIn: true,
		},
	}
}

// Registry holds every known agent definition, keyed by name. Built-in
// agents can never be displaced by an external file of the same name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition

	// externalOrder tracks the load order of external (non-built-in)
	// agent names, so a settings UI can list them in the order their
	// files were discovered rather than Go's unordered map iteration.
	externalOrder *csync.Slice[string]

	// events fans out hot-reload notifications (spec §4.9 "hot
	// reload") to any UI collaborator watching the agent directory,
	// decoupling the watcher from a concrete rendering surface.
	events *pubsub.Broker[Definition]
}

// NewRegistry creates a registry pre-populated with both built-ins.
func NewRegistry() *Registry {
	r := &Registry{
		defs:          make(map[string]Definition),
		externalOrder: csync.NewSlice[string](),
		events:        pubsub.NewBroker[Definition](0),
	}
	for _, d := range builtins() {
		r.defs[d.Name] = d
	}
	return r
}

// ExternalNames lists every externally loaded (non-built-in) agent
// name in the order it was first discovered.
func (r *Registry) ExternalNames() []string {
	return r.externalOrder.Snapshot()
}

// Subscribe returns a channel of hot-reload events: a Created/Updated
// event each time an external definition is (re)loaded, a Deleted
// event when its file disappears. The channel closes when ctx is done.
func (r *Registry) Subscribe(ctx context.Context) <-chan pubsub.Event[Definition] {
	return r.events.Subscribe(ctx)
}

// Lookup returns the named agent definition.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Names lists every registered agent name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for n := range r.defs {
		out = append(out, n)
	}
	return out
}

// loadExternal registers one parsed external definition, refusing to
// overwrite a built-in (spec §4.9 "duplicate names: built-ins win").
func (r *Registry) loadExternal(d Definition) {
	r.mu.Lock()
	if existing, ok := r.defs[d.Name]; ok && existing.BuiltIn {
		r.mu.Unlock()
		log.Warn("agentdef: external definition shadowed by built-in", zap.String("name", d.Name))
		return
	}
	_, reload := r.defs[d.Name]
	r.defs[d.Name] = d
	r.mu.Unlock()

	if !reload {
		r.externalOrder.Append(d.Name)
	}
	if reload {
		r.events.PublishUpdated(d)
	} else {
		r.events.PublishCreated(d)
	}
}

// removeExternal drops a previously loaded external definition (e.g.
// after its file is deleted). Built-ins are never removable.
func (r *Registry) removeExternal(name string) {
	r.mu.Lock()
	existing, ok := r.defs[name]
	if !ok || existing.BuiltIn {
		r.mu.Unlock()
		return
	}
	delete(r.defs, name)
	r.mu.Unlock()

	remaining := make([]string, 0)
	for _, n := range r.externalOrder.Snapshot() {
		if n != name {
			remaining = append(remaining, n)
		}
	}
	r.externalOrder.Replace(remaining)
	r.events.PublishDeleted(existing)
}

// loadDirConcurrency bounds how many agent files LoadDirectory reads
// in flight at once.
const loadDirConcurrency = 4

// LoadDirectory reads every *.yaml/*.yml file in dir at startup,
// registering each as an external agent. File reads run concurrently,
// bounded by loadDirConcurrency, since a startup directory can hold
// many definition files and each is an independent disk read.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("agentdef: read dir %s: %w", dir, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(loadDirConcurrency)
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Warn("agentdef: read failed", zap.String("path", path), zap.Error(err))
				return nil
			}
			def, err := ParseFile(data)
			if err != nil {
				log.Warn("agentdef: parse failed", zap.String("path", path), zap.Error(err))
				return nil
			}
			r.loadExternal(def)
			return nil
		})
	}
	return g.Wait()
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// Watch starts an fsnotify watch on dir that runs until stop is closed.
// A written or created file's definition is (re)loaded; on a delete or
// rename, the agent whose name equals the file's base name (without
// .yaml/.yml) is removed, so a definition whose agent.name differs from
// its file name stays registered. Grounded in the teacher's use of fsnotify for
// hot-reloading config directories.
func (r *Registry) Watch(dir string, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("agentdef: new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("agentdef: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.handleEvent(ev)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("agentdef: watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (r *Registry) handleEvent(ev fsnotify.Event) {
	if !isYAML(ev.Name) {
		return
	}
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		name := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(ev.Name), ".yaml"), ".yml")
		r.removeExternal(name)
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
		data, err := os.ReadFile(ev.Name)
		if err != nil {
			log.Warn("agentdef: reload read failed", zap.String("path", ev.Name), zap.Error(err))
			return
		}
		def, err := ParseFile(data)
		if err != nil {
			log.Warn("agentdef: reload parse failed", zap.String("path", ev.Name), zap.Error(err))
			return
		}
		r.loadExternal(def)
	}
}
