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
// Command harness is a non-TUI smoke driver for the orchestration
// core: terminal rendering is an out-of-scope collaborator (spec §1),
// so this reads one line per turn from stdin and ticks the orchestrator
// until it is idle. It does not print assistant content: its UI sink
// only prints an empty line when a turn ends.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/humanjesse/LocalHarness-sub001/internal/agentdef"
	"github.com/humanjesse/LocalHarness-sub001/internal/config"
	"github.com/humanjesse/LocalHarness-sub001/internal/log"
	"github.com/humanjesse/LocalHarness-sub001/internal/orchestrator"
	"github.com/humanjesse/LocalHarness-sub001/internal/permission"
	"github.com/humanjesse/LocalHarness-sub001/internal/provider"
	"github.com/humanjesse/LocalHarness-sub001/internal/provider/lmstudio"
	"github.com/humanjesse/LocalHarness-sub001/internal/provider/ollama"
	"github.com/humanjesse/LocalHarness-sub001/internal/tool"

	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "harness",
	Short:   "Terminal harness for local LLM providers",
	Long:    "An interactive harness for local LLM providers: tool execution, permissions, context compression, and sub-agents.",
	Version: "0.1.0",
	RunE:    runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "harness.yaml", "path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, w := range warnings {
		log.Warn("config warning", zap.String("warning", w))
	}

	registry := provider.NewRegistry()
	registry.Register(ollama.New(ollama.Config{Endpoint: cfg.Providers[config.ProviderOllama].Endpoint}))
	registry.Register(lmstudio.New(lmstudio.Config{Endpoint: cfg.Providers[config.ProviderLMStudio].Endpoint}))
	if err := registry.SetDefault(string(cfg.Provider)); err != nil {
		return fmt.Errorf("select provider: %w", err)
	}
	prov, _ := registry.Default()

	caps := prov.Capabilities()
	caps.ConfigWarnings = warnings
	log.Info("provider selected",
		zap.String("name", prov.Name()),
		zap.String("display_name", caps.DisplayName),
		zap.Bool("supports_streaming", caps.SupportsStreaming),
		zap.Strings("config_warnings", caps.ConfigWarnings),
	)

	tools := tool.NewRegistry()
	permMgr := permission.NewManager(nil)
	agents := agentdef.NewRegistry()
	if cfg.AgentsDir != "" {
		if err := agents.LoadDirectory(cfg.AgentsDir); err != nil {
			log.Warn("failed to load agent directory", zap.Error(err))
		}
		if len(agents.ExternalNames()) > 0 {
			log.Info("loaded external agents", zap.Strings("names", agents.ExternalNames()))
		}
	}

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if cfg.Features.AgentDirWatch && cfg.AgentsDir != "" {
		if err := agents.Watch(cfg.AgentsDir, stopWatch); err != nil {
			log.Warn("failed to watch agent directory", zap.Error(err))
		}
	}

	orch := orchestrator.New(tools, permMgr, agents, prov, uiSink, orchestrator.Config{
		Model:          cfg.Model,
		MaxContext:     cfg.Limits.MaxContext,
		MaxIterations:  cfg.Limits.MaxIterations,
		MaxToolDepth:   cfg.Limits.MaxToolDepth,
		Temperature:    cfg.Temperature,
		EnableThinking: cfg.Features.EnableThinking,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("harness ready. Type a message and press enter (Ctrl+C to quit).")
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := orch.SubmitUserTurn(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, "submit turn:", err)
			continue
		}
		for orch.IsBusy() {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			orch.Tick(ctx)
		}
	}
	return scanner.Err()
}

func uiSink(ev orchestrator.UIEvent) {
	switch ev.Kind {
	case orchestrator.EventErrorNotice, orchestrator.EventTurnEnded:
		fmt.Println()
	}
}
