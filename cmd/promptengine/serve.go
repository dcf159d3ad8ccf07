// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/promptengine/examples/httpgateway"
	"github.com/kadirpekel/promptengine/pkg/chatsession"
	"github.com/kadirpekel/promptengine/pkg/config"
	"github.com/kadirpekel/promptengine/pkg/llmclient"
	"github.com/kadirpekel/promptengine/pkg/modulestore"
	"github.com/kadirpekel/promptengine/pkg/observability"
	"github.com/kadirpekel/promptengine/pkg/pipeline"
	"github.com/kadirpekel/promptengine/pkg/plugins"
	"github.com/kadirpekel/promptengine/pkg/script"
	"github.com/kadirpekel/promptengine/pkg/tracker"
)

// ServeCmd builds the engine (module store, sandbox, plugin registry,
// LLM provider registry, observability, pipeline orchestrator, chat
// session manager) and hosts it over the illustrative httpgateway
// transport, since the engine core itself never imports net/http.
type ServeCmd struct {
	Port int `help:"Port to listen on." default:"8080"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	if cli.Config == "" {
		return fmt.Errorf("--config is required for serve")
	}
	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if loader != nil {
		defer loader.Close()
	}

	store, err := buildStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	sandbox := script.NewSandbox(cfg.Sandbox.Timeout)
	pluginRegistry := plugins.NewRegistry()

	providers := llmclient.NewRegistry()
	for _, llmCfg := range cfg.LLMs {
		if _, err := providers.CreateFromConfig(llmCfg); err != nil {
			return fmt.Errorf("failed to register llm provider %q: %w", llmCfg.Name, err)
		}
	}

	obs, err := observability.NewManager(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer obs.Shutdown(context.Background())

	trk, err := tracker.New(obs, 0)
	if err != nil {
		return fmt.Errorf("failed to initialize state tracker: %w", err)
	}

	orchestrator := pipeline.New(store, pluginRegistry, sandbox, providers, cfg.Pipeline)
	orchestrator.Observer = trk.Observer()

	sessions := chatsession.NewManager(orchestrator)

	mux := http.NewServeMux()
	mux.Handle("/", httpgateway.NewRouter(sessions))
	mux.Handle("/metrics", obs.MetricsHandler())

	addr := fmt.Sprintf(":%d", c.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("promptengine serving on %s (plugins: %d, llms: %d)\n", addr, pluginRegistryCount(pluginRegistry), len(cfg.LLMs))
	slog.Info("serve starting", "addr", addr, "store_driver", cfg.Store.Driver, "tracing_enabled", cfg.Tracing.Enabled)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func buildStore(cfg config.StoreConfig) (modulestore.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return modulestore.NewMemoryStore(), nil
	case "sqlite", "postgres":
		return modulestore.Open(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("serve: unsupported store driver %q", cfg.Driver)
	}
}

func pluginRegistryCount(r *plugins.Registry) int {
	return len(r.Names())
}
