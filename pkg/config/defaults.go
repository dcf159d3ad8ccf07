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

package config

import (
	"fmt"
	"time"
)

const (
	// DefaultSandboxTimeout is the §4.4 default wall-clock script timeout.
	DefaultSandboxTimeout = 30 * time.Second
	// DefaultMaxRecursionDepth is the §4.1 fixed resolution recursion limit.
	DefaultMaxRecursionDepth = 10
	// DefaultMaxReflectionDepth is the §4.5 fixed nested-AI-call limit.
	DefaultMaxReflectionDepth = 3
	// DefaultStageFanout bounds Stage 4's and Stage 5's concurrent sandbox workers.
	DefaultStageFanout = 4
)

// SetDefaults fills in zero-valued fields with engine defaults.
// Called after decode, before Validate, same ordering as the teacher's loader.
func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}

	if c.Sandbox.Timeout == 0 {
		c.Sandbox.Timeout = DefaultSandboxTimeout
	}

	if c.Pipeline.MaxRecursionDepth == 0 {
		c.Pipeline.MaxRecursionDepth = DefaultMaxRecursionDepth
	}
	if c.Pipeline.MaxReflectionDepth == 0 {
		c.Pipeline.MaxReflectionDepth = DefaultMaxReflectionDepth
	}
	if c.Pipeline.StageFanout == 0 {
		c.Pipeline.StageFanout = DefaultStageFanout
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "promptengine"
	}

	for i := range c.LLMs {
		llm := &c.LLMs[i]
		if llm.MaxRetries == 0 {
			llm.MaxRetries = 2
		}
		if llm.Timeout == 0 {
			llm.Timeout = 60
		}
	}
}

// Validate rejects configuration that would make the engine's invariants
// unenforceable (§3 global invariants, §4.1, §4.5).
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver: unsupported value %q (want memory, sqlite, or postgres)", c.Store.Driver)
	}
	if (c.Store.Driver == "sqlite" || c.Store.Driver == "postgres") && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn: required when store.driver=%q", c.Store.Driver)
	}

	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout: must be positive, got %s", c.Sandbox.Timeout)
	}

	if c.Pipeline.MaxRecursionDepth <= 0 {
		return fmt.Errorf("pipeline.max_recursion_depth: must be positive")
	}
	if c.Pipeline.MaxReflectionDepth <= 0 {
		return fmt.Errorf("pipeline.max_reflection_depth: must be positive")
	}
	if c.Pipeline.StageFanout <= 0 {
		return fmt.Errorf("pipeline.stage_fanout: must be positive")
	}

	seen := make(map[string]bool, len(c.LLMs))
	for _, llm := range c.LLMs {
		if llm.Name == "" {
			return fmt.Errorf("llms: every provider entry requires a name")
		}
		if seen[llm.Name] {
			return fmt.Errorf("llms: duplicate provider name %q", llm.Name)
		}
		seen[llm.Name] = true

		switch llm.Type {
		case "ollama", "openai":
		default:
			return fmt.Errorf("llms[%s].type: unsupported value %q (want ollama or openai)", llm.Name, llm.Type)
		}
		if llm.Model == "" {
			return fmt.Errorf("llms[%s].model: required", llm.Name)
		}
	}

	return nil
}
