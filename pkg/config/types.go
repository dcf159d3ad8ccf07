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

// Package config loads and validates the engine's own configuration:
// the script sandbox, the pipeline's reflection/recursion limits, the
// module store backend, and the registered LLM providers. It does not
// describe modules or personas themselves — those are domain data owned
// by the module repository (pkg/modulestore), not process configuration.
package config

import "time"

// Config is the root engine configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Store    StoreConfig    `yaml:"store"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Tracing  TracingConfig  `yaml:"tracing"`
	LLMs     []LLMConfig    `yaml:"llms"`
}

// LoggingConfig controls pkg/logger.Init.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // simple|verbose|json
	File   string `yaml:"file"`   // empty means stderr
}

// StoreConfig selects and configures the module repository backend (C6).
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory|sqlite|postgres
	DSN    string `yaml:"dsn"`    // connection string for sqlite/postgres
}

// SandboxConfig controls the script sandbox (C4).
type SandboxConfig struct {
	// Timeout bounds wall-clock script execution. Defaults to 30s per §4.4.
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig controls the orchestrator (C7) and execution context (C5).
type PipelineConfig struct {
	// MaxRecursionDepth bounds template resolution recursion. Defaults to 10
	// (§4.1); a value <= 0 reaching the pipeline falls back to
	// template.MaxRecursionDepth.
	MaxRecursionDepth int `yaml:"max_recursion_depth"`
	// MaxReflectionDepth is defaulted, validated and reported by the CLI,
	// but the pipeline does not read it: the nested ctx.reflect/ctx.generate
	// limit applied at run time is the constant execctx.MaxReflectionDepth (3).
	MaxReflectionDepth int `yaml:"max_reflection_depth"`
	// StageFanout bounds the number of sandbox workers Stage 4 and Stage 5
	// each run concurrently.
	StageFanout int `yaml:"stage_fanout"`
}

// TracingConfig controls the System-Prompt State Tracker's OTel backend (C10).
type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	PrometheusPort int    `yaml:"prometheus_port"`
	ServiceName    string `yaml:"service_name"`
}

// LLMConfig describes one registered LLM provider (C8).
type LLMConfig struct {
	Name        string  `yaml:"name"`
	Type        string  `yaml:"type"` // ollama|openai
	Host        string  `yaml:"host"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout"` // seconds
	MaxRetries  int     `yaml:"max_retries"`
}
