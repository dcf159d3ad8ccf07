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
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/promptengine/pkg/config"
)

// ValidateCmd validates a configuration file: it loads it, applies
// defaults, and runs Config.Validate() (§ ambient config stack).
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`

	Format      string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		return printLoadError(c.Format, c.Config, err)
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.PrintConfig {
		return printExpandedConfig(c.Format, c.Config, cfg)
	}

	printSuccess(c.Format, c.Config)
	return nil
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func printLoadError(format, file string, err error) error {
	switch format {
	case "json":
		printJSONResult(false, file, []ValidationError{{Type: "load", Message: err.Error()}})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Configuration Load Error\n")
		fmt.Fprintf(os.Stderr, "========================\n\n")
		fmt.Fprintf(os.Stderr, "File:    %s\n", file)
		fmt.Fprintf(os.Stderr, "Error:   %s\n", err.Error())
	default: // compact
		fmt.Fprintf(os.Stderr, "%s: load error: %s\n", file, err.Error())
	}
	return fmt.Errorf("config load failed")
}

func printSuccess(format, file string) {
	switch format {
	case "json":
		printJSONResult(true, file, nil)
	case "verbose":
		fmt.Fprintf(os.Stdout, "Configuration Validation Successful\n")
		fmt.Fprintf(os.Stdout, "===================================\n\n")
		fmt.Fprintf(os.Stdout, "File:   %s\n", file)
		fmt.Fprintf(os.Stdout, "Status: OK Valid\n")
	default: // compact
		fmt.Fprintf(os.Stdout, "%s: valid\n", file)
	}
}

func printExpandedConfig(format, file string, cfg *config.Config) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as JSON: %w", err)
		}
	default: // verbose, compact
		fmt.Fprintf(os.Stdout, "# Expanded configuration from: %s\n", file)
		fmt.Fprintf(os.Stdout, "# (defaults applied)\n\n")
		printEngineSummary(cfg)

		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as YAML: %w", err)
		}
		encoder.Close()
	}
	return nil
}

// printEngineSummary prints the settings an operator validating this
// engine's config actually needs to see at a glance — module repository
// backend, sandbox/pipeline limits, and the registered LLM providers —
// ahead of the full YAML dump below it, which is generic over any
// config.Config and does not call these out on its own.
func printEngineSummary(cfg *config.Config) {
	fmt.Fprintf(os.Stdout, "## Engine summary\n\n")
	fmt.Fprintf(os.Stdout, "Module repository : %s\n", cfg.Store.Driver)
	fmt.Fprintf(os.Stdout, "Sandbox timeout   : %s\n", cfg.Sandbox.Timeout)
	fmt.Fprintf(os.Stdout, "Recursion depth   : %d\n", cfg.Pipeline.MaxRecursionDepth)
	fmt.Fprintf(os.Stdout, "Reflection depth  : %d\n", cfg.Pipeline.MaxReflectionDepth)
	fmt.Fprintf(os.Stdout, "Stage 4 fanout    : %d\n", cfg.Pipeline.StageFanout)
	fmt.Fprintf(os.Stdout, "Tracing           : %s\n", tracingSummary(cfg.Tracing))
	fmt.Fprintf(os.Stdout, "LLM providers     : %s\n\n", llmProviderSummary(cfg.LLMs))
}

func tracingSummary(t config.TracingConfig) string {
	if !t.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("enabled (service=%s, otlp=%s)", t.ServiceName, t.OTLPEndpoint)
}

func llmProviderSummary(llms []config.LLMConfig) string {
	if len(llms) == 0 {
		return "none configured"
	}
	names := make([]string, len(llms))
	for i, llm := range llms {
		names[i] = fmt.Sprintf("%s(%s/%s)", llm.Name, llm.Type, llm.Model)
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}

type jsonOutput struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func printJSONResult(valid bool, file string, errors []ValidationError) {
	output := jsonOutput{Valid: valid, File: file, Errors: errors}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}
