// Package module defines the engine's core domain type: the persona
// building block that the Template Resolver references and the Pipeline
// Orchestrator schedules into one of five stages.
package module

import "regexp"

// NamePattern is the §3 module-naming invariant.
var NamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,49}$`)

// ValidName reports whether name satisfies the repository-unique naming
// invariant from §3. It does not check uniqueness; that is the
// repository's job.
func ValidName(name string) bool {
	return NamePattern.MatchString(name)
}

// Kind distinguishes plain text modules from script-backed ones.
type Kind string

const (
	KindSimple   Kind = "SIMPLE"
	KindAdvanced Kind = "ADVANCED"
)

// ExecutionContext controls in which stage(s) a module is eligible to run.
type ExecutionContext string

const (
	// Immediate modules run during Stage 1 or Stage 2, depending on
	// RequiresAIInference.
	Immediate ExecutionContext = "IMMEDIATE"
	// PostResponse modules run during Stage 4 or Stage 5, after the main
	// response has streamed.
	PostResponse ExecutionContext = "POST_RESPONSE"
	// OnDemand modules never run as part of the automatic stage sweep,
	// and the pipeline's module lookup reports them as not found, so an
	// @name reference to one is left verbatim with an invalid-reference
	// warning (carried from the source system's module taxonomy).
	OnDemand ExecutionContext = "ON_DEMAND"
)

// Module is the engine's unit of reusable prompt content or logic.
//
// Invariants (§3): a SIMPLE module has no Script; an ADVANCED module's
// Content is a template substituted with the variables its Script
// produces (§4.1's "ADVANCED body after its own ${var} substitution"),
// and is allowed to be empty only when a Script is present to populate
// those variables — a script-less ADVANCED module still needs static
// Content the way a SIMPLE module does; Name is globally unique within a
// repository and is the module's identity — §3.1's persistence model
// keys both the modules table and the cascade-deleted conversation_state
// rows on it directly, so there is no separate surrogate ID;
// RequiresAIInference is engine-maintained (set by the Script Analyzer,
// never by the caller).
type Module struct {
	Name                string
	Kind                Kind
	Content             string
	Script              string
	TriggerPattern      string
	ExecutionContext    ExecutionContext
	RequiresAIInference bool
	IsActive            bool
}
