// Package modulestore implements the Module Repository Façade (C6): the
// engine's only view onto module definitions and per-conversation
// POST_RESPONSE state. Two backends are provided — an in-memory one
// (testing, single-process deployments; also the configured default
// driver) and a database/sql-backed one (durable, since §5 requires
// single-writer-per-key upsert semantics across process restarts that a
// map alone cannot give).
package modulestore

import (
	"context"
	"errors"
	"time"

	"github.com/kadirpekel/promptengine/pkg/module"
)

// Stage identifies which post-response pass wrote a state entry.
type Stage string

const (
	Stage4 Stage = "STAGE4"
	Stage5 Stage = "STAGE5"
)

// ExecutionMetadata is the non-variable half of a Conversation State
// Entry (§3): success flag, duration, and error message from the most
// recent POST_RESPONSE execution.
type ExecutionMetadata struct {
	Success    bool
	DurationMs int64
	Error      string
}

// StateEntry is a full Conversation State Entry, keyed externally by
// (conversation_id, module_id, stage).
type StateEntry struct {
	Variables map[string]any
	Metadata  ExecutionMetadata
	UpdatedAt time.Time
}

// ErrModuleNotFound is returned by the admin CRUD surface (§6.2); it is
// never returned by GetActiveByNames, which "never raises on unknown
// names" (§4.6) and simply omits them from the result map.
var ErrModuleNotFound = errors.New("modulestore: module not found")

// Store is the façade the Pipeline Orchestrator and the admin surface
// (§6.2) depend on.
type Store interface {
	// GetActiveByNames bulk-fetches modules by name, silently omitting
	// names that are unknown or inactive (§4.6).
	GetActiveByNames(ctx context.Context, names []string) (map[string]*module.Module, error)

	// GetPostResponseState reads the most recent POST_RESPONSE state for
	// (conversationID, moduleName, stage); found=false if none exists.
	GetPostResponseState(ctx context.Context, conversationID, moduleName string, stage Stage) (entry StateEntry, found bool, err error)

	// PutPostResponseState upserts on the key (conversationID, moduleName,
	// stage); idempotent (§4.6).
	PutPostResponseState(ctx context.Context, conversationID, moduleName string, stage Stage, vars map[string]any, meta ExecutionMetadata) error

	// CreateModule / UpdateModule re-run the Script Analyzer internally
	// (the caller supplies RequiresAIInference=false; the store
	// recomputes it) and reject names failing module.ValidName (§6.2).
	CreateModule(ctx context.Context, m *module.Module) error
	UpdateModule(ctx context.Context, m *module.Module) error

	// DeleteModule cascades to the module's POST_RESPONSE state entries
	// (§6.2c).
	DeleteModule(ctx context.Context, name string) error

	// GetModule fetches a single module by name regardless of IsActive,
	// for admin surfaces.
	GetModule(ctx context.Context, name string) (*module.Module, error)

	// ListModules returns every module, for admin surfaces and startup
	// re-validation (§4.2b).
	ListModules(ctx context.Context) ([]*module.Module, error)

	Close() error
}
