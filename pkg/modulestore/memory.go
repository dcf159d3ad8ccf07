package modulestore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/promptengine/pkg/module"
	"github.com/kadirpekel/promptengine/pkg/script"
)

// memoryStore is the in-memory Store, grounded on the teacher's
// pkg/session/session.go in-memory Service: sync.RWMutex-guarded maps and
// a Request/Response-shaped method surface. Modules are keyed by Name,
// their sole identity (§3.1); there is no generated surrogate key.
type memoryStore struct {
	mu      sync.RWMutex
	modules map[string]*module.Module
	state   map[string]StateEntry // key: conversationID + "\x00" + moduleName + "\x00" + string(stage)
}

// NewMemoryStore builds an empty in-memory module store.
func NewMemoryStore() Store {
	return &memoryStore{
		modules: make(map[string]*module.Module),
		state:   make(map[string]StateEntry),
	}
}

func stateKey(conversationID, moduleName string, stage Stage) string {
	return conversationID + "\x00" + moduleName + "\x00" + string(stage)
}

func (s *memoryStore) GetActiveByNames(_ context.Context, names []string) (map[string]*module.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	out := make(map[string]*module.Module)
	for _, m := range s.modules {
		if !m.IsActive || !want[m.Name] {
			continue
		}
		copied := *m
		out[m.Name] = &copied
	}
	return out, nil
}

func (s *memoryStore) GetPostResponseState(_ context.Context, conversationID, moduleName string, stage Stage) (StateEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.state[stateKey(conversationID, moduleName, stage)]
	return entry, ok, nil
}

func (s *memoryStore) PutPostResponseState(_ context.Context, conversationID, moduleName string, stage Stage, vars map[string]any, meta ExecutionMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state[stateKey(conversationID, moduleName, stage)] = StateEntry{
		Variables: vars,
		Metadata:  meta,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (s *memoryStore) CreateModule(_ context.Context, m *module.Module) error {
	if !module.ValidName(m.Name) {
		return fmt.Errorf("modulestore: invalid module name %q", m.Name)
	}
	analyzeAndNormalize(m)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.modules[m.Name]; exists {
		return fmt.Errorf("modulestore: module %q already exists", m.Name)
	}
	s.modules[m.Name] = m
	return nil
}

func (s *memoryStore) UpdateModule(_ context.Context, m *module.Module) error {
	analyzeAndNormalize(m)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[m.Name]; !ok {
		return ErrModuleNotFound
	}
	s.modules[m.Name] = m
	return nil
}

func (s *memoryStore) DeleteModule(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[name]; !ok {
		return ErrModuleNotFound
	}
	delete(s.modules, name)

	for key := range s.state {
		if hasModuleName(key, name) {
			delete(s.state, key)
		}
	}
	return nil
}

func (s *memoryStore) GetModule(_ context.Context, name string) (*module.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.modules[name]
	if !ok {
		return nil, ErrModuleNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *memoryStore) ListModules(_ context.Context) ([]*module.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*module.Module, 0, len(s.modules))
	for _, m := range s.modules {
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }

// analyzeAndNormalize re-runs the Script Analyzer on create/update (§6.2a)
// so RequiresAIInference always reflects the module's current script
// rather than whatever the caller supplied.
func analyzeAndNormalize(m *module.Module) {
	if m.Kind == module.KindAdvanced && m.Script != "" {
		m.RequiresAIInference = script.Analyze(m.Script).RequiresAI
	} else {
		m.RequiresAIInference = false
	}
}

func hasModuleName(key, moduleName string) bool {
	parts := strings.Split(key, "\x00")
	return len(parts) == 3 && parts[1] == moduleName
}
