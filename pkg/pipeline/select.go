package pipeline

import (
	"context"
	"sort"

	"github.com/kadirpekel/promptengine/pkg/module"
)

// selectPostResponseModules implements §4.7's Stage 4/5 selection and
// ordering rule: POST_RESPONSE modules with RequiresAIInference==aiPass,
// referenced by the template (in first-reference order) first, then any
// remaining active module of the same pass whose trigger_pattern matches
// triggerMessage, ordered by name.
func (o *Orchestrator) selectPostResponseModules(ctx context.Context, env *resolveEnv, aiPass bool, triggerMessage string) ([]*module.Module, error) {
	var ordered []*module.Module
	seen := make(map[string]bool)

	for _, name := range env.referencedNames() {
		m, ok, err := env.module(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok || m.ExecutionContext != module.PostResponse || m.RequiresAIInference != aiPass {
			continue
		}
		ordered = append(ordered, m)
		seen[m.Name] = true
	}

	all, err := o.Store.ListModules(ctx)
	if err != nil {
		return nil, err
	}
	var triggered []*module.Module
	for _, m := range all {
		if !m.IsActive || m.ExecutionContext != module.PostResponse || m.RequiresAIInference != aiPass {
			continue
		}
		if seen[m.Name] {
			continue
		}
		if matchTrigger(m.TriggerPattern, triggerMessage) {
			triggered = append(triggered, m)
		}
	}
	sort.Slice(triggered, func(i, j int) bool { return triggered[i].Name < triggered[j].Name })

	return append(ordered, triggered...), nil
}
