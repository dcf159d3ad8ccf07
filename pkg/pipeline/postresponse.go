package pipeline

import (
	"context"
	"fmt"

	"github.com/kadirpekel/promptengine/pkg/execctx"
	"github.com/kadirpekel/promptengine/pkg/modulestore"
	"github.com/kadirpekel/promptengine/pkg/script"
	"golang.org/x/sync/errgroup"
)

// runPostResponse executes one of Stage 4 / Stage 5: it selects the
// eligible modules, runs their scripts concurrently (bounded to
// sandboxWorkers, the "implementation note (ADDED)" fan-out), then
// commits their resulting state to C6 in the fixed, deterministic order
// selectPostResponseModules returned — concurrency in execution,
// determinism in commit.
func (o *Orchestrator) runPostResponse(ctx context.Context, env *resolveEnv, stage modulestore.Stage, aiPass bool, triggerMessage string) error {
	if ctx.Err() != nil {
		// §4.9: cancellation observed before Stage 4 skips Stage 4/5
		// entirely; no state writes.
		return nil
	}

	modules, err := o.selectPostResponseModules(ctx, env, aiPass, triggerMessage)
	if err != nil {
		return err
	}
	if len(modules) == 0 {
		return nil
	}

	results := make([]script.Result, len(modules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.sandboxWorkers())

	for i, m := range modules {
		i, m := i, m
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = script.Result{Success: false, Error: "cancelled before script entry"}
				return nil
			}
			ec := execctx.New(env.conversationID, env.personaID, env.messages, env.persona, env.plugins, env.invoker, env.cancelled, env.systemPrompt, env.depth, env.stack)
			ec.Clock = env.clock
			// §8 scenario S6: seed this module's own prior-turn
			// POST_RESPONSE state so ctx.get_variable observes what it
			// wrote last turn instead of always falling back to its
			// default on a fresh, empty variables map.
			prior, found, err := o.Store.GetPostResponseState(gctx, env.conversationID, m.Name, stage)
			if err != nil {
				return fmt.Errorf("module %s: load prior state: %w", m.Name, err)
			}
			if found {
				ec.Seed(prior.Variables)
			}
			results[i] = o.Sandbox.Execute(gctx, m.Script, ec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A store-read failure while seeding prior state is the only
		// error any goroutine above returns; script failures themselves
		// live in Result, not here.
		return err
	}

	// §4.9: "Stage 4/5 results already committed remain; in-progress
	// module execution is abandoned and its state entry is written with
	// success=false" — committing unconditionally on a
	// cancellation-detached context gives both halves of that sentence:
	// successful results land, abandoned ones land as success=false.
	commitCtx := context.WithoutCancel(ctx)
	for i, m := range modules {
		r := results[i]
		vars := r.Variables
		if !r.Success {
			vars = fallbackVars(m.Content)
		}
		meta := modulestore.ExecutionMetadata{Success: r.Success, DurationMs: r.DurationMs, Error: r.Error}
		if err := o.Store.PutPostResponseState(commitCtx, env.conversationID, m.Name, stage, vars, meta); err != nil {
			return err
		}
	}
	return nil
}
