package modulestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/promptengine/pkg/module"
)

func TestCreateModule_RejectsInvalidName(t *testing.T) {
	s := NewMemoryStore()
	err := s.CreateModule(context.Background(), &module.Module{Name: "Invalid Name", Kind: module.KindSimple})
	assert.Error(t, err)
}

func TestCreateModule_RejectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateModule(ctx, &module.Module{Name: "persona", Kind: module.KindSimple, Content: "hi", IsActive: true}))
	err := s.CreateModule(ctx, &module.Module{Name: "persona", Kind: module.KindSimple, Content: "hi again", IsActive: true})
	assert.Error(t, err)
}

func TestCreateModule_RecomputesRequiresAIInference(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := &module.Module{
		Name:     "reflector",
		Kind:     module.KindAdvanced,
		Content:  "${note}",
		Script:   `note = ctx.reflect("summarize")`,
		IsActive: true,
		// Caller supplies false; CreateModule must recompute it from the script.
		RequiresAIInference: false,
	}
	require.NoError(t, s.CreateModule(ctx, m))

	got, err := s.GetModule(ctx, "reflector")
	require.NoError(t, err)
	assert.True(t, got.RequiresAIInference)
}

func TestUpdateModule_UnknownNameReturnsErrModuleNotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateModule(context.Background(), &module.Module{Name: "ghost", Kind: module.KindSimple})
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestGetActiveByNames_OmitsInactiveAndUnknown(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateModule(ctx, &module.Module{Name: "active_mod", Kind: module.KindSimple, Content: "x", IsActive: true}))
	require.NoError(t, s.CreateModule(ctx, &module.Module{Name: "inactive_mod", Kind: module.KindSimple, Content: "x", IsActive: false}))

	found, err := s.GetActiveByNames(ctx, []string{"active_mod", "inactive_mod", "missing_mod"})
	require.NoError(t, err)
	assert.Contains(t, found, "active_mod")
	assert.NotContains(t, found, "inactive_mod")
	assert.NotContains(t, found, "missing_mod")
}

func TestGetActiveByNames_ReturnsDefensiveCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateModule(ctx, &module.Module{Name: "mod", Kind: module.KindSimple, Content: "original", IsActive: true}))

	found, err := s.GetActiveByNames(ctx, []string{"mod"})
	require.NoError(t, err)
	found["mod"].Content = "mutated"

	again, err := s.GetActiveByNames(ctx, []string{"mod"})
	require.NoError(t, err)
	assert.Equal(t, "original", again["mod"].Content)
}

func TestPostResponseState_PutThenGetRoundTrips(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, found, err := s.GetPostResponseState(ctx, "conv-1", "mod", Stage4)
	require.NoError(t, err)
	assert.False(t, found)

	vars := map[string]any{"summary": "hi"}
	meta := ExecutionMetadata{Success: true, DurationMs: 12}
	require.NoError(t, s.PutPostResponseState(ctx, "conv-1", "mod", Stage4, vars, meta))

	entry, found, err := s.GetPostResponseState(ctx, "conv-1", "mod", Stage4)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, vars, entry.Variables)
	assert.Equal(t, meta, entry.Metadata)
}

func TestPostResponseState_DistinctStagesDoNotCollide(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutPostResponseState(ctx, "conv-1", "mod", Stage4, map[string]any{"stage": "4"}, ExecutionMetadata{}))
	require.NoError(t, s.PutPostResponseState(ctx, "conv-1", "mod", Stage5, map[string]any{"stage": "5"}, ExecutionMetadata{}))

	stage4, _, err := s.GetPostResponseState(ctx, "conv-1", "mod", Stage4)
	require.NoError(t, err)
	stage5, _, err := s.GetPostResponseState(ctx, "conv-1", "mod", Stage5)
	require.NoError(t, err)

	assert.Equal(t, "4", stage4.Variables["stage"])
	assert.Equal(t, "5", stage5.Variables["stage"])
}

func TestDeleteModule_CascadesConversationState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateModule(ctx, &module.Module{Name: "mod", Kind: module.KindSimple, Content: "x", IsActive: true}))
	require.NoError(t, s.PutPostResponseState(ctx, "conv-1", "mod", Stage4, map[string]any{"a": 1}, ExecutionMetadata{}))

	require.NoError(t, s.DeleteModule(ctx, "mod"))

	_, err := s.GetModule(ctx, "mod")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	_, found, err := s.GetPostResponseState(ctx, "conv-1", "mod", Stage4)
	require.NoError(t, err)
	assert.False(t, found, "conversation state must cascade-delete with its module")
}

func TestDeleteModule_UnknownNameReturnsErrModuleNotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.DeleteModule(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestListModules_ReturnsEveryModuleRegardlessOfActive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateModule(ctx, &module.Module{Name: "active_mod", Kind: module.KindSimple, Content: "x", IsActive: true}))
	require.NoError(t, s.CreateModule(ctx, &module.Module{Name: "inactive_mod", Kind: module.KindSimple, Content: "x", IsActive: false}))

	all, err := s.ListModules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
