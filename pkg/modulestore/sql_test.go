package modulestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/promptengine/pkg/module"
)

func openSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWithSQLiteForeignKeys(t *testing.T) {
	assert.Equal(t, "test.db?_foreign_keys=on", withSQLiteForeignKeys("test.db"))
	assert.Equal(t, "test.db?cache=shared&_foreign_keys=on", withSQLiteForeignKeys("test.db?cache=shared"))
	assert.Equal(t, "test.db?_foreign_keys=on", withSQLiteForeignKeys("test.db?_foreign_keys=on"))
}

func TestSQLite_DeleteModule_CascadesConversationState(t *testing.T) {
	s := openSQLiteTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateModule(ctx, &module.Module{
		Name: "counter", Kind: module.KindSimple, Content: "n=${n}", IsActive: true,
	}))
	require.NoError(t, s.PutPostResponseState(ctx, "conv-1", "counter", Stage4,
		map[string]any{"n": float64(1)}, ExecutionMetadata{Success: true}))

	_, found, err := s.GetPostResponseState(ctx, "conv-1", "counter", Stage4)
	require.NoError(t, err)
	require.True(t, found, "state row must exist before the module is deleted")

	require.NoError(t, s.DeleteModule(ctx, "counter"))

	_, found, err = s.GetPostResponseState(ctx, "conv-1", "counter", Stage4)
	require.NoError(t, err)
	assert.False(t, found, "deleting a module must cascade-delete its conversation_state rows (§6.2(c))")
}

func TestSQLite_CreateAndGetModule_RoundTrips(t *testing.T) {
	s := openSQLiteTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateModule(ctx, &module.Module{
		Name: "persona", Kind: module.KindSimple, Content: "a helpful assistant", IsActive: true,
	}))

	got, err := s.GetModule(ctx, "persona")
	require.NoError(t, err)
	assert.Equal(t, "a helpful assistant", got.Content)
}

func TestSQLite_DeleteModule_UnknownNameReturnsErrModuleNotFound(t *testing.T) {
	s := openSQLiteTestStore(t)
	err := s.DeleteModule(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}
