package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/promptengine/pkg/config"
	"github.com/kadirpekel/promptengine/pkg/observability"
	"github.com/kadirpekel/promptengine/pkg/pipeline"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	obs, err := observability.NewManager(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	trk, err := New(obs, 2)
	require.NoError(t, err)
	return trk
}

func TestTracker_Snapshot_EmptyForUnknownConversation(t *testing.T) {
	trk := newTestTracker(t)
	assert.Nil(t, trk.Snapshot("no-such-conversation"))
}

func TestTracker_Observer_RecordsAndBoundsRing(t *testing.T) {
	trk := newTestTracker(t)
	observe := trk.Observer()

	started := time.Now()
	observe("conv-1", pipeline.Stage1, pipeline.StageRecord{Stage: pipeline.Stage1, Started: started, Duration: time.Millisecond})
	observe("conv-1", pipeline.Stage2, pipeline.StageRecord{Stage: pipeline.Stage2, Started: started, Duration: time.Millisecond})
	observe("conv-1", pipeline.Stage3, pipeline.StageRecord{Stage: pipeline.Stage3, Started: started, Duration: time.Millisecond})

	snap := trk.Snapshot("conv-1")
	require.NotNil(t, snap)
	assert.Equal(t, "conv-1", snap.ConversationID)
	// ring size 2: the oldest record (Stage1) has been evicted.
	require.Len(t, snap.Stages, 2)
	assert.Equal(t, pipeline.Stage2, snap.Stages[0].Stage)
	assert.Equal(t, pipeline.Stage3, snap.Stages[1].Stage)
}

func TestTracker_Forget_ClearsSnapshot(t *testing.T) {
	trk := newTestTracker(t)
	trk.Observer()("conv-2", pipeline.Stage1, pipeline.StageRecord{Stage: pipeline.Stage1, Started: time.Now(), Duration: time.Millisecond})
	require.NotNil(t, trk.Snapshot("conv-2"))

	trk.Forget("conv-2")
	assert.Nil(t, trk.Snapshot("conv-2"))
}

func TestTracker_Observer_IndependentPerConversation(t *testing.T) {
	trk := newTestTracker(t)
	observe := trk.Observer()
	observe("conv-a", pipeline.Stage1, pipeline.StageRecord{Stage: pipeline.Stage1, Started: time.Now(), Duration: time.Millisecond})
	observe("conv-b", pipeline.Stage1, pipeline.StageRecord{Stage: pipeline.Stage1, Started: time.Now(), Duration: time.Millisecond})

	snapA := trk.Snapshot("conv-a")
	snapB := trk.Snapshot("conv-b")
	require.NotNil(t, snapA)
	require.NotNil(t, snapB)
	assert.Len(t, snapA.Stages, 1)
	assert.Len(t, snapB.Stages, 1)
}
