package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packhouse/coldstore/repository/models"
)

func TestCreateIntakeBatchRequiresCustomerName(t *testing.T) {
	repo := newTestRepository(t)

	_, repoErr := repo.CreateIntakeBatch(CreateBatchInput{})
	require.NotNil(t, repoErr)
	assert.Equal(t, CodeInvalidState, repoErr.Code)
}

func TestCreateIntakeBatchStartsPending(t *testing.T) {
	repo := newTestRepository(t)

	batch := seedBatch(t, repo, map[string]int{"fuerte_4kg_class1_size20": 100})
	assert.Equal(t, models.BatchStatusPendingColdRoom, batch.Status)
	assert.Equal(t, 0, batch.TotalLoaded)
	assert.Equal(t, "{}", batch.LoadedByKey)
}

func TestCreateTestBatchUsesFixtureSnapshot(t *testing.T) {
	repo := newTestRepository(t)

	batch, repoErr := repo.CreateTestBatch("deadbeefcafe0000")
	require.Nil(t, repoErr)
	assert.Equal(t, "BATCH-deadbeef", batch.ID)
	assert.Equal(t, `{"fuerte_4kg_class1_size20":100}`, batch.ExpectedSnapshot)
}

func TestGetOutstandingBatches(t *testing.T) {
	repo := newTestRepository(t)

	open := seedBatch(t, repo, map[string]int{"fuerte_4kg_class1_size20": 100})
	done := seedBatch(t, repo, map[string]int{"hass_10kg_class1_size16": 40})

	_, repoErr := repo.UpdateLoadingProgress(done.ID, map[string]int{"hass_10kg_class1_size16": 40}, 40, 100, nil)
	require.Nil(t, repoErr)

	outstanding, repoErr := repo.GetOutstandingBatches()
	require.Nil(t, repoErr)
	require.Len(t, outstanding, 1)
	assert.Equal(t, open.ID, outstanding[0].Batch.ID)
	assert.Equal(t, 100, outstanding[0].TotalRemaining)
	assert.Equal(t, 100, outstanding[0].RemainingByKey["fuerte_4kg_class1_size20"])
}

func TestGetOutstandingBatchesExcludesFullyLoadedBlob(t *testing.T) {
	repo := newTestRepository(t)

	// Still pending by status, but the loaded blob already covers the
	// snapshot, so reconciliation leaves nothing to load.
	batch := seedBatch(t, repo, map[string]int{"fuerte_4kg_class1_size20": 50})
	require.NoError(t, repo.db.Model(&models.IntakeBatch{}).
		Where("batch_id = ?", batch.ID).
		Update("loaded_by_key", `{"fuerte_4kg_class1_size20":50}`).Error)

	outstanding, repoErr := repo.GetOutstandingBatches()
	require.Nil(t, repoErr)
	assert.Empty(t, outstanding)
}

func TestUpdateLoadingProgressNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, repoErr := repo.UpdateLoadingProgress("BATCH-MISSING", nil, 0, 10, nil)
	require.NotNil(t, repoErr)
	assert.Equal(t, CodeNotFound, repoErr.Code)
}

func TestUpdateLoadingProgressClampsPercent(t *testing.T) {
	repo := newTestRepository(t)
	batch := seedBatch(t, repo, map[string]int{"fuerte_4kg_class1_size20": 100})

	progress, repoErr := repo.UpdateLoadingProgress(batch.ID, nil, 0, -20, nil)
	require.Nil(t, repoErr)
	assert.Equal(t, 0, progress.ProgressPercent)
	assert.Equal(t, models.BatchStatusLoadingInProgress, progress.Status)

	progress, repoErr = repo.UpdateLoadingProgress(batch.ID, nil, 200, 160, nil)
	require.Nil(t, repoErr)
	assert.Equal(t, 100, progress.ProgressPercent)
	assert.Equal(t, models.BatchStatusCompleted, progress.Status)
}

func TestCompletionTimestampIsStampedOnce(t *testing.T) {
	repo := newTestRepository(t)
	batch := seedBatch(t, repo, map[string]int{"fuerte_4kg_class1_size20": 100})

	first := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return first })

	_, repoErr := repo.UpdateLoadingProgress(batch.ID, map[string]int{"fuerte_4kg_class1_size20": 100}, 100, 100, nil)
	require.Nil(t, repoErr)

	stored := fetchBatch(t, repo, batch.ID)
	require.NotNil(t, stored.CompletedAt)
	assert.WithinDuration(t, first, *stored.CompletedAt, time.Second)

	// A repeated update of an already-completed batch keeps the original
	// completion time.
	repo.SetClock(func() time.Time { return first.Add(48 * time.Hour) })
	_, repoErr = repo.UpdateLoadingProgress(batch.ID, map[string]int{"fuerte_4kg_class1_size20": 100}, 100, 100, nil)
	require.Nil(t, repoErr)

	stored = fetchBatch(t, repo, batch.ID)
	require.NotNil(t, stored.CompletedAt)
	assert.WithinDuration(t, first, *stored.CompletedAt, time.Second)
}

func TestUpdateLoadingProgressSetsTargetRoom(t *testing.T) {
	repo := newTestRepository(t)
	batch := seedBatch(t, repo, map[string]int{"fuerte_4kg_class1_size20": 100})

	room := "ROOM-A"
	_, repoErr := repo.UpdateLoadingProgress(batch.ID, nil, 40, 40, &room)
	require.Nil(t, repoErr)

	stored := fetchBatch(t, repo, batch.ID)
	require.NotNil(t, stored.TargetRoomID)
	assert.Equal(t, "ROOM-A", *stored.TargetRoomID)
}
