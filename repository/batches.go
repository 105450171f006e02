package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/packhouse/coldstore/repository/models"
)

// CreateBatchInput carries a finalized expected-quantity snapshot from the
// intake counting workflow.
type CreateBatchInput struct {
	CustomerName  string         `json:"customer_name"`
	Village       string         `json:"village"`
	Phone         string         `json:"phone"`
	ThockNumber   string         `json:"thock_number"`
	Category      string         `json:"category"`
	ExpectedByKey map[string]int `json:"expected_by_key"`
	// ExpectedTotal is the coarse fallback used when no per-key snapshot
	// was captured.
	ExpectedTotal int `json:"expected_total"`
}

// BatchProgress is the loading-state summary returned for every batch
// touched by a progress update.
type BatchProgress struct {
	BatchID         string `json:"batch_id"`
	Status          string `json:"status"`
	ProgressPercent int    `json:"progress_percent"`
	TotalLoaded     int    `json:"total_loaded"`
}

// OutstandingBatch pairs a batch with its remaining-quantity view.
type OutstandingBatch struct {
	Batch          models.IntakeBatch `json:"batch"`
	RemainingByKey map[string]int     `json:"remaining_by_key"`
	TotalRemaining int                `json:"total_remaining"`
}

// CreateIntakeBatch stores a new counting record with its expected snapshot.
func (r *Repository) CreateIntakeBatch(input CreateBatchInput) (*models.IntakeBatch, *RepositoryError) {
	return r.createBatchWithID(fmt.Sprintf("BATCH-%s", uuid.NewString()), input)
}

func (r *Repository) createBatchWithID(batchID string, input CreateBatchInput) (*models.IntakeBatch, *RepositoryError) {
	if input.CustomerName == "" {
		return nil, &RepositoryError{
			Code:    CodeInvalidState,
			Message: "Customer name is required",
			Detail:  "an intake batch must name the customer it was counted for",
		}
	}

	batch := models.IntakeBatch{
		ID:               batchID,
		CustomerName:     input.CustomerName,
		Village:          input.Village,
		Phone:            input.Phone,
		ThockNumber:      input.ThockNumber,
		Category:         input.Category,
		ExpectedSnapshot: encodeKeyedQuantities(input.ExpectedByKey),
		ExpectedTotal:    input.ExpectedTotal,
		LoadedByKey:      encodeKeyedQuantities(nil),
		Status:           models.BatchStatusPendingColdRoom,
	}

	dbTx := r.db.Begin()
	if err := dbTx.Create(&batch).Error; err != nil {
		dbTx.Rollback()
		return nil, dbError(err)
	}
	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{
			Code:    CodeCommitFailed,
			Message: "Failed to commit transaction",
			Detail:  err.Error(),
		}
	}
	return &batch, nil
}

// CreateTestBatch creates a fixture batch keyed off a request id (for
// testing only).
func (r *Repository) CreateTestBatch(requestID string) (*models.IntakeBatch, *RepositoryError) {
	id := fmt.Sprintf("BATCH-%s", requestID[:8])
	return r.createBatchWithID(id, CreateBatchInput{
		CustomerName: "Test Customer",
		Village:      "Test Village",
		ThockNumber:  "TH-TEST",
		Category:     "sell",
		ExpectedByKey: map[string]int{
			"fuerte_4kg_class1_size20": 100,
		},
	})
}

// GetOutstandingBatches returns every batch that still has boxes to load:
// status pending or in progress and a reconciled remaining total above zero.
func (r *Repository) GetOutstandingBatches() ([]OutstandingBatch, *RepositoryError) {
	var batches []models.IntakeBatch
	err := r.db.
		Preload("Lots").
		Where("status IN ?", []string{models.BatchStatusPendingColdRoom, models.BatchStatusLoadingInProgress}).
		Order("created_at").
		Find(&batches).Error
	if err != nil {
		return nil, dbError(err)
	}

	outstanding := make([]OutstandingBatch, 0, len(batches))
	for i := range batches {
		rec := r.reconcileBatch(&batches[i], batches[i].Lots)
		if rec.TotalRemaining == 0 {
			continue
		}
		outstanding = append(outstanding, OutstandingBatch{
			Batch:          batches[i],
			RemainingByKey: rec.RemainingByKey,
			TotalRemaining: rec.TotalRemaining,
		})
	}
	return outstanding, nil
}

// UpdateLoadingProgress is the direct override path: the caller has already
// computed the new loading state and this persists it, deriving status from
// the supplied percentage.
func (r *Repository) UpdateLoadingProgress(batchID string, loadedByKey map[string]int, totalLoaded, percent int, roomID *string) (*BatchProgress, *RepositoryError) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	dbTx := r.db.Begin()

	var batch models.IntakeBatch
	err := dbTx.Where("batch_id = ?", batchID).First(&batch).Error
	if err != nil {
		dbTx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    CodeNotFound,
				Message: "Batch does not exist",
				Detail:  fmt.Sprintf("Batch with id %s does not exist", batchID),
			}
		}
		return nil, dbError(err)
	}

	batch.LoadedByKey = encodeKeyedQuantities(loadedByKey)
	batch.TotalLoaded = totalLoaded
	batch.ProgressPercent = percent
	if roomID != nil && *roomID != "" {
		batch.TargetRoomID = roomID
	}
	r.applyStatusTransition(&batch)

	if err := dbTx.Save(&batch).Error; err != nil {
		dbTx.Rollback()
		return nil, &RepositoryError{
			Code:    CodeUpdateFailed,
			Message: "Failed to update batch",
			Detail:  err.Error(),
		}
	}
	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{
			Code:    CodeCommitFailed,
			Message: "Failed to commit transaction",
			Detail:  err.Error(),
		}
	}

	return &BatchProgress{
		BatchID:         batch.ID,
		Status:          batch.Status,
		ProgressPercent: batch.ProgressPercent,
		TotalLoaded:     batch.TotalLoaded,
	}, nil
}

// applyStatusTransition derives status from the batch's progress percent,
// stamping the completion time exactly once.
func (r *Repository) applyStatusTransition(batch *models.IntakeBatch) {
	if batch.ProgressPercent == 100 {
		if batch.Status != models.BatchStatusCompleted {
			now := r.now()
			batch.CompletedAt = &now
		}
		batch.Status = models.BatchStatusCompleted
		return
	}
	batch.Status = models.BatchStatusLoadingInProgress
}
