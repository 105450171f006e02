package repository

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/packhouse/coldstore/repository/models"
)

// LoadItem is one physically-loaded unit group submitted to RecordLoads.
type LoadItem struct {
	Key      string `json:"key"`
	Quantity int    `json:"quantity"`
	RoomID   string `json:"room_id"`
	BatchID  string `json:"batch_id,omitempty"`
}

// ItemError reports a failure of one load item or one batch update within a
// multi-item call. Index is -1 for batch-level failures.
type ItemError struct {
	Index   int    `json:"index"`
	BatchID string `json:"batch_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LoadResult is the partial-success shape returned by RecordLoads.
type LoadResult struct {
	LotIDs         []string        `json:"lot_ids"`
	HistoryIDs     []uint          `json:"history_ids"`
	UpdatedBatches []BatchProgress `json:"updated_batches"`
	Pallets        []models.Pallet `json:"pallets,omitempty"`
	Errors         []ItemError     `json:"errors,omitempty"`
}

// batchAccumulator collects per-batch increments from successfully processed
// items.
type batchAccumulator struct {
	byKey    map[string]int
	total    int
	lastRoom string
}

// RecordLoads applies one batch of physical loads. Each item writes a lot
// and a history entry (both attempted; per-item failures are collected, not
// fatal), then every distinct touched batch has its loading progress
// recomputed and its status advanced. There is no transaction spanning the
// whole call.
func (r *Repository) RecordLoads(operatorID string, items []LoadItem) (*LoadResult, *RepositoryError) {
	if len(items) == 0 {
		return nil, &RepositoryError{
			Code:    CodeInvalidState,
			Message: "No load items supplied",
			Detail:  "a load operation requires at least one item",
		}
	}

	result := &LoadResult{}
	byBatch := map[string]*batchAccumulator{}
	var createdLots []models.Lot

	for i, item := range items {
		key, err := ParseClassificationKey(item.Key)
		if err != nil {
			result.Errors = append(result.Errors, ItemError{
				Index: i, Code: CodeInvalidState, Message: err.Error(),
			})
			continue
		}
		if item.Quantity <= 0 {
			result.Errors = append(result.Errors, ItemError{
				Index: i, Code: CodeInvalidState,
				Message: fmt.Sprintf("quantity must be positive, got %d", item.Quantity),
			})
			continue
		}
		if item.RoomID == "" {
			result.Errors = append(result.Errors, ItemError{
				Index: i, Code: CodeInvalidState, Message: "room id is required",
			})
			continue
		}

		var batchRef *string
		if item.BatchID != "" {
			batchID := item.BatchID
			batchRef = &batchID
		}

		lot := models.Lot{
			ID:       fmt.Sprintf("LOT-%s", uuid.NewString()),
			Variety:  key.Variety,
			BoxType:  key.BoxType,
			Grade:    key.Grade,
			Size:     key.Size,
			Quantity: item.Quantity,
			RoomID:   item.RoomID,
			BatchID:  batchRef,
		}
		lotErr := r.db.Create(&lot).Error
		if lotErr != nil {
			result.Errors = append(result.Errors, ItemError{
				Index: i, Code: CodeInsertFailed,
				Message: fmt.Sprintf("failed to create lot: %s", lotErr.Error()),
			})
		} else {
			result.LotIDs = append(result.LotIDs, lot.ID)
			createdLots = append(createdLots, lot)
		}

		// The history entry is attempted regardless of the lot write: the
		// ledger and the lot table are maintained independently.
		history := models.LoadHistory{
			Variety:    key.Variety,
			BoxType:    key.BoxType,
			Grade:      key.Grade,
			Size:       key.Size,
			Quantity:   item.Quantity,
			RoomID:     item.RoomID,
			LotID:      lot.ID,
			BatchID:    batchRef,
			OperatorID: operatorID,
			Action:     models.HistoryActionLoaded,
		}
		if err := r.db.Create(&history).Error; err != nil {
			result.Errors = append(result.Errors, ItemError{
				Index: i, Code: CodeInsertFailed,
				Message: fmt.Sprintf("failed to append history entry: %s", err.Error()),
			})
		} else {
			result.HistoryIDs = append(result.HistoryIDs, history.ID)
		}

		if lotErr != nil || item.BatchID == "" {
			continue
		}
		acc := byBatch[item.BatchID]
		if acc == nil {
			acc = &batchAccumulator{byKey: map[string]int{}}
			byBatch[item.BatchID] = acc
		}
		acc.byKey[key.String()] += item.Quantity
		acc.total += item.Quantity
		acc.lastRoom = item.RoomID
	}

	for batchID, acc := range byBatch {
		progress, batchErr := r.applyBatchIncrement(batchID, acc)
		if batchErr != nil {
			result.Errors = append(result.Errors, ItemError{
				Index: -1, BatchID: batchID,
				Code: batchErr.Code, Message: batchErr.Message,
			})
			continue
		}
		result.UpdatedBatches = append(result.UpdatedBatches, *progress)
	}

	if r.cfg.AutoAggregate {
		result.Pallets = r.autoAggregate(createdLots)
	}

	return result, nil
}

// applyBatchIncrement performs the read-modify-write of one batch's loading
// state. Without serialize_batch_updates this is unguarded across concurrent
// callers.
func (r *Repository) applyBatchIncrement(batchID string, acc *batchAccumulator) (*BatchProgress, *RepositoryError) {
	if r.cfg.SerializeBatchUpdates {
		muIface, _ := r.batchLocks.LoadOrStore(batchID, &sync.Mutex{})
		mu := muIface.(*sync.Mutex)
		mu.Lock()
		defer mu.Unlock()
	}

	dbTx := r.db.Begin()

	var batch models.IntakeBatch
	err := dbTx.Where("batch_id = ?", batchID).First(&batch).Error
	if err != nil {
		dbTx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    CodeNotFound,
				Message: fmt.Sprintf("Batch with id %s does not exist", batchID),
				Detail:  "load items referencing a missing batch still created their lots",
			}
		}
		return nil, dbError(err)
	}

	loaded := r.decodeKeyedQuantities(batch.LoadedByKey, "loaded_by_key", batch.ID)
	for key, qty := range acc.byKey {
		loaded[key] += qty
	}
	batch.LoadedByKey = encodeKeyedQuantities(loaded)
	batch.TotalLoaded += acc.total
	batch.ProgressPercent = progressPercent(batch.TotalLoaded, r.totalExpected(&batch))

	wasCompleted := batch.Status == models.BatchStatusCompleted
	r.applyStatusTransition(&batch)
	if batch.Status == models.BatchStatusCompleted && !wasCompleted && acc.lastRoom != "" {
		room := acc.lastRoom
		batch.TargetRoomID = &room
	}

	if err := dbTx.Save(&batch).Error; err != nil {
		dbTx.Rollback()
		return nil, &RepositoryError{
			Code:    CodeUpdateFailed,
			Message: "Failed to update batch loading state",
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
