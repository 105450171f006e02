package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/packhouse/coldstore/repository/models"
)

// KeyQuantity is one classification/quantity pair in a repacking request.
type KeyQuantity struct {
	Key      string `json:"key"`
	Quantity int    `json:"quantity"`
}

// RemoveLot decrements a lot by the requested quantity, deleting it when it
// reaches zero, and appends a removal entry to the ledger. All-or-nothing.
func (r *Repository) RemoveLot(lotID, roomID string, quantity int, operatorID string) *RepositoryError {
	if quantity <= 0 {
		return &RepositoryError{
			Code:    CodeInvalidState,
			Message: "Removal quantity must be positive",
			Detail:  fmt.Sprintf("got %d", quantity),
		}
	}

	dbTx := r.db.Begin()

	var lot models.Lot
	err := dbTx.Where("lot_id = ? AND room_id = ?", lotID, roomID).First(&lot).Error
	if err != nil {
		dbTx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &RepositoryError{
				Code:    CodeNotFound,
				Message: "Lot does not exist",
				Detail:  fmt.Sprintf("Lot %s in room %s does not exist", lotID, roomID),
			}
		}
		return dbError(err)
	}

	if quantity > lot.Quantity {
		dbTx.Rollback()
		return &RepositoryError{
			Code:    CodeInsufficientQuantity,
			Message: "Insufficient quantity",
			Detail:  fmt.Sprintf("lot %s holds %d boxes, removal of %d requested", lotID, lot.Quantity, quantity),
		}
	}

	lot.Quantity -= quantity
	if lot.Quantity == 0 {
		err = dbTx.Delete(&lot).Error
	} else {
		err = dbTx.Save(&lot).Error
	}
	if err != nil {
		dbTx.Rollback()
		return &RepositoryError{
			Code:    CodeUpdateFailed,
			Message: "Failed to adjust lot",
			Detail:  err.Error(),
		}
	}

	history := models.LoadHistory{
		Variety:    lot.Variety,
		BoxType:    lot.BoxType,
		Grade:      lot.Grade,
		Size:       lot.Size,
		Quantity:   quantity,
		RoomID:     roomID,
		LotID:      lot.ID,
		BatchID:    lot.BatchID,
		OperatorID: operatorID,
		Action:     models.HistoryActionRemoved,
	}
	if err := dbTx.Create(&history).Error; err != nil {
		dbTx.Rollback()
		return &RepositoryError{
			Code:    CodeInsertFailed,
			Message: "Failed to append removal history entry",
			Detail:  err.Error(),
		}
	}

	if err := dbTx.Commit().Error; err != nil {
		return &RepositoryError{
			Code:    CodeCommitFailed,
			Message: "Failed to commit transaction",
			Detail:  err.Error(),
		}
	}
	return nil
}

// ApplyRepacking applies a repacking adjustment to one cold room: removed
// pairs decrement matching lots best-effort (rows without enough quantity
// are skipped silently), returned pairs top up an existing loose lot or
// create a new one. The audit entry is written first, independent of whether
// the per-item adjustments succeed.
func (r *Repository) ApplyRepacking(roomID string, removed, returned []KeyQuantity, operatorID string) *RepositoryError {
	if roomID == "" {
		return &RepositoryError{
			Code:    CodeInvalidState,
			Message: "Cold room is required",
			Detail:  "repacking must name the room being adjusted",
		}
	}

	net := 0
	for _, kq := range returned {
		net += kq.Quantity
	}
	for _, kq := range removed {
		net -= kq.Quantity
	}
	history := models.LoadHistory{
		Variety:    models.PalletClassificationMixed,
		Quantity:   net,
		RoomID:     roomID,
		OperatorID: operatorID,
		Action:     models.HistoryActionRepacked,
	}
	if err := r.db.Create(&history).Error; err != nil {
		return &RepositoryError{
			Code:    CodeInsertFailed,
			Message: "Failed to append repacking history entry",
			Detail:  err.Error(),
		}
	}

	for _, kq := range removed {
		key, err := ParseClassificationKey(kq.Key)
		if err != nil || kq.Quantity <= 0 {
			continue
		}
		r.decrementMatchingLot(key, roomID, kq.Quantity)
	}

	for _, kq := range returned {
		key, err := ParseClassificationKey(kq.Key)
		if err != nil || kq.Quantity <= 0 {
			continue
		}
		if err := r.returnToLooseLot(key, roomID, kq.Quantity); err != nil {
			r.logger.Error("failed to apply repacking return",
				"key", key.String(), "room_id", roomID, "err", err)
		}
	}

	return nil
}

// decrementMatchingLot takes the requested quantity out of the oldest lot of
// this classification that still holds enough boxes. Lots with less than the
// requested quantity are skipped; nothing happens when no row qualifies.
func (r *Repository) decrementMatchingLot(key ClassificationKey, roomID string, quantity int) {
	var lot models.Lot
	err := r.db.
		Where("variety = ? AND box_type = ? AND grade = ? AND size = ? AND room_id = ? AND qty >= ?",
			key.Variety, key.BoxType, key.Grade, key.Size, roomID, quantity).
		Order("created_at").
		First(&lot).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.logger.Error("failed to look up lot for repacking removal",
				"key", key.String(), "room_id", roomID, "err", err)
		}
		return
	}

	lot.Quantity -= quantity
	if lot.Quantity == 0 {
		err = r.db.Delete(&lot).Error
	} else {
		err = r.db.Save(&lot).Error
	}
	if err != nil {
		r.logger.Error("failed to apply repacking removal",
			"lot_id", lot.ID, "err", err)
	}
}

// returnToLooseLot increments an existing loose lot of this classification
// or creates a fresh one. Returned lots never carry a batch back-reference;
// only load operations set those.
func (r *Repository) returnToLooseLot(key ClassificationKey, roomID string, quantity int) error {
	var lot models.Lot
	err := r.db.
		Where("variety = ? AND box_type = ? AND grade = ? AND size = ? AND room_id = ? AND in_pallet = ?",
			key.Variety, key.BoxType, key.Grade, key.Size, roomID, false).
		Order("created_at").
		First(&lot).Error
	if err == nil {
		lot.Quantity += quantity
		return r.db.Save(&lot).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	lot = models.Lot{
		ID:       fmt.Sprintf("LOT-%s", uuid.NewString()),
		Variety:  key.Variety,
		BoxType:  key.BoxType,
		Grade:    key.Grade,
		Size:     key.Size,
		Quantity: quantity,
		RoomID:   roomID,
	}
	return r.db.Create(&lot).Error
}

// ListRoomLots returns the lots currently sitting in one cold room.
func (r *Repository) ListRoomLots(roomID string) ([]models.Lot, *RepositoryError) {
	var lots []models.Lot
	if err := r.db.Where("room_id = ?", roomID).Order("created_at").Find(&lots).Error; err != nil {
		return nil, dbError(err)
	}
	return lots, nil
}
