package repository

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/packhouse/coldstore/repository/models"
)

// ManualPalletLot is one operator-selected lot in a manual pallet request.
type ManualPalletLot struct {
	LotID    string `json:"lot_id"`
	Key      string `json:"key"`
	Quantity int    `json:"quantity"`
}

// lotGroup accumulates lots of one (classification, room) pair for the
// automatic aggregator.
type lotGroup struct {
	key    ClassificationKey
	roomID string
	lotIDs []string
	total  int
}

// autoAggregate inspects the lots created by one load call and emits a
// pallet for every (classification, room) group that accumulated at least
// one pallet's worth of boxes. Member lots are left untouched: pallets are a
// derived "we have enough for N pallets" signal, not a strict partition of
// the lot table. Failures are logged and do not fail the load call.
func (r *Repository) autoAggregate(createdLots []models.Lot) []models.Pallet {
	groups := map[string]*lotGroup{}
	var order []string
	for i := range createdLots {
		key := lotKey(&createdLots[i])
		groupID := key.String() + "|" + createdLots[i].RoomID
		g := groups[groupID]
		if g == nil {
			g = &lotGroup{key: key, roomID: createdLots[i].RoomID}
			groups[groupID] = g
			order = append(order, groupID)
		}
		g.lotIDs = append(g.lotIDs, createdLots[i].ID)
		g.total += createdLots[i].Quantity
	}

	var pallets []models.Pallet
	for _, groupID := range order {
		g := groups[groupID]
		divisor := r.cfg.BoxesPerPallet(g.key.BoxType)
		count := g.total / divisor
		if count == 0 {
			continue
		}
		pallet := models.Pallet{
			ID:                    fmt.Sprintf("PLT-%s", uuid.NewString()),
			Name:                  fmt.Sprintf("auto-%s", g.key.String()),
			Classification:        g.key.String(),
			PalletCount:           count,
			BoxesPerPallet:        divisor,
			RoomID:                g.roomID,
			IsManual:              false,
			MemberLotIDs:          encodeStringList(g.lotIDs),
			MemberClassifications: encodeStringList([]string{g.key.String()}),
		}
		if err := r.db.Create(&pallet).Error; err != nil {
			r.logger.Error("failed to create automatic pallet",
				"classification", g.key.String(), "room_id", g.roomID, "err", err)
			continue
		}
		r.logger.Info("automatic pallet created",
			"pallet_id", pallet.ID, "classification", pallet.Classification,
			"room_id", pallet.RoomID, "count", pallet.PalletCount)
		pallets = append(pallets, pallet)
	}
	return pallets
}

// CreateManualPallet converts an operator-selected lot set into one mixed
// pallet. The whole request is rejected if any selected classification was
// already converted in the same room within the dedupe window; that window
// is the only safeguard against converting the same lots twice, since member
// lots are not decremented or flagged.
func (r *Repository) CreateManualPallet(name, roomID string, lots []ManualPalletLot, boxesPerPallet int, operatorID string) (*models.Pallet, *RepositoryError) {
	if name == "" || roomID == "" || len(lots) == 0 || boxesPerPallet <= 0 {
		return nil, &RepositoryError{
			Code:    CodeInvalidState,
			Message: "Pallet name, cold room, lots and boxes-per-pallet are all required",
			Detail:  "manual pallet conversion received an incomplete request",
		}
	}

	totalBoxes := 0
	classifications := map[string]bool{}
	lotIDs := make([]string, 0, len(lots))
	for _, lot := range lots {
		key, err := ParseClassificationKey(lot.Key)
		if err != nil {
			return nil, &RepositoryError{
				Code:    CodeInvalidState,
				Message: "Invalid lot classification",
				Detail:  err.Error(),
			}
		}
		totalBoxes += lot.Quantity
		classifications[key.String()] = true
		lotIDs = append(lotIDs, lot.LotID)
	}

	if totalBoxes < boxesPerPallet {
		return nil, &RepositoryError{
			Code:    CodeInsufficientBoxes,
			Message: "Insufficient boxes for a pallet",
			Detail:  fmt.Sprintf("selected lots total %d boxes, one pallet needs %d", totalBoxes, boxesPerPallet),
		}
	}

	offenders, repoErr := r.recentConversions(roomID, classifications)
	if repoErr != nil {
		return nil, repoErr
	}
	if len(offenders) > 0 {
		return nil, &RepositoryError{
			Code:    CodeDuplicateConversion,
			Message: "Lots of these classifications were already converted recently",
			Detail:  strings.Join(offenders, ", "),
		}
	}

	classificationList := make([]string, 0, len(classifications))
	for c := range classifications {
		classificationList = append(classificationList, c)
	}
	sort.Strings(classificationList)

	pallet := models.Pallet{
		ID:                    fmt.Sprintf("PLT-%s", uuid.NewString()),
		Name:                  name,
		Classification:        models.PalletClassificationMixed,
		PalletCount:           totalBoxes / boxesPerPallet,
		BoxesPerPallet:        boxesPerPallet,
		RoomID:                roomID,
		IsManual:              true,
		MemberLotIDs:          encodeStringList(lotIDs),
		MemberClassifications: encodeStringList(classificationList),
	}

	dbTx := r.db.Begin()
	if err := dbTx.Create(&pallet).Error; err != nil {
		dbTx.Rollback()
		return nil, &RepositoryError{
			Code:    CodeInsertFailed,
			Message: "Failed to create pallet",
			Detail:  err.Error(),
		}
	}

	// Audit entry for the conversion itself; no batch back-reference.
	history := models.LoadHistory{
		Variety:    models.PalletClassificationMixed,
		Quantity:   totalBoxes,
		RoomID:     roomID,
		OperatorID: operatorID,
		Action:     models.HistoryActionPalletized,
	}
	if err := dbTx.Create(&history).Error; err != nil {
		dbTx.Rollback()
		return nil, &RepositoryError{
			Code:    CodeInsertFailed,
			Message: "Failed to append conversion history entry",
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
	return &pallet, nil
}

// recentConversions returns the selected classifications that already appear
// on a pallet in this room inside the dedupe window, either as the pallet's
// own classification or among its member classifications.
func (r *Repository) recentConversions(roomID string, classifications map[string]bool) ([]string, *RepositoryError) {
	cutoff := r.now().Add(-r.cfg.DedupeWindow())

	var recent []models.Pallet
	err := r.db.
		Where("room_id = ? AND created_at > ?", roomID, cutoff).
		Find(&recent).Error
	if err != nil {
		return nil, dbError(err)
	}

	seen := map[string]bool{}
	for i := range recent {
		seen[recent[i].Classification] = true
		for _, c := range decodeStringList(recent[i].MemberClassifications) {
			seen[c] = true
		}
	}

	var offenders []string
	for c := range classifications {
		if seen[c] {
			offenders = append(offenders, c)
		}
	}
	sort.Strings(offenders)
	return offenders, nil
}

// ListPallets returns all pallets, newest first.
func (r *Repository) ListPallets() ([]models.Pallet, *RepositoryError) {
	var pallets []models.Pallet
	if err := r.db.Order("created_at DESC").Find(&pallets).Error; err != nil {
		return nil, dbError(err)
	}
	return pallets, nil
}

func encodeStringList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeStringList(blob string) []string {
	var out []string
	if blob == "" {
		return out
	}
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return nil
	}
	return out
}
