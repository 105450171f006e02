package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/packhouse/coldstore/repository/models"
)

// ClassificationKey identifies a produce unit type: the unit of granularity
// for all counting and reconciliation. Two keys are equal iff all four
// fields match exactly.
type ClassificationKey struct {
	Variety string
	BoxType string
	Grade   string
	Size    string
}

// String returns the snapshot/blob key form, the four fields joined with "_".
func (k ClassificationKey) String() string {
	return strings.Join([]string{k.Variety, k.BoxType, k.Grade, k.Size}, "_")
}

// ParseClassificationKey parses the joined key form. Keys that do not split
// into exactly four non-empty parts are invalid.
func ParseClassificationKey(s string) (ClassificationKey, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 4 {
		return ClassificationKey{}, fmt.Errorf("classification key %q: expected 4 parts, got %d", s, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return ClassificationKey{}, fmt.Errorf("classification key %q has an empty part", s)
		}
	}
	return ClassificationKey{
		Variety: parts[0],
		BoxType: parts[1],
		Grade:   parts[2],
		Size:    parts[3],
	}, nil
}

// lotKey returns the classification key of a lot.
func lotKey(lot *models.Lot) ClassificationKey {
	return ClassificationKey{
		Variety: lot.Variety,
		BoxType: lot.BoxType,
		Grade:   lot.Grade,
		Size:    lot.Size,
	}
}

// Reconciliation is the per-batch remaining-quantity view produced by the
// reconciliation calculator.
type Reconciliation struct {
	RemainingByKey map[string]int `json:"remaining_by_key"`
	TotalRemaining int            `json:"total_remaining"`
}

// decodeKeyedQuantities parses a JSON quantity blob (classification key
// string -> quantity). A malformed blob is recovered locally as an empty
// map; it is logged but never surfaced to the caller.
func (r *Repository) decodeKeyedQuantities(blob, field, batchID string) map[string]int {
	out := map[string]int{}
	if strings.TrimSpace(blob) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		r.logger.Warn("malformed quantity blob, treating as empty",
			"field", field, "batch_id", batchID, "err", err)
		return map[string]int{}
	}
	return out
}

// encodeKeyedQuantities is the inverse of decodeKeyedQuantities.
func encodeKeyedQuantities(m map[string]int) string {
	if m == nil {
		m = map[string]int{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// sumQuantities totals a keyed quantity map, counting only keys that parse
// into a valid classification.
func sumQuantities(m map[string]int) int {
	total := 0
	for key, qty := range m {
		if _, err := ParseClassificationKey(key); err != nil {
			continue
		}
		total += qty
	}
	return total
}

// reconcile computes per-key remaining quantities from the expected snapshot
// and the two independently-maintained loaded-quantity sources: the batch's
// own blob and the lot table. The two sources are treated as lower bounds,
// so the larger of the two counts as loaded for each key. Pure; no side
// effects beyond the invalid-key warning callback.
func reconcile(expected, loadedBlob map[string]int, lots []models.Lot, warnInvalidKey func(key string, err error)) Reconciliation {
	loadedFromLots := map[string]int{}
	for i := range lots {
		loadedFromLots[lotKey(&lots[i]).String()] += lots[i].Quantity
	}

	rec := Reconciliation{RemainingByKey: map[string]int{}}
	for key, expectedQty := range expected {
		if _, err := ParseClassificationKey(key); err != nil {
			if warnInvalidKey != nil {
				warnInvalidKey(key, err)
			}
			continue
		}
		effectiveLoaded := loadedBlob[key]
		if fromLots := loadedFromLots[key]; fromLots > effectiveLoaded {
			effectiveLoaded = fromLots
		}
		remaining := expectedQty - effectiveLoaded
		if remaining < 0 {
			remaining = 0
		}
		rec.RemainingByKey[key] = remaining
		rec.TotalRemaining += remaining
	}
	return rec
}

// reconcileBatch runs the calculator for one batch against the lots that
// reference it.
func (r *Repository) reconcileBatch(batch *models.IntakeBatch, lots []models.Lot) Reconciliation {
	expected := r.decodeKeyedQuantities(batch.ExpectedSnapshot, "expected_snapshot", batch.ID)
	loadedBlob := r.decodeKeyedQuantities(batch.LoadedByKey, "loaded_by_key", batch.ID)
	return reconcile(expected, loadedBlob, lots, func(key string, err error) {
		r.logger.Warn("ignoring invalid snapshot key", "batch_id", batch.ID, "key", key, "err", err)
	})
}

// totalExpected returns the batch's expected grand total: the snapshot sum,
// falling back to the coarse record-level total when the snapshot is empty.
func (r *Repository) totalExpected(batch *models.IntakeBatch) int {
	expected := r.decodeKeyedQuantities(batch.ExpectedSnapshot, "expected_snapshot", batch.ID)
	if total := sumQuantities(expected); total > 0 {
		return total
	}
	return batch.ExpectedTotal
}

// progressPercent computes the loading percentage. A batch with nothing
// expected counts as fully loaded.
func progressPercent(totalLoaded, totalExpected int) int {
	if totalExpected <= 0 {
		return 100
	}
	percent := int(float64(totalLoaded)/float64(totalExpected)*100 + 0.5)
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	return percent
}
