package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packhouse/coldstore/repository/models"
)

func TestParseClassificationKey(t *testing.T) {
	key, err := ParseClassificationKey("fuerte_4kg_class1_size20")
	require.NoError(t, err)
	assert.Equal(t, "fuerte", key.Variety)
	assert.Equal(t, "4kg", key.BoxType)
	assert.Equal(t, "class1", key.Grade)
	assert.Equal(t, "size20", key.Size)
	assert.Equal(t, "fuerte_4kg_class1_size20", key.String())

	for _, invalid := range []string{
		"",
		"fuerte",
		"fuerte_4kg_class1",
		"fuerte_4kg_class1_size20_extra",
		"fuerte__class1_size20",
	} {
		_, err := ParseClassificationKey(invalid)
		assert.Error(t, err, "key %q should not parse", invalid)
	}
}

func TestReconcileTakesLargerLoadedSource(t *testing.T) {
	expected := map[string]int{
		"fuerte_4kg_class1_size20": 100,
		"hass_10kg_class1_size16":  50,
	}
	loadedBlob := map[string]int{
		"fuerte_4kg_class1_size20": 30,
		"hass_10kg_class1_size16":  45,
	}
	lots := []models.Lot{
		{Variety: "fuerte", BoxType: "4kg", Grade: "class1", Size: "size20", Quantity: 60},
		{Variety: "hass", BoxType: "10kg", Grade: "class1", Size: "size16", Quantity: 20},
	}

	rec := reconcile(expected, loadedBlob, lots, nil)
	// lots win for fuerte (60 > 30), the blob wins for hass (45 > 20)
	assert.Equal(t, 40, rec.RemainingByKey["fuerte_4kg_class1_size20"])
	assert.Equal(t, 5, rec.RemainingByKey["hass_10kg_class1_size16"])
	assert.Equal(t, 45, rec.TotalRemaining)
}

func TestReconcileClampsOverloadToZero(t *testing.T) {
	expected := map[string]int{"fuerte_4kg_class1_size20": 100}
	loadedBlob := map[string]int{"fuerte_4kg_class1_size20": 130}

	rec := reconcile(expected, loadedBlob, nil, nil)
	assert.Equal(t, 0, rec.RemainingByKey["fuerte_4kg_class1_size20"])
	assert.Equal(t, 0, rec.TotalRemaining)
}

func TestReconcileSkipsInvalidSnapshotKeys(t *testing.T) {
	expected := map[string]int{
		"fuerte_4kg_class1_size20": 10,
		"not a key":                999,
	}

	var warned []string
	rec := reconcile(expected, nil, nil, func(key string, err error) {
		warned = append(warned, key)
	})

	assert.Equal(t, []string{"not a key"}, warned)
	assert.Equal(t, 10, rec.TotalRemaining)
	assert.NotContains(t, rec.RemainingByKey, "not a key")
}

func TestSumQuantitiesIgnoresInvalidKeys(t *testing.T) {
	total := sumQuantities(map[string]int{
		"fuerte_4kg_class1_size20": 10,
		"hass_10kg_class1_size16":  5,
		"garbage":                  100,
	})
	assert.Equal(t, 15, total)
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 100, progressPercent(0, 0), "nothing expected counts as fully loaded")
	assert.Equal(t, 100, progressPercent(50, -1))
	assert.Equal(t, 0, progressPercent(0, 100))
	assert.Equal(t, 40, progressPercent(40, 100))
	assert.Equal(t, 33, progressPercent(1, 3))
	assert.Equal(t, 67, progressPercent(2, 3))
	assert.Equal(t, 100, progressPercent(150, 100), "overload clamps to 100")
}

func TestDecodeKeyedQuantitiesRecoversMalformedBlob(t *testing.T) {
	repo := newTestRepository(t)

	assert.Empty(t, repo.decodeKeyedQuantities("", "loaded_by_key", "BATCH-X"))
	assert.Empty(t, repo.decodeKeyedQuantities("{not json", "loaded_by_key", "BATCH-X"))
	assert.Equal(t, map[string]int{"fuerte_4kg_class1_size20": 7},
		repo.decodeKeyedQuantities(`{"fuerte_4kg_class1_size20":7}`, "loaded_by_key", "BATCH-X"))
}

func TestTotalExpectedFallsBackToCoarseTotal(t *testing.T) {
	repo := newTestRepository(t)

	withSnapshot := &models.IntakeBatch{ExpectedSnapshot: `{"fuerte_4kg_class1_size20":80}`, ExpectedTotal: 500}
	assert.Equal(t, 80, repo.totalExpected(withSnapshot))

	emptySnapshot := &models.IntakeBatch{ExpectedSnapshot: "{}", ExpectedTotal: 500}
	assert.Equal(t, 500, repo.totalExpected(emptySnapshot))

	malformed := &models.IntakeBatch{ExpectedSnapshot: "{broken", ExpectedTotal: 250}
	assert.Equal(t, 250, repo.totalExpected(malformed))
}
