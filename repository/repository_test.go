package repository

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/packhouse/coldstore/config"
	"github.com/packhouse/coldstore/repository/models"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "coldstore.db")), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		PalletDivisors:       map[string]int{"4kg": 288, "10kg": 120},
		DefaultPalletDivisor: 288,
		DedupeWindowHours:    24,
		AutoAggregate:        true,
	}
	repo := NewRepository(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	repo.UseDatabase(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func seedBatch(t *testing.T, repo *Repository, expected map[string]int) *models.IntakeBatch {
	t.Helper()

	batch, repoErr := repo.CreateIntakeBatch(CreateBatchInput{
		CustomerName:  "Harbhajan Lal",
		Village:       "Rampur",
		ThockNumber:   "TH-101",
		Category:      "sell",
		ExpectedByKey: expected,
	})
	require.Nil(t, repoErr)
	return batch
}

func seedLot(t *testing.T, repo *Repository, key, roomID string, quantity int) *models.Lot {
	t.Helper()

	parsed, err := ParseClassificationKey(key)
	require.NoError(t, err)

	lot := models.Lot{
		ID:       fmt.Sprintf("LOT-%s", uuid.NewString()),
		Variety:  parsed.Variety,
		BoxType:  parsed.BoxType,
		Grade:    parsed.Grade,
		Size:     parsed.Size,
		Quantity: quantity,
		RoomID:   roomID,
	}
	require.NoError(t, repo.db.Create(&lot).Error)
	return &lot
}

func fetchBatch(t *testing.T, repo *Repository, batchID string) *models.IntakeBatch {
	t.Helper()

	var batch models.IntakeBatch
	require.NoError(t, repo.db.Where("batch_id = ?", batchID).First(&batch).Error)
	return &batch
}

func countHistory(t *testing.T, repo *Repository, action string) int64 {
	t.Helper()

	var count int64
	require.NoError(t, repo.db.Model(&models.LoadHistory{}).Where("action = ?", action).Count(&count).Error)
	return count
}
