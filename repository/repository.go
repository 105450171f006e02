// Package repository implements the cold-storage domain operations on top of
// a gorm-managed Postgres database: intake batches, physical lots, the
// append-only load history ledger, and pallets.
package repository

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/packhouse/coldstore/config"
	"github.com/packhouse/coldstore/repository/models"
)

// PostgreSQL error codes as constants
const (
	// Class 23 — Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 22 — Data Exception
	PgErrNumericValueOutOfRange = "22003" // numeric_value_out_of_range
	PgErrInvalidDatetimeFormat  = "22007" // invalid_datetime_format

	// Class 40 — Transaction Rollback
	PgErrTransactionRollback = "40000" // transaction_rollback

	// Class 08 — Connection Exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure
)

// Repository error codes surfaced to the service layer.
const (
	CodeNotFound             = "ENTITY_NOT_FOUND"
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeInvalidState         = "INVALID_STATE"
	CodeConflict             = "CONFLICT"
	CodeInsertFailed         = "INSERT_FAILED"
	CodeUpdateFailed         = "UPDATE_FAILED"
	CodeCommitFailed         = "COMMIT_FAILED"
	CodeInsufficientQuantity = "INSUFFICIENT_QUANTITY"
	CodeInsufficientBoxes    = "INSUFFICIENT_BOXES"
	CodeDuplicateConversion  = "DUPLICATE_CONVERSION"
)

// RepositoryError represents an error in the repository layer (db/domain)
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

// Repository holds the database handle and the domain configuration.
type Repository struct {
	db     *gorm.DB
	cfg    *config.Config
	logger *slog.Logger

	// now is swappable so the duplicate-conversion window can be tested
	// against a simulated clock.
	now func() time.Time

	// batchLocks serializes progress updates per batch when
	// serialize_batch_updates is enabled. With it disabled, two concurrent
	// loads against the same batch race on the read-modify-write of the
	// loaded blob and one increment can be lost.
	batchLocks sync.Map
}

// NewRepository creates a repository without a database connection; call
// ConnectDB or UseDatabase before invoking any operation.
func NewRepository(cfg *config.Config, logger *slog.Logger) *Repository {
	return &Repository{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// ConnectDB connects to Postgres, retrying while the database comes up.
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := 0; i < 10; i++ {
		r.logger.Info("connecting to database", "attempt", i+1)
		// Batch and operator references are soft: a load against a missing
		// batch still creates its lot, so the schema carries no foreign
		// key constraints.
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
		if err == nil {
			r.db = db
			r.logger.Info("connected to Postgres")
			return nil
		}
		lastErr = err
		r.logger.Warn("connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	return lastErr
}

// UseDatabase injects an already-open database handle. Tests use this with a
// sqlite-backed gorm connection.
func (r *Repository) UseDatabase(db *gorm.DB) {
	r.db = db
}

// SetClock replaces the repository clock. Test hook.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// Migrate creates or updates the schema for all domain models.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Operator{},
		&models.IntakeBatch{},
		&models.Lot{},
		&models.LoadHistory{},
		&models.Pallet{},
	)
}

// Seed populates the database with initial data. Safe to call repeatedly.
func (r *Repository) Seed() {
	var operatorCount int64
	r.db.Model(&models.Operator{}).Count(&operatorCount)
	if operatorCount > 0 {
		r.logger.Info("seed data already exists, skipping")
		return
	}

	r.logger.Info("seeding database with initial data")

	operators := []models.Operator{
		{ID: "OPR-001", Name: "Ramesh Kumar", Role: "Cold Store Manager", AccessLevel: "Admin"},
		{ID: "OPR-002", Name: "Sunil Verma", Role: "Loading Supervisor", AccessLevel: "Standard"},
		{ID: "OPR-003", Name: "Amit Singh", Role: "Gate Clerk", AccessLevel: "Basic"},
		{ID: "OPR-004", Name: "Priya Sharma", Role: "Inventory Clerk", AccessLevel: "Standard"},
	}
	for _, operator := range operators {
		if err := r.db.Create(&operator).Error; err != nil {
			r.logger.Error("error creating operator", "id", operator.ID, "err", err)
		}
	}

	batches := []struct {
		input CreateBatchInput
		id    string
	}{
		{
			id: "BATCH-SEED-001",
			input: CreateBatchInput{
				CustomerName: "Harbhajan Lal",
				Village:      "Rampur",
				Phone:        "9876500001",
				ThockNumber:  "TH-101",
				Category:     "seed",
				ExpectedByKey: map[string]int{
					"fuerte_4kg_class1_size20": 400,
					"fuerte_4kg_class2_size24": 250,
				},
			},
		},
		{
			id: "BATCH-SEED-002",
			input: CreateBatchInput{
				CustomerName: "Devi Prasad",
				Village:      "Kotla",
				Phone:        "9876500002",
				ThockNumber:  "TH-102",
				Category:     "sell",
				ExpectedByKey: map[string]int{
					"hass_10kg_class1_size16": 180,
				},
			},
		},
	}
	for _, b := range batches {
		if _, repoErr := r.createBatchWithID(b.id, b.input); repoErr != nil {
			r.logger.Error("error creating seed batch", "id", b.id, "detail", repoErr.Detail)
		}
	}

	r.logger.Info("database seeding completed")
}

// dbError converts a driver error to a RepositoryError, surfacing the
// Postgres error code when one is available.
func dbError(err error) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    CodeDatabaseError,
		Message: "Database error occurred",
		Detail:  err.Error(),
	}
}
