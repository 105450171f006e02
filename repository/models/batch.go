package models

import "time"

// Batch status values. A batch is completed exactly when its progress
// reaches 100 percent.
const (
	BatchStatusPendingColdRoom   = "pending_cold_room"
	BatchStatusLoadingInProgress = "loading_in_progress"
	BatchStatusCompleted         = "completed"
)

// IntakeBatch represents a finalized counting record: the expected-quantity
// snapshot taken at intake time plus the running loading state maintained by
// the progress updater.
type IntakeBatch struct {
	ID           string `gorm:"column:batch_id;primaryKey;type:varchar(50)"`
	CustomerName string `gorm:"column:customer_name;type:varchar(100);not null"`
	Village      string `gorm:"column:village;type:varchar(100)"`
	Phone        string `gorm:"column:phone;type:varchar(20)"`
	ThockNumber  string `gorm:"column:thock_number;type:varchar(50);index"`
	Category     string `gorm:"column:category;type:varchar(20)"` // 'seed' or 'sell'

	// ExpectedSnapshot is the raw per-key snapshot captured when counting
	// finalized: a JSON object mapping classification key strings
	// ("variety_boxType_grade_size") to quantities. Written once, never
	// updated afterwards.
	ExpectedSnapshot string `gorm:"column:expected_snapshot;type:text"`
	// ExpectedTotal is the coarse record-level total, used only when the
	// snapshot is empty or unparseable.
	ExpectedTotal int `gorm:"column:expected_total;default:0"`

	// LoadedByKey is the running loaded-quantity blob, same JSON shape as
	// ExpectedSnapshot. Updated only by RecordLoads and the progress
	// override path.
	LoadedByKey     string     `gorm:"column:loaded_by_key;type:text"`
	TotalLoaded     int        `gorm:"column:total_loaded;default:0"`
	ProgressPercent int        `gorm:"column:progress_percent;default:0"`
	Status          string     `gorm:"column:status;type:varchar(30);default:'pending_cold_room'"`
	TargetRoomID    *string    `gorm:"column:target_room_id;type:varchar(50)"`
	CompletedAt     *time.Time `gorm:"column:completed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	// Relationships
	Lots []Lot `gorm:"foreignKey:BatchID"`
}
