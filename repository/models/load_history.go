package models

import "time"

// Load history actions.
const (
	HistoryActionLoaded     = "loaded"
	HistoryActionRemoved    = "removed"
	HistoryActionRepacked   = "repacked"
	HistoryActionPalletized = "palletized"
)

// LoadHistory is the append-only ledger of physical cold-room operations.
// Rows are never mutated or deleted; the reconciliation calculator consults
// them as a second loaded-quantity source alongside the batch blob.
type LoadHistory struct {
	ID       uint   `gorm:"column:history_id;primaryKey;autoIncrement"`
	Variety  string `gorm:"column:variety;type:varchar(50);not null"`
	BoxType  string `gorm:"column:box_type;type:varchar(50)"`
	Grade    string `gorm:"column:grade;type:varchar(50)"`
	Size     string `gorm:"column:size;type:varchar(50)"`
	Quantity int    `gorm:"column:qty;not null"`
	RoomID   string `gorm:"column:room_id;type:varchar(50);index;not null"`
	LotID    string `gorm:"column:lot_id;type:varchar(50);index"`

	BatchID *string      `gorm:"column:batch_id;type:varchar(50);index"`
	Batch   *IntakeBatch `gorm:"foreignKey:BatchID"`

	OperatorID string    `gorm:"column:operator_id;type:varchar(50);index"`
	Operator   *Operator `gorm:"foreignKey:OperatorID"`
	Action     string    `gorm:"column:action;type:varchar(20);not null;default:'loaded'"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
