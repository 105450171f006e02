package models

import "time"

// Lot represents a discrete quantity of one classification sitting in one
// cold room. A lot whose quantity reaches zero is deleted.
type Lot struct {
	ID       string `gorm:"column:lot_id;primaryKey;type:varchar(50)"`
	Variety  string `gorm:"column:variety;type:varchar(50);not null;index:idx_lots_classification"`
	BoxType  string `gorm:"column:box_type;type:varchar(50);not null;index:idx_lots_classification"`
	Grade    string `gorm:"column:grade;type:varchar(50);not null;index:idx_lots_classification"`
	Size     string `gorm:"column:size;type:varchar(50);not null;index:idx_lots_classification"`
	Quantity int    `gorm:"column:qty;not null"`
	RoomID   string `gorm:"column:room_id;type:varchar(50);index;not null"`

	// BatchID links the lot back to the intake batch it was loaded against.
	// Only load operations set it.
	BatchID *string      `gorm:"column:batch_id;type:varchar(50);index"`
	Batch   *IntakeBatch `gorm:"foreignKey:BatchID"`

	// InPallet marks lots swept into a pallet. The aggregator does not set
	// it (pallets are a derived signal, not a partition of lots); it exists
	// for operator tooling.
	InPallet       bool      `gorm:"column:in_pallet;default:false"`
	Supplier       string    `gorm:"column:supplier;type:varchar(100)"`
	SourcePalletID *string   `gorm:"column:source_pallet_id;type:varchar(50)"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
