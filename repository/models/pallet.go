package models

import "time"

// PalletClassificationMixed is the classification recorded on manually
// assembled pallets, which may span multiple classifications.
const PalletClassificationMixed = "mixed"

// Pallet represents floor(totalBoxes / boxesPerPallet) worth of accumulated
// lots in one cold room. Pallets are never mutated after creation and their
// member lots are not decremented or flagged.
type Pallet struct {
	ID             string `gorm:"column:pallet_id;primaryKey;type:varchar(50)"`
	Name           string `gorm:"column:name;type:varchar(100)"`
	Classification string `gorm:"column:classification;type:varchar(200);index;not null"`
	PalletCount    int    `gorm:"column:pallet_count;not null"`
	BoxesPerPallet int    `gorm:"column:boxes_per_pallet;not null"`
	RoomID         string `gorm:"column:room_id;type:varchar(50);index;not null"`
	IsManual       bool   `gorm:"column:is_manual;default:false"`

	// MemberLotIDs and MemberClassifications are JSON arrays. The member
	// classifications feed the duplicate-conversion guard for manual
	// pallets, whose Classification column only says "mixed".
	MemberLotIDs          string    `gorm:"column:member_lot_ids;type:text"`
	MemberClassifications string    `gorm:"column:member_classifications;type:text"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime;index"`
}
