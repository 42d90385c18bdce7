package models

// TsaSerial exists purely to allocate timestamp serial numbers. Each issued
// token inserts one row; the auto-increment primary key is the serial. A
// serial consumed by a failed issuance stays burned, which keeps the
// sequence strictly monotonic across crashes and restarts.
type TsaSerial struct {
	ID        uint  `gorm:"primaryKey;autoIncrement"`
	CreatedAt int64 `gorm:"autoCreateTime"`
}

func (TsaSerial) TableName() string {
	return "tsa_serials"
}
