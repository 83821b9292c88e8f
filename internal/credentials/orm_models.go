package credentials

import "time"

type credentialRow struct {
	TenantID  string    `gorm:"primaryKey;size:64"`
	Blob      []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (credentialRow) TableName() string {
	return "credentials"
}

func (r credentialRow) toRecord() Record {
	return Record{
		TenantID:  r.TenantID,
		Blob:      r.Blob,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
