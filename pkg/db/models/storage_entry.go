package models

import "time"

// StorageEntry holds one key of device-local storage in the secondary target.
type StorageEntry struct {
	Key       string    `gorm:"column:storage_key;primaryKey"`
	Value     []byte    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (StorageEntry) TableName() string { return "local_storage_entries" }
