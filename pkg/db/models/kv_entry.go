package models

import "time"

// KVEntry is one persisted key/value pair. The cart keeps its whole snapshot under a single key.
type KVEntry struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (KVEntry) TableName() string { return "kv_entries" }
