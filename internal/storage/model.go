package storage

import "time"

// KVRecord 持久化键值记录
type KVRecord struct {
	Key       string `gorm:"column:kv_key;primaryKey;size:255"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName 表名（前缀由 NamingStrategy 追加）
func (KVRecord) TableName() string { return "kv" }
