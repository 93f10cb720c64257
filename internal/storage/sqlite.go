package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventcorr/internal/logger"
	"eventcorr/internal/store"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// SQLite 基于 gorm + sqlite 的持久化键值存储，实现 store.KV
type SQLite struct {
	db *gorm.DB
}

// Open 打开数据库并迁移表结构
func Open(dsn, prefix string, l logger.Logger) (*SQLite, error) {
	if l == nil {
		l = logger.NewNop()
	}
	gl := newDBLogger(l, gormlogger.Warn)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gl,
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	if err := db.AutoMigrate(&KVRecord{}); err != nil {
		return nil, fmt.Errorf("migrate kv table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get 读取键值
func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var rec KVRecord
	err := s.db.WithContext(ctx).Where("kv_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return rec.Value, nil
}

// Set 写入键值（存在则覆盖）
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	rec := KVRecord{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

// Delete 删除键
func (s *SQLite) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("kv_key = ?", key).Delete(&KVRecord{}).Error
}

// Close 关闭底层连接
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
