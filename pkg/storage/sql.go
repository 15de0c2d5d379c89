package storage

import (
	"context"
	"errors"

	"github.com/angelmondragon/greenhouse/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLTarget stores values in the local_storage_entries table.
type SQLTarget struct {
	db *gorm.DB
}

func NewSQLTarget(db *gorm.DB) (*SQLTarget, error) {
	if db == nil {
		return nil, errors.New("gorm connection required")
	}
	return &SQLTarget{db: db}, nil
}

// EnsureSchema creates the backing table when missing. The secondary target
// lives in a device-local sqlite file that goose does not manage.
func (t *SQLTarget) EnsureSchema(ctx context.Context) error {
	return t.db.WithContext(ctx).AutoMigrate(&models.StorageEntry{})
}

func (t *SQLTarget) Get(ctx context.Context, key string) ([]byte, error) {
	var entry models.StorageEntry
	err := t.db.WithContext(ctx).Where("storage_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (t *SQLTarget) Set(ctx context.Context, key string, value []byte) error {
	entry := models.StorageEntry{Key: key, Value: value}
	return t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "storage_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
}

func (t *SQLTarget) Remove(ctx context.Context, key string) error {
	return t.db.WithContext(ctx).Where("storage_key = ?", key).Delete(&models.StorageEntry{}).Error
}

func (t *SQLTarget) Name() string { return "sql" }
