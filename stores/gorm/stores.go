//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	bc "github.com/panyam/boxconn"
)

// AutoMigrate runs database migrations for the state table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&StateModel{})
}

// StateStore implements bc.StateStore using GORM
type StateStore struct {
	db *gorm.DB
}

func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

func (s *StateStore) Load(ctx context.Context, key string) (string, error) {
	var model StateModel
	if err := s.db.WithContext(ctx).First(&model, "state_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", bc.ErrStateNotFound
		}
		return "", err
	}
	return model.State, nil
}

// Store upserts the state under key.
func (s *StateStore) Store(ctx context.Context, key, state string) error {
	return s.upsert(s.db.WithContext(ctx), key, state).Error
}

func (s *StateStore) upsert(tx *gorm.DB, key, state string) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&StateModel{StateKey: key, State: state})
}

func (s *StateStore) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&StateModel{}, "state_key = ?", key).Error
}

func (s *StateStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&StateModel{}).Order("state_key").Pluck("state_key", &keys).Error
	return keys, err
}

var _ bc.StateStore = (*StateStore)(nil)
