//go:build !wasm
// +build !wasm

package gorm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/gorm/utils/tests"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestStateModel_Schema(t *testing.T) {
	s, err := schema.Parse(&StateModel{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	assert.Equal(t, "box_connection_states", s.Table)
	require.Len(t, s.PrimaryFields, 1)
	assert.Equal(t, "state_key", s.PrimaryFields[0].DBName)
}

func TestStateStore_UpsertSQL(t *testing.T) {
	db := dryRunDB(t)
	store := NewStateStore(db)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return store.upsert(tx, "user-1", `{"version":2}`)
	})
	assert.Contains(t, sql, "box_connection_states")
	assert.Contains(t, sql, "user-1")
	assert.Contains(t, sql, "state_key")
}
