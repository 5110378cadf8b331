//go:build !wasm
// +build !wasm

package gorm

import (
	"time"
)

// StateModel is the GORM model for a saved connection state
type StateModel struct {
	StateKey  string    `gorm:"column:state_key;primaryKey;size:255"`
	State     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (StateModel) TableName() string {
	return "box_connection_states"
}
