//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
)

// StateEntity is the Datastore entity for a saved connection state
type StateEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	State     string         `datastore:"state,noindex"`
	CreatedAt time.Time      `datastore:"created_at"`
	UpdatedAt time.Time      `datastore:"updated_at"`
}
