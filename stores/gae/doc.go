//go:build !wasm
// +build !wasm

// Package gae persists saved connection state in Google Cloud Datastore. It
// supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - BoxConnectionState: the saved state string of one connection, keyed by name
//
// # Namespacing
//
// Pass a namespace when creating the store to isolate tenants:
//
//	store := gae.NewStateStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewStateStore(client, "") // default namespace
//	conn.AddListener(boxclient.PersistTo(store, userID))
package gae
