//go:build !wasm
// +build !wasm

// Package gorm persists saved connection state with GORM. It supports any
// database GORM supports (PostgreSQL, MySQL, SQLite, etc.), which makes it a
// fit for services that keep many user connections across restarts.
//
// # Database Schema
//
// AutoMigrate creates one table:
//   - box_connection_states: the saved state string of each connection, by key
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	_ = gormstore.AutoMigrate(db)
//	store := gormstore.NewStateStore(db)
//	conn.AddListener(client.PersistTo(store, userID))
package gorm
