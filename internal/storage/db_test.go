package storage

import (
	"path/filepath"
	"testing"
)

func TestOpenAppliesPragmasAndSingleConn(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL journal mode, got %q", mode)
	}

	if db.Stats().MaxOpenConnections != 1 {
		t.Errorf("expected a single shared connection, got %d", db.Stats().MaxOpenConnections)
	}
}

func TestOpenCreatesFileIfAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}
