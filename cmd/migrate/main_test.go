package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"001_tile_cache.sql", "001_tile_cache.down.sql",
		"002_stats.sql", "002_stats.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	up, err := migrationFiles(dir, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantUp := []string{filepath.Join(dir, "001_tile_cache.sql"), filepath.Join(dir, "002_stats.sql")}
	if !reflect.DeepEqual(up, wantUp) {
		t.Errorf("up = %v, want %v", up, wantUp)
	}

	down, err := migrationFiles(dir, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantDown := []string{filepath.Join(dir, "002_stats.down.sql"), filepath.Join(dir, "001_tile_cache.down.sql")}
	if !reflect.DeepEqual(down, wantDown) {
		t.Errorf("down = %v, want %v", down, wantDown)
	}
}

func TestMigrationFiles_RepoMigrations(t *testing.T) {
	up, err := migrationFiles(filepath.Join("..", "..", "migrations"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up) == 0 {
		t.Fatal("expected at least one up migration")
	}
}
