// Package dbtest opens migrated SQLite databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/sirdesai22/mutualaid/internal/db"
	"gorm.io/gorm"
)

// Open returns a fresh, migrated and seeded database in t's temp dir.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.RunMigrations(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	if _, err := db.SentinelVolunteer(gdb); err != nil {
		t.Fatalf("seed sentinel: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
