package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestOpenGormSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessiongate.db")
	db, err := OpenGorm(DriverSQLite, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open gorm sqlite: %v", err)
	}
	if err := Close(db); err != nil {
		t.Fatalf("close db: %v", err)
	}
}

func TestOpenGormRejectsUnknownDriverAndMissingDSN(t *testing.T) {
	if _, err := OpenGorm("invalid", "x", zerolog.Nop()); err == nil {
		t.Fatalf("expected invalid driver error")
	}
	if _, err := OpenGorm(DriverPostgres, "", zerolog.Nop()); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestOpenGormSQLiteCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "path", "sessiongate.db")

	db, err := OpenGorm(DriverSQLite, dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("open gorm sqlite: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("expected parent dir to be created: %v", err)
	}
}

func TestSQLiteFilePath(t *testing.T) {
	cases := []struct {
		dsn  string
		path string
		ok   bool
	}{
		{dsn: ":memory:", ok: false},
		{dsn: "file::memory:?cache=shared", ok: false},
		{dsn: "file:data/app.db?mode=memory", ok: false},
		{dsn: "data/app.db?_pragma=busy_timeout(5000)", path: "data/app.db", ok: true},
		{dsn: "file:/var/lib/app.db?cache=shared", path: "/var/lib/app.db", ok: true},
		{dsn: "file:data/app.db", path: "data/app.db", ok: true},
	}
	for _, tc := range cases {
		path, ok := sqliteFilePath(tc.dsn)
		if ok != tc.ok || path != tc.path {
			t.Fatalf("sqliteFilePath(%q) = %q,%v want %q,%v", tc.dsn, path, ok, tc.path, tc.ok)
		}
	}
}
