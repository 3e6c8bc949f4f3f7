package db

import (
	"testing"
	"testing/fstest"
)

func TestLoad_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_late.sql":      {Data: []byte("SELECT 10;")},
		"002_billing.sql":   {Data: []byte("CREATE TABLE bill (id UUID PRIMARY KEY);")},
		"001_directory.sql": {Data: []byte("CREATE TABLE patient (id TEXT PRIMARY KEY);")},
	}
	migrations, err := NewMigrator(nil, fsys).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[1].Name != "002_billing.sql" {
		t.Errorf("expected 002_billing.sql, got %s", migrations[1].Name)
	}
	if migrations[1].SQL != "CREATE TABLE bill (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL: %s", migrations[1].SQL)
	}
}

func TestLoad_SkipsNonMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"001_ok.sql":        {Data: []byte("SELECT 1;")},
		"README.md":         {Data: []byte("docs")},
		"abc_noversion.sql": {Data: []byte("SELECT 2;")},
		"noseparator.sql":   {Data: []byte("SELECT 3;")},
		"000_zero.sql":      {Data: []byte("SELECT 0;")},
		"sub/002_x.sql":     {Data: []byte("SELECT 4;")},
	}
	migrations, err := NewMigrator(nil, fsys).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "001_ok.sql" {
		t.Fatalf("expected only 001_ok.sql, got %+v", migrations)
	}
}

func TestLoad_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"01_b.sql":  {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, fsys).Load(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestLoad_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name string
		v    int
		ok   bool
	}{
		{"001_core.sql", 1, true},
		{"42_answer.sql", 42, true},
		{"001_core.txt", 0, false},
		{"core.sql", 0, false},
		{"x1_core.sql", 0, false},
		{"-1_neg.sql", 0, false},
	}
	for _, tt := range tests {
		v, ok := parseVersion(tt.name)
		if v != tt.v || ok != tt.ok {
			t.Errorf("parseVersion(%q) = (%d, %v), want (%d, %v)", tt.name, v, ok, tt.v, tt.ok)
		}
	}
}
