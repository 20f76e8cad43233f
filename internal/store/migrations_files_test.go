package store

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveUpAndDownSections(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d{5})_[a-z0-9_]+\.sql$`)
	seen := map[string]bool{}

	for _, entry := range entries {
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("unexpected migration file name %q", name)
		}
		if seen[match[1]] {
			t.Fatalf("duplicate migration version %s", match[1])
		}
		seen[match[1]] = true

		body, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		text := string(body)
		up := strings.Index(text, "-- +goose Up")
		down := strings.Index(text, "-- +goose Down")
		if up < 0 || down < 0 {
			t.Fatalf("%s must include both goose Up and Down sections", name)
		}
		if down < up {
			t.Fatalf("%s declares Down before Up", name)
		}
	}

	if len(seen) == 0 {
		t.Fatal("no migrations discovered")
	}
}

func TestDraftsMigrationEnforcesDeletedAt(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, migrationsDir+"/00002_drafts.sql")
	if err != nil {
		t.Fatalf("read drafts migration: %v", err)
	}
	if !strings.Contains(string(body), "status <> 'deleted' OR deleted_at IS NOT NULL") {
		t.Fatal("drafts table must require deleted_at for deleted drafts")
	}
}
