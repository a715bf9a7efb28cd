package store

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("migration %s does not follow NNNN_name.(up|down).sql", name)
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestActivityMigrationBlocksUpdates(t *testing.T) {
	contents, err := fs.ReadFile(migrationsFS, "migrations/0003_activity_events.up.sql")
	if err != nil {
		t.Fatalf("read activity migration: %v", err)
	}
	sql := string(contents)
	for _, fragment := range []string{
		"id BIGSERIAL PRIMARY KEY",
		"BEFORE UPDATE ON activity_events",
		"RAISE EXCEPTION",
	} {
		if !strings.Contains(sql, fragment) {
			t.Fatalf("activity migration missing %q", fragment)
		}
	}
}
