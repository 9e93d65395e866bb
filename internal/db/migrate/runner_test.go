package migrate

import (
	"errors"
	"io/fs"
	"sort"
	"strings"
	"testing"

	"ams-control-plane/backend/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up", 0)
	if !errors.Is(err, ErrEmptyDSN) {
		t.Fatalf("Run with empty DSN: err = %v, want ErrEmptyDSN", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	testCases := []string{"", "invalid", "UP", "Down", "both"}
	for _, direction := range testCases {
		t.Run(direction, func(t *testing.T) {
			err := Run("postgres://localhost/test", direction, 0)
			if err == nil {
				t.Fatalf("Run with direction %q should return error", direction)
			}
			if !strings.Contains(err.Error(), "direction") {
				t.Errorf("error %q should mention direction", err)
			}
		})
	}
}

func TestRun_NegativeSteps(t *testing.T) {
	if err := Run("postgres://localhost/test", "up", -1); err == nil {
		t.Fatal("Run with negative steps should return error")
	}
}

func TestVersion_EmptyDSN(t *testing.T) {
	if _, _, err := Version(""); !errors.Is(err, ErrEmptyDSN) {
		t.Fatalf("Version with empty DSN: err = %v, want ErrEmptyDSN", err)
	}
}

func TestMigrationFS_Paired(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %q", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	var names []string
	for n := range ups {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if !downs[n] {
			t.Errorf("migration %s has no down file", n)
		}
	}
	if len(downs) != len(ups) {
		t.Errorf("up/down count mismatch: %d up, %d down", len(ups), len(downs))
	}
}
