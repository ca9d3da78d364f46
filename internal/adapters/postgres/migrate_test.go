package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsOrdersAndChecksums(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"migrations/0002_more.sql": {Data: []byte("ALTER TABLE tasks ADD COLUMN note TEXT;")},
		"migrations/0001_init.sql": {Data: []byte("CREATE TABLE tasks (task_id TEXT);")},
		"migrations/README.md":     {Data: []byte("not a migration")},
	}
	files, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 || files[0].Version != "0001_init" || files[1].Version != "0002_more" {
		t.Fatalf("unexpected order: %+v", files)
	}
	if len(files[0].Checksum) != 64 || files[0].Checksum == files[1].Checksum {
		t.Fatalf("unexpected checksums: %q %q", files[0].Checksum, files[1].Checksum)
	}
}

func TestPendingMigrationsSkipsAppliedAndDetectsEdits(t *testing.T) {
	t.Parallel()
	files := []migrationFile{
		{Version: "0001_init", Checksum: "aaa"},
		{Version: "0002_more", Checksum: "bbb"},
	}

	pending, err := pendingMigrations(files, map[string]string{"0001_init": "aaa"})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Version != "0002_more" {
		t.Fatalf("expected only 0002 pending, got %+v", pending)
	}

	if pending, _ := pendingMigrations(files, map[string]string{"0001_init": "aaa", "0002_more": "bbb"}); len(pending) != 0 {
		t.Fatalf("expected nothing pending, got %+v", pending)
	}

	_, err = pendingMigrations(files, map[string]string{"0001_init": "edited"})
	if err == nil || !strings.Contains(err.Error(), "0001_init") {
		t.Fatalf("expected changed-migration error, got %v", err)
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	t.Parallel()
	files, err := loadMigrations(migrationFS)
	if err != nil {
		t.Fatalf("load embedded: %v", err)
	}
	if len(files) == 0 || files[0].Version != "0001_init" || !strings.Contains(files[0].SQL, "escrow_payments") {
		t.Fatalf("unexpected embedded migrations: %d", len(files))
	}
}
