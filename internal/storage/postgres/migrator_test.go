package postgres

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func catalogMigrationFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/migrations/0001_catalog.up.sql": {
			Data: []byte("CREATE TABLE products (id TEXT PRIMARY KEY);"),
		},
		"sql/migrations/0001_catalog.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS products;"),
		},
		"sql/migrations/0002_notifications.up.sql": {
			Data: []byte("CREATE TABLE payment_notifications (reference TEXT PRIMARY KEY);"),
		},
		"sql/migrations/0002_notifications.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS payment_notifications;"),
		},
	}
}

func TestParseMigrations_OrdersByVersion(t *testing.T) {
	t.Parallel()

	migrations, err := parseMigrations(catalogMigrationFS())
	if err != nil {
		t.Fatalf("parseMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].label() != "0001_catalog" || migrations[1].label() != "0002_notifications" {
		t.Fatalf("unexpected order: %s, %s", migrations[0].label(), migrations[1].label())
	}
	if !strings.Contains(migrations[1].body(migrationUp), "payment_notifications") ||
		!strings.HasPrefix(migrations[1].body(migrationDown), "DROP TABLE") {
		t.Fatalf("unexpected bodies: %+v", migrations[1])
	}
	if migrations[0].checksum == "" || migrations[0].checksum == migrations[1].checksum {
		t.Fatalf("expected distinct checksums, got %q and %q", migrations[0].checksum, migrations[1].checksum)
	}
}

func TestParseMigrations_ChecksumTracksContent(t *testing.T) {
	t.Parallel()

	original, err := parseMigrations(catalogMigrationFS())
	if err != nil {
		t.Fatalf("parse original: %v", err)
	}
	again, err := parseMigrations(catalogMigrationFS())
	if err != nil {
		t.Fatalf("parse again: %v", err)
	}
	if original[0].checksum != again[0].checksum {
		t.Fatal("checksum must be stable for identical files")
	}

	edited := catalogMigrationFS()
	edited["sql/migrations/0001_catalog.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE products CASCADE;")}
	changed, err := parseMigrations(edited)
	if err != nil {
		t.Fatalf("parse edited: %v", err)
	}
	if changed[0].checksum == original[0].checksum {
		t.Fatal("editing a down file must change the checksum")
	}
}

func TestParseMigrations_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   fstest.MapFS
		wantErr string
	}{
		{
			name:    "no files",
			files:   fstest.MapFS{},
			wantErr: "no migration files",
		},
		{
			name: "missing down",
			files: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql": {Data: []byte("CREATE TABLE products (id TEXT);")},
			},
			wantErr: "both up and down",
		},
		{
			name: "invalid file name",
			files: fstest.MapFS{
				"sql/migrations/catalog.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: "invalid migration file name",
		},
		{
			name: "empty body",
			files: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql":   {Data: []byte("   \n")},
				"sql/migrations/0001_catalog.down.sql": {Data: []byte("DROP TABLE IF EXISTS products;")},
			},
			wantErr: "empty",
		},
		{
			name: "name mismatch",
			files: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql":  {Data: []byte("CREATE TABLE products (id TEXT);")},
				"sql/migrations/0001_codes.down.sql": {Data: []byte("DROP TABLE IF EXISTS products;")},
			},
			wantErr: "name mismatch",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseMigrations(tc.files)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestEmbeddedMigrations_DefineFulfillmentSchema(t *testing.T) {
	t.Parallel()

	migrations, err := parseMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("parse embedded migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(migrations))
	}

	var up, down strings.Builder
	for _, m := range migrations {
		up.WriteString(m.up)
		down.WriteString(m.down)
	}
	for _, table := range fulfillmentTables {
		if !strings.Contains(up.String(), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("up migrations do not create %s", table)
		}
		if !strings.Contains(down.String(), "DROP TABLE IF EXISTS "+table) {
			t.Errorf("down migrations do not drop %s", table)
		}
	}

	catalog := migrations[0].up
	if !strings.Contains(catalog, "CHECK ((status = 'sold') = (order_id IS NOT NULL))") {
		t.Error("gift_codes must tie sold status to an order")
	}
	if !strings.Contains(catalog, "value_digest TEXT NOT NULL UNIQUE") {
		t.Error("gift code values must be unique through the digest column")
	}
	if !strings.Contains(migrations[1].up, "reference TEXT PRIMARY KEY") {
		t.Error("payment reference must be unique")
	}
	if strings.Contains(migrations[1].up, "'rejected'") {
		t.Error("rejected notifications are not persisted")
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	migrations, err := parseMigrations(catalogMigrationFS())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	labels := func(plan []schemaMigration) string {
		out := make([]string, 0, len(plan))
		for _, m := range plan {
			out = append(out, m.label())
		}
		return strings.Join(out, ",")
	}

	none := map[int64]string{}
	first := map[int64]string{1: migrations[0].checksum}
	both := map[int64]string{1: migrations[0].checksum, 2: migrations[1].checksum}

	tests := []struct {
		name      string
		applied   map[int64]string
		direction migrationDirection
		steps     int
		want      string
	}{
		{name: "up all from empty", applied: none, direction: migrationUp, want: "0001_catalog,0002_notifications"},
		{name: "up one step", applied: none, direction: migrationUp, steps: 1, want: "0001_catalog"},
		{name: "up skips applied", applied: first, direction: migrationUp, want: "0002_notifications"},
		{name: "up nothing pending", applied: both, direction: migrationUp, want: ""},
		{name: "down newest first", applied: both, direction: migrationDown, steps: 1, want: "0002_notifications"},
		{name: "down everything", applied: both, direction: migrationDown, steps: 100, want: "0002_notifications,0001_catalog"},
		{name: "down on empty", applied: none, direction: migrationDown, steps: 1, want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := labels(planMigrations(migrations, tc.applied, tc.direction, tc.steps)); got != tc.want {
				t.Fatalf("plan = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestVerifyChecksums(t *testing.T) {
	t.Parallel()

	migrations, err := parseMigrations(catalogMigrationFS())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if err := verifyChecksums(migrations, map[int64]string{1: migrations[0].checksum}); err != nil {
		t.Fatalf("matching checksum: %v", err)
	}
	if err := verifyChecksums(migrations, map[int64]string{1: ""}); err != nil {
		t.Fatalf("legacy row without checksum must pass: %v", err)
	}

	err = verifyChecksums(migrations, map[int64]string{1: "edited"})
	if !errors.Is(err, ErrMigrationChecksum) || !strings.Contains(err.Error(), "0001_catalog") {
		t.Fatalf("expected ErrMigrationChecksum for 0001_catalog, got %v", err)
	}

	err = verifyChecksums(migrations, map[int64]string{7: "x"})
	if err == nil || !strings.Contains(err.Error(), "version 7") {
		t.Fatalf("expected unknown version error, got %v", err)
	}
}
