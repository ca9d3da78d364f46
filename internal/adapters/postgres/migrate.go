package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockKey serialises api and worker processes booting together.
const migrationLockKey = 7_310_245_001

type migrationFile struct {
	Version  string
	SQL      string
	Checksum string
}

type schemaMigrationModel struct {
	Version   string    `gorm:"column:version;primaryKey"`
	Checksum  string    `gorm:"column:checksum"`
	AppliedAt time.Time `gorm:"column:applied_at"`
}

func (schemaMigrationModel) TableName() string { return "escrow_schema_migrations" }

// RunMigrations applies embedded migrations that are not yet recorded in
// escrow_schema_migrations, in one transaction under an advisory lock. A
// recorded migration whose file changed afterwards stops startup.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	files, err := loadMigrations(migrationFS)
	if err != nil {
		return err
	}
	// Multi-statement files cannot be prepared, so migrations run on an
	// unprepared handle over the same pool.
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("ledger store sql db: %w", err)
	}
	migrator, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 db.Logger,
	})
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	return migrator.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockKey).Error; err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
		if err := tx.Exec(`CREATE TABLE IF NOT EXISTS escrow_schema_migrations (
    version    TEXT PRIMARY KEY,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL
)`).Error; err != nil {
			return fmt.Errorf("create migration table: %w", err)
		}
		var rows []schemaMigrationModel
		if err := tx.Find(&rows).Error; err != nil {
			return fmt.Errorf("read applied migrations: %w", err)
		}
		applied := make(map[string]string, len(rows))
		for _, row := range rows {
			applied[row.Version] = row.Checksum
		}
		pending, err := pendingMigrations(files, applied)
		if err != nil {
			return err
		}
		for _, m := range pending {
			if err := tx.Exec(m.SQL).Error; err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Version, err)
			}
			rec := schemaMigrationModel{Version: m.Version, Checksum: m.Checksum, AppliedAt: time.Now().UTC()}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("record migration %s: %w", m.Version, err)
			}
		}
		return nil
	})
}

func loadMigrations(fsys fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	out := make([]migrationFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		raw, err := fs.ReadFile(fsys, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(raw)
		out = append(out, migrationFile{
			Version:  strings.TrimSuffix(entry.Name(), ".sql"),
			SQL:      string(raw),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// pendingMigrations returns the files not yet applied, in version order.
func pendingMigrations(files []migrationFile, applied map[string]string) ([]migrationFile, error) {
	var pending []migrationFile
	for _, f := range files {
		checksum, ok := applied[f.Version]
		if !ok {
			pending = append(pending, f)
			continue
		}
		if checksum != f.Checksum {
			return nil, fmt.Errorf("migration %s changed after it was applied", f.Version)
		}
	}
	return pending, nil
}
