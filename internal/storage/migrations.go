package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/orbitlabs/orbit/internal/logging"
)

// Migration files are named <version>_<description>.sql.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	Version     int
	Description string
	SQL         string
}

// loadMigrations reads the embedded migrations ordered by version
func loadMigrations() ([]migration, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	migrations := make([]migration, 0, len(files))
	seen := make(map[int]string)
	for _, file := range files {
		base := strings.TrimSuffix(path.Base(file), ".sql")
		prefix, desc, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must be <version>_<description>.sql", file)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: bad version %q", file, prefix)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %s: version %d already used by %s", file, version, other)
		}
		seen[version] = file

		body, err := fs.ReadFile(migrationsFS, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		migrations = append(migrations, migration{
			Version:     version,
			Description: strings.ReplaceAll(desc, "_", " "),
			SQL:         string(body),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrate applies every migration newer than the current schema version,
// each in its own transaction.
func (db *DB) Migrate() error {
	ctx := context.Background()

	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  BIGINT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := db.Transaction(ctx, func(tx *Tx) error {
			if _, err := tx.tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.runner().exec(ctx,
				"INSERT INTO schema_versions (version, description, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Description, toMillis(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		logging.WithFields(map[string]interface{}{
			"driver":  db.driver,
			"version": m.Version,
		}).Debug("Applied migration: %s", m.Description)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version, 0 on a fresh database
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
