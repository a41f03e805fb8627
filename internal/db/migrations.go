// internal/db/migrations.go
package db

import "fmt"

const documentsSchema = `
CREATE TABLE IF NOT EXISTS _documents (
    collection  TEXT NOT NULL,
    id          TEXT NOT NULL,
    data        TEXT NOT NULL DEFAULT '{}' CHECK (json_valid(data)),
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON _documents(collection, updated_at);
`

const metaSchema = `
CREATE TABLE IF NOT EXISTS _firelite_meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);

INSERT OR IGNORE INTO _firelite_meta (key, value) VALUES ('schema_version', '1');
`

func (db *DB) RunMigrations() error {
	if _, err := db.Exec(documentsSchema); err != nil {
		return fmt.Errorf("failed to run document migrations: %w", err)
	}

	if _, err := db.Exec(metaSchema); err != nil {
		return fmt.Errorf("failed to run meta migrations: %w", err)
	}

	return nil
}

// SchemaVersion returns the recorded schema version.
func (db *DB) SchemaVersion() (string, error) {
	var version string
	err := db.QueryRow("SELECT value FROM _firelite_meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
