// Package manifeststore persists registered PluginManifest rows in MySQL
// so the host's plugin list survives a restart without re-running
// discovery. The core registry only needs an in-memory map to satisfy the
// runtime's own contract; this store is an optional durability layer
// wired in at startup when it is enabled in the configuration.
package manifeststore

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "github.com/xnote-app/plugin-runtime/internal/errors"
	"github.com/xnote-app/plugin-runtime/pkg/plugin"
)

// Store persists plugin manifests in MySQL.
type Store struct {
	db *sql.DB
}

// New opens a connection pool against dsn, verifies connectivity and
// ensures the backing table exists.
func New(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "manifeststore: dsn cannot be empty")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: open connection")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: ping database")
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS plugin_manifests (
		id VARCHAR(128) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		version VARCHAR(64) NOT NULL,
		activation_events TEXT NOT NULL,
		declared_capabilities TEXT NOT NULL,
		command TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: create table")
	}
	return s.migrateColumns()
}

// migrateColumns adds columns introduced after the initial table existed,
// tolerating the "duplicate column" error MySQL returns when the column
// is already present.
func (s *Store) migrateColumns() error {
	alterations := []string{
		"ALTER TABLE plugin_manifests ADD COLUMN updated_at BIGINT NOT NULL DEFAULT 0",
	}
	for _, stmt := range alterations {
		if _, err := s.db.Exec(stmt); err != nil {
			var mysqlErr *mysql.MySQLError
			if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1060 {
				continue
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: migrate schema")
		}
	}
	return nil
}

// Save upserts manifest by id.
func (s *Store) Save(ctx context.Context, manifest plugin.PluginManifest) error {
	events, err := json.Marshal(manifest.ActivationEvents)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "manifeststore: encode activation events")
	}
	caps, err := json.Marshal(manifest.DeclaredCapabilities)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "manifeststore: encode capabilities")
	}
	command, err := json.Marshal(manifest.Command)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "manifeststore: encode command")
	}

	const stmt = `INSERT INTO plugin_manifests
		(id, name, version, activation_events, declared_capabilities, command, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		name = VALUES(name), version = VALUES(version),
		activation_events = VALUES(activation_events),
		declared_capabilities = VALUES(declared_capabilities),
		command = VALUES(command), updated_at = VALUES(updated_at)`

	_, err = s.db.ExecContext(ctx, stmt,
		manifest.ID, manifest.Name, manifest.Version, string(events), string(caps), string(command), time.Now().Unix())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: save manifest")
	}
	return nil
}

// Load returns every persisted manifest, ordered by id for deterministic
// re-registration at startup.
func (s *Store) Load(ctx context.Context) ([]plugin.PluginManifest, error) {
	const query = `SELECT id, name, version, activation_events, declared_capabilities, command
		FROM plugin_manifests ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: query manifests")
	}
	defer rows.Close()

	var manifests []plugin.PluginManifest
	for rows.Next() {
		var (
			manifest           plugin.PluginManifest
			eventsRaw, capsRaw string
			commandRaw         string
		)
		if err := rows.Scan(&manifest.ID, &manifest.Name, &manifest.Version, &eventsRaw, &capsRaw, &commandRaw); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: scan manifest row")
		}

		var events []plugin.ActivationEvent
		if err := json.Unmarshal([]byte(eventsRaw), &events); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: decode activation events")
		}
		var caps []plugin.Capability
		if err := json.Unmarshal([]byte(capsRaw), &caps); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: decode capabilities")
		}
		var command []string
		if err := json.Unmarshal([]byte(commandRaw), &command); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: decode command")
		}

		manifest.ActivationEvents = events
		manifest.DeclaredCapabilities = caps
		manifest.Command = command
		manifests = append(manifests, manifest)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "manifeststore: iterate manifests")
	}
	return manifests, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
