package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"boardsync/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based board store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	boardTableStmt := `
	CREATE TABLE IF NOT EXISTS boards (
		project_id TEXT PRIMARY KEY,
		snapshot BLOB,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(boardTableStmt); err != nil {
		log.Fatalf("failed to create boards table: %v", err)
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) GetOrCreate(ctx context.Context, projectID string) (*core.BoardRecord, error) {
	record, err := s.get(ctx, projectID)
	if err == nil {
		return record, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}

	now := time.Now().UTC()
	blank, err := json.Marshal(core.Snapshot{})
	if err != nil {
		return nil, err
	}
	// OR IGNORE keeps the first writer's row when two clients race the
	// initial fetch.
	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO boards (project_id, snapshot, created_at, updated_at) VALUES (?, ?, ?, ?)",
		projectID, blank, now, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	logrus.WithField("project_id", projectID).Info("Board created")

	record, err = s.get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return record, nil
}

func (s *sqliteStore) get(ctx context.Context, projectID string) (*core.BoardRecord, error) {
	var (
		raw       []byte
		createdAt time.Time
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot, created_at, updated_at FROM boards WHERE project_id = ?",
		projectID).Scan(&raw, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	snapshot, recovered := core.ParseSnapshot(raw)
	if recovered {
		logrus.WithField("project_id", projectID).Warn("Stored snapshot has an unrecognized format, loading blank board")
	}

	return &core.BoardRecord{
		ProjectID: projectID,
		Snapshot:  snapshot,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Recovered: recovered,
	}, nil
}

func (s *sqliteStore) Save(ctx context.Context, projectID string, snapshot core.Snapshot) (*core.BoardRecord, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO boards (project_id, snapshot, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		projectID, raw, now, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}

	return s.get(ctx, projectID)
}
