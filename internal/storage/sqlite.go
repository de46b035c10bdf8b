package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/san-kum/cadsim/internal/dynamo"
)

// SQLiteStore keeps records as JSON and snapshot states as msgpack blobs,
// one row per snapshot.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			record BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			experiment_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			simulation INTEGER NOT NULL,
			subset INTEGER NOT NULL,
			run INTEGER NOT NULL,
			substep INTEGER NOT NULL,
			timestep INTEGER NOT NULL,
			state BLOB NOT NULL,
			PRIMARY KEY (experiment_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sqlite store is not initialized")
	}
	return s.db, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec *ExperimentRecord, results []dynamo.Snapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	rec.Snapshots = len(results)

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO experiments (id, created_at, record)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			record = excluded.record
	`, rec.ID, rec.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"), payload); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE experiment_id = ?`, rec.ID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshots (experiment_id, seq, simulation, subset, run, substep, timestep, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, snap := range results {
		state, err := msgpack.Marshal(map[string]any(snap.State))
		if err != nil {
			return fmt.Errorf("encode snapshot %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, i,
			snap.Simulation, snap.Subset, snap.Run, snap.Substep, snap.Timestep, state); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) List(ctx context.Context) ([]ExperimentRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT record FROM experiments ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]ExperimentRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec ExperimentRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*ExperimentRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT record FROM experiments WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var rec ExperimentRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode experiment %s: %w", id, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) LoadResults(ctx context.Context, id string) ([]dynamo.Snapshot, error) {
	if _, err := s.Load(ctx, id); err != nil {
		return nil, err
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT simulation, subset, run, substep, timestep, state
		FROM snapshots WHERE experiment_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]dynamo.Snapshot, 0)
	for rows.Next() {
		var (
			snap  dynamo.Snapshot
			state []byte
		)
		if err := rows.Scan(&snap.Simulation, &snap.Subset, &snap.Run, &snap.Substep, &snap.Timestep, &state); err != nil {
			return nil, err
		}
		var m map[string]any
		if err := msgpack.Unmarshal(state, &m); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		snap.State = dynamo.State(dynamo.NormalizeMap(m))
		results = append(results, snap)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
