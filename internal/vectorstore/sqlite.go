package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dshills/repoqa/pkg/types"
)

// KindSQLite names the file-backed backend.
const KindSQLite = "sqlite"

// SQLite is a Store persisted in a SQLite database file. Queries scan the
// namespace and rank by L2 distance, reported as 1/(1+d).
type SQLite struct {
	db         *sql.DB
	collection string
}

func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// NewSQLite opens (creating if needed) the database at path and applies
// migrations. collection partitions rows between indexes sharing a file.
func NewSQLite(ctx context.Context, path, collection string) (*SQLite, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", types.ErrBackendUnavailable, path, err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate %s: %w", types.ErrBackendUnavailable, path, err)
	}
	return &SQLite{db: db, collection: collection}, nil
}

func (s *SQLite) Kind() string { return KindSQLite }

// Upsert writes items in one transaction.
func (s *SQLite) Upsert(ctx context.Context, namespace string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: sqlite begin: %w", types.ErrBackendUnavailable, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO vectors (collection, namespace, id, dim, vector, metadata, updated_at)
VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(collection, namespace, id) DO UPDATE SET
    dim = excluded.dim,
    vector = excluded.vector,
    metadata = excluded.metadata,
    updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: sqlite prepare: %w", types.ErrBackendUnavailable, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, it := range items {
		meta, err := json.Marshal(it.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal metadata for %s: %w", it.ID, err)
		}
		if it.Metadata == nil {
			meta = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, s.collection, namespace, it.ID, len(it.Vector), serializeVector(it.Vector), string(meta)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: sqlite upsert %s: %w", types.ErrBackendUnavailable, it.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: sqlite commit: %w", types.ErrBackendUnavailable, err)
	}
	return nil
}

// Query ranks namespace vectors of matching dimension by L2 distance.
func (s *SQLite) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	return s.QueryFiltered(ctx, namespace, vector, topK, nil)
}

// QueryFiltered is Query restricted to rows whose metadata matches filter.
// Metadata is stored as JSON, so the filter is applied after decoding.
func (s *SQLite) QueryFiltered(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, vector, metadata FROM vectors WHERE collection = ? AND namespace = ? AND dim = ?",
		s.collection, namespace, len(vector))
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite query: %w", types.ErrBackendUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Match
	for rows.Next() {
		var (
			id   string
			blob []byte
			raw  string
		)
		if err := rows.Scan(&id, &blob, &raw); err != nil {
			return nil, fmt.Errorf("%w: sqlite scan: %w", types.ErrBackendUnavailable, err)
		}
		var meta map[string]string
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
		if !filter.Matches(meta) {
			continue
		}
		d := L2Distance(vector, deserializeVector(blob))
		out = append(out, Match{ID: id, Score: DistanceToSimilarity(d), Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sqlite rows: %w", types.ErrBackendUnavailable, err)
	}
	sortMatches(out)
	return limit(out, topK), nil
}

// Count returns the number of vectors stored in namespace.
func (s *SQLite) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vectors WHERE collection = ? AND namespace = ?",
		s.collection, namespace).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error { return s.db.Close() }

// serializeVector encodes v as little-endian float32s.
func serializeVector(v []float32) []byte {
	blob := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(x))
	}
	return blob
}

func deserializeVector(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}
