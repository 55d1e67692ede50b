package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"photobooth/internal/domain"
)

// SQLiteIndex persists the index in a SQLite database migrated by
// infra.OpenSQLite.
type SQLiteIndex struct {
	db *sql.DB
}

func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

const sqliteColumns = `id, remote_url, file_name, local_url, size_bytes, created_at`

func (s *SQLiteIndex) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM artifacts WHERE id = ?`, id)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, domain.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("artifact: sqlite get: %w", err)
	}
	return rec, nil
}

func (s *SQLiteIndex) PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.RemoteURL, rec.FileName, rec.LocalURL, rec.SizeBytes, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Record{}, false, fmt.Errorf("artifact: sqlite insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, fmt.Errorf("artifact: sqlite insert: %w", err)
	}
	if n == 1 {
		return rec, true, nil
	}
	existing, err := s.Get(ctx, rec.ID)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

func (s *SQLiteIndex) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("artifact: sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM artifacts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("artifact: sqlite list: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("artifact: sqlite scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (Record, error) {
	var (
		rec     Record
		created int64
	)
	if err := row.Scan(&rec.ID, &rec.RemoteURL, &rec.FileName, &rec.LocalURL, &rec.SizeBytes, &created); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec, nil
}

var _ Index = (*SQLiteIndex)(nil)
