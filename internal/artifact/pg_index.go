package artifact

import (
	"context"
	"fmt"

	"photobooth/internal/domain"
	"photobooth/internal/infra"
	"photobooth/internal/sqlinline"
)

// PostgresIndex stores the index in Postgres through the marked-query runner.
type PostgresIndex struct {
	sql infra.SQLExecutor
}

func NewPostgresIndex(sql infra.SQLExecutor) *PostgresIndex {
	return &PostgresIndex{sql: sql}
}

func (p *PostgresIndex) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := p.sql.QueryRow(ctx, sqlinline.QSelectArtifactByID, id).
		Scan(&rec.ID, &rec.RemoteURL, &rec.FileName, &rec.LocalURL, &rec.SizeBytes, &rec.CreatedAt)
	if infra.IsNoRows(err) {
		return Record{}, domain.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("artifact: pg get: %w", err)
	}
	return rec, nil
}

func (p *PostgresIndex) PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	var (
		stored   Record
		inserted bool
	)
	err := p.sql.QueryRow(ctx, sqlinline.QInsertArtifactIfAbsent,
		rec.ID, rec.RemoteURL, rec.FileName, rec.LocalURL, rec.SizeBytes, rec.CreatedAt,
	).Scan(&stored.ID, &stored.RemoteURL, &stored.FileName, &stored.LocalURL, &stored.SizeBytes, &stored.CreatedAt, &inserted)
	if infra.IsNoRows(err) {
		// A concurrent insert committed after this statement's snapshot.
		existing, getErr := p.Get(ctx, rec.ID)
		return existing, false, getErr
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("artifact: pg insert: %w", err)
	}
	return stored, inserted, nil
}

func (p *PostgresIndex) Delete(ctx context.Context, id string) error {
	if _, err := p.sql.Exec(ctx, sqlinline.QDeleteArtifact, id); err != nil {
		return fmt.Errorf("artifact: pg delete: %w", err)
	}
	return nil
}

func (p *PostgresIndex) List(ctx context.Context) ([]Record, error) {
	rows, err := p.sql.Query(ctx, sqlinline.QListArtifacts)
	if err != nil {
		return nil, fmt.Errorf("artifact: pg list: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.RemoteURL, &rec.FileName, &rec.LocalURL, &rec.SizeBytes, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("artifact: pg scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ Index = (*PostgresIndex)(nil)
