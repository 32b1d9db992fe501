package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
)

// filterRepo implements filter rule storage
type filterRepo struct {
	db *sql.DB
}

// NewFilterRepo creates a new filter repository
func NewFilterRepo(db *sql.DB) repo.FilterRepo {
	return &filterRepo{db: db}
}

// AddFilter adds a rule, returning the stored rule
func (r *filterRepo) AddFilter(ctx context.Context, kind domain.FilterKind, value string) (*domain.Filter, error) {
	value = strings.TrimSpace(value)
	if !kind.Valid() || value == "" {
		return nil, fmt.Errorf("%w: kind=%q value=%q", domain.ErrInvalidFilter, kind, value)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO filters (kind, value, created_at) VALUES (?, ?, ?)
	`, string(kind), value, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to add filter: %w", err)
	}

	var f domain.Filter
	var createdAt int64
	err = r.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM filters WHERE kind = ? AND value = ?
	`, string(kind), value).Scan(&f.ID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter: %w", err)
	}
	f.Kind = kind
	f.Value = value
	f.CreatedAt = fromMillis(createdAt)
	return &f, nil
}

// RemoveFilter removes a rule
func (r *filterRepo) RemoveFilter(ctx context.Context, kind domain.FilterKind, value string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM filters WHERE kind = ? AND value = ?`,
		string(kind), strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("failed to remove filter: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListFilters lists all rules
func (r *filterRepo) ListFilters(ctx context.Context) ([]domain.Filter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, kind, value, created_at FROM filters ORDER BY kind, value`)
	if err != nil {
		return nil, fmt.Errorf("failed to list filters: %w", err)
	}
	defer rows.Close()

	var filters []domain.Filter
	for rows.Next() {
		var f domain.Filter
		var kind string
		var createdAt int64
		if err := rows.Scan(&f.ID, &kind, &f.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan filter: %w", err)
		}
		f.Kind = domain.FilterKind(kind)
		f.CreatedAt = fromMillis(createdAt)
		filters = append(filters, f)
	}
	return filters, rows.Err()
}
