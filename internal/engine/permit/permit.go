// Package permit answers whether a specialist may claim requests in a
// category, straight off the roster tables. Results are never cached: the
// admin surface may change grants at any time and the check must see them.
package permit

import (
	"context"
	"database/sql"
)

// Service provides roster-backed permission checks.
type Service struct {
	DB *sql.DB
}

// CanServe reports whether the specialist is active and granted the category.
func (s Service) CanServe(ctx context.Context, specialistID, category string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT 1 FROM specialists sp
JOIN specialist_categories sc ON sc.specialist_id = sp.id
WHERE sp.id=? AND sp.active=1 AND sc.category=? LIMIT 1`,
		specialistID, category)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Categories returns the categories granted to an active specialist.
func (s Service) Categories(ctx context.Context, specialistID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT sc.category FROM specialists sp
JOIN specialist_categories sc ON sc.specialist_id = sp.id
WHERE sp.id=? AND sp.active=1 ORDER BY sc.category`, specialistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}
