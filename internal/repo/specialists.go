package repo

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"reqline/internal/domain"
)

// UpsertSpecialist creates a roster entry or refreshes its display name.
func (r Repo) UpsertSpecialist(ctx context.Context, id, displayName string) (domain.Specialist, error) {
	if id == "" {
		return domain.Specialist{}, errors.New("specialist id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO specialists(id, display_name, active, created_at, updated_at)
VALUES (?,?,1,?,?)
ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, updated_at=excluded.updated_at`,
		id, displayName, now, now)
	if err != nil {
		return domain.Specialist{}, err
	}
	return r.GetSpecialist(ctx, id)
}

func (r Repo) GetSpecialist(ctx context.Context, id string) (domain.Specialist, error) {
	var s domain.Specialist
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id, display_name, active, created_at, updated_at FROM specialists WHERE id=?`, id).
		Scan(&s.ID, &s.DisplayName, &active, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Active = active != 0
	s.Categories, err = r.SpecialistCategories(ctx, id)
	return s, err
}

func (r Repo) SetSpecialistActive(ctx context.Context, id string, active bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	val := 0
	if active {
		val = 1
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE specialists SET active=?, updated_at=? WHERE id=?`, val, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSpecialistCategories replaces the specialist's category grants.
func (r Repo) SetSpecialistCategories(ctx context.Context, id string, categories []string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM specialists WHERE id=?`, id).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM specialist_categories WHERE specialist_id=?`, id); err != nil {
		return err
	}
	for _, cat := range categories {
		if cat == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO specialist_categories(specialist_id, category) VALUES (?,?)`, id, cat); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) SpecialistCategories(ctx context.Context, id string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT category FROM specialist_categories WHERE specialist_id=?`, id)
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
	sort.Strings(cats)
	return cats, rows.Err()
}

func (r Repo) ListSpecialists(ctx context.Context) ([]domain.Specialist, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, display_name, active, created_at, updated_at FROM specialists ORDER BY display_name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Specialist
	for rows.Next() {
		var s domain.Specialist
		var active int
		if err := rows.Scan(&s.ID, &s.DisplayName, &active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Active = active != 0
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		cats, err := r.SpecialistCategories(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Categories = cats
	}
	return res, nil
}

func (r Repo) DeleteSpecialist(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM specialists WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
