package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"reqline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const requestColumns = `id,public_ref,category,name,phone,city,description,status,claimant_id,claimant_name,resolution_note,created_at,updated_at,archived_at`

func scanRequest(scan func(dest ...any) error) (domain.Request, error) {
	var rq domain.Request
	var claimantID, claimantName, note, archivedAt sql.NullString
	err := scan(&rq.ID, &rq.PublicRef, &rq.Category, &rq.Name, &rq.Phone, &rq.City, &rq.Description,
		&rq.Status, &claimantID, &claimantName, &note, &rq.CreatedAt, &rq.UpdatedAt, &archivedAt)
	if err == sql.ErrNoRows {
		return rq, ErrNotFound
	}
	if err != nil {
		return rq, err
	}
	if claimantID.Valid {
		rq.ClaimantID = &claimantID.String
	}
	if claimantName.Valid {
		rq.ClaimantName = &claimantName.String
	}
	if note.Valid {
		rq.ResolutionNote = &note.String
	}
	if archivedAt.Valid {
		rq.ArchivedAt = &archivedAt.String
	}
	return rq, nil
}

func (r Repo) InsertRequestTx(ctx context.Context, tx *sql.Tx, rq domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(`+requestColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rq.ID, rq.PublicRef, rq.Category, rq.Name, rq.Phone, rq.City, rq.Description, rq.Status,
		nullableStringPtr(rq.ClaimantID), nullableStringPtr(rq.ClaimantName), nullableStringPtr(rq.ResolutionNote),
		rq.CreatedAt, rq.UpdatedAt, nullableStringPtr(rq.ArchivedAt))
	return err
}

// GetByPublicRef resolves a public reference to its live request. Refs of
// finished or reopened requests do not resolve; the caller sees ErrNotFound.
func (r Repo) GetByPublicRef(ctx context.Context, ref string) (domain.Request, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests
WHERE public_ref=? AND status IN ('PENDING','IN_PROGRESS')`, ref)
	return scanRequest(row.Scan)
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

// ClaimRequestTx performs the compare-and-swap that decides claim races:
// the UPDATE succeeds only while the row is still PENDING, so exactly one
// of any number of concurrent claimers wins.
func (r Repo) ClaimRequestTx(ctx context.Context, tx *sql.Tx, ref string, claimant domain.Identity, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE requests
SET status='IN_PROGRESS', claimant_id=?, claimant_name=?, updated_at=?
WHERE public_ref=? AND status='PENDING'`,
		claimant.ID, claimant.DisplayName, now, ref)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ResolveDoneTx marks the request done, conditional on the caller still
// holding the claim.
func (r Repo) ResolveDoneTx(ctx context.Context, tx *sql.Tx, id, claimantID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE requests
SET status='DONE', archived_at=?, updated_at=?
WHERE id=? AND status='IN_PROGRESS' AND claimant_id=?`,
		now, now, id, claimantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RepublishTx atomically swaps the public reference, resets the request to
// PENDING and clears the claimant. Conditional on the caller still holding
// the claim; the old reference stops resolving the moment this commits.
func (r Repo) RepublishTx(ctx context.Context, tx *sql.Tx, id, claimantID, newRef, note, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE requests
SET public_ref=?, status='PENDING', claimant_id=NULL, claimant_name=NULL, resolution_note=?, updated_at=?
WHERE id=? AND status='IN_PROGRESS' AND claimant_id=?`,
		newRef, nullable(note), now, id, claimantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetCategory is the administrative recategorize escape hatch.
func (r Repo) SetCategory(ctx context.Context, id, category, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE requests SET category=?, updated_at=? WHERE id=?`, category, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByClaimant returns the specialist's active work, newest first.
func (r Repo) ListByClaimant(ctx context.Context, claimantID string) ([]domain.Request, error) {
	return r.listRequests(ctx, `SELECT `+requestColumns+` FROM requests
WHERE claimant_id=? AND status='IN_PROGRESS' ORDER BY created_at DESC, id DESC`, claimantID)
}

type RequestFilters struct {
	Status          string
	Category        string
	ClaimantID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.ClaimantID != "" {
		clauses = append(clauses, "claimant_id=?")
		args = append(args, f.ClaimantID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.listRequests(ctx, query, args...)
}

func (r Repo) listRequests(ctx context.Context, query string, args ...any) ([]domain.Request, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		rq, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rq)
	}
	return res, rows.Err()
}

func (r Repo) CountRequestsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
