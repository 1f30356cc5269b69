package repo

import (
	"context"
	"database/sql"

	"reqline/internal/domain"
)

// InsertCancellationTx appends one entry to a request's cancel history.
// History is append-only across reopen cycles; nothing here is ever
// overwritten or cleared.
func (r Repo) InsertCancellationTx(ctx context.Context, tx *sql.Tx, c domain.Cancellation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cancellations(request_id, claimant_id, claimant_name, note, created_at)
VALUES (?,?,?,?,?)`,
		c.RequestID, c.ClaimantID, c.ClaimantName, c.Note, c.CreatedAt)
	return err
}

// ListCancellations returns a request's cancel history, oldest first.
func (r Repo) ListCancellations(ctx context.Context, requestID string) ([]domain.Cancellation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, request_id, claimant_id, claimant_name, note, created_at
FROM cancellations WHERE request_id=? ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Cancellation
	for rows.Next() {
		var c domain.Cancellation
		if err := rows.Scan(&c.ID, &c.RequestID, &c.ClaimantID, &c.ClaimantName, &c.Note, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
