package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
)

const visitColumns = `id, merchant_id, loyalty_card_id, customer_id, status, visited_at, points_earned, flagged_reason, moderated_at`

// VisitRepo is the MySQL implementation of VisitRepository.  All timestamps
// are stored in UTC.
type VisitRepo struct {
	db *sqlx.DB
}

// NewVisitRepo returns a VisitRepo bound to db.
func NewVisitRepo(db *sqlx.DB) *VisitRepo { return &VisitRepo{db: db} }

// Create inserts v.  The ID must already be set by the caller.
func (r *VisitRepo) Create(ctx context.Context, v *model.Visit) error {
	const q = `INSERT INTO visits (` + visitColumns + `)
	           VALUES (:id, :merchant_id, :loyalty_card_id, :customer_id, :status, :visited_at, :points_earned, :flagged_reason, :moderated_at)`
	_, err := r.db.NamedExecContext(ctx, q, v)
	return err
}

// GetByID returns the visit or ErrNotFound.
func (r *VisitRepo) GetByID(ctx context.Context, id string) (model.Visit, error) {
	var v model.Visit
	err := r.db.GetContext(ctx, &v, `SELECT `+visitColumns+` FROM visits WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	return v, err
}

// ListByMerchant returns the merchant's visits with the given status,
// oldest first so the moderation queue is worked in scan order.
func (r *VisitRepo) ListByMerchant(ctx context.Context, merchantID string, status model.VisitStatus, limit int) ([]model.Visit, error) {
	q := `SELECT ` + visitColumns + ` FROM visits WHERE merchant_id = ? AND status = ? ORDER BY visited_at ASC`
	args := []interface{}{merchantID, status}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	visits := make([]model.Visit, 0)
	if err := r.db.SelectContext(ctx, &visits, q, args...); err != nil {
		return nil, err
	}
	return visits, nil
}

// CountByMerchant counts the merchant's visits with the given status.
func (r *VisitRepo) CountByMerchant(ctx context.Context, merchantID string, status model.VisitStatus) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM visits WHERE merchant_id = ? AND status = ?`, merchantID, status)
	return n, err
}

// ClaimPending locks the matching pending rows with SELECT ... FOR UPDATE and
// moves them to `to` inside one transaction, so two moderators racing on the
// same visit cannot both claim it.
func (r *VisitRepo) ClaimPending(ctx context.Context, merchantID string, ids []string, to model.VisitStatus, at time.Time) ([]model.Visit, error) {
	if len(ids) == 0 {
		return []model.Visit{}, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q, args, err := sqlx.In(`SELECT `+visitColumns+` FROM visits
	                         WHERE id IN (?) AND merchant_id = ? AND status = ? FOR UPDATE`,
		ids, merchantID, model.VisitPending)
	if err != nil {
		return nil, err
	}
	claimed := make([]model.Visit, 0, len(ids))
	if err := tx.SelectContext(ctx, &claimed, tx.Rebind(q), args...); err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return claimed, nil
	}

	matched := make([]string, len(claimed))
	for i, v := range claimed {
		matched[i] = v.ID
	}
	upd, args, err := sqlx.In(`UPDATE visits SET status = ?, moderated_at = ? WHERE id IN (?)`, to, at.UTC(), matched)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(upd), args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	ts := at.UTC()
	for i := range claimed {
		claimed[i].Status = to
		claimed[i].ModeratedAt = &ts
	}
	return claimed, nil
}

// RevertToPending restores pending status for ids currently in `from`.
func (r *VisitRepo) RevertToPending(ctx context.Context, ids []string, from model.VisitStatus) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`UPDATE visits SET status = ?, moderated_at = NULL WHERE id IN (?) AND status = ?`,
		model.VisitPending, ids, from)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	return err
}

// FlagPending moves a confirmed visit back to pending with a reason.
func (r *VisitRepo) FlagPending(ctx context.Context, id string, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE visits SET status = ?, flagged_reason = ?, moderated_at = NULL WHERE id = ? AND status = ?`,
		model.VisitPending, reason, id, model.VisitConfirmed)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountConfirmedSince counts confirmed visits for cardID since the given time.
func (r *VisitRepo) CountConfirmedSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM visits WHERE loyalty_card_id = ? AND status = ? AND visited_at >= ?`,
		cardID, model.VisitConfirmed, since.UTC())
	return n, err
}
