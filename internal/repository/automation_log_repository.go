package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
)

// AutomationLogRepo is the MySQL implementation of AutomationLogRepository.
// Rows are only ever inserted or purged.
type AutomationLogRepo struct {
	db *sqlx.DB
}

func NewAutomationLogRepo(db *sqlx.DB) *AutomationLogRepo { return &AutomationLogRepo{db: db} }

func (r *AutomationLogRepo) Insert(ctx context.Context, l *model.AutomationLog) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO automation_logs (id, merchant_id, customer_id, automation_type, sent_at)
		 VALUES (:id, :merchant_id, :customer_id, :automation_type, :sent_at)`, l)
	return err
}

func (r *AutomationLogRepo) ExistsSince(ctx context.Context, merchantID, customerID string, typ model.AutomationType, since time.Time) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM automation_logs
		                WHERE merchant_id = ? AND customer_id = ? AND automation_type = ? AND sent_at >= ?)`,
		merchantID, customerID, typ, since.UTC())
	return exists, err
}

// PurgeBefore deletes rows sent before cutoff and returns how many went.
func (r *AutomationLogRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM automation_logs WHERE sent_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
