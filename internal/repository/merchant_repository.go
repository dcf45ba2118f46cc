package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
)

const merchantColumns = `id, owner_user_id, stamps_required, tier2_enabled, tier2_stamps_required,
	daily_visit_cap, timezone, inactive_reminder_enabled, reward_reminder_enabled`

// MerchantRepo reads merchant loyalty configuration from MySQL.
type MerchantRepo struct {
	db *sqlx.DB
}

func NewMerchantRepo(db *sqlx.DB) *MerchantRepo { return &MerchantRepo{db: db} }

func (r *MerchantRepo) GetByID(ctx context.Context, id string) (model.Merchant, error) {
	var m model.Merchant
	err := r.db.GetContext(ctx, &m, `SELECT `+merchantColumns+` FROM merchants WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

// ListWithAutomations returns merchants that enabled at least one automation.
func (r *MerchantRepo) ListWithAutomations(ctx context.Context) ([]model.Merchant, error) {
	merchants := make([]model.Merchant, 0)
	err := r.db.SelectContext(ctx, &merchants,
		`SELECT `+merchantColumns+` FROM merchants
		  WHERE inactive_reminder_enabled = TRUE OR reward_reminder_enabled = TRUE`)
	if err != nil {
		return nil, err
	}
	return merchants, nil
}
