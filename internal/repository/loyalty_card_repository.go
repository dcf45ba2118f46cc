package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
)

const cardColumns = `id, merchant_id, customer_id, current_stamps, tier1_redeemed, last_visit_date, created_at`

// LoyaltyCardRepo is the MySQL implementation of LoyaltyCardRepository.
type LoyaltyCardRepo struct {
	db *sqlx.DB
}

// NewLoyaltyCardRepo returns a LoyaltyCardRepo bound to db.
func NewLoyaltyCardRepo(db *sqlx.DB) *LoyaltyCardRepo { return &LoyaltyCardRepo{db: db} }

// Create inserts a card.  A duplicate (merchant_id, customer_id) pair is
// reported as ErrConflict.
func (r *LoyaltyCardRepo) Create(ctx context.Context, c *model.LoyaltyCard) error {
	const q = `INSERT INTO loyalty_cards (` + cardColumns + `)
	           VALUES (:id, :merchant_id, :customer_id, :current_stamps, :tier1_redeemed, :last_visit_date, :created_at)`
	_, err := r.db.NamedExecContext(ctx, q, c)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return ErrConflict
	}
	return err
}

func (r *LoyaltyCardRepo) GetByID(ctx context.Context, id string) (model.LoyaltyCard, error) {
	var c model.LoyaltyCard
	err := r.db.GetContext(ctx, &c, `SELECT `+cardColumns+` FROM loyalty_cards WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (r *LoyaltyCardRepo) GetByMerchantCustomer(ctx context.Context, merchantID, customerID string) (model.LoyaltyCard, error) {
	var c model.LoyaltyCard
	err := r.db.GetContext(ctx, &c,
		`SELECT `+cardColumns+` FROM loyalty_cards WHERE merchant_id = ? AND customer_id = ?`,
		merchantID, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (r *LoyaltyCardRepo) ListByMerchant(ctx context.Context, merchantID string) ([]model.LoyaltyCard, error) {
	cards := make([]model.LoyaltyCard, 0)
	err := r.db.SelectContext(ctx, &cards,
		`SELECT `+cardColumns+` FROM loyalty_cards WHERE merchant_id = ? ORDER BY created_at`, merchantID)
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// IncrementStamps lets MySQL apply the addition itself, so concurrent
// increments on the same row cannot overwrite each other.
func (r *LoyaltyCardRepo) IncrementStamps(ctx context.Context, id string, delta int, visitDate time.Time) error {
	day := visitDate.UTC().Format("2006-01-02")
	res, err := r.db.ExecContext(ctx,
		`UPDATE loyalty_cards
		    SET current_stamps = current_stamps + ?,
		        last_visit_date = GREATEST(COALESCE(last_visit_date, ?), ?)
		  WHERE id = ?`,
		delta, day, day, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *LoyaltyCardRepo) MarkTier1Redeemed(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE loyalty_cards SET tier1_redeemed = TRUE WHERE id = ? AND tier1_redeemed = FALSE`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
