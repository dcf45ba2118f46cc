package repository

import (
	"context"
	"time"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
)

// VisitRepository stores scan events.  Visits are never deleted.
type VisitRepository interface {
	Create(ctx context.Context, v *model.Visit) error
	GetByID(ctx context.Context, id string) (model.Visit, error)
	ListByMerchant(ctx context.Context, merchantID string, status model.VisitStatus, limit int) ([]model.Visit, error)
	CountByMerchant(ctx context.Context, merchantID string, status model.VisitStatus) (int, error)

	// ClaimPending atomically moves the visits among ids that belong to
	// merchantID and are still pending to status `to`, and returns exactly
	// the visits it moved.  Ids that were missing, foreign or already
	// moderated are left untouched and absent from the result.
	ClaimPending(ctx context.Context, merchantID string, ids []string, to model.VisitStatus, at time.Time) ([]model.Visit, error)

	// RevertToPending undoes a ClaimPending for ids still in status `from`.
	RevertToPending(ctx context.Context, ids []string, from model.VisitStatus) error

	// FlagPending moves a single confirmed visit back into the moderation
	// queue with a reason.
	FlagPending(ctx context.Context, id string, reason string) error

	// CountConfirmedSince counts confirmed visits on a card at or after since.
	CountConfirmedSince(ctx context.Context, cardID string, since time.Time) (int, error)
}

// LoyaltyCardRepository stores per-customer stamp balances.
type LoyaltyCardRepository interface {
	Create(ctx context.Context, c *model.LoyaltyCard) error
	GetByID(ctx context.Context, id string) (model.LoyaltyCard, error)
	GetByMerchantCustomer(ctx context.Context, merchantID, customerID string) (model.LoyaltyCard, error)
	ListByMerchant(ctx context.Context, merchantID string) ([]model.LoyaltyCard, error)

	// IncrementStamps adds delta to current_stamps as a single atomic
	// statement and advances last_visit_date to visitDate when later.
	IncrementStamps(ctx context.Context, id string, delta int, visitDate time.Time) error

	// MarkTier1Redeemed sets tier1_redeemed and reports whether it changed.
	MarkTier1Redeemed(ctx context.Context, id string) (bool, error)
}

// MerchantRepository reads loyalty program configuration.
type MerchantRepository interface {
	GetByID(ctx context.Context, id string) (model.Merchant, error)
	ListWithAutomations(ctx context.Context) ([]model.Merchant, error)
}

// AutomationLogRepository stores the dedup records of automation sends.
type AutomationLogRepository interface {
	Insert(ctx context.Context, l *model.AutomationLog) error
	ExistsSince(ctx context.Context, merchantID, customerID string, typ model.AutomationType, since time.Time) (bool, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
