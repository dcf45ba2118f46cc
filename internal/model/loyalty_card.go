package model

import "time"

// LoyaltyCard is the running stamp balance of one customer at one merchant.
// CurrentStamps always equals the sum of PointsEarned over the card's
// confirmed visits.  Tier1Redeemed only ever moves from false to true.
type LoyaltyCard struct {
	ID            string     `db:"id" json:"id"`
	MerchantID    string     `db:"merchant_id" json:"merchant_id"`
	CustomerID    string     `db:"customer_id" json:"customer_id"`
	CurrentStamps int        `db:"current_stamps" json:"current_stamps"`
	Tier1Redeemed bool       `db:"tier1_redeemed" json:"tier1_redeemed"`
	LastVisitDate *time.Time `db:"last_visit_date" json:"last_visit_date,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
