package model

import "time"

// VisitStatus is the moderation state of a visit.  Only pending is a valid
// source state for a transition; confirmed and rejected are terminal.
type VisitStatus string

const (
	VisitPending   VisitStatus = "pending"
	VisitConfirmed VisitStatus = "confirmed"
	VisitRejected  VisitStatus = "rejected"
)

// Terminal reports whether no further moderation may change the status.
func (s VisitStatus) Terminal() bool {
	return s == VisitConfirmed || s == VisitRejected
}

// Visit records one scan of a customer's loyalty card at a merchant.
//
// Fields:
//  ID            – visits.id (uuid).
//  MerchantID    – merchant the scan happened at.
//  LoyaltyCardID – card credited when the visit is confirmed.
//  CustomerID    – customer who scanned.
//  Status        – pending, confirmed or rejected.
//  VisitedAt     – scan time, immutable.
//  PointsEarned  – points credited on confirmation, immutable and positive.
//  FlaggedReason – why the quarantine gate held the visit (nullable).
//  ModeratedAt   – when a moderation action last changed the status (nullable).
type Visit struct {
	ID            string      `db:"id" json:"id"`
	MerchantID    string      `db:"merchant_id" json:"merchant_id"`
	LoyaltyCardID string      `db:"loyalty_card_id" json:"loyalty_card_id"`
	CustomerID    string      `db:"customer_id" json:"customer_id"`
	Status        VisitStatus `db:"status" json:"status"`
	VisitedAt     time.Time   `db:"visited_at" json:"visited_at"`
	PointsEarned  int         `db:"points_earned" json:"points_earned"`
	FlaggedReason *string     `db:"flagged_reason" json:"flagged_reason,omitempty"`
	ModeratedAt   *time.Time  `db:"moderated_at" json:"moderated_at,omitempty"`
}
