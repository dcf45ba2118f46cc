package model

import "time"

// AutomationType names a recurring customer notification.
type AutomationType string

const (
	AutomationInactiveReminder AutomationType = "inactive_reminder"
	AutomationRewardReminder   AutomationType = "reward_reminder"
)

// AutomationLog records one successful automation send.  Rows are append
// only; their presence inside a type-specific window blocks a repeat send.
type AutomationLog struct {
	ID             string         `db:"id" json:"id"`
	MerchantID     string         `db:"merchant_id" json:"merchant_id"`
	CustomerID     string         `db:"customer_id" json:"customer_id"`
	AutomationType AutomationType `db:"automation_type" json:"automation_type"`
	SentAt         time.Time      `db:"sent_at" json:"sent_at"`
}
