package model

import "time"

// Merchant holds the loyalty program configuration of a shop.  The core
// never writes it.
type Merchant struct {
	ID                      string `db:"id" json:"id"`
	OwnerUserID             string `db:"owner_user_id" json:"-"`
	StampsRequired          int    `db:"stamps_required" json:"stamps_required"`
	Tier2Enabled            bool   `db:"tier2_enabled" json:"tier2_enabled"`
	Tier2StampsRequired     *int   `db:"tier2_stamps_required" json:"tier2_stamps_required,omitempty"`
	DailyVisitCap           int    `db:"daily_visit_cap" json:"daily_visit_cap"`
	Timezone                string `db:"timezone" json:"timezone"`
	InactiveReminderEnabled bool   `db:"inactive_reminder_enabled" json:"inactive_reminder_enabled"`
	RewardReminderEnabled   bool   `db:"reward_reminder_enabled" json:"reward_reminder_enabled"`
}

// Location resolves the merchant's timezone, falling back to UTC when the
// name is empty or unknown.
func (m Merchant) Location() *time.Location {
	if m.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
