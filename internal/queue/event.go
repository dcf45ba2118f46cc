// Package queue defines the message payloads exchanged over RabbitMQ and the
// publisher and consumer that move them.
package queue

// VisitModeratedQueue carries one message per moderation decision.
const VisitModeratedQueue = "visit.moderated"

// AutomationQueue carries customer notifications for the delivery service.
const AutomationQueue = "automation.notifications"

// VisitModeratedEvent is published after a visit left the pending state.  It
// holds enough for audit logging and downstream notifications without a
// database round trip.
type VisitModeratedEvent struct {
	VisitID        string `json:"visit_id"`
	MerchantID     string `json:"merchant_id"`
	CustomerID     string `json:"customer_id"`
	LoyaltyCardID  string `json:"loyalty_card_id"`
	Action         string `json:"action"`
	Status         string `json:"status"`
	PointsEarned   int    `json:"points_earned"`
	CurrentStamps  int    `json:"current_stamps,omitempty"`
	Tier1Ready     bool   `json:"tier1_ready"`
	Tier2Ready     bool   `json:"tier2_ready"`
	RewardUnlocked bool   `json:"reward_unlocked"`
	Bulk           bool   `json:"bulk"`
	ModeratedAt    string `json:"moderated_at"`
}

// AutomationMessage asks the delivery service to notify one customer.
type AutomationMessage struct {
	MerchantID     string `json:"merchant_id"`
	CustomerID     string `json:"customer_id"`
	AutomationType string `json:"automation_type"`
	CurrentStamps  int    `json:"current_stamps"`
	StampsRequired int    `json:"stamps_required"`
	LastVisitDate  string `json:"last_visit_date,omitempty"`
	RequestedAt    string `json:"requested_at"`
}
