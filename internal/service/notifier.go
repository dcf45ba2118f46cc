package service

import (
	"context"
	"time"

	"github.com/Kusama13/qarte-saas-sub002/internal/queue"
)

// AutomationPublisher hands automation messages to the delivery service.
type AutomationPublisher interface {
	PublishAutomation(ctx context.Context, msg queue.AutomationMessage) error
}

// BrokerNotifier delivers notifications by publishing them to the broker.
// A broker ack counts as delivered.
type BrokerNotifier struct {
	pub AutomationPublisher
	now func() time.Time
}

func NewBrokerNotifier(pub AutomationPublisher) *BrokerNotifier {
	return &BrokerNotifier{pub: pub, now: time.Now}
}

// Notify implements Notifier.
func (n *BrokerNotifier) Notify(ctx context.Context, note Notification) error {
	msg := queue.AutomationMessage{
		MerchantID:     note.MerchantID,
		CustomerID:     note.CustomerID,
		AutomationType: string(note.Type),
		CurrentStamps:  note.Reward.CurrentStamps,
		StampsRequired: note.Reward.StampsRequired,
		RequestedAt:    n.now().UTC().Format(time.RFC3339),
	}
	if note.LastVisitDate != nil {
		msg.LastVisitDate = note.LastVisitDate.Format("2006-01-02")
	}
	return n.pub.PublishAutomation(ctx, msg)
}
