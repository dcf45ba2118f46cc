package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/queue"
	"github.com/Kusama13/qarte-saas-sub002/internal/tier"
)

type capturePublisher struct {
	msgs []queue.AutomationMessage
}

func (p *capturePublisher) PublishAutomation(_ context.Context, msg queue.AutomationMessage) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestBrokerNotifierMapsNotification(t *testing.T) {
	pub := &capturePublisher{}
	n := NewBrokerNotifier(pub)
	n.now = func() time.Time { return testNow }
	last := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	err := n.Notify(context.Background(), Notification{
		MerchantID:    "m1",
		CustomerID:    "alice",
		Type:          model.AutomationRewardReminder,
		Reward:        tier.State{CurrentStamps: 6, StampsRequired: 5},
		LastVisitDate: &last,
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, queue.AutomationMessage{
		MerchantID:     "m1",
		CustomerID:     "alice",
		AutomationType: "reward_reminder",
		CurrentStamps:  6,
		StampsRequired: 5,
		LastVisitDate:  "2026-02-01",
		RequestedAt:    "2026-03-10T15:00:00Z",
	}, pub.msgs[0])
}
