package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository"
	"github.com/Kusama13/qarte-saas-sub002/internal/tier"
)

// ErrRecipientGone is returned by a Notifier when the customer's endpoint
// no longer exists (HTTP 404/410 from a push service).  Pruning the dead
// subscription is the delivery service's job; the sweep only counts it.
var ErrRecipientGone = errors.New("recipient endpoint gone")

// Notification is one automation message to deliver.
type Notification struct {
	MerchantID    string
	CustomerID    string
	Type          model.AutomationType
	Reward        tier.State
	LastVisitDate *time.Time
}

// Notifier delivers a notification and reports per-recipient success.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AutomationConfig holds the eligibility and dedup windows.
type AutomationConfig struct {
	InactiveAfterDays   int
	RewardWaitDays      int
	RewardDedupWindow   time.Duration
	LogRetention        time.Duration
	MerchantConcurrency int
	LockWait            time.Duration
}

// DefaultAutomationConfig returns the production windows.
func DefaultAutomationConfig() AutomationConfig {
	return AutomationConfig{
		InactiveAfterDays:   30,
		RewardWaitDays:      7,
		RewardDedupWindow:   7 * 24 * time.Hour,
		LogRetention:        90 * 24 * time.Hour,
		MerchantConcurrency: 4,
		LockWait:            2 * time.Second,
	}
}

// MerchantCounts are the per-merchant counters of one sweep.  Skipped counts
// eligible customers blocked by the dedup log.
type MerchantCounts struct {
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Pruned  int    `json:"pruned"`
	Error   string `json:"error,omitempty"`
}

// SweepReport is the outcome of one automation sweep.
type SweepReport struct {
	RanAt     time.Time                  `json:"ran_at"`
	Merchants map[string]*MerchantCounts `json:"merchants"`
	Purged    int64                      `json:"purged"`
}

// Totals sums the counters over all merchants.
func (r SweepReport) Totals() MerchantCounts {
	var t MerchantCounts
	for _, c := range r.Merchants {
		t.Sent += c.Sent
		t.Failed += c.Failed
		t.Skipped += c.Skipped
		t.Pruned += c.Pruned
	}
	return t
}

// AutomationScheduler runs the daily reminder sweep.  It sends at most one
// notification per customer, merchant and automation type per dedup window
// by recording every successful send in the automation log.  The locker must
// hold its keys for as long as the holder runs (a KeyedMutex, or a renewing
// RedisLocker): the sweep lock spans the whole sweep and each recipient is
// claimed across its check, send and log insert.
type AutomationScheduler struct {
	merchants repository.MerchantRepository
	cards     repository.LoyaltyCardRepository
	logs      repository.AutomationLogRepository
	notifier  Notifier
	locker    Locker
	cfg       AutomationConfig
	log       *zap.Logger
	now       func() time.Time
}

func NewAutomationScheduler(
	merchants repository.MerchantRepository,
	cards repository.LoyaltyCardRepository,
	logs repository.AutomationLogRepository,
	notifier Notifier,
	locker Locker,
	cfg AutomationConfig,
	log *zap.Logger,
	now func() time.Time,
) *AutomationScheduler {
	def := DefaultAutomationConfig()
	if cfg.InactiveAfterDays <= 0 {
		cfg.InactiveAfterDays = def.InactiveAfterDays
	}
	if cfg.RewardWaitDays <= 0 {
		cfg.RewardWaitDays = def.RewardWaitDays
	}
	if cfg.RewardDedupWindow <= 0 {
		cfg.RewardDedupWindow = def.RewardDedupWindow
	}
	if cfg.LogRetention <= 0 {
		cfg.LogRetention = def.LogRetention
	}
	if cfg.MerchantConcurrency <= 0 {
		cfg.MerchantConcurrency = def.MerchantConcurrency
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = def.LockWait
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &AutomationScheduler{
		merchants: merchants,
		cards:     cards,
		logs:      logs,
		notifier:  notifier,
		locker:    locker,
		cfg:       cfg,
		log:       log,
		now:       now,
	}
}

// Sweep evaluates every card of every merchant with automations enabled.
// Merchants are processed in parallel; one merchant's failure is recorded in
// its counters and does not stop the others.  Running it twice on the same
// day sends nothing new.
func (a *AutomationScheduler) Sweep(ctx context.Context) (SweepReport, error) {
	lctx, cancel := context.WithTimeout(ctx, a.cfg.LockWait)
	unlock, err := a.locker.Lock(lctx, sweepLockKey)
	cancel()
	if err != nil {
		return SweepReport{}, ErrSweepRunning
	}
	defer unlock()

	now := a.now()
	report := SweepReport{RanAt: now.UTC(), Merchants: make(map[string]*MerchantCounts)}

	merchants, err := a.merchants.ListWithAutomations(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: list merchants: %v", ErrPersistence, err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MerchantConcurrency)
	for _, m := range merchants {
		m := m
		g.Go(func() error {
			counts := a.sweepMerchant(gctx, m, now)
			mu.Lock()
			report.Merchants[m.ID] = counts
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	purged, err := a.logs.PurgeBefore(ctx, now.Add(-a.cfg.LogRetention))
	if err != nil {
		a.log.Warn("automation log purge failed", zap.Error(err))
	}
	report.Purged = purged

	t := report.Totals()
	a.log.Info("automation sweep done",
		zap.Int("merchants", len(report.Merchants)),
		zap.Int("sent", t.Sent),
		zap.Int("failed", t.Failed),
		zap.Int("skipped", t.Skipped),
		zap.Int("pruned", t.Pruned),
		zap.Int64("purged", purged))
	return report, nil
}

func (a *AutomationScheduler) sweepMerchant(ctx context.Context, m model.Merchant, now time.Time) *MerchantCounts {
	counts := &MerchantCounts{}
	cards, err := a.cards.ListByMerchant(ctx, m.ID)
	if err != nil {
		a.log.Error("list cards failed", zap.String("merchant_id", m.ID), zap.Error(err))
		counts.Error = err.Error()
		return counts
	}
	loc := m.Location()
	for _, card := range cards {
		if ctx.Err() != nil {
			counts.Error = ctx.Err().Error()
			return counts
		}
		if m.InactiveReminderEnabled && a.inactive(card, now, loc) {
			a.deliver(ctx, m, card, model.AutomationInactiveReminder, StartOfDay(now, loc), counts)
		}
		if m.RewardReminderEnabled && a.rewardWaiting(card, m, now, loc) {
			a.deliver(ctx, m, card, model.AutomationRewardReminder, now.Add(-a.cfg.RewardDedupWindow), counts)
		}
	}
	return counts
}

// inactive reports whether the card's last confirmed visit is older than
// InactiveAfterDays, or whether it never had one.
func (a *AutomationScheduler) inactive(card model.LoyaltyCard, now time.Time, loc *time.Location) bool {
	if card.LastVisitDate == nil {
		return true
	}
	return daysSince(*card.LastVisitDate, now, loc) > a.cfg.InactiveAfterDays
}

// rewardWaiting approximates "tier 1 has been ready for RewardWaitDays" by a
// ready card whose last confirmed visit is at least that old.
func (a *AutomationScheduler) rewardWaiting(card model.LoyaltyCard, m model.Merchant, now time.Time, loc *time.Location) bool {
	if card.LastVisitDate == nil {
		return false
	}
	if !tier.Evaluate(tier.FromCard(card, m)).Tier1Ready {
		return false
	}
	return daysSince(*card.LastVisitDate, now, loc) >= a.cfg.RewardWaitDays
}

func (a *AutomationScheduler) deliver(ctx context.Context, m model.Merchant, card model.LoyaltyCard, typ model.AutomationType, since time.Time, counts *MerchantCounts) {
	fields := []zap.Field{
		zap.String("merchant_id", m.ID),
		zap.String("customer_id", card.CustomerID),
		zap.String("automation_type", string(typ)),
	}
	lctx, cancel := context.WithTimeout(ctx, a.cfg.LockWait)
	unlock, err := a.locker.Lock(lctx, recipientLockKey(m.ID, card.CustomerID, typ))
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Another sweep is delivering it.
			counts.Skipped++
			return
		}
		a.log.Error("recipient lock failed", append(fields, zap.Error(err))...)
		counts.Failed++
		return
	}
	defer unlock()

	sent, err := a.logs.ExistsSince(ctx, m.ID, card.CustomerID, typ, since)
	if err != nil {
		a.log.Error("dedup lookup failed", append(fields, zap.Error(err))...)
		counts.Failed++
		return
	}
	if sent {
		counts.Skipped++
		return
	}

	err = a.notifier.Notify(ctx, Notification{
		MerchantID:    m.ID,
		CustomerID:    card.CustomerID,
		Type:          typ,
		Reward:        tier.Evaluate(tier.FromCard(card, m)),
		LastVisitDate: card.LastVisitDate,
	})
	switch {
	case errors.Is(err, ErrRecipientGone):
		a.log.Info("recipient gone", fields...)
		counts.Pruned++
		return
	case err != nil:
		a.log.Warn("automation delivery failed", append(fields, zap.Error(err))...)
		counts.Failed++
		return
	}

	entry := model.AutomationLog{
		ID:             uuid.NewString(),
		MerchantID:     m.ID,
		CustomerID:     card.CustomerID,
		AutomationType: typ,
		SentAt:         a.now().UTC(),
	}
	if err := a.logs.Insert(ctx, &entry); err != nil {
		// Delivered but unrecorded: the next run may send it again.
		a.log.Error("automation log insert failed", append(fields, zap.Error(err))...)
	}
	counts.Sent++
}

func recipientLockKey(merchantID, customerID string, typ model.AutomationType) string {
	return "lock:automation:" + string(typ) + ":" + merchantID + ":" + customerID
}

// daysSince counts whole calendar days between the stored date t and today
// in loc.  t is a CalendarDate already taken in loc, so only its Y-M-D is
// used.
func daysSince(t, now time.Time, loc *time.Location) int {
	y, m, d := t.UTC().Date()
	then := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ny, nm, nd := now.In(loc).Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(today.Sub(then).Hours() / 24)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }
