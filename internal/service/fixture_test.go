package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/queue"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository/memory"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.VisitModeratedEvent
}

func (p *recordingPublisher) PublishVisitModerated(_ context.Context, ev queue.VisitModeratedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []queue.VisitModeratedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.VisitModeratedEvent(nil), p.events...)
}

type fixture struct {
	store  *memory.Store
	clock  *testClock
	events *recordingPublisher
	ledger *Ledger
	visits *VisitService
	cards  *CardService
}

func newFixture(t *testing.T, opts VisitOptions) *fixture {
	t.Helper()
	st := memory.New()
	clock := &testClock{t: testNow}
	events := &recordingPublisher{}
	locker := NewKeyedMutex()
	ledger := NewLedger(st.Cards(), locker, nil)
	opts.Now = clock.Now
	return &fixture{
		store:  st,
		clock:  clock,
		events: events,
		ledger: ledger,
		visits: NewVisitService(st.Visits(), st.Cards(), st.Merchants(), ledger, locker, events, nil, opts),
		cards:  NewCardService(st.Cards(), st.Merchants(), locker, nil),
	}
}

func (f *fixture) merchant(id string, stampsRequired int) model.Merchant {
	m := model.Merchant{
		ID:             id,
		OwnerUserID:    "owner-" + id,
		StampsRequired: stampsRequired,
		DailyVisitCap:  1,
		Timezone:       "UTC",
	}
	f.store.PutMerchant(m)
	return m
}

func (f *fixture) card(id, merchantID string, stamps int) model.LoyaltyCard {
	c := model.LoyaltyCard{
		ID:            id,
		MerchantID:    merchantID,
		CustomerID:    "cust-" + id,
		CurrentStamps: stamps,
		CreatedAt:     testNow.Add(-30 * 24 * time.Hour),
	}
	f.store.PutCard(c)
	return c
}

// pending adds a pending visit on card.  Existing stamps on the card are
// treated as coming from earlier confirmed visits outside the fixture.
func (f *fixture) pending(id string, card model.LoyaltyCard, points int) model.Visit {
	reason := "more than one visit today"
	v := model.Visit{
		ID:            id,
		MerchantID:    card.MerchantID,
		LoyaltyCardID: card.ID,
		CustomerID:    card.CustomerID,
		Status:        model.VisitPending,
		VisitedAt:     testNow.Add(-time.Hour),
		PointsEarned:  points,
		FlaggedReason: &reason,
	}
	f.store.PutVisit(v)
	return v
}

func (f *fixture) stamps(t *testing.T, cardID string) int {
	t.Helper()
	c, ok := f.store.Card(cardID)
	if !ok {
		t.Fatalf("card %s missing", cardID)
	}
	return c.CurrentStamps
}

func (f *fixture) status(t *testing.T, visitID string) model.VisitStatus {
	t.Helper()
	v, ok := f.store.Visit(visitID)
	if !ok {
		t.Fatalf("visit %s missing", visitID)
	}
	return v.Status
}
