package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository"
)

// Ledger is the only writer of loyalty card stamp balances.  Writes for one
// card are serialized through the Locker and applied by the database as an
// atomic increment, so concurrent single and bulk confirmations on the same
// card cannot lose points.
type Ledger struct {
	cards  repository.LoyaltyCardRepository
	locker Locker
	log    *zap.Logger
}

// NewLedger builds a Ledger.  A nil locker falls back to an in-process
// KeyedMutex.
func NewLedger(cards repository.LoyaltyCardRepository, locker Locker, log *zap.Logger) *Ledger {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{cards: cards, locker: locker, log: log}
}

// CardDelta is one increment to apply to a card.  VisitDate is a
// CalendarDate in the merchant's time zone.
type CardDelta struct {
	CardID    string
	Points    int
	VisitDate time.Time
}

// LedgerEntry is the card before and after an applied delta.
type LedgerEntry struct {
	Before model.LoyaltyCard
	After  model.LoyaltyCard
}

// Apply adds d.Points to the card.  The returned entry reflects the card as
// read under the card lock, immediately around the write.
func (l *Ledger) Apply(ctx context.Context, d CardDelta) (LedgerEntry, error) {
	if d.Points <= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: points must be positive", ErrValidation)
	}
	unlock, err := l.locker.Lock(ctx, CardLockKey(d.CardID))
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("lock card %s: %w", d.CardID, err)
	}
	defer unlock()

	before, err := l.cards.GetByID(ctx, d.CardID)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("load card %s: %w", d.CardID, err)
	}
	if err := l.cards.IncrementStamps(ctx, d.CardID, d.Points, d.VisitDate); err != nil {
		return LedgerEntry{}, fmt.Errorf("increment card %s: %w", d.CardID, err)
	}

	after, err := l.cards.GetByID(ctx, d.CardID)
	if err != nil {
		// The increment is committed; derive the new state instead of failing.
		l.log.Warn("reload card after increment failed", zap.String("card_id", d.CardID), zap.Error(err))
		after = before
		after.CurrentStamps += d.Points
	}
	return LedgerEntry{Before: before, After: after}, nil
}

// CardGroup is the set of visits of one card inside a bulk confirmation.
type CardGroup struct {
	CardID   string
	VisitIDs []string
	Points   int
	LastDate time.Time
}

// GroupByCard collapses visits into one group per card, summing points.
// Groups are ordered by card id.
func GroupByCard(visits []model.Visit) []CardGroup {
	idx := make(map[string]int)
	groups := make([]CardGroup, 0)
	for _, v := range visits {
		i, ok := idx[v.LoyaltyCardID]
		if !ok {
			i = len(groups)
			idx[v.LoyaltyCardID] = i
			groups = append(groups, CardGroup{CardID: v.LoyaltyCardID})
		}
		g := &groups[i]
		g.VisitIDs = append(g.VisitIDs, v.ID)
		g.Points += v.PointsEarned
		if v.VisitedAt.After(g.LastDate) {
			g.LastDate = v.VisitedAt
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].CardID < groups[j].CardID })
	return groups
}

// CardOutcome is the result of one card's write inside ApplyBulk.
type CardOutcome struct {
	Group CardGroup
	Entry LedgerEntry
	Err   error
}

// ApplyBulk performs one Apply per card group.  A failing card does not stop
// the others.  loc is the merchant's time zone, used to date the visits.
func (l *Ledger) ApplyBulk(ctx context.Context, visits []model.Visit, loc *time.Location) []CardOutcome {
	groups := GroupByCard(visits)
	out := make([]CardOutcome, 0, len(groups))
	for _, g := range groups {
		entry, err := l.Apply(ctx, CardDelta{CardID: g.CardID, Points: g.Points, VisitDate: CalendarDate(g.LastDate, loc)})
		if err != nil {
			l.log.Error("bulk ledger write failed",
				zap.String("card_id", g.CardID),
				zap.Int("visits", len(g.VisitIDs)),
				zap.Int("points", g.Points),
				zap.Error(err))
		}
		out = append(out, CardOutcome{Group: g, Entry: entry, Err: err})
	}
	return out
}

// isNotFound reports whether err is the repository's not-found sentinel.
func isNotFound(err error) bool { return errors.Is(err, repository.ErrNotFound) }
