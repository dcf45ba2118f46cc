// Package memory implements the repository contracts in process memory.  It
// backs the service tests and the STORAGE=memory development mode.  Every
// operation runs under one mutex, so each call is atomic with respect to
// every other call, which mirrors the row-level guarantees of the MySQL
// implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository"
)

// Store holds all state.  Use the accessor methods to obtain the repository
// views.
type Store struct {
	mu        sync.Mutex
	visits    map[string]model.Visit
	cards     map[string]model.LoyaltyCard
	merchants map[string]model.Merchant
	logs      []model.AutomationLog

	failIncrement map[string]error
	failRevert    error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		visits:        make(map[string]model.Visit),
		cards:         make(map[string]model.LoyaltyCard),
		merchants:     make(map[string]model.Merchant),
		failIncrement: make(map[string]error),
	}
}

func (s *Store) Visits() *VisitRepo                 { return &VisitRepo{s: s} }
func (s *Store) Cards() *CardRepo                   { return &CardRepo{s: s} }
func (s *Store) Merchants() *MerchantRepo           { return &MerchantRepo{s: s} }
func (s *Store) AutomationLogs() *AutomationLogRepo { return &AutomationLogRepo{s: s} }

// PutMerchant inserts or replaces a merchant.
func (s *Store) PutMerchant(m model.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[m.ID] = m
}

// PutCard inserts or replaces a card.
func (s *Store) PutCard(c model.LoyaltyCard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.ID] = c
}

// PutVisit inserts or replaces a visit.
func (s *Store) PutVisit(v model.Visit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[v.ID] = v
}

// Card returns a copy of the stored card.
func (s *Store) Card(id string) (model.LoyaltyCard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	return c, ok
}

// Visit returns a copy of the stored visit.
func (s *Store) Visit(id string) (model.Visit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[id]
	return v, ok
}

// Logs returns a copy of all automation log rows.
func (s *Store) Logs() []model.AutomationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AutomationLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// FailIncrement makes every IncrementStamps call for cardID return err.
// Passing a nil err clears the fault.
func (s *Store) FailIncrement(cardID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failIncrement, cardID)
		return
	}
	s.failIncrement[cardID] = err
}

// FailRevert makes RevertToPending and FlagPending return err.
func (s *Store) FailRevert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRevert = err
}

// ConfirmedSum returns Σ points_earned over the card's confirmed visits.
func (s *Store) ConfirmedSum(cardID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, v := range s.visits {
		if v.LoyaltyCardID == cardID && v.Status == model.VisitConfirmed {
			sum += v.PointsEarned
		}
	}
	return sum
}

// VisitRepo is the in-memory repository.VisitRepository.
type VisitRepo struct{ s *Store }

var _ repository.VisitRepository = (*VisitRepo)(nil)

func (r *VisitRepo) Create(_ context.Context, v *model.Visit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.visits[v.ID]; ok {
		return repository.ErrConflict
	}
	r.s.visits[v.ID] = *v
	return nil
}

func (r *VisitRepo) GetByID(_ context.Context, id string) (model.Visit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.visits[id]
	if !ok {
		return model.Visit{}, repository.ErrNotFound
	}
	return v, nil
}

func (r *VisitRepo) ListByMerchant(_ context.Context, merchantID string, status model.VisitStatus, limit int) ([]model.Visit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Visit, 0)
	for _, v := range r.s.visits {
		if v.MerchantID == merchantID && v.Status == status {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VisitedAt.Equal(out[j].VisitedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].VisitedAt.Before(out[j].VisitedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *VisitRepo) CountByMerchant(_ context.Context, merchantID string, status model.VisitStatus) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, v := range r.s.visits {
		if v.MerchantID == merchantID && v.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *VisitRepo) ClaimPending(_ context.Context, merchantID string, ids []string, to model.VisitStatus, at time.Time) ([]model.Visit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	claimed := make([]model.Visit, 0, len(ids))
	ts := at.UTC()
	for _, id := range ids {
		v, ok := r.s.visits[id]
		if !ok || v.MerchantID != merchantID || v.Status != model.VisitPending {
			continue
		}
		v.Status = to
		v.ModeratedAt = &ts
		r.s.visits[id] = v
		claimed = append(claimed, v)
	}
	return claimed, nil
}

func (r *VisitRepo) RevertToPending(_ context.Context, ids []string, from model.VisitStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failRevert != nil {
		return r.s.failRevert
	}
	for _, id := range ids {
		v, ok := r.s.visits[id]
		if !ok || v.Status != from {
			continue
		}
		v.Status = model.VisitPending
		v.ModeratedAt = nil
		r.s.visits[id] = v
	}
	return nil
}

func (r *VisitRepo) FlagPending(_ context.Context, id string, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failRevert != nil {
		return r.s.failRevert
	}
	v, ok := r.s.visits[id]
	if !ok || v.Status != model.VisitConfirmed {
		return repository.ErrNotFound
	}
	v.Status = model.VisitPending
	v.FlaggedReason = &reason
	v.ModeratedAt = nil
	r.s.visits[id] = v
	return nil
}

func (r *VisitRepo) CountConfirmedSince(_ context.Context, cardID string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, v := range r.s.visits {
		if v.LoyaltyCardID == cardID && v.Status == model.VisitConfirmed && !v.VisitedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CardRepo is the in-memory repository.LoyaltyCardRepository.
type CardRepo struct{ s *Store }

var _ repository.LoyaltyCardRepository = (*CardRepo)(nil)

func (r *CardRepo) Create(_ context.Context, c *model.LoyaltyCard) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.cards {
		if existing.MerchantID == c.MerchantID && existing.CustomerID == c.CustomerID {
			return repository.ErrConflict
		}
	}
	r.s.cards[c.ID] = *c
	return nil
}

func (r *CardRepo) GetByID(_ context.Context, id string) (model.LoyaltyCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cards[id]
	if !ok {
		return model.LoyaltyCard{}, repository.ErrNotFound
	}
	return c, nil
}

func (r *CardRepo) GetByMerchantCustomer(_ context.Context, merchantID, customerID string) (model.LoyaltyCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.cards {
		if c.MerchantID == merchantID && c.CustomerID == customerID {
			return c, nil
		}
	}
	return model.LoyaltyCard{}, repository.ErrNotFound
}

func (r *CardRepo) ListByMerchant(_ context.Context, merchantID string) ([]model.LoyaltyCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.LoyaltyCard, 0)
	for _, c := range r.s.cards {
		if c.MerchantID == merchantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *CardRepo) IncrementStamps(_ context.Context, id string, delta int, visitDate time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failIncrement[id]; err != nil {
		return err
	}
	c, ok := r.s.cards[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.CurrentStamps += delta
	y, m, d := visitDate.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if c.LastVisitDate == nil || c.LastVisitDate.Before(day) {
		c.LastVisitDate = &day
	}
	r.s.cards[id] = c
	return nil
}

func (r *CardRepo) MarkTier1Redeemed(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cards[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if c.Tier1Redeemed {
		return false, nil
	}
	c.Tier1Redeemed = true
	r.s.cards[id] = c
	return true, nil
}

// MerchantRepo is the in-memory repository.MerchantRepository.
type MerchantRepo struct{ s *Store }

var _ repository.MerchantRepository = (*MerchantRepo)(nil)

func (r *MerchantRepo) GetByID(_ context.Context, id string) (model.Merchant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.merchants[id]
	if !ok {
		return model.Merchant{}, repository.ErrNotFound
	}
	return m, nil
}

func (r *MerchantRepo) ListWithAutomations(_ context.Context) ([]model.Merchant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Merchant, 0)
	for _, m := range r.s.merchants {
		if m.InactiveReminderEnabled || m.RewardReminderEnabled {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AutomationLogRepo is the in-memory repository.AutomationLogRepository.
type AutomationLogRepo struct{ s *Store }

var _ repository.AutomationLogRepository = (*AutomationLogRepo)(nil)

func (r *AutomationLogRepo) Insert(_ context.Context, l *model.AutomationLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.logs = append(r.s.logs, *l)
	return nil
}

func (r *AutomationLogRepo) ExistsSince(_ context.Context, merchantID, customerID string, typ model.AutomationType, since time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.logs {
		if l.MerchantID == merchantID && l.CustomerID == customerID && l.AutomationType == typ && !l.SentAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *AutomationLogRepo) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.logs[:0]
	var purged int64
	for _, l := range r.s.logs {
		if l.SentAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, l)
	}
	r.s.logs = kept
	return purged, nil
}
