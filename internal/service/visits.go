package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/queue"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository"
	"github.com/Kusama13/qarte-saas-sub002/internal/tier"
)

// Action is a moderation decision.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
)

// ParseAction validates a raw action string.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionConfirm, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("%w: action must be confirm or reject", ErrValidation)
}

func (a Action) target() model.VisitStatus {
	if a == ActionConfirm {
		return model.VisitConfirmed
	}
	return model.VisitRejected
}

// EventPublisher receives moderation events.  Publishing is best effort.
type EventPublisher interface {
	PublishVisitModerated(ctx context.Context, ev queue.VisitModeratedEvent) error
}

// VisitOptions tunes a VisitService.
type VisitOptions struct {
	// MaxBulk caps the number of ids in one bulk request.
	MaxBulk int
	// WriteTimeout bounds the detached write sequence of a moderation.
	WriteTimeout time.Duration
	// QueueLimit caps how many pending visits the queue listing returns.
	QueueLimit int
	// DefaultDailyCap applies to merchants without their own cap.
	DefaultDailyCap int
	// Now overrides the clock.
	Now func() time.Time
}

// VisitService moves visits through pending → confirmed | rejected and keeps
// card balances in step with confirmed visits.
type VisitService struct {
	visits    repository.VisitRepository
	cards     repository.LoyaltyCardRepository
	merchants repository.MerchantRepository
	ledger    *Ledger
	locker    Locker
	publisher EventPublisher
	log       *zap.Logger
	opts      VisitOptions
}

// NewVisitService wires a VisitService.  publisher may be nil.
func NewVisitService(
	visits repository.VisitRepository,
	cards repository.LoyaltyCardRepository,
	merchants repository.MerchantRepository,
	ledger *Ledger,
	locker Locker,
	publisher EventPublisher,
	log *zap.Logger,
	opts VisitOptions,
) *VisitService {
	if opts.MaxBulk <= 0 {
		opts.MaxBulk = 500
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 15 * time.Second
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = 200
	}
	if opts.DefaultDailyCap <= 0 {
		opts.DefaultDailyCap = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &VisitService{
		visits:    visits,
		cards:     cards,
		merchants: merchants,
		ledger:    ledger,
		locker:    locker,
		publisher: publisher,
		log:       log,
		opts:      opts,
	}
}

// Queue returns the merchant's pending visits, oldest first, and the total
// pending count.
func (s *VisitService) Queue(ctx context.Context, merchantID string) ([]model.Visit, int, error) {
	visits, err := s.visits.ListByMerchant(ctx, merchantID, model.VisitPending, s.opts.QueueLimit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list pending visits: %v", ErrPersistence, err)
	}
	n, err := s.visits.CountByMerchant(ctx, merchantID, model.VisitPending)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: count pending visits: %v", ErrPersistence, err)
	}
	return visits, n, nil
}

// ModerationResult describes a completed single moderation.
type ModerationResult struct {
	Visit          model.Visit
	Reward         *tier.State
	RewardUnlocked bool
}

// Moderate applies action to one pending visit of merchantID.  A visit that
// is missing, foreign or no longer pending yields ErrNotFound.  When the
// ledger write of a confirmation fails the visit is put back to pending and
// ErrPersistence is returned.
//
// Once started, the writes run on a context detached from ctx so that a
// client disconnect cannot leave a confirmed visit without its stamps.
func (s *VisitService) Moderate(ctx context.Context, merchantID, visitID string, action Action) (ModerationResult, error) {
	if err := ValidateModeration(visitID, string(action)); err != nil {
		return ModerationResult{}, err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	now := s.opts.Now()
	claimed, err := s.visits.ClaimPending(wctx, merchantID, []string{visitID}, action.target(), now)
	if err != nil {
		return ModerationResult{}, fmt.Errorf("%w: update visit status: %v", ErrPersistence, err)
	}
	if len(claimed) == 0 {
		return ModerationResult{}, ErrNotFound
	}
	visit := claimed[0]
	res := ModerationResult{Visit: visit}

	if action == ActionConfirm {
		m, known := s.merchantConfig(wctx, merchantID)
		entry, err := s.ledger.Apply(wctx, CardDelta{
			CardID:    visit.LoyaltyCardID,
			Points:    visit.PointsEarned,
			VisitDate: CalendarDate(visit.VisitedAt, m.Location()),
		})
		if err != nil {
			s.log.Error("ledger write failed, reverting visit",
				zap.String("visit_id", visit.ID),
				zap.String("card_id", visit.LoyaltyCardID),
				zap.Error(err))
			if rerr := s.revert(wctx, []string{visit.ID}); rerr != nil {
				return ModerationResult{}, fmt.Errorf("%w: %v", ErrPersistence, errors.Join(err, rerr))
			}
			return ModerationResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if known {
			res.Reward, res.RewardUnlocked = rewardChange(m, entry)
		}
	}

	_ = s.publish(wctx, visit, action, res, false)
	return res, nil
}

// ValidateModeration checks the shape of a single moderation request.
func ValidateModeration(visitID, action string) error {
	if strings.TrimSpace(visitID) == "" {
		return fmt.Errorf("%w: visit_id is required", ErrValidation)
	}
	_, err := ParseAction(action)
	return err
}

// BulkOutcome classifies a BulkResult.
type BulkOutcome string

const (
	BulkSucceeded BulkOutcome = "succeeded"
	BulkPartial   BulkOutcome = "partial"
	BulkFailed    BulkOutcome = "failed"
)

// BulkResult summarises a bulk moderation.  Errors counts visits, not
// cards: NotFound plus the visits of every card whose ledger write failed.
type BulkResult struct {
	Requested     int      `json:"requested"`
	Matched       int      `json:"matched"`
	Processed     int      `json:"processed"`
	NotFound      int      `json:"not_found"`
	Errors        int      `json:"errors"`
	FailedCardIDs []string `json:"failed_card_ids"`
}

// Outcome reports whether the batch fully, partly or not at all succeeded.
func (r BulkResult) Outcome() BulkOutcome {
	switch {
	case r.Errors == 0:
		return BulkSucceeded
	case r.Processed == 0:
		return BulkFailed
	}
	return BulkPartial
}

// BulkModerate applies action to every pending visit of merchantID among
// ids.  Atomicity is per card: a card whose ledger write fails has all of
// its visits put back to pending, while other cards keep their result.
// Partial failure is reported in the result, never as an error.
func (s *VisitService) BulkModerate(ctx context.Context, merchantID string, ids []string, action Action) (BulkResult, error) {
	unique, err := s.ValidateBulk(ids, string(action))
	if err != nil {
		return BulkResult{}, err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	res := BulkResult{Requested: len(unique), FailedCardIDs: []string{}}
	claimed, err := s.visits.ClaimPending(wctx, merchantID, unique, action.target(), s.opts.Now())
	if err != nil {
		return BulkResult{}, fmt.Errorf("%w: update visit status: %v", ErrPersistence, err)
	}
	res.Matched = len(claimed)
	res.NotFound = res.Requested - res.Matched

	failedVisits := make(map[string]bool)
	rewards := make(map[string]*cardReward)
	if action == ActionConfirm {
		m, known := s.merchantConfig(wctx, merchantID)
		for _, out := range s.ledger.ApplyBulk(wctx, claimed, m.Location()) {
			if out.Err == nil {
				if known {
					state, unlocked := rewardChange(m, out.Entry)
					rewards[out.Group.CardID] = &cardReward{state: state, unlocked: unlocked}
				}
				continue
			}
			res.FailedCardIDs = append(res.FailedCardIDs, out.Group.CardID)
			for _, id := range out.Group.VisitIDs {
				failedVisits[id] = true
			}
			if rerr := s.revert(wctx, out.Group.VisitIDs); rerr != nil {
				s.log.Error("revert after failed card write did not complete",
					zap.String("card_id", out.Group.CardID),
					zap.Strings("visit_ids", out.Group.VisitIDs),
					zap.Error(rerr))
			}
		}
	}

	res.Errors = res.NotFound + len(failedVisits)
	res.Processed = res.Matched - len(failedVisits)

	dropped := 0
	for _, v := range claimed {
		if failedVisits[v.ID] {
			continue
		}
		if dropped > 0 {
			dropped++
			continue
		}
		mr := ModerationResult{Visit: v}
		if r, ok := rewards[v.LoyaltyCardID]; ok {
			mr.Reward = r.state
			// One unlock per card, carried by its first event.
			mr.RewardUnlocked = r.unlocked
			r.unlocked = false
		}
		if err := s.publish(wctx, v, action, mr, true); errors.Is(err, queue.ErrBrokerUnavailable) {
			dropped++
		}
	}
	if dropped > 0 {
		s.log.Warn("broker unavailable, visit.moderated events dropped",
			zap.String("merchant_id", merchantID),
			zap.Int("dropped", dropped))
	}

	s.log.Info("bulk moderation done",
		zap.String("merchant_id", merchantID),
		zap.String("action", string(action)),
		zap.Int("processed", res.Processed),
		zap.Int("errors", res.Errors),
		zap.Strings("failed_card_ids", res.FailedCardIDs))
	return res, nil
}

// ValidateBulk checks the shape of a bulk request and returns the trimmed,
// de-duplicated ids.
func (s *VisitService) ValidateBulk(ids []string, action string) ([]string, error) {
	if _, err := ParseAction(action); err != nil {
		return nil, err
	}
	unique := dedupeIDs(ids)
	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: visit_ids is required", ErrValidation)
	}
	if len(unique) > s.opts.MaxBulk {
		return nil, fmt.Errorf("%w: at most %d visit_ids per request", ErrValidation, s.opts.MaxBulk)
	}
	return unique, nil
}

type cardReward struct {
	state    *tier.State
	unlocked bool
}

const revertAttempts = 3

// revert puts claimed visits back into the moderation queue, retrying a
// few times because a failure here leaves confirmed visits without stamps.
func (s *VisitService) revert(ctx context.Context, ids []string) error {
	var err error
	for attempt := 0; attempt < revertAttempts; attempt++ {
		if err = s.visits.RevertToPending(ctx, ids, model.VisitConfirmed); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return err
}

// merchantConfig loads the merchant for dating visits and evaluating
// rewards.  A missing config only disables the reward evaluation; the zero
// Merchant dates visits in UTC.
func (s *VisitService) merchantConfig(ctx context.Context, merchantID string) (model.Merchant, bool) {
	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		s.log.Warn("merchant config unavailable for reward evaluation", zap.String("merchant_id", merchantID), zap.Error(err))
		return model.Merchant{}, false
	}
	return m, true
}

// rewardChange evaluates the card's tier state before and after a ledger
// entry.
func rewardChange(m model.Merchant, e LedgerEntry) (*tier.State, bool) {
	before := tier.Evaluate(tier.FromCard(e.Before, m))
	after := tier.Evaluate(tier.FromCard(e.After, m))
	return &after, tier.RewardUnlocked(before, after)
}

// publish sends the visit.moderated event.  Failures are logged and
// returned for the caller to decide whether to keep publishing.
func (s *VisitService) publish(ctx context.Context, v model.Visit, action Action, res ModerationResult, bulk bool) error {
	if s.publisher == nil {
		return nil
	}
	ev := queue.VisitModeratedEvent{
		VisitID:        v.ID,
		MerchantID:     v.MerchantID,
		CustomerID:     v.CustomerID,
		LoyaltyCardID:  v.LoyaltyCardID,
		Action:         string(action),
		Status:         string(v.Status),
		PointsEarned:   v.PointsEarned,
		RewardUnlocked: res.RewardUnlocked,
		Bulk:           bulk,
		ModeratedAt:    s.opts.Now().UTC().Format(time.RFC3339),
	}
	if res.Reward != nil {
		ev.CurrentStamps = res.Reward.CurrentStamps
		ev.Tier1Ready = res.Reward.Tier1Ready
		ev.Tier2Ready = res.Reward.Tier2Ready
	}
	if err := s.publisher.PublishVisitModerated(ctx, ev); err != nil {
		s.log.Warn("publish visit.moderated failed", zap.String("visit_id", v.ID), zap.Error(err))
		return err
	}
	return nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
