package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository"
	"github.com/Kusama13/qarte-saas-sub002/internal/tier"
)

// CardService exposes the read-time reward state of a card and the tier-1
// redemption flag.
type CardService struct {
	cards     repository.LoyaltyCardRepository
	merchants repository.MerchantRepository
	locker    Locker
	log       *zap.Logger
}

func NewCardService(cards repository.LoyaltyCardRepository, merchants repository.MerchantRepository, locker Locker, log *zap.Logger) *CardService {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CardService{cards: cards, merchants: merchants, locker: locker, log: log}
}

func (s *CardService) load(ctx context.Context, merchantID, cardID string) (model.LoyaltyCard, model.Merchant, error) {
	card, err := s.cards.GetByID(ctx, cardID)
	if isNotFound(err) {
		return card, model.Merchant{}, ErrNotFound
	}
	if err != nil {
		return card, model.Merchant{}, fmt.Errorf("%w: load card: %v", ErrPersistence, err)
	}
	if card.MerchantID != merchantID {
		return card, model.Merchant{}, ErrNotFound
	}
	m, err := s.merchants.GetByID(ctx, merchantID)
	if isNotFound(err) {
		return card, m, ErrNotFound
	}
	if err != nil {
		return card, m, fmt.Errorf("%w: load merchant: %v", ErrPersistence, err)
	}
	return card, m, nil
}

// RewardState evaluates the card's tiers.
func (s *CardService) RewardState(ctx context.Context, merchantID, cardID string) (tier.State, error) {
	card, m, err := s.load(ctx, merchantID, cardID)
	if err != nil {
		return tier.State{}, err
	}
	return tier.Evaluate(tier.FromCard(card, m)), nil
}

// RedeemTier1 marks the tier-1 reward as redeemed.  Stamps are kept so the
// customer keeps progressing toward tier 2.  Redeeming an already redeemed
// card is a no-op; redeeming before the threshold returns ErrNotReady.
func (s *CardService) RedeemTier1(ctx context.Context, merchantID, cardID string) (tier.State, error) {
	unlock, err := s.locker.Lock(ctx, CardLockKey(cardID))
	if err != nil {
		return tier.State{}, fmt.Errorf("%w: lock card: %v", ErrPersistence, err)
	}
	defer unlock()

	card, m, err := s.load(ctx, merchantID, cardID)
	if err != nil {
		return tier.State{}, err
	}
	st := tier.Evaluate(tier.FromCard(card, m))
	if card.Tier1Redeemed {
		return st, nil
	}
	if !st.Tier1Ready {
		return st, ErrNotReady
	}
	if _, err := s.cards.MarkTier1Redeemed(ctx, cardID); err != nil {
		return st, fmt.Errorf("%w: mark redeemed: %v", ErrPersistence, err)
	}
	card.Tier1Redeemed = true
	s.log.Info("tier 1 redeemed", zap.String("card_id", cardID), zap.Int("stamps", card.CurrentStamps))
	return tier.Evaluate(tier.FromCard(card, m)), nil
}
