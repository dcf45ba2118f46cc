package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository"
)

// GateDecision is the initial state the quarantine gate assigns to a scan.
type GateDecision struct {
	Status model.VisitStatus
	Reason *string
}

// Quarantined reports whether the visit must wait for manual review.
func (d GateDecision) Quarantined() bool { return d.Status == model.VisitPending }

// ReasonLedgerFailed flags an auto-confirmed visit whose stamp write failed.
const ReasonLedgerFailed = "ledger write failed"

// Gate decides pending versus auto-confirm.  A card that already has
// dailyCap confirmed visits today is quarantined.  A cap below one is
// treated as one.
func Gate(confirmedToday, dailyCap int) GateDecision {
	if dailyCap < 1 {
		dailyCap = 1
	}
	if confirmedToday < dailyCap {
		return GateDecision{Status: model.VisitConfirmed}
	}
	reason := "more than one visit today"
	if dailyCap > 1 {
		reason = fmt.Sprintf("daily visit cap of %d reached", dailyCap)
	}
	return GateDecision{Status: model.VisitPending, Reason: &reason}
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CalendarDate returns t's calendar day in loc as midnight UTC.  That is
// the form last_visit_date is stored and compared in, so the merchant's day
// boundary, not UTC's, decides which date a visit belongs to.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ScanInput is a scan handed over by the scanning front end.
type ScanInput struct {
	MerchantID   string `json:"merchant_id"`
	CustomerID   string `json:"customer_id"`
	PointsEarned int    `json:"points_earned"`
}

// Validate trims the ids and checks the scan's shape.
func (in *ScanInput) Validate() error {
	in.MerchantID = strings.TrimSpace(in.MerchantID)
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	if in.MerchantID == "" || in.CustomerID == "" {
		return fmt.Errorf("%w: merchant_id and customer_id are required", ErrValidation)
	}
	if in.PointsEarned <= 0 {
		return fmt.Errorf("%w: points_earned must be positive", ErrValidation)
	}
	return nil
}

// ScanResult is the visit created for a scan and the card it belongs to.
type ScanResult struct {
	Visit model.Visit
	Card  model.LoyaltyCard
}

// RecordVisit creates the visit for a scan.  The card is created on first
// scan.  Gate and insert run under a per-card lock so two simultaneous scans
// cannot both pass the daily cap.  Auto-confirmed visits are credited
// immediately; if that credit fails the visit is moved to the moderation
// queue instead of being lost.
func (s *VisitService) RecordVisit(ctx context.Context, in ScanInput) (ScanResult, error) {
	if err := in.Validate(); err != nil {
		return ScanResult{}, err
	}

	merchant, err := s.merchants.GetByID(ctx, in.MerchantID)
	if isNotFound(err) {
		return ScanResult{}, ErrNotFound
	}
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: load merchant: %v", ErrPersistence, err)
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	now := s.opts.Now()
	card, err := s.cardFor(wctx, in.MerchantID, in.CustomerID, now)
	if err != nil {
		return ScanResult{}, err
	}

	unlock, err := s.locker.Lock(wctx, scanLockKey(card.ID))
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: lock card: %v", ErrPersistence, err)
	}
	defer unlock()

	confirmedToday, err := s.visits.CountConfirmedSince(wctx, card.ID, StartOfDay(now, merchant.Location()))
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: count visits: %v", ErrPersistence, err)
	}
	dailyCap := merchant.DailyVisitCap
	if dailyCap <= 0 {
		dailyCap = s.opts.DefaultDailyCap
	}
	decision := Gate(confirmedToday, dailyCap)

	visit := model.Visit{
		ID:            uuid.NewString(),
		MerchantID:    in.MerchantID,
		LoyaltyCardID: card.ID,
		CustomerID:    in.CustomerID,
		Status:        decision.Status,
		VisitedAt:     now.UTC(),
		PointsEarned:  in.PointsEarned,
		FlaggedReason: decision.Reason,
	}
	if err := s.visits.Create(wctx, &visit); err != nil {
		return ScanResult{}, fmt.Errorf("%w: insert visit: %v", ErrPersistence, err)
	}
	if decision.Quarantined() {
		s.log.Info("visit quarantined",
			zap.String("visit_id", visit.ID),
			zap.String("card_id", card.ID),
			zap.String("reason", *decision.Reason))
		return ScanResult{Visit: visit, Card: card}, nil
	}

	entry, err := s.ledger.Apply(wctx, CardDelta{CardID: card.ID, Points: visit.PointsEarned, VisitDate: CalendarDate(visit.VisitedAt, merchant.Location())})
	if err != nil {
		s.log.Error("auto-confirm ledger write failed, quarantining visit",
			zap.String("visit_id", visit.ID), zap.Error(err))
		if ferr := s.visits.FlagPending(wctx, visit.ID, ReasonLedgerFailed); ferr != nil {
			return ScanResult{}, fmt.Errorf("%w: %v", ErrPersistence, errors.Join(err, ferr))
		}
		reason := ReasonLedgerFailed
		visit.Status = model.VisitPending
		visit.FlaggedReason = &reason
		return ScanResult{Visit: visit, Card: card}, nil
	}
	return ScanResult{Visit: visit, Card: entry.After}, nil
}

// cardFor returns the customer's card at the merchant, creating it on first
// scan.  A concurrent creation by another scan is resolved by re-reading.
func (s *VisitService) cardFor(ctx context.Context, merchantID, customerID string, now time.Time) (model.LoyaltyCard, error) {
	card, err := s.cards.GetByMerchantCustomer(ctx, merchantID, customerID)
	if err == nil {
		return card, nil
	}
	if !isNotFound(err) {
		return model.LoyaltyCard{}, fmt.Errorf("%w: load card: %v", ErrPersistence, err)
	}
	card = model.LoyaltyCard{
		ID:         uuid.NewString(),
		MerchantID: merchantID,
		CustomerID: customerID,
		CreatedAt:  now.UTC(),
	}
	err = s.cards.Create(ctx, &card)
	if errors.Is(err, repository.ErrConflict) {
		card, err = s.cards.GetByMerchantCustomer(ctx, merchantID, customerID)
	}
	if err != nil {
		return model.LoyaltyCard{}, fmt.Errorf("%w: create card: %v", ErrPersistence, err)
	}
	return card, nil
}
