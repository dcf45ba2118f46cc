package service

import (
	"context"
	"fmt"

	"github.com/Kusama13/qarte-saas-sub002/internal/repository"
)

// Authorizer is the ownership guard run before every merchant-scoped
// operation.
type Authorizer struct {
	merchants repository.MerchantRepository
}

func NewAuthorizer(merchants repository.MerchantRepository) *Authorizer {
	return &Authorizer{merchants: merchants}
}

// CanManage returns nil when userID owns merchantID and ErrForbidden
// otherwise.  An unknown merchant is reported as forbidden so callers
// cannot probe for merchant ids.
func (a *Authorizer) CanManage(ctx context.Context, userID, merchantID string) error {
	if userID == "" || merchantID == "" {
		return ErrForbidden
	}
	m, err := a.merchants.GetByID(ctx, merchantID)
	if isNotFound(err) {
		return ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("%w: load merchant: %v", ErrPersistence, err)
	}
	if m.OwnerUserID != userID {
		return ErrForbidden
	}
	return nil
}
