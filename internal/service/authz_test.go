package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository/memory"
)

func TestAuthorizerCanManage(t *testing.T) {
	st := memory.New()
	st.PutMerchant(model.Merchant{ID: "m1", OwnerUserID: "alice"})
	authz := NewAuthorizer(st.Merchants())
	ctx := context.Background()

	assert.NoError(t, authz.CanManage(ctx, "alice", "m1"))
	assert.ErrorIs(t, authz.CanManage(ctx, "bob", "m1"), ErrForbidden)
	assert.ErrorIs(t, authz.CanManage(ctx, "alice", "m2"), ErrForbidden)
	assert.ErrorIs(t, authz.CanManage(ctx, "", "m1"), ErrForbidden)
	assert.ErrorIs(t, authz.CanManage(ctx, "alice", ""), ErrForbidden)
}
