package seller

import (
	"context"
	"testing"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t, &Seller{})
	svc := NewService(Params{DB: db})

	manager, err := svc.Register(ctx, RegisterInput{Name: "Marta", CPF: "111.444.777-35"})
	require.NoError(t, err)
	require.False(t, manager.HasManager())

	seller, err := svc.Register(ctx, RegisterInput{Name: "Ana", CPF: "529.982.247-25", ManagerID: manager.ID})
	require.NoError(t, err)
	require.True(t, seller.HasManager())

	got, err := svc.FindByDocument(ctx, "52998224725")
	require.NoError(t, err)
	require.Equal(t, seller.ID, got.ID)
	require.Equal(t, manager.ID, *got.ManagerID)

	got, err = svc.FindByID(ctx, manager.ID)
	require.NoError(t, err)
	require.Equal(t, "Marta", got.Name)
}

func TestLookupMissing(t *testing.T) {
	ctx := context.Background()
	svc := NewService(Params{DB: testutil.NewTestDB(t, &Seller{})})

	_, err := svc.FindByDocument(ctx, "000.000.000-00")
	require.Equal(t, errutil.ReasonSellerNotFound, errutil.ReasonOf(err))

	_, err = svc.FindByDocument(ctx, "")
	require.Equal(t, errutil.ReasonSellerNotFound, errutil.ReasonOf(err))

	_, err = svc.Register(ctx, RegisterInput{Name: "Bia", CPF: "1", ManagerID: "nobody"})
	require.Equal(t, errutil.ReasonSellerNotFound, errutil.ReasonOf(err))
}

func TestDigits(t *testing.T) {
	require.Equal(t, "52998224725", Digits("529.982.247-25"))
	require.Equal(t, "11222333000181", Digits("11.222.333/0001-81"))
	require.Equal(t, "", Digits("abc"))
}
