package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sith/backend/internal/domain"
	"sith/backend/internal/money"
	"sith/backend/internal/store/memory"
)

func TestNominalBarSale(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	basket, err := svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBeerID, 2)
	require.NoError(t, err)
	require.Len(t, basket.Items, 1)
	assert.Equal(t, "3.40", basket.Total().String())

	purchase, err := svc.Finish(ctx, sess, memory.SeedCustomerID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", purchase.PreviousBalance.String())
	assert.Equal(t, "6.60", purchase.NewBalance.String())
	assert.Equal(t, "6.60", balanceOf(t, repo, memory.SeedCustomerID))

	sales, err := repo.ListSales(ctx, domain.SaleFilter{CustomerID: memory.SeedCustomerID})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 2, sales[0].Quantity)
	assert.Equal(t, "1.70", sales[0].UnitPrice.String())
	assert.Equal(t, domain.PaymentAccount, sales[0].PaymentMethod)
	require.NotNil(t, sales[0].SellerID)
	assert.Equal(t, memory.SeedBarmanID, *sales[0].SellerID)

	_, err = repo.GetBasket(ctx, memory.SeedBarCounterID, memory.SeedCustomerID, sess.Owner)
	assert.Error(t, err)

	view, err := svc.CounterMain(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, view.LastPurchase)
	assert.Equal(t, "6.60", view.LastPurchase.NewBalance.String())

	view, err = svc.CounterMain(ctx, sess)
	require.NoError(t, err)
	assert.Nil(t, view.LastPurchase)
}

func TestTrayBonusIsSoldForFree(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	basket, err := svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBarbID, 6)
	require.NoError(t, err)
	line, idx := basket.Item(memory.SeedBarbID)
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, 5, line.Quantity)
	assert.Equal(t, 1, line.BonusQuantity)

	_, err = svc.Finish(ctx, sess, memory.SeedCustomerID)
	require.NoError(t, err)
	assert.Equal(t, "1.50", balanceOf(t, repo, memory.SeedCustomerID))

	sales, err := repo.ListSales(ctx, domain.SaleFilter{CustomerID: memory.SeedCustomerID})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	byLabel := map[string]domain.Sale{}
	for _, s := range sales {
		byLabel[s.Label] = s
	}
	assert.Equal(t, 5, byLabel["Barbar"].Quantity)
	assert.Equal(t, "1.70", byLabel["Barbar"].UnitPrice.String())
	assert.Equal(t, 1, byLabel["Barbar (Plateau)"].Quantity)
	assert.True(t, byLabel["Barbar (Plateau)"].UnitPrice.IsZero())
}

func TestTrayAddThenRemoveRestoresBasket(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	basket, err := svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBarbID, 6)
	require.NoError(t, err)
	require.Len(t, basket.Items, 1)

	basket, err = svc.RemoveProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBarbID)
	require.NoError(t, err)
	line, _ := basket.Item(memory.SeedBarbID)
	assert.Equal(t, 5, line.Quantity)
	assert.Equal(t, 0, line.BonusQuantity)

	for i := 0; i < 5; i++ {
		basket, err = svc.RemoveProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBarbID)
		require.NoError(t, err)
	}
	assert.Empty(t, basket.Items)

	_, err = svc.RemoveProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBarbID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	res, err := svc.ParseCode(ctx, sess, memory.SeedCustomerID, "3xbarb")
	require.NoError(t, err)
	assert.Equal(t, CodeAdded, res.Action)
	line, _ := res.Basket.Item(memory.SeedBarbID)
	assert.Equal(t, 3, line.Quantity)
	assert.Equal(t, "1.70", line.UnitPrice.String())

	_, err = svc.ParseCode(ctx, sess, memory.SeedCustomerID, "NOPE")
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)

	_, err = svc.ParseCode(ctx, sess, memory.SeedCustomerID, "B@D")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.ParseCode(ctx, sess, memory.SeedCustomerID, "0XBEER")
	assert.ErrorIs(t, err, domain.ErrValidation)

	res, err = svc.ParseCode(ctx, sess, memory.SeedCustomerID, "ANN")
	require.NoError(t, err)
	assert.Equal(t, CodeCancelled, res.Action)

	_, err = svc.ParseCode(ctx, sess, memory.SeedCustomerID, "BEER")
	require.NoError(t, err)
	res, err = svc.ParseCode(ctx, sess, memory.SeedCustomerID, "fin")
	require.NoError(t, err)
	assert.Equal(t, CodeFinished, res.Action)
	require.NotNil(t, res.Purchase)
	assert.Equal(t, "8.30", res.Purchase.NewBalance.String())
}

func TestInsufficientFundsLeavesBasketUnchanged(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	_, err := svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBeerID, 5)
	require.NoError(t, err)
	_, err = svc.Finish(ctx, sess, memory.SeedCustomerID)
	require.NoError(t, err)
	require.Equal(t, "1.50", balanceOf(t, repo, memory.SeedCustomerID))

	_, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedCocaID, 1)
	require.NoError(t, err)
	basket, err := svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBeerID, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Len(t, basket.Items, 1)

	view, err := svc.OpenClick(ctx, sess, memory.SeedCustomerID)
	require.NoError(t, err)
	require.Len(t, view.Basket.Items, 1)
	assert.Equal(t, memory.SeedCocaID, view.Basket.Items[0].ProductID)
	assert.Equal(t, "1.50", balanceOf(t, repo, memory.SeedCustomerID))
}

func TestDepositReturnCap(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	_, err := svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedEcocupID, 1)
	require.NoError(t, err)
	_, err = svc.Finish(ctx, sess, memory.SeedCustomerID)
	require.NoError(t, err)

	balances, err := svc.ReturnableBalancesFor(ctx, memory.SeedCustomerID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, 1, balances[0].Balance)

	_, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedReturnEcocupID, 4)
	assert.ErrorIs(t, err, domain.ErrDepositLimitExceeded)

	_, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedReturnEcocupID, 3)
	require.NoError(t, err)
	_, err = svc.Finish(ctx, sess, memory.SeedCustomerID)
	require.NoError(t, err)
	assert.Equal(t, "12.00", balanceOf(t, repo, memory.SeedCustomerID))

	balances, err = svc.ReturnableBalancesFor(ctx, memory.SeedCustomerID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, -2, balances[0].Balance)
}

func TestDepositCapHoldsAcrossBrowserSessions(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	first := openBar(t, svc)
	second := first
	second.Owner = "browser-2"

	_, err := svc.AddProduct(ctx, first, memory.SeedCustomerID, memory.SeedReturnEcocupID, 2)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, second, memory.SeedCustomerID, memory.SeedReturnEcocupID, 2)
	require.NoError(t, err)

	_, err = svc.Finish(ctx, first, memory.SeedCustomerID)
	require.NoError(t, err)
	balance := balanceOf(t, repo, memory.SeedCustomerID)

	_, err = svc.Finish(ctx, second, memory.SeedCustomerID)
	assert.ErrorIs(t, err, domain.ErrDepositLimitExceeded)
	assert.Equal(t, balance, balanceOf(t, repo, memory.SeedCustomerID))

	balances, err := svc.ReturnableBalancesFor(ctx, memory.SeedCustomerID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, -2, balances[0].Balance)

	view, err := svc.OpenClick(ctx, second, memory.SeedCustomerID)
	require.NoError(t, err)
	require.Len(t, view.Basket.Items, 1)
	assert.Equal(t, 2, view.Basket.Items[0].Quantity)

	sales, err := repo.ListSales(ctx, domain.SaleFilter{CustomerID: memory.SeedCustomerID})
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestBarmanPaysSpecialPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	basket, err := svc.AddProduct(ctx, sess, memory.SeedBarmanID, memory.SeedBeerID, 1)
	require.NoError(t, err)
	assert.Equal(t, "1.00", basket.Items[0].UnitPrice.String())

	basket, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBeerID, 1)
	require.NoError(t, err)
	assert.Equal(t, "1.70", basket.Items[0].UnitPrice.String())
}

func TestAgeAndBanChecks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	_, err := svc.AddProduct(ctx, sess, memory.SeedMinorID, memory.SeedBeerID, 1)
	assert.ErrorIs(t, err, domain.ErrTooYoung)

	_, err = svc.AddProduct(ctx, sess, memory.SeedNoAgeID, memory.SeedBeerID, 1)
	assert.ErrorIs(t, err, domain.ErrNoAgeOnFile)

	_, err = svc.AddProduct(ctx, sess, memory.SeedMinorID, memory.SeedCocaID, 1)
	require.NoError(t, err)

	settings := svc.Settings()
	_, err = svc.AddUserToGroup(asAdmin(), memory.SeedCustomerID, settings.AlcoholBannedGroup)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBeerID, 1)
	assert.ErrorIs(t, err, domain.ErrAlcoholBanned)

	_, err = svc.AddUserToGroup(asAdmin(), memory.SeedCustomerID, settings.CounterBannedGroup)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedCocaID, 1)
	assert.ErrorIs(t, err, domain.ErrCounterBanned)
}

func TestBuyingGroupsRestrictProducts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	_, err := svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedStaffPizzaID, 1)
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)

	_, err = svc.AddUserToGroup(asUser(memory.SeedBarmanID, "skia"), memory.SeedCustomerID, 7)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	groups, err := svc.AddUserToGroup(asAdmin(), memory.SeedCustomerID, 7)
	require.NoError(t, err)
	assert.Contains(t, groups, int64(7))

	_, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedStaffPizzaID, 1)
	require.NoError(t, err)

	_, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedGalaID, 1)
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)
}

func TestRefillAtTheBar(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	res, err := svc.Refill(ctx, sess, memory.SeedCustomerID, RefillRequest{Amount: money.MustParse("15.00"), PaymentMethod: domain.PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, memory.SeedBarmanID, res.Refill.OperatorID)
	assert.Equal(t, "25.00", balanceOf(t, repo, memory.SeedCustomerID))

	_, err = svc.Refill(ctx, sess, memory.SeedCustomerID, RefillRequest{Amount: money.MustParse("10.00"), PaymentMethod: domain.PaymentCheck})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Refill(ctx, sess, memory.SeedCustomerID, RefillRequest{Amount: money.MustParse("10.00"), PaymentMethod: domain.PaymentCheck, Bank: "BNP", CheckNumber: "1234"})
	require.NoError(t, err)

	_, err = svc.Refill(ctx, sess, memory.SeedCustomerID, RefillRequest{Amount: money.MustParse("10.00"), PaymentMethod: domain.PaymentCard})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Refill(ctx, sess, memory.SeedCustomerID, RefillRequest{Amount: money.MustParse("-1.00"), PaymentMethod: domain.PaymentCash})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, "35.00", balanceOf(t, repo, memory.SeedCustomerID))
}

func TestStudentCardAtCounterAndLookup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	card, err := svc.AddStudentCardAtCounter(ctx, sess, memory.SeedBarman2ID, "04a1b2c3d4e5ff")
	require.NoError(t, err)
	assert.Equal(t, "04A1B2C3D4E5FF", card.UID)

	_, err = svc.AddStudentCardAtCounter(ctx, sess, memory.SeedBarman2ID, memory.SeedStudentCardUID)
	assert.ErrorIs(t, err, domain.ErrInvalidStudentCardUID)

	_, err = svc.AddStudentCardAtCounter(ctx, sess, memory.SeedBarman2ID, "not-a-card")
	assert.ErrorIs(t, err, domain.ErrInvalidStudentCardUID)

	customer, _, err := svc.LookupCustomer(ctx, "04A1B2C3D4E5FF")
	require.NoError(t, err)
	assert.Equal(t, memory.SeedBarman2ID, customer.UserID)

	customer, _, err = svc.LookupCustomer(ctx, "1001C")
	require.NoError(t, err)
	assert.Equal(t, memory.SeedCustomerID, customer.UserID)

	_, _, err = svc.LookupCustomer(ctx, "9999z")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
