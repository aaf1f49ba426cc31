package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sith/backend/internal/domain"
	"sith/backend/internal/money"
	"sith/backend/internal/store"
)

func beerSale(qty int) domain.Sale {
	id := SeedBeerID
	return domain.Sale{
		Label:         "Bière",
		CounterID:     SeedBarCounterID,
		ClubID:        1,
		ProductID:     &id,
		UnitPrice:     money.MustParse("1.70"),
		Quantity:      qty,
		PaymentMethod: domain.PaymentAccount,
		IsValidated:   true,
	}
}

func TestChargeCustomerRefusesOverdraft(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.ChargeCustomer(ctx, domain.Charge{CustomerID: SeedCustomerID, Sales: []domain.Sale{beerSale(6)}})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	c, err := s.GetCustomer(ctx, SeedCustomerID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", c.Balance.String())

	sales, err := s.ListSales(ctx, domain.SaleFilter{CustomerID: SeedCustomerID})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestChargeCustomerAppliesDeposits(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	res, err := s.ChargeCustomer(ctx, domain.Charge{
		CustomerID:    SeedCustomerID,
		Sales:         []domain.Sale{beerSale(2)},
		DepositDeltas: map[int64]int{SeedEcocupReturnableID: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "6.60", res.Customer.Balance.String())
	assert.Equal(t, 2, res.Customer.RecordedDeposits)

	balances, err := s.ReturnableBalances(ctx, SeedCustomerID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, 2, balances[0].Balance)
}

func TestChargeCustomerEnforcesDepositCap(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	limits := map[int64]int{SeedEcocupReturnableID: 2}

	_, err := s.ChargeCustomer(ctx, domain.Charge{
		CustomerID:    SeedCustomerID,
		Sales:         []domain.Sale{beerSale(1)},
		DepositDeltas: map[int64]int{SeedEcocupReturnableID: -2},
		DepositLimits: limits,
	})
	require.NoError(t, err)

	_, err = s.ChargeCustomer(ctx, domain.Charge{
		CustomerID:    SeedCustomerID,
		Sales:         []domain.Sale{beerSale(1)},
		DepositDeltas: map[int64]int{SeedEcocupReturnableID: -1},
		DepositLimits: limits,
	})
	require.ErrorIs(t, err, store.ErrDepositLimit)

	c, err := s.GetCustomer(ctx, SeedCustomerID)
	require.NoError(t, err)
	assert.Equal(t, "8.30", c.Balance.String())
	assert.Equal(t, -2, c.RecordedDeposits)

	sales, err := s.ListSales(ctx, domain.SaleFilter{CustomerID: SeedCustomerID})
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestChargeCustomerConsumesBasket(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	basket := domain.Basket{CounterID: SeedBarCounterID, CustomerID: SeedCustomerID, OwnerSession: "browser-1",
		Items: []domain.BasketItem{{ProductID: SeedBeerID, ProductName: "Bière", UnitPrice: money.MustParse("1.70"), Quantity: 6}}}
	_, err := s.SaveBasket(ctx, basket)
	require.NoError(t, err)
	key := &domain.BasketKey{CounterID: SeedBarCounterID, CustomerID: SeedCustomerID, OwnerSession: "browser-1"}

	_, err = s.ChargeCustomer(ctx, domain.Charge{CustomerID: SeedCustomerID, Sales: []domain.Sale{beerSale(6)}, Basket: key})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
	_, err = s.GetBasket(ctx, SeedBarCounterID, SeedCustomerID, "browser-1")
	require.NoError(t, err)

	_, err = s.ChargeCustomer(ctx, domain.Charge{CustomerID: SeedCustomerID, Sales: []domain.Sale{beerSale(2)}, Basket: key})
	require.NoError(t, err)
	_, err = s.GetBasket(ctx, SeedBarCounterID, SeedCustomerID, "browser-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentLedgerWritesKeepBalanceConsistent(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	const chargers, refills = 40, 20

	var charged atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < chargers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ChargeCustomer(ctx, domain.Charge{CustomerID: SeedCustomerID, Sales: []domain.Sale{beerSale(1)}})
			if err == nil {
				charged.Add(1)
				return
			}
			assert.ErrorIs(t, err, store.ErrInsufficientFunds)
		}()
	}
	for i := 0; i < refills; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreditCustomer(ctx, domain.Refill{
				CounterID: SeedBarCounterID, CustomerID: SeedCustomerID, OperatorID: SeedBarmanID,
				Amount: money.MustParse("0.50"), PaymentMethod: domain.PaymentCash, IsValidated: true,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := s.GetCustomer(ctx, SeedCustomerID)
	require.NoError(t, err)
	assert.False(t, c.Balance.IsNegative())
	want := money.MustParse("10.00").Add(money.MustParse("0.50").Mul(refills)).Sub(money.MustParse("1.70").Mul(int(charged.Load())))
	assert.Equal(t, want.String(), c.Balance.String())

	sales, err := s.ListSales(ctx, domain.SaleFilter{CustomerID: SeedCustomerID})
	require.NoError(t, err)
	assert.Len(t, sales, int(charged.Load()))
	assert.Positive(t, charged.Load())
}

func TestCardSalesLeaveBalanceUntouched(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	sale := beerSale(20)
	sale.PaymentMethod = domain.PaymentCard
	res, err := s.ChargeCustomer(ctx, domain.Charge{CustomerID: SeedCustomerID, Sales: []domain.Sale{sale}})
	require.NoError(t, err)
	assert.Equal(t, "10.00", res.Customer.Balance.String())
}

func TestDeleteSaleRefundsAndLogs(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	res, err := s.ChargeCustomer(ctx, domain.Charge{CustomerID: SeedCustomerID, Sales: []domain.Sale{beerSale(1)}})
	require.NoError(t, err)

	now := time.Now().UTC()
	customer, err := s.DeleteSale(ctx, res.Sales[0].ID, nil, domain.OperationLog{ID: "oplog-1", Action: domain.OperationSaleDeletion, CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, "10.00", customer.Balance.String())

	_, err = s.GetSale(ctx, res.Sales[0].ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	logs, err := s.ListOperationLogs(ctx, now.Add(-time.Minute), now.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.OperationSaleDeletion, logs[0].Action)
}

func TestDeleteRefillRefusesNegativeBalance(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	credit, err := s.CreditCustomer(ctx, domain.Refill{
		CounterID:     SeedBarCounterID,
		CustomerID:    SeedCustomerID,
		OperatorID:    SeedBarmanID,
		Amount:        money.MustParse("5.00"),
		PaymentMethod: domain.PaymentCash,
	})
	require.NoError(t, err)
	assert.Equal(t, "15.00", credit.Customer.Balance.String())

	_, err = s.ChargeCustomer(ctx, domain.Charge{CustomerID: SeedCustomerID, Sales: []domain.Sale{beerSale(8)}})
	require.NoError(t, err)

	_, err = s.DeleteRefill(ctx, credit.Refill.ID, domain.OperationLog{ID: "oplog-2"})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
}

func TestOpenPermanencyConflictAndHeartbeat(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	start := time.Now().UTC()

	p := domain.Permanency{UserID: SeedBarmanID, CounterID: SeedBarCounterID, Start: start, Activity: start}
	_, err := s.OpenPermanency(ctx, p)
	require.NoError(t, err)
	_, err = s.OpenPermanency(ctx, p)
	require.ErrorIs(t, err, store.ErrConflict)

	open, closed, err := s.Heartbeat(ctx, SeedBarCounterID, start.Add(-time.Minute), start.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Empty(t, closed)
	assert.True(t, open[0].Activity.Equal(start.Add(time.Minute)))

	open, closed, err = s.Heartbeat(ctx, SeedBarCounterID, start.Add(time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, open)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].End.Equal(start.Add(time.Minute)))
}

func TestSettleEbouticBasketConsumesBasket(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	basket, err := s.ReplaceEbouticBasket(ctx, domain.EbouticBasket{
		UserID: SeedCustomerID,
		Items: []domain.EbouticItem{
			{ProductID: SeedRefill15ID, ProductName: "Rechargement 15 €", ProductTypeID: 3, UnitPrice: money.MustParse("15.00"), Quantity: 1},
		},
		Total: money.MustParse("15.00"),
	})
	require.NoError(t, err)

	settle := func(b domain.EbouticBasket, c domain.Customer) (domain.Settlement, error) {
		return domain.Settlement{Refills: []domain.Refill{{
			CounterID:     SeedEbouticCounterID,
			OperatorID:    c.UserID,
			Amount:        b.Total,
			PaymentMethod: domain.PaymentCard,
			IsValidated:   true,
		}}}, nil
	}
	settlement, err := s.SettleEbouticBasket(ctx, basket.ID, settle)
	require.NoError(t, err)
	require.Len(t, settlement.Refills, 1)

	c, err := s.GetCustomer(ctx, SeedCustomerID)
	require.NoError(t, err)
	assert.Equal(t, "25.00", c.Balance.String())

	_, err = s.SettleEbouticBasket(ctx, basket.ID, settle)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReplaceEbouticBasketDropsPrevious(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	item := domain.EbouticItem{ProductID: SeedBeerID, ProductName: "Bière", ProductTypeID: 1, UnitPrice: money.MustParse("1.70"), Quantity: 1}
	first, err := s.ReplaceEbouticBasket(ctx, domain.EbouticBasket{UserID: SeedCustomerID, Items: []domain.EbouticItem{item}})
	require.NoError(t, err)
	second, err := s.ReplaceEbouticBasket(ctx, domain.EbouticBasket{UserID: SeedCustomerID, Items: []domain.EbouticItem{item}})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = s.GetEbouticBasket(ctx, first.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccountDumpLifecycle(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	s.mu.Lock()
	u := s.users[SeedNoAgeID]
	u.Subscribed = false
	s.users[SeedNoAgeID] = u
	c := s.customers[SeedNoAgeID]
	c.CreatedAt = time.Now().UTC().AddDate(-3, 0, 0)
	s.customers[SeedNoAgeID] = c
	s.mu.Unlock()

	candidates, err := s.ListDumpCandidates(ctx, time.Now().UTC().AddDate(-2, 0, 0))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, SeedNoAgeID, candidates[0].Customer.UserID)

	dump, err := s.CreateAccountDump(ctx, domain.AccountDump{CustomerID: SeedNoAgeID, WarningMailSentAt: time.Now().UTC().AddDate(0, -2, 0)})
	require.NoError(t, err)
	_, err = s.CreateAccountDump(ctx, domain.AccountDump{CustomerID: SeedNoAgeID})
	require.ErrorIs(t, err, store.ErrConflict)

	pending, err := s.ListPendingAccountDumps(ctx, time.Now().UTC().AddDate(0, -1, 0))
	require.NoError(t, err)
	require.Len(t, pending, 1)

	sale, err := s.DumpAccount(ctx, dump.ID, domain.Sale{Label: "Inactive account dump", CounterID: SeedDumpCounterID, ClubID: 1})
	require.NoError(t, err)
	assert.Equal(t, "10.00", sale.UnitPrice.String())

	after, err := s.GetCustomer(ctx, SeedNoAgeID)
	require.NoError(t, err)
	assert.True(t, after.Balance.IsZero())
}
