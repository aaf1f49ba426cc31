package memory

import (
	"context"
	"sort"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/money"
	"sith/backend/internal/store"
)

// accountDebit is the amount an ACCOUNT paid batch of sales takes from the
// balance. CARD sales are settled by the bank.
func accountDebit(sales []domain.Sale) money.Money {
	total := money.Zero
	for _, sale := range sales {
		if sale.PaymentMethod == domain.PaymentAccount {
			total = total.Add(sale.Total())
		}
	}
	return total
}

func (s *Store) insertSalesLocked(sales []domain.Sale, now time.Time) ([]domain.Sale, error) {
	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if sale.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		sale.ID = s.next("sales")
		if sale.Date.IsZero() {
			sale.Date = now
		}
		s.sales[sale.ID] = sale
		out = append(out, sale)
	}
	return out, nil
}

func (s *Store) applyDepositsLocked(customer *domain.Customer, deltas map[int64]int) {
	for returnableID, delta := range deltas {
		if delta == 0 {
			continue
		}
		key := balanceKey{customer.UserID, returnableID}
		s.returnableBalances[key] += delta
		if s.returnableBalances[key] == 0 {
			delete(s.returnableBalances, key)
		}
		customer.RecordedDeposits += delta
	}
}

// checkDepositsLocked fails with store.ErrDepositLimit when a delta would
// push a returnable balance of the customer past its cap.
func (s *Store) checkDepositsLocked(customerID int64, deltas map[int64]int, limits map[int64]int) error {
	for returnableID, delta := range deltas {
		current := s.returnableBalances[balanceKey{customerID, returnableID}]
		if !store.DepositAllowed(limits, returnableID, current, delta) {
			return store.ErrDepositLimit
		}
	}
	return nil
}

func (s *Store) ChargeCustomer(_ context.Context, charge domain.Charge) (*domain.ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(charge.Sales) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	customer, ok := s.customers[charge.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	newBalance := customer.Balance.Sub(accountDebit(charge.Sales))
	if newBalance.IsNegative() {
		return nil, store.ErrInsufficientFunds
	}
	for i := range charge.Sales {
		charge.Sales[i].CustomerID = customer.UserID
		if charge.Sales[i].Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
	}
	if err := s.checkDepositsLocked(customer.UserID, charge.DepositDeltas, charge.DepositLimits); err != nil {
		return nil, err
	}
	sales, err := s.insertSalesLocked(charge.Sales, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	customer.Balance = newBalance
	s.applyDepositsLocked(&customer, charge.DepositDeltas)
	s.customers[customer.UserID] = customer
	if key := charge.Basket; key != nil {
		delete(s.baskets, basketKey{key.CounterID, key.CustomerID, key.OwnerSession})
	}
	return &domain.ChargeResult{Sales: sales, Customer: customer}, nil
}

func (s *Store) CreditCustomer(_ context.Context, refill domain.Refill) (*domain.CreditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !refill.Amount.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	customer, ok := s.customers[refill.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	refill.ID = s.next("refills")
	if refill.Date.IsZero() {
		refill.Date = time.Now().UTC()
	}
	s.refills[refill.ID] = refill
	customer.Balance = customer.Balance.Add(refill.Amount)
	s.customers[customer.UserID] = customer
	return &domain.CreditResult{Refill: refill, Customer: customer}, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Sale{}
	for _, sale := range s.sales {
		if filter.CounterID != 0 && sale.CounterID != filter.CounterID {
			continue
		}
		if filter.CustomerID != 0 && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.ProductID != 0 && (sale.ProductID == nil || *sale.ProductID != filter.ProductID) {
			continue
		}
		if !inRange(sale.Date, filter.Since, filter.Until) {
			continue
		}
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) DeleteSale(_ context.Context, id int64, depositDeltas map[int64]int, entry domain.OperationLog) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer, ok := s.customers[sale.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.PaymentMethod == domain.PaymentAccount {
		refunded := customer.Balance.Add(sale.Total())
		if refunded.IsNegative() {
			return nil, store.ErrInsufficientFunds
		}
		customer.Balance = refunded
	}
	s.applyDepositsLocked(&customer, depositDeltas)
	s.customers[customer.UserID] = customer
	delete(s.sales, id)
	s.operationLogs = append(s.operationLogs, entry)
	return &customer, nil
}

func (s *Store) GetRefill(_ context.Context, id int64) (*domain.Refill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refill, ok := s.refills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &refill, nil
}

func (s *Store) ListRefills(_ context.Context, filter domain.RefillFilter) ([]domain.Refill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Refill{}
	for _, refill := range s.refills {
		if filter.CounterID != 0 && refill.CounterID != filter.CounterID {
			continue
		}
		if filter.CustomerID != 0 && refill.CustomerID != filter.CustomerID {
			continue
		}
		if filter.PaymentMethod != "" && refill.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if !inRange(refill.Date, filter.Since, filter.Until) {
			continue
		}
		out = append(out, refill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) DeleteRefill(_ context.Context, id int64, entry domain.OperationLog) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refill, ok := s.refills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer, ok := s.customers[refill.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	debited := customer.Balance.Sub(refill.Amount)
	if debited.IsNegative() {
		return nil, store.ErrInsufficientFunds
	}
	customer.Balance = debited
	s.customers[customer.UserID] = customer
	delete(s.refills, id)
	s.operationLogs = append(s.operationLogs, entry)
	return &customer, nil
}

func (s *Store) ListOperationLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.OperationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.OperationLog{}
	for i := len(s.operationLogs) - 1; i >= 0; i-- {
		entry := s.operationLogs[i]
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateReturnable(_ context.Context, r domain.ReturnableProduct) (*domain.ReturnableProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ProductID == r.ReturnedProductID || r.MaxReturn < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, ok := s.products[r.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.products[r.ReturnedProductID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.returnables {
		if existing.ProductID == r.ProductID && existing.ReturnedProductID == r.ReturnedProductID {
			return nil, store.ErrConflict
		}
	}
	r.ID = s.next("returnables")
	s.returnables[r.ID] = r
	return &r, nil
}

func (s *Store) GetReturnable(_ context.Context, id int64) (*domain.ReturnableProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.returnables[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListReturnables(_ context.Context) ([]domain.ReturnableProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ReturnableProduct, 0, len(s.returnables))
	for _, r := range s.returnables {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReturnableBalances(_ context.Context, customerID int64) ([]domain.ReturnableBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ReturnableBalance, 0, len(s.returnables))
	for _, r := range s.returnables {
		out = append(out, domain.ReturnableBalance{
			Returnable: r,
			Balance:    s.returnableBalances[balanceKey{customerID, r.ID}],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Returnable.ID < out[j].Returnable.ID })
	return out, nil
}

// RecomputeReturnable rebuilds every customer balance of a returnable from
// the sale history and returns the number of customers holding a non zero
// balance afterwards.
func (s *Store) RecomputeReturnable(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.returnables[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	balances := map[int64]int{}
	for _, sale := range s.sales {
		if sale.ProductID == nil {
			continue
		}
		switch *sale.ProductID {
		case r.ProductID:
			balances[sale.CustomerID] += sale.Quantity
		case r.ReturnedProductID:
			balances[sale.CustomerID] -= sale.Quantity
		}
	}
	for key, old := range s.returnableBalances {
		if key.returnableID != id {
			continue
		}
		if c, ok := s.customers[key.customerID]; ok {
			c.RecordedDeposits -= old
			s.customers[key.customerID] = c
		}
		delete(s.returnableBalances, key)
	}
	count := 0
	for customerID, balance := range balances {
		if balance == 0 {
			continue
		}
		s.returnableBalances[balanceKey{customerID, id}] = balance
		if c, ok := s.customers[customerID]; ok {
			c.RecordedDeposits += balance
			s.customers[customerID] = c
		}
		count++
	}
	return count, nil
}
