package memory

import (
	"context"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/store"
)

func (s *Store) ReplaceEbouticBasket(_ context.Context, basket domain.EbouticBasket) (*domain.EbouticBasket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(basket.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	for id, existing := range s.ebouticBaskets {
		if existing.UserID == basket.UserID {
			delete(s.ebouticBaskets, id)
		}
	}
	basket.ID = s.next("eboutic_baskets")
	if basket.CreatedAt.IsZero() {
		basket.CreatedAt = time.Now().UTC()
	}
	s.ebouticBaskets[basket.ID] = cloneEbouticBasket(basket)
	out := cloneEbouticBasket(basket)
	return &out, nil
}

func (s *Store) GetEbouticBasket(_ context.Context, id int64) (*domain.EbouticBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.ebouticBaskets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneEbouticBasket(b)
	return &out, nil
}

// SettleEbouticBasket holds the store lock for the whole settlement so that
// a replayed callback finds the basket already gone.
func (s *Store) SettleEbouticBasket(_ context.Context, id int64, settle store.SettleFunc) (*domain.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	basket, ok := s.ebouticBaskets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer, ok := s.customers[basket.UserID]
	if !ok {
		return nil, store.ErrNotFound
	}
	settlement, err := settle(cloneEbouticBasket(basket), customer)
	if err != nil {
		return nil, err
	}

	balance := customer.Balance
	for _, refill := range settlement.Refills {
		if !refill.Amount.IsPositive() {
			return nil, store.ErrInvalidTransaction
		}
		balance = balance.Add(refill.Amount)
	}
	balance = balance.Sub(accountDebit(settlement.Sales))
	if balance.IsNegative() {
		return nil, store.ErrInsufficientFunds
	}
	for i := range settlement.Sales {
		settlement.Sales[i].CustomerID = customer.UserID
	}

	now := time.Now().UTC()
	sales, err := s.insertSalesLocked(settlement.Sales, now)
	if err != nil {
		return nil, err
	}
	refills := make([]domain.Refill, 0, len(settlement.Refills))
	for _, refill := range settlement.Refills {
		refill.ID = s.next("refills")
		refill.CustomerID = customer.UserID
		if refill.Date.IsZero() {
			refill.Date = now
		}
		s.refills[refill.ID] = refill
		refills = append(refills, refill)
	}
	customer.Balance = balance
	s.applyDepositsLocked(&customer, settlement.DepositDeltas)
	s.customers[customer.UserID] = customer
	delete(s.ebouticBaskets, id)

	return &domain.Settlement{Sales: sales, Refills: refills}, nil
}

func (s *Store) lastActivityLocked(customerID int64) time.Time {
	var last time.Time
	for _, sale := range s.sales {
		if sale.CustomerID == customerID && sale.Date.After(last) {
			last = sale.Date
		}
	}
	for _, refill := range s.refills {
		if refill.CustomerID == customerID && refill.Date.After(last) {
			last = refill.Date
		}
	}
	return last
}

func (s *Store) ongoingDumpLocked(customerID int64) bool {
	for _, d := range s.accountDumps {
		if d.CustomerID == customerID && d.DumpSaleID == nil {
			return true
		}
	}
	return false
}

func (s *Store) ListDumpCandidates(_ context.Context, inactiveSince time.Time) ([]domain.DumpCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.DumpCandidate{}
	for _, customer := range s.customers {
		if !customer.Balance.IsPositive() {
			continue
		}
		user, ok := s.users[customer.UserID]
		if !ok || user.Subscribed {
			continue
		}
		last := s.lastActivityLocked(customer.UserID)
		if last.IsZero() {
			last = customer.CreatedAt
		}
		if last.After(inactiveSince) || s.ongoingDumpLocked(customer.UserID) {
			continue
		}
		out = append(out, domain.DumpCandidate{User: cloneUser(user), Customer: customer})
	}
	sortCandidates(out)
	return out, nil
}

func (s *Store) CreateAccountDump(_ context.Context, dump domain.AccountDump) (*domain.AccountDump, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[dump.CustomerID]; !ok {
		return nil, store.ErrNotFound
	}
	if s.ongoingDumpLocked(dump.CustomerID) {
		return nil, store.ErrConflict
	}
	dump.ID = s.next("account_dumps")
	dump.DumpSaleID = nil
	s.accountDumps[dump.ID] = dump
	return &dump, nil
}

func (s *Store) ListPendingAccountDumps(_ context.Context, warnedBefore time.Time) ([]domain.AccountDump, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.AccountDump{}
	for _, d := range s.accountDumps {
		if d.DumpSaleID == nil && d.WarningMailSentAt.Before(warnedBefore) {
			out = append(out, d)
		}
	}
	sortDumps(out)
	return out, nil
}

func (s *Store) DeleteAccountDump(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountDumps[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.accountDumps, id)
	return nil
}

func (s *Store) DumpAccount(_ context.Context, dumpID int64, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dump, ok := s.accountDumps[dumpID]
	if !ok || dump.DumpSaleID != nil {
		return nil, store.ErrNotFound
	}
	customer, ok := s.customers[dump.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.CustomerID = customer.UserID
	sale.UnitPrice = customer.Balance
	sale.Quantity = 1
	sale.PaymentMethod = domain.PaymentAccount
	sales, err := s.insertSalesLocked([]domain.Sale{sale}, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	customer.Balance = customer.Balance.Sub(sale.UnitPrice)
	s.customers[customer.UserID] = customer
	dump.DumpSaleID = &sales[0].ID
	s.accountDumps[dumpID] = dump
	return &sales[0], nil
}
