package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/store"
)

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneProduct(p)
	return &out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Code) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.ProductTypeID != nil {
		if _, ok := s.productTypes[*product.ProductTypeID]; !ok {
			return nil, store.ErrNotFound
		}
	}
	product.ID = s.next("products")
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = cloneProduct(product)
	out := cloneProduct(product)
	return &out, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if product.ProductTypeID != nil {
		if _, ok := s.productTypes[*product.ProductTypeID]; !ok {
			return nil, store.ErrNotFound
		}
	}
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = cloneProduct(product)
	out := cloneProduct(product)
	return &out, nil
}

func (s *Store) listTypesLocked() []domain.ProductType {
	out := make([]domain.ProductType, 0, len(s.productTypes))
	for _, pt := range s.productTypes {
		out = append(out, pt)
	}
	store.SortTypes(out)
	return out
}

func (s *Store) ListProductTypes(_ context.Context) ([]domain.ProductType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTypesLocked(), nil
}

func (s *Store) CreateProductType(_ context.Context, productType domain.ProductType) (*domain.ProductType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(productType.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if productType.Order == 0 {
		for _, pt := range s.productTypes {
			if pt.Order >= productType.Order {
				productType.Order = pt.Order + 1
			}
		}
		if productType.Order == 0 {
			productType.Order = 1
		}
	}
	productType.ID = s.next("product_types")
	s.productTypes[productType.ID] = productType
	return &productType, nil
}

func (s *Store) MoveProductType(_ context.Context, id int64, otherID int64, above bool) ([]domain.ProductType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved, err := store.MoveType(s.listTypesLocked(), id, otherID, above)
	if err != nil {
		return nil, err
	}
	for _, pt := range moved {
		s.productTypes[pt.ID] = pt
	}
	return moved, nil
}

func (s *Store) GetCounter(_ context.Context, id int64) (*domain.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counters[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneCounter(c)
	return &out, nil
}

func (s *Store) ListCounters(_ context.Context) ([]domain.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Counter, 0, len(s.counters))
	for _, c := range s.counters {
		out = append(out, cloneCounter(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetCounterToken(_ context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Token = token
	s.counters[id] = c
	return nil
}

func (s *Store) AddCounterProduct(_ context.Context, counterID int64, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[counterID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := s.products[productID]; !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(c.ProductIDs, productID) {
		c = cloneCounter(c)
		c.ProductIDs = append(c.ProductIDs, productID)
		s.counters[counterID] = c
	}
	return nil
}

func (s *Store) OpenPermanency(_ context.Context, p domain.Permanency) (*domain.Permanency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counters[p.CounterID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.permanencies {
		if existing.CounterID == p.CounterID && existing.UserID == p.UserID && existing.End == nil {
			return nil, store.ErrConflict
		}
	}
	p.ID = s.next("permanencies")
	p.End = nil
	s.permanencies[p.ID] = p
	return &p, nil
}

func (s *Store) ClosePermanency(_ context.Context, counterID int64, userID int64) (*domain.Permanency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.permanencies {
		if p.CounterID == counterID && p.UserID == userID && p.End == nil {
			end := p.Activity
			p.End = &end
			s.permanencies[id] = p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) Heartbeat(_ context.Context, counterID int64, idleBefore time.Time, now time.Time) ([]domain.Permanency, []domain.Permanency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := []domain.Permanency{}
	closed := []domain.Permanency{}
	for id, p := range s.permanencies {
		if p.CounterID != counterID || p.End != nil {
			continue
		}
		if !p.Activity.After(idleBefore) {
			end := p.Activity
			p.End = &end
			closed = append(closed, p)
		} else {
			p.Activity = now
			open = append(open, p)
		}
		s.permanencies[id] = p
	}
	sortPermanencies(open)
	sortPermanencies(closed)
	return open, closed, nil
}

func (s *Store) ListOpenPermanencies(_ context.Context, counterID int64) ([]domain.Permanency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Permanency{}
	for _, p := range s.permanencies {
		if p.CounterID == counterID && p.End == nil {
			out = append(out, p)
		}
	}
	sortPermanencies(out)
	return out, nil
}

func sortPermanencies(list []domain.Permanency) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

func (s *Store) GetBasket(_ context.Context, counterID int64, customerID int64, owner string) (*domain.Basket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.baskets[basketKey{counterID, customerID, owner}]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneBasket(b)
	return &out, nil
}

func (s *Store) SaveBasket(_ context.Context, basket domain.Basket) (*domain.Basket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := basketKey{basket.CounterID, basket.CustomerID, basket.OwnerSession}
	if existing, ok := s.baskets[key]; ok {
		basket.ID = existing.ID
	} else {
		basket.ID = s.next("baskets")
	}
	basket.UpdatedAt = time.Now().UTC()
	s.baskets[key] = cloneBasket(basket)
	out := cloneBasket(basket)
	return &out, nil
}

func (s *Store) DeleteBasket(_ context.Context, counterID int64, customerID int64, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.baskets, basketKey{counterID, customerID, owner})
	return nil
}

func (s *Store) SaveLastPurchase(_ context.Context, purchase domain.LastPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase.Items = append([]domain.BasketItem(nil), purchase.Items...)
	s.lastPurchases[ownerKey{purchase.CounterID, purchase.OwnerSession}] = purchase
	return nil
}

func (s *Store) PopLastPurchase(_ context.Context, counterID int64, owner string) (*domain.LastPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey{counterID, owner}
	p, ok := s.lastPurchases[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.lastPurchases, key)
	return &p, nil
}

func (s *Store) CreateEticket(_ context.Context, ticket domain.Eticket) (*domain.Eticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[ticket.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, t := range s.etickets {
		if t.ProductID == ticket.ProductID {
			return nil, store.ErrConflict
		}
	}
	ticket.ID = s.next("etickets")
	s.etickets[ticket.ID] = ticket
	return &ticket, nil
}

func (s *Store) GetEticketByProduct(_ context.Context, productID int64) (*domain.Eticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.etickets {
		if t.ProductID == productID {
			out := t
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateCashSummary(_ context.Context, summary domain.CashRegisterSummary) (*domain.CashRegisterSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counters[summary.CounterID]; !ok {
		return nil, store.ErrNotFound
	}
	summary.ID = s.next("cash_summaries")
	if summary.Date.IsZero() {
		summary.Date = time.Now().UTC()
	}
	s.cashSummaries[summary.ID] = cloneSummary(summary)
	out := cloneSummary(summary)
	return &out, nil
}

func (s *Store) ListCashSummaries(_ context.Context, counterID int64, from *time.Time, to *time.Time) ([]domain.CashRegisterSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.CashRegisterSummary{}
	for _, summary := range s.cashSummaries {
		if counterID != 0 && summary.CounterID != counterID {
			continue
		}
		if !inRange(summary.Date, from, to) {
			continue
		}
		out = append(out, cloneSummary(summary))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) LastEmptiedCashSummary(_ context.Context, counterID int64) (*domain.CashRegisterSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *domain.CashRegisterSummary
	for _, summary := range s.cashSummaries {
		if summary.CounterID != counterID || !summary.Emptied {
			continue
		}
		if last == nil || summary.ID > last.ID {
			c := cloneSummary(summary)
			last = &c
		}
	}
	if last == nil {
		return nil, store.ErrNotFound
	}
	return last, nil
}
