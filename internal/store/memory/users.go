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

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneUser(u)
	return &out, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			out := cloneUser(u)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(user.Username) == "" {
		return nil, store.ErrInvalidTransaction
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Username, user.Username) {
			return nil, store.ErrConflict
		}
	}
	user.ID = s.next("users")
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = cloneUser(user)
	out := cloneUser(user)
	return &out, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			u.PasswordHash = passwordHash
			s.users[id] = u
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListUserGroups(_ context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]int64(nil), u.GroupIDs...), nil
}

func (s *Store) AddUserToGroup(_ context.Context, userID int64, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(u.GroupIDs, groupID) {
		u.GroupIDs = append(append([]int64(nil), u.GroupIDs...), groupID)
		s.users[userID] = u
	}
	return nil
}

func (s *Store) RemoveUserFromGroup(_ context.Context, userID int64, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	groups := make([]int64, 0, len(u.GroupIDs))
	for _, g := range u.GroupIDs {
		if g != groupID {
			groups = append(groups, g)
		}
	}
	u.GroupIDs = groups
	s.users[userID] = u
	return nil
}

func (s *Store) GetCustomer(_ context.Context, userID int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) FindCustomerByAccountID(_ context.Context, accountID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if strings.EqualFold(c.AccountID, accountID) {
			out := c
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) LastAccountID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := ""
	for _, c := range s.customers {
		if len(c.AccountID) > len(last) || (len(c.AccountID) == len(last) && c.AccountID > last) {
			last = c.AccountID
		}
	}
	return last, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[customer.UserID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.customers[customer.UserID]; ok {
		return nil, store.ErrConflict
	}
	for _, c := range s.customers {
		if strings.EqualFold(c.AccountID, customer.AccountID) {
			return nil, store.ErrConflict
		}
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.UserID] = customer
	return &customer, nil
}

func (s *Store) CreateStudentCard(_ context.Context, card domain.StudentCard) (*domain.StudentCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[card.CustomerID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, c := range s.studentCards {
		if c.UID == card.UID {
			return nil, store.ErrConflict
		}
	}
	card.ID = s.next("student_cards")
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	s.studentCards[card.ID] = card
	return &card, nil
}

func (s *Store) GetStudentCard(_ context.Context, id int64) (*domain.StudentCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.studentCards[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) FindStudentCardByUID(_ context.Context, uid string) (*domain.StudentCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.studentCards {
		if c.UID == uid {
			out := c
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListStudentCards(_ context.Context, customerID int64) ([]domain.StudentCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.StudentCard{}
	for _, c := range s.studentCards {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteStudentCard(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.studentCards[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.studentCards, id)
	return nil
}

func (s *Store) GetBillingInfo(_ context.Context, customerID int64) (*domain.BillingInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.billingInfos[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &info, nil
}

func (s *Store) UpsertBillingInfo(_ context.Context, info domain.BillingInfo) (*domain.BillingInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[info.CustomerID]; !ok {
		return nil, store.ErrNotFound
	}
	s.billingInfos[info.CustomerID] = info
	return &info, nil
}
