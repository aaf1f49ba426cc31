package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/money"
	"sith/backend/internal/store"
	"sith/backend/internal/xid"
)

var (
	accountIDPattern   = regexp.MustCompile(`^[0-9]+[a-z]$`)
	studentCardPattern = regexp.MustCompile(`^[0-9A-F]{14}$`)
)

const maxAccountIDAttempts = 10

// nextAccountID derives a fresh account id from the last allocated one: its
// numeric prefix plus one, never below start, followed by letter.
func nextAccountID(last string, start int, letter byte) string {
	digits := 0
	for digits < len(last) && last[digits] >= '0' && last[digits] <= '9' {
		digits++
	}
	n := 0
	if digits > 0 {
		if v, err := strconv.Atoi(last[:digits]); err == nil {
			n = v + 1
		}
	}
	if n < start {
		n = start
	}
	return strconv.Itoa(n) + string(letter)
}

// GetOrCreateCustomer returns the customer account of a user, opening one
// with a zero balance if needed.
func (s *Service) GetOrCreateCustomer(ctx context.Context, userID int64) (domain.Customer, bool, error) {
	existing, err := s.repo.GetCustomer(ctx, userID)
	if err == nil {
		return *existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Customer{}, false, err
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return domain.Customer{}, false, notFound(err, "user")
	}

	for attempt := 0; attempt < maxAccountIDAttempts; attempt++ {
		last, err := s.repo.LastAccountID(ctx)
		if err != nil {
			return domain.Customer{}, false, err
		}
		letter, err := xid.Letter()
		if err != nil {
			return domain.Customer{}, false, err
		}
		created, err := s.repo.CreateCustomer(ctx, domain.Customer{
			UserID:    userID,
			AccountID: nextAccountID(last, s.settings.AccountIDStart, letter),
			Balance:   money.Zero,
			CreatedAt: s.now(),
		})
		if err == nil {
			s.log.Info("customer account created", zap.Int64("user_id", userID), zap.String("account_id", created.AccountID))
			return *created, true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return domain.Customer{}, false, err
		}
		// the user may have been given an account concurrently
		if existing, err := s.repo.GetCustomer(ctx, userID); err == nil {
			return *existing, false, nil
		}
	}
	return domain.Customer{}, false, domain.NewError(domain.KindConflict, "could not allocate an account id")
}

// LookupCustomer resolves a student card UID or an account id to a customer
// able to buy.
func (s *Service) LookupCustomer(ctx context.Context, identifier string) (domain.Customer, domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.Customer{}, domain.User{}, domain.ValidationError("identifier is required", map[string]string{"code": "this field is required"})
	}

	var customer *domain.Customer
	if upper := strings.ToUpper(identifier); studentCardPattern.MatchString(upper) {
		if card, err := s.repo.FindStudentCardByUID(ctx, upper); err == nil {
			customer, err = s.repo.GetCustomer(ctx, card.CustomerID)
			if err != nil {
				return domain.Customer{}, domain.User{}, notFound(err, "customer")
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.Customer{}, domain.User{}, err
		}
	}
	if customer == nil {
		found, err := s.repo.FindCustomerByAccountID(ctx, identifier)
		if err != nil {
			return domain.Customer{}, domain.User{}, notFound(err, "customer")
		}
		customer = found
	}

	user, err := s.repo.GetUser(ctx, customer.UserID)
	if err != nil {
		return domain.Customer{}, domain.User{}, notFound(err, "customer")
	}
	ok, err := s.canBuy(ctx, *user)
	if err != nil {
		return domain.Customer{}, domain.User{}, err
	}
	if !ok {
		return domain.Customer{}, domain.User{}, domain.NewError(domain.KindNotFound, "customer not found")
	}
	return *customer, *user, nil
}

// loadCustomer returns a buying customer and its user.
func (s *Service) loadCustomer(ctx context.Context, userID int64) (domain.Customer, domain.User, error) {
	customer, err := s.repo.GetCustomer(ctx, userID)
	if err != nil {
		return domain.Customer{}, domain.User{}, notFound(err, "customer")
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return domain.Customer{}, domain.User{}, notFound(err, "customer")
	}
	ok, err := s.canBuy(ctx, *user)
	if err != nil {
		return domain.Customer{}, domain.User{}, err
	}
	if !ok {
		return domain.Customer{}, domain.User{}, domain.NewError(domain.KindNotFound, "customer not found")
	}
	return *customer, *user, nil
}
