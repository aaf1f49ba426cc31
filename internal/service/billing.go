package service

import (
	"context"
	"errors"
	"strings"

	"sith/backend/internal/domain"
	"sith/backend/internal/store"
)

type BillingView struct {
	Info  *domain.BillingInfo     `json:"info,omitempty"`
	State domain.BillingInfoState `json:"state"`
}

func (s *Service) GetBillingInfo(ctx context.Context, userID int64) (BillingView, error) {
	if err := s.requireOwnerOrGroup(ctx, userID, s.settings.BillingAdminGroup); err != nil {
		return BillingView{}, err
	}
	info, err := s.repo.GetBillingInfo(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return BillingView{State: domain.BillingEmpty}, nil
		}
		return BillingView{}, err
	}
	return BillingView{Info: info, State: info.State()}, nil
}

// UpsertBillingInfo stores the billing address used for card payments,
// opening the customer account when the user has none yet.
func (s *Service) UpsertBillingInfo(ctx context.Context, userID int64, info domain.BillingInfo) (BillingView, error) {
	if err := s.requireOwnerOrGroup(ctx, userID, s.settings.BillingAdminGroup); err != nil {
		return BillingView{}, err
	}
	info.CustomerID = userID
	info.FirstName = strings.TrimSpace(info.FirstName)
	info.LastName = strings.TrimSpace(info.LastName)
	info.Country = strings.ToUpper(strings.TrimSpace(info.Country))
	info.PhoneNumber = strings.ReplaceAll(strings.TrimSpace(info.PhoneNumber), " ", "")
	if err := s.validate.Struct(info); err != nil {
		return BillingView{}, validationError(err)
	}
	if _, _, err := s.GetOrCreateCustomer(ctx, userID); err != nil {
		return BillingView{}, err
	}
	saved, err := s.repo.UpsertBillingInfo(ctx, info)
	if err != nil {
		return BillingView{}, notFound(err, "customer")
	}
	return BillingView{Info: saved, State: saved.State()}, nil
}
