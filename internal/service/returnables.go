package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/store"
)

type ReturnableRequest struct {
	ProductID         int64 `json:"product_id" validate:"required,gt=0"`
	ReturnedProductID int64 `json:"returned_product_id" validate:"required,gt=0,nefield=ProductID"`
	MaxReturn         int   `json:"max_return" validate:"min=0"`
}

// CreateReturnable links a product to the product that returns it and
// rebuilds the customers' balances for the new pair.
func (s *Service) CreateReturnable(ctx context.Context, req ReturnableRequest) (domain.ReturnableProduct, error) {
	if _, err := s.requireGroup(ctx, s.settings.CounterAdminGroup); err != nil {
		return domain.ReturnableProduct{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.ReturnableProduct{}, validationError(err)
	}
	created, err := s.repo.CreateReturnable(ctx, domain.ReturnableProduct{
		ProductID:         req.ProductID,
		ReturnedProductID: req.ReturnedProductID,
		MaxReturn:         req.MaxReturn,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return domain.ReturnableProduct{}, domain.NewError(domain.KindConflict, "this product pair already has a returnable")
		case errors.Is(err, store.ErrInvalidTransaction):
			return domain.ReturnableProduct{}, domain.ValidationError("invalid input", map[string]string{"returned_product_id": "must differ from product_id"})
		}
		return domain.ReturnableProduct{}, notFound(err, "product")
	}
	count, err := s.repo.RecomputeReturnable(ctx, created.ID)
	if err != nil {
		return domain.ReturnableProduct{}, err
	}
	s.log.Info("returnable created", zap.Int64("returnable_id", created.ID), zap.Int("balances", count))
	return *created, nil
}

func (s *Service) ReturnableBalancesFor(ctx context.Context, customerID int64) ([]domain.ReturnableBalance, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, notFound(err, "customer")
	}
	return s.repo.ReturnableBalances(ctx, customerID)
}

// RecomputeReturnable rebuilds every balance of a returnable from the sales
// history and returns how many customers hold one.
func (s *Service) RecomputeReturnable(ctx context.Context, id int64) (int, error) {
	if _, err := s.requireGroup(ctx, s.settings.CounterAdminGroup); err != nil {
		return 0, err
	}
	count, err := s.repo.RecomputeReturnable(ctx, id)
	if err != nil {
		return 0, notFound(err, "returnable")
	}
	return count, nil
}
