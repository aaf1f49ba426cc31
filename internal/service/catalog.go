package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/money"
	"sith/backend/internal/store"
)

// eligible applies the buying group rule.
func eligible(product domain.Product, groups []int64) bool {
	return len(product.BuyingGroupIDs) == 0 || intersects(product.BuyingGroupIDs, groups)
}

// ListProductsFor returns the products of a counter the user may buy.
func (s *Service) ListProductsFor(ctx context.Context, userID int64, counterID int64) ([]domain.Product, error) {
	counter, err := s.repo.GetCounter(ctx, counterID)
	if err != nil {
		return nil, notFound(err, "counter")
	}
	groups, err := s.userGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.counterProducts(ctx, *counter, groups)
}

func (s *Service) counterProducts(ctx context.Context, counter domain.Counter, groups []int64) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(counter.ProductIDs))
	for _, p := range products {
		if p.Archived || !counter.HasProduct(p.ID) || !eligible(p, groups) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// priceFor returns the special price when the customer is one of the
// on-duty barmen of a BAR counter.
func priceFor(product domain.Product, customerID int64, st *counterState) money.Money {
	if st != nil && st.counter.Type == domain.CounterBar && st.isBarman(customerID) {
		return product.SpecialSellingPrice
	}
	return product.SellingPrice
}

// checkAge enforces the age limit and the ban groups for one product.
func (s *Service) checkAge(product domain.Product, user domain.User, groups []int64, at time.Time) error {
	if containsID(groups, s.settings.CounterBannedGroup) {
		return domain.ErrCounterBanned
	}
	if product.LimitAge == 0 {
		return nil
	}
	if product.LimitAge >= 18 && containsID(groups, s.settings.AlcoholBannedGroup) {
		return domain.ErrAlcoholBanned
	}
	age, ok := user.Age(at)
	if !ok {
		return domain.ErrNoAgeOnFile
	}
	if age < product.LimitAge {
		return domain.ErrTooYoung
	}
	return nil
}

// CheckAge reports whether user may be sold product today.
func (s *Service) CheckAge(ctx context.Context, productID int64, userID int64) error {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return notFound(err, "product")
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return notFound(err, "user")
	}
	groups, err := s.userGroups(ctx, userID)
	if err != nil {
		return err
	}
	return s.checkAge(*product, *user, groups, s.now())
}

type ProductRequest struct {
	Name                string      `json:"name" validate:"required,max=64"`
	Description         string      `json:"description" validate:"max=1000"`
	Code                string      `json:"code" validate:"required,max=16,alphanum"`
	ProductTypeID       *int64      `json:"product_type_id"`
	PurchasePrice       money.Money `json:"purchase_price"`
	SellingPrice        money.Money `json:"selling_price"`
	SpecialSellingPrice money.Money `json:"special_selling_price"`
	LimitAge            int         `json:"limit_age" validate:"min=0,max=99"`
	Tray                bool        `json:"tray"`
	ClubID              int64       `json:"club_id"`
	BuyingGroupIDs      []int64     `json:"buying_group_ids"`
	CounterIDs          []int64     `json:"counter_ids"`
}

type ProductUpdate struct {
	Name                *string      `json:"name" validate:"omitempty,max=64"`
	Description         *string      `json:"description" validate:"omitempty,max=1000"`
	ProductTypeID       *int64       `json:"product_type_id"`
	PurchasePrice       *money.Money `json:"purchase_price"`
	SellingPrice        *money.Money `json:"selling_price"`
	SpecialSellingPrice *money.Money `json:"special_selling_price"`
	LimitAge            *int         `json:"limit_age" validate:"omitempty,min=0,max=99"`
	Tray                *bool        `json:"tray"`
	Archived            *bool        `json:"archived"`
	BuyingGroupIDs      []int64      `json:"buying_group_ids"`
}

func (s *Service) CreateProduct(ctx context.Context, req ProductRequest) (domain.Product, error) {
	if _, err := s.requireGroup(ctx, s.settings.CounterAdminGroup); err != nil {
		return domain.Product{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if err := s.validate.Struct(req); err != nil {
		return domain.Product{}, validationError(err)
	}
	if req.ClubID == 0 {
		req.ClubID = s.settings.MainClubID
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:                req.Name,
		Description:         req.Description,
		Code:                req.Code,
		ProductTypeID:       req.ProductTypeID,
		PurchasePrice:       req.PurchasePrice,
		SellingPrice:        req.SellingPrice,
		SpecialSellingPrice: req.SpecialSellingPrice,
		LimitAge:            req.LimitAge,
		Tray:                req.Tray,
		ClubID:              req.ClubID,
		BuyingGroupIDs:      req.BuyingGroupIDs,
		CreatedAt:           s.now(),
	})
	if err != nil {
		return domain.Product{}, notFound(err, "product type")
	}
	for _, counterID := range req.CounterIDs {
		if err := s.repo.AddCounterProduct(ctx, counterID, created.ID); err != nil {
			return domain.Product{}, notFound(err, "counter")
		}
	}
	s.log.Info("product created", zap.Int64("product_id", created.ID), zap.String("code", created.Code))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req ProductUpdate) (domain.Product, error) {
	if _, err := s.requireGroup(ctx, s.settings.CounterAdminGroup); err != nil {
		return domain.Product{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Product{}, validationError(err)
	}
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, notFound(err, "product")
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, domain.ValidationError("invalid input", map[string]string{"name": "this field is required"})
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	if req.ProductTypeID != nil {
		updated.ProductTypeID = req.ProductTypeID
	}
	if req.PurchasePrice != nil {
		updated.PurchasePrice = *req.PurchasePrice
	}
	if req.SellingPrice != nil {
		updated.SellingPrice = *req.SellingPrice
	}
	if req.SpecialSellingPrice != nil {
		updated.SpecialSellingPrice = *req.SpecialSellingPrice
	}
	if req.LimitAge != nil {
		updated.LimitAge = *req.LimitAge
	}
	if req.Tray != nil {
		updated.Tray = *req.Tray
	}
	if req.Archived != nil {
		updated.Archived = *req.Archived
	}
	if req.BuyingGroupIDs != nil {
		updated.BuyingGroupIDs = req.BuyingGroupIDs
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, notFound(err, "product")
	}
	return *saved, nil
}

func (s *Service) ListProductTypes(ctx context.Context) ([]domain.ProductType, error) {
	return s.repo.ListProductTypes(ctx)
}

type ProductTypeRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description"`
	Comment     string `json:"comment"`
}

// CreateProductType appends a product type at the end of the ordering.
func (s *Service) CreateProductType(ctx context.Context, req ProductTypeRequest) (domain.ProductType, error) {
	if _, err := s.requireGroup(ctx, s.settings.CounterAdminGroup); err != nil {
		return domain.ProductType{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return domain.ProductType{}, validationError(err)
	}
	created, err := s.repo.CreateProductType(ctx, domain.ProductType{Name: req.Name, Description: req.Description, Comment: req.Comment})
	if err != nil {
		return domain.ProductType{}, err
	}
	return *created, nil
}

type MoveRequest struct {
	Above *int64 `json:"above"`
	Below *int64 `json:"below"`
}

// MoveProductType places a type right above or right below another one.
// Exactly one of Above and Below must be set.
func (s *Service) MoveProductType(ctx context.Context, id int64, req MoveRequest) ([]domain.ProductType, error) {
	if _, err := s.requireGroup(ctx, s.settings.CounterAdminGroup); err != nil {
		return nil, err
	}
	if (req.Above == nil) == (req.Below == nil) {
		return nil, domain.ValidationError("exactly one of above and below is required", map[string]string{
			"above": "set either above or below",
			"below": "set either above or below",
		})
	}
	other, above := req.Below, false
	if req.Above != nil {
		other, above = req.Above, true
	}
	types, err := s.repo.MoveProductType(ctx, id, *other, above)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return nil, domain.ValidationError("a type cannot be moved relative to itself", nil)
		}
		return nil, notFound(err, "product type")
	}
	return types, nil
}
