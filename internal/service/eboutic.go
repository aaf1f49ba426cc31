package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"sith/backend/internal/bank"
	"sith/backend/internal/domain"
	"sith/backend/internal/metrics"
	"sith/backend/internal/store"
)

// EbouticProducts lists what the user may buy online: typed, unarchived
// products of the eboutic counter that pass the same age and ban checks
// as a counter sale.
func (s *Service) EbouticProducts(ctx context.Context, userID int64) ([]domain.Product, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return s.ebouticProducts(ctx, *user)
}

func (s *Service) ebouticProducts(ctx context.Context, user domain.User) ([]domain.Product, error) {
	counter, err := s.repo.GetCounter(ctx, s.settings.EbouticCounterID)
	if err != nil {
		return nil, notFound(err, "eboutic")
	}
	groups, err := s.userGroups(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	products, err := s.counterProducts(ctx, *counter, groups)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.ProductTypeID == nil {
			continue
		}
		if s.checkAge(p, user, groups, now) != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type EbouticItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,min=1,max=99"`
}

type EbouticCommandRequest struct {
	Items []EbouticItemRequest `json:"items" validate:"required,min=1,dive"`
}

type EbouticCommand struct {
	Basket       domain.EbouticBasket    `json:"basket"`
	BillingState domain.BillingInfoState `json:"billing_state"`
	Form         *bank.PaymentForm       `json:"form,omitempty"`
}

// CreateEbouticCommand replaces the eboutic basket of the actor and returns
// the signed payment form when the billing information allows a card payment.
func (s *Service) CreateEbouticCommand(ctx context.Context, req EbouticCommandRequest) (EbouticCommand, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return EbouticCommand{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return EbouticCommand{}, validationError(err)
	}
	user, err := s.repo.GetUser(ctx, actor.UserID)
	if err != nil {
		return EbouticCommand{}, notFound(err, "user")
	}
	if ok, err := s.canBuy(ctx, *user); err != nil {
		return EbouticCommand{}, err
	} else if !ok {
		return EbouticCommand{}, domain.ErrForbidden
	}

	products, err := s.ebouticProducts(ctx, *user)
	if err != nil {
		return EbouticCommand{}, err
	}
	allowed := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		allowed[p.ID] = p
	}

	basket := domain.EbouticBasket{UserID: user.ID, CreatedAt: s.now()}
	fields := map[string]string{}
	for i, item := range req.Items {
		p, ok := allowed[item.ProductID]
		if !ok {
			fields["items["+strconv.Itoa(i)+"]"] = fmt.Sprintf("product %d is not available", item.ProductID)
			continue
		}
		basket.Items = append(basket.Items, domain.EbouticItem{
			ProductID:     p.ID,
			ProductName:   p.Name,
			ProductTypeID: *p.ProductTypeID,
			UnitPrice:     p.SellingPrice,
			Quantity:      item.Quantity,
		})
	}
	if len(fields) > 0 {
		return EbouticCommand{}, domain.ValidationError("the basket contains unavailable products", fields)
	}
	basket.Total = basket.ComputeTotal()
	if basket.Total.IsNegative() {
		return EbouticCommand{}, domain.ValidationError("the basket total cannot be negative", nil)
	}

	if _, _, err := s.GetOrCreateCustomer(ctx, user.ID); err != nil {
		return EbouticCommand{}, err
	}
	saved, err := s.repo.ReplaceEbouticBasket(ctx, basket)
	if err != nil {
		return EbouticCommand{}, err
	}

	command := EbouticCommand{Basket: *saved, BillingState: domain.BillingEmpty}
	billing, err := s.repo.GetBillingInfo(ctx, user.ID)
	switch {
	case err == nil:
		command.BillingState = billing.State()
	case errors.Is(err, store.ErrNotFound):
		billing = nil
	default:
		return EbouticCommand{}, err
	}
	if command.BillingState != domain.BillingValid {
		return command, nil
	}

	billingXML, err := billing.ThreeDSv2XML()
	if err != nil {
		return EbouticCommand{}, err
	}
	itemCount := 0
	for _, item := range saved.Items {
		itemCount += item.Quantity
	}
	form, err := s.merchant.BuildForm(bank.Order{
		BasketID:      saved.ID,
		TotalCents:    saved.Total.Cents(),
		ItemCount:     itemCount,
		CustomerEmail: user.Email,
		BillingXML:    billingXML,
		At:            s.now(),
	})
	if err != nil {
		return EbouticCommand{}, err
	}
	command.Form = &form
	return command, nil
}

// CallbackOutcome is what the bank is told about its notification.
type CallbackOutcome struct {
	Paid    bool
	Message string
}

// HandleBankCallback settles an eboutic basket from the bank notification.
// A replayed notification finds no basket and changes nothing.
func (s *Service) HandleBankCallback(ctx context.Context, rawQuery string) (CallbackOutcome, error) {
	cb, err := bank.ParseCallback(rawQuery)
	if err != nil {
		metrics.BankCallbacksTotal.WithLabelValues("bad_arguments").Inc()
		return CallbackOutcome{}, domain.ValidationError("Bad arguments", nil)
	}
	if s.verifier == nil || s.verifier.Verify(rawQuery) != nil {
		metrics.BankCallbacksTotal.WithLabelValues("bad_signature").Inc()
		s.log.Warn("bank callback rejected", zap.Int64("basket_id", cb.BasketID), zap.Bool("verifier", s.verifier != nil))
		return CallbackOutcome{}, domain.ErrInvalidBankSignature
	}
	if !cb.Succeeded() {
		metrics.BankCallbacksTotal.WithLabelValues("payment_failed").Inc()
		s.log.Info("card payment failed", zap.Int64("basket_id", cb.BasketID), zap.String("error", cb.Error))
		return CallbackOutcome{Message: "Payment failed with error: " + cb.Error}, nil
	}

	products, returnables, err := s.settlementCatalog(ctx)
	if err != nil {
		return CallbackOutcome{}, err
	}
	settlement, err := s.repo.SettleEbouticBasket(ctx, cb.BasketID, func(basket domain.EbouticBasket, customer domain.Customer) (domain.Settlement, error) {
		if cb.Amount != basket.Total.Cents() {
			return domain.Settlement{}, domain.ErrBasketAmountMismatch
		}
		return s.settle(basket, domain.PaymentCard, products, returnables), nil
	})
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, store.ErrNotFound):
			outcome, err = "basket_not_found", domain.ErrBasketNotFound
		case errors.Is(err, domain.ErrBasketAmountMismatch):
			outcome = "amount_mismatch"
		}
		metrics.BankCallbacksTotal.WithLabelValues(outcome).Inc()
		s.log.Warn("bank callback not settled", zap.Int64("basket_id", cb.BasketID), zap.Int64("amount", cb.Amount), zap.Error(err))
		return CallbackOutcome{}, err
	}

	metrics.BankCallbacksTotal.WithLabelValues("paid").Inc()
	s.recordSettlement(settlement)
	s.log.Info("eboutic basket paid by card", zap.Int64("basket_id", cb.BasketID), zap.Int("sales", len(settlement.Sales)), zap.Int("refills", len(settlement.Refills)))
	return CallbackOutcome{Paid: true, Message: "Payment successful"}, nil
}

// PayWithAccount settles an eboutic basket from the actor's balance.
func (s *Service) PayWithAccount(ctx context.Context, basketID int64) (domain.Settlement, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Settlement{}, err
	}
	basket, err := s.repo.GetEbouticBasket(ctx, basketID)
	if err != nil {
		return domain.Settlement{}, notFound(err, "basket")
	}
	if basket.UserID != actor.UserID {
		return domain.Settlement{}, domain.NewError(domain.KindNotFound, "basket not found")
	}
	for _, item := range basket.Items {
		if item.ProductTypeID == s.settings.RefillProductTypeID {
			return domain.Settlement{}, domain.ValidationError("a refill cannot be paid with the account balance", nil)
		}
	}

	products, returnables, err := s.settlementCatalog(ctx)
	if err != nil {
		return domain.Settlement{}, err
	}
	settlement, err := s.repo.SettleEbouticBasket(ctx, basketID, func(basket domain.EbouticBasket, customer domain.Customer) (domain.Settlement, error) {
		if basket.UserID != actor.UserID {
			return domain.Settlement{}, store.ErrNotFound
		}
		for _, item := range basket.Items {
			if item.ProductTypeID == s.settings.RefillProductTypeID {
				return domain.Settlement{}, domain.ValidationError("a refill cannot be paid with the account balance", nil)
			}
		}
		if basket.Total.GreaterThan(customer.Balance) {
			return domain.Settlement{}, domain.ErrInsufficientFunds
		}
		return s.settle(basket, domain.PaymentAccount, products, returnables), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.Settlement{}, domain.NewError(domain.KindNotFound, "basket not found")
		case errors.Is(err, store.ErrInsufficientFunds):
			return domain.Settlement{}, domain.ErrInsufficientFunds
		}
		return domain.Settlement{}, err
	}
	s.recordSettlement(settlement)
	s.log.Info("eboutic basket paid from account", zap.Int64("basket_id", basketID), zap.Int64("user_id", actor.UserID))
	return *settlement, nil
}

// settlementCatalog is read ahead of the settlement, which runs under the
// store lock.
func (s *Service) settlementCatalog(ctx context.Context) (map[int64]domain.Product, []domain.ReturnableProduct, error) {
	list, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, nil, err
	}
	products := make(map[int64]domain.Product, len(list))
	for _, p := range list {
		products[p.ID] = p
	}
	returnables, err := s.repo.ListReturnables(ctx)
	if err != nil {
		return nil, nil, err
	}
	return products, returnables, nil
}

// settle turns basket lines into ledger rows: refill products become
// refills, everything else a sale.
func (s *Service) settle(basket domain.EbouticBasket, method domain.PaymentMethod, products map[int64]domain.Product, returnables []domain.ReturnableProduct) domain.Settlement {
	out := domain.Settlement{DepositDeltas: map[int64]int{}}
	for _, item := range basket.Items {
		productID := item.ProductID
		if item.ProductTypeID == s.settings.RefillProductTypeID && method == domain.PaymentCard {
			out.Refills = append(out.Refills, domain.Refill{
				CounterID:     s.settings.EbouticCounterID,
				CustomerID:    basket.UserID,
				OperatorID:    basket.UserID,
				Amount:        item.UnitPrice.Mul(item.Quantity),
				PaymentMethod: domain.PaymentCard,
				Date:          s.now(),
				IsValidated:   true,
			})
			continue
		}
		clubID := s.settings.MainClubID
		if p, ok := products[productID]; ok {
			clubID = p.ClubID
		}
		out.Sales = append(out.Sales, domain.Sale{
			Label:         item.ProductName,
			CounterID:     s.settings.EbouticCounterID,
			ClubID:        clubID,
			ProductID:     &productID,
			CustomerID:    basket.UserID,
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			PaymentMethod: method,
			Date:          s.now(),
			IsValidated:   true,
		})
		out.DepositDeltas = store.MergeDeltas(out.DepositDeltas, store.DepositDeltas(returnables, productID, item.Quantity))
	}
	return out
}

func (s *Service) recordSettlement(settlement *domain.Settlement) {
	for _, sale := range settlement.Sales {
		metrics.SalesTotal.WithLabelValues(string(sale.PaymentMethod)).Inc()
	}
	for _, refill := range settlement.Refills {
		metrics.RefillsTotal.WithLabelValues(string(refill.PaymentMethod)).Inc()
	}
}
