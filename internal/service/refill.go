package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/metrics"
	"sith/backend/internal/money"
	"sith/backend/internal/store"
)

type RefillRequest struct {
	Amount        money.Money          `json:"amount"`
	PaymentMethod domain.PaymentMethod `json:"payment_method" validate:"required,oneof=CASH CHECK CARD"`
	Bank          string               `json:"bank" validate:"required_if=PaymentMethod CHECK,max=32"`
	CheckNumber   string               `json:"check_number" validate:"max=32"`
}

// refillOperator picks the barman accountable for a BAR refill: the actor
// when on duty, else the first on-duty member of the main club.
func (s *Service) refillOperator(ctx context.Context, st *counterState) (int64, error) {
	if st.counter.Type != domain.CounterBar {
		actor, err := s.requireActor(ctx)
		if err != nil {
			return 0, err
		}
		return actor.UserID, nil
	}
	if actor, ok := ActorFromContext(ctx); ok {
		for _, b := range st.barmen {
			if b.ID == actor.UserID && b.IsInClub(s.settings.MainClubID) {
				return b.ID, nil
			}
		}
	}
	for _, b := range st.barmen {
		if b.IsInClub(s.settings.MainClubID) {
			return b.ID, nil
		}
	}
	return 0, domain.NewError(domain.KindForbidden, "no barman of the main club is on duty")
}

// Refill credits a customer account from a counter.
func (s *Service) Refill(ctx context.Context, sess CounterSession, customerID int64, req RefillRequest) (domain.CreditResult, error) {
	st, err := s.counterFor(ctx, sess)
	if err != nil {
		return domain.CreditResult{}, err
	}
	customer, _, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return domain.CreditResult{}, err
	}

	req.PaymentMethod = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(req.PaymentMethod))))
	req.Bank = strings.ToUpper(strings.TrimSpace(req.Bank))
	if err := s.validate.Struct(req); err != nil {
		return domain.CreditResult{}, clickFailed(validationError(err))
	}
	if !req.Amount.IsPositive() {
		return domain.CreditResult{}, clickFailed(domain.ValidationError("invalid input", map[string]string{"amount": "must be positive"}))
	}
	if !s.settings.RefillAllowed(st.counter.Type, req.PaymentMethod) {
		return domain.CreditResult{}, clickFailed(domain.ValidationError("invalid input", map[string]string{"payment_method": "not accepted on this counter"}))
	}
	if req.PaymentMethod == domain.PaymentCheck && !domain.IsKnownBank(req.Bank) {
		return domain.CreditResult{}, clickFailed(domain.ValidationError("invalid input", map[string]string{"bank": "unknown bank"}))
	}
	if req.PaymentMethod != domain.PaymentCheck {
		req.Bank = ""
		req.CheckNumber = ""
	}

	operator, err := s.refillOperator(ctx, st)
	if err != nil {
		return domain.CreditResult{}, clickFailed(err)
	}

	result, err := s.repo.CreditCustomer(ctx, domain.Refill{
		CounterID:     st.counter.ID,
		CustomerID:    customer.UserID,
		OperatorID:    operator,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Bank:          req.Bank,
		CheckNumber:   strings.TrimSpace(req.CheckNumber),
		Date:          s.now(),
		IsValidated:   true,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return domain.CreditResult{}, domain.ValidationError("invalid input", map[string]string{"amount": "must be positive"})
		}
		return domain.CreditResult{}, ledgerFailed(err, "customer")
	}
	metrics.RefillsTotal.WithLabelValues(string(req.PaymentMethod)).Inc()
	s.log.Info("account refilled",
		zap.Int64("counter_id", st.counter.ID),
		zap.Int64("customer_id", customer.UserID),
		zap.Int64("operator_id", operator),
		zap.String("amount", req.Amount.String()),
		zap.String("method", string(req.PaymentMethod)),
	)
	return *result, nil
}
