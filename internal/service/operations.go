package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/metrics"
	"sith/backend/internal/store"
)

type LastOperationsView struct {
	Counter domain.Counter  `json:"counter"`
	Sales   []domain.Sale   `json:"sales"`
	Refills []domain.Refill `json:"refills"`
}

// LastOperations lists what a counter recorded within the deletion window.
func (s *Service) LastOperations(ctx context.Context, sess CounterSession) (LastOperationsView, error) {
	st, err := s.counterFor(ctx, sess)
	if err != nil {
		return LastOperationsView{}, err
	}
	if len(st.barmen) == 0 {
		return LastOperationsView{}, domain.ErrCounterClosed
	}
	since := s.now().Add(-s.settings.LastOperationsWindow)
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{CounterID: st.counter.ID, Since: &since, Limit: s.settings.LastOperationsLimit})
	if err != nil {
		return LastOperationsView{}, err
	}
	refills, err := s.repo.ListRefills(ctx, domain.RefillFilter{CounterID: st.counter.ID, Since: &since, Limit: s.settings.LastOperationsLimit})
	if err != nil {
		return LastOperationsView{}, err
	}
	return LastOperationsView{Counter: st.counter, Sales: sales, Refills: refills}, nil
}

// deletionActor authorizes the reversal of an operation recorded on
// counterID at the given date. A counter session grants it to the on-duty
// barmen of that counter while the operation is recent; an accounting admin
// may always do it.
func (s *Service) deletionActor(ctx context.Context, sess *CounterSession, counterID int64, at time.Time) (domain.Actor, error) {
	var denied error = domain.ErrForbidden
	if sess != nil && sess.CounterID == counterID {
		st, err := s.counterFor(ctx, *sess)
		switch {
		case err != nil:
			denied = err
		case len(st.barmen) == 0:
			denied = domain.ErrCounterClosed
		case s.now().Sub(at) > s.settings.LastOperationsWindow:
			denied = domain.NewError(domain.KindForbidden, "this operation is too old to be deleted from the counter")
		default:
			if actor, ok := ActorFromContext(ctx); ok && st.isBarman(actor.UserID) {
				return actor, nil
			}
			b := st.barmen[0]
			return domain.Actor{UserID: b.ID, Username: b.Username, Role: b.Role}, nil
		}
	}
	ok, err := s.hasGroup(ctx, s.settings.AccountingAdminGroup)
	if err != nil {
		return domain.Actor{}, err
	}
	if !ok {
		return domain.Actor{}, denied
	}
	actor, _ := ActorFromContext(ctx)
	return actor, nil
}

// DeleteSale reverses a sale. sess is nil outside of a counter.
func (s *Service) DeleteSale(ctx context.Context, sess *CounterSession, saleID int64) (domain.Customer, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Customer{}, ledgerFailed(err, "sale")
	}
	if sale.PaymentMethod == domain.PaymentCard {
		return domain.Customer{}, domain.NewError(domain.KindForbidden, "card payments cannot be deleted")
	}
	actor, err := s.deletionActor(ctx, sess, sale.CounterID, sale.Date)
	if err != nil {
		return domain.Customer{}, err
	}

	var deltas map[int64]int
	if sale.ProductID != nil {
		returnables, err := s.repo.ListReturnables(ctx)
		if err != nil {
			return domain.Customer{}, err
		}
		deltas = store.DepositDeltas(returnables, *sale.ProductID, -sale.Quantity)
	}
	label := fmt.Sprintf("%s x%d (%s)", sale.Label, sale.Quantity, sale.Total())
	entry := s.operationLog(ctx, domain.OperationSaleDeletion, "sale", strconv.FormatInt(sale.ID, 10), sale.CounterID, label, actor)

	customer, err := s.repo.DeleteSale(ctx, sale.ID, deltas, entry)
	if err != nil {
		return domain.Customer{}, ledgerFailed(err, "sale")
	}
	metrics.DeletionsTotal.WithLabelValues("sale").Inc()
	s.log.Info("sale deleted", zap.Int64("sale_id", sale.ID), zap.Int64("customer_id", sale.CustomerID), zap.String("actor", entry.ActorUsername))
	return *customer, nil
}

// DeleteRefill reverses a refill, refusing to leave the balance negative.
func (s *Service) DeleteRefill(ctx context.Context, sess *CounterSession, refillID int64) (domain.Customer, error) {
	refill, err := s.repo.GetRefill(ctx, refillID)
	if err != nil {
		return domain.Customer{}, notFound(err, "refill")
	}
	if refill.PaymentMethod == domain.PaymentCard {
		return domain.Customer{}, domain.NewError(domain.KindForbidden, "card payments cannot be deleted")
	}
	actor, err := s.deletionActor(ctx, sess, refill.CounterID, refill.Date)
	if err != nil {
		return domain.Customer{}, err
	}

	label := fmt.Sprintf("%s refill of %s", refill.PaymentMethod, refill.Amount)
	entry := s.operationLog(ctx, domain.OperationRefillDeletion, "refill", strconv.FormatInt(refill.ID, 10), refill.CounterID, label, actor)
	customer, err := s.repo.DeleteRefill(ctx, refill.ID, entry)
	if err != nil {
		return domain.Customer{}, ledgerFailed(err, "refill")
	}
	metrics.DeletionsTotal.WithLabelValues("refill").Inc()
	s.log.Info("refill deleted", zap.Int64("refill_id", refill.ID), zap.Int64("customer_id", refill.CustomerID), zap.String("actor", entry.ActorUsername))
	return *customer, nil
}

// ListOperationLogs returns deletion logs, newest first.
func (s *Service) ListOperationLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.OperationLog, error) {
	if _, err := s.requireGroup(ctx, s.settings.AccountingAdminGroup); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}
	if from.After(to) {
		return nil, domain.ValidationError("invalid range", map[string]string{"from": "must be before to"})
	}
	return s.repo.ListOperationLogs(ctx, from, to, limit)
}
