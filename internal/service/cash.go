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

const maxSummaryChecks = 5

// Denominations are the coins and notes counted in a cash register.
var Denominations = []money.Money{
	money.FromCents(10),
	money.FromCents(20),
	money.FromCents(50),
	money.FromCents(100),
	money.FromCents(200),
	money.FromCents(500),
	money.FromCents(1000),
	money.FromCents(2000),
	money.FromCents(5000),
	money.FromCents(10000),
}

type CashCount struct {
	Value    money.Money `json:"value"`
	Quantity int         `json:"quantity" validate:"min=0"`
}

type CashSummaryRequest struct {
	Cash    []CashCount `json:"cash" validate:"dive"`
	Checks  []CashCount `json:"checks" validate:"max=5,dive"`
	Comment string      `json:"comment" validate:"max=255"`
	Emptied bool        `json:"emptied"`
}

func isDenomination(v money.Money) bool {
	for _, d := range Denominations {
		if d.Equal(v) {
			return true
		}
	}
	return false
}

// CreateCashSummary records the content of a BAR counter's register.
func (s *Service) CreateCashSummary(ctx context.Context, sess CounterSession, req CashSummaryRequest) (domain.CashRegisterSummary, error) {
	st, err := s.counterFor(ctx, sess)
	if err != nil {
		return domain.CashRegisterSummary{}, err
	}
	if st.counter.Type != domain.CounterBar {
		return domain.CashRegisterSummary{}, domain.NewError(domain.KindForbidden, "cash summaries are only taken on bars")
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.CashRegisterSummary{}, validationError(err)
	}
	if len(req.Checks) > maxSummaryChecks {
		return domain.CashRegisterSummary{}, domain.ValidationError("invalid input", map[string]string{"checks": "at most 5 checks"})
	}

	counts := map[int64]int{}
	for _, c := range req.Cash {
		if !isDenomination(c.Value) {
			return domain.CashRegisterSummary{}, domain.ValidationError("invalid input", map[string]string{"cash": "unknown denomination " + c.Value.String()})
		}
		counts[c.Value.Cents()] += c.Quantity
	}
	items := make([]domain.CashRegisterSummaryItem, 0, len(counts)+len(req.Checks))
	for _, d := range Denominations {
		if q := counts[d.Cents()]; q > 0 {
			items = append(items, domain.CashRegisterSummaryItem{Value: d, Quantity: q})
		}
	}
	for _, c := range req.Checks {
		if c.Quantity == 0 || c.Value.IsZero() {
			continue
		}
		if c.Value.IsNegative() {
			return domain.CashRegisterSummary{}, domain.ValidationError("invalid input", map[string]string{"checks": "check amounts must be positive"})
		}
		items = append(items, domain.CashRegisterSummaryItem{Value: c.Value, Quantity: c.Quantity, IsCheck: true})
	}

	counting := st.barmen[0].ID
	if actor, ok := ActorFromContext(ctx); ok && st.isBarman(actor.UserID) {
		counting = actor.UserID
	}
	created, err := s.repo.CreateCashSummary(ctx, domain.CashRegisterSummary{
		CounterID: st.counter.ID,
		UserID:    counting,
		Date:      s.now(),
		Comment:   strings.TrimSpace(req.Comment),
		Emptied:   req.Emptied,
		Items:     items,
	})
	if err != nil {
		return domain.CashRegisterSummary{}, err
	}
	s.log.Info("cash summary recorded",
		zap.Int64("counter_id", st.counter.ID),
		zap.Int64("user_id", counting),
		zap.String("cash", created.CashTotal().String()),
		zap.String("checks", created.CheckTotal().String()),
		zap.Bool("emptied", created.Emptied),
	)
	return *created, nil
}

type PendingCash struct {
	CounterID   int64       `json:"counter_id"`
	Since       *time.Time  `json:"since,omitempty"`
	Summaries   money.Money `json:"summaries"`
	CashRefills money.Money `json:"cash_refills"`
	Discrepancy money.Money `json:"discrepancy"`
}

// PendingCash compares the cash counted since the register was last emptied
// with the cash refills taken over the same period.
func (s *Service) PendingCash(ctx context.Context, sess CounterSession) (PendingCash, error) {
	st, err := s.counterFor(ctx, sess)
	if err != nil {
		return PendingCash{}, err
	}
	return s.pendingCash(ctx, st.counter.ID)
}

func (s *Service) pendingCash(ctx context.Context, counterID int64) (PendingCash, error) {
	out := PendingCash{CounterID: counterID, Summaries: money.Zero, CashRefills: money.Zero}
	var lastID int64
	last, err := s.repo.LastEmptiedCashSummary(ctx, counterID)
	switch {
	case err == nil:
		since := last.Date
		out.Since = &since
		lastID = last.ID
	case errors.Is(err, store.ErrNotFound):
	default:
		return PendingCash{}, err
	}

	summaries, err := s.repo.ListCashSummaries(ctx, counterID, out.Since, nil)
	if err != nil {
		return PendingCash{}, err
	}
	for _, summary := range summaries {
		if summary.ID > lastID {
			out.Summaries = out.Summaries.Add(summary.CashTotal())
		}
	}
	refills, err := s.repo.ListRefills(ctx, domain.RefillFilter{CounterID: counterID, PaymentMethod: domain.PaymentCash, Since: out.Since})
	if err != nil {
		return PendingCash{}, err
	}
	for _, r := range refills {
		out.CashRefills = out.CashRefills.Add(r.Amount)
	}
	out.Discrepancy = out.Summaries.Sub(out.CashRefills)
	return out, nil
}

// ListCashSummaries is the accounting view over all counters when counterID
// is zero.
func (s *Service) ListCashSummaries(ctx context.Context, counterID int64, from *time.Time, to *time.Time) ([]domain.CashRegisterSummary, error) {
	if _, err := s.requireGroup(ctx, s.settings.AccountingAdminGroup); err != nil {
		return nil, err
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, domain.ValidationError("invalid range", map[string]string{"from": "must be before to"})
	}
	return s.repo.ListCashSummaries(ctx, counterID, from, to)
}
