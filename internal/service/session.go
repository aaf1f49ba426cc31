package service

import (
	"context"
	"crypto/subtle"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"sith/backend/internal/cache"
	"sith/backend/internal/domain"
	"sith/backend/internal/metrics"
	"sith/backend/internal/store"
	"sith/backend/internal/xid"
)

const counterTokenLength = 30

// counterState is a counter as seen by one request, after the idle sweep.
type counterState struct {
	counter domain.Counter
	barmen  []domain.User
}

func (st *counterState) isBarman(userID int64) bool {
	for _, b := range st.barmen {
		if b.ID == userID {
			return true
		}
	}
	return false
}

// seller picks who a BAR sale is attributed to: the customer when they are
// on duty, else the first barman on duty.
func (st *counterState) seller(customerID int64) *int64 {
	if st.isBarman(customerID) {
		id := customerID
		return &id
	}
	if len(st.barmen) == 0 {
		return nil
	}
	id := st.barmen[0].ID
	return &id
}

// heartbeat closes idle permanencies and touches the others. It returns the
// permanencies still open.
func (s *Service) heartbeat(ctx context.Context, counterID int64) ([]domain.Permanency, error) {
	now := s.now()
	open, closed, err := s.repo.Heartbeat(ctx, counterID, now.Add(-s.settings.IdleTimeout), now)
	if err != nil {
		return nil, err
	}
	if len(closed) > 0 {
		for _, p := range closed {
			s.log.Info("idle barman logged out", zap.Int64("counter_id", counterID), zap.Int64("user_id", p.UserID))
		}
		s.invalidateCounterOpen(ctx, counterID)
	}
	return open, nil
}

// Heartbeat records activity on a counter and returns the on-duty barmen.
func (s *Service) Heartbeat(ctx context.Context, counterID int64) ([]domain.User, error) {
	if _, err := s.repo.GetCounter(ctx, counterID); err != nil {
		return nil, notFound(err, "counter")
	}
	open, err := s.heartbeat(ctx, counterID)
	if err != nil {
		return nil, err
	}
	return s.barmenOf(ctx, open)
}

func (s *Service) barmenOf(ctx context.Context, open []domain.Permanency) ([]domain.User, error) {
	barmen := make([]domain.User, 0, len(open))
	for _, p := range open {
		u, err := s.repo.GetUser(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		barmen = append(barmen, *u)
	}
	return barmen, nil
}

// counterFor loads a counter for a click, refill or cash request and enforces
// the session rules of its type.
func (s *Service) counterFor(ctx context.Context, sess CounterSession) (*counterState, error) {
	counter, err := s.repo.GetCounter(ctx, sess.CounterID)
	if err != nil {
		return nil, notFound(err, "counter")
	}
	switch counter.Type {
	case domain.CounterEboutic:
		return nil, domain.NewError(domain.KindForbidden, "the eboutic has no counter session")
	case domain.CounterOffice:
		if _, err := s.requireActor(ctx); err != nil {
			return nil, err
		}
	}

	open, err := s.heartbeat(ctx, counter.ID)
	if err != nil {
		return nil, err
	}
	barmen, err := s.barmenOf(ctx, open)
	if err != nil {
		return nil, err
	}
	st := &counterState{counter: *counter, barmen: barmen}

	if counter.Type == domain.CounterBar {
		if len(barmen) == 0 {
			return nil, domain.ErrCounterClosed
		}
		if !tokenMatches(counter.Token, sess.Token) {
			return nil, domain.ErrBadLocation
		}
	}
	return st, nil
}

func tokenMatches(want string, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// CounterLogin opens a permanency for a barman and returns the counter token
// the browser must present from now on.
func (s *Service) CounterLogin(ctx context.Context, counterID int64, username string, password string) (string, domain.User, error) {
	counter, err := s.repo.GetCounter(ctx, counterID)
	if err != nil {
		return "", domain.User{}, notFound(err, "counter")
	}
	if counter.Type == domain.CounterEboutic {
		return "", domain.User{}, domain.NewError(domain.KindForbidden, "the eboutic has no barmen")
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		metrics.CounterLoginsTotal.WithLabelValues("bad_credentials").Inc()
		if errors.Is(err, store.ErrNotFound) {
			return "", domain.User{}, domain.NewError(domain.KindUnauthenticated, "invalid credentials")
		}
		return "", domain.User{}, err
	}
	if !user.Active || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		metrics.CounterLoginsTotal.WithLabelValues("bad_credentials").Inc()
		return "", domain.User{}, domain.NewError(domain.KindUnauthenticated, "invalid credentials")
	}
	if !counter.HasSeller(user.ID) {
		metrics.CounterLoginsTotal.WithLabelValues("not_seller").Inc()
		return "", domain.User{}, domain.NewError(domain.KindForbidden, "user is not a seller of this counter")
	}

	open, err := s.heartbeat(ctx, counter.ID)
	if err != nil {
		return "", domain.User{}, err
	}
	token := counter.Token
	if len(open) == 0 || token == "" {
		token, err = xid.Token(counterTokenLength)
		if err != nil {
			return "", domain.User{}, err
		}
		if err := s.repo.SetCounterToken(ctx, counter.ID, token); err != nil {
			return "", domain.User{}, err
		}
	}

	now := s.now()
	if _, err := s.repo.OpenPermanency(ctx, domain.Permanency{UserID: user.ID, CounterID: counter.ID, Start: now, Activity: now}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.CounterLoginsTotal.WithLabelValues("already_on").Inc()
			return "", domain.User{}, domain.NewError(domain.KindConflict, "user is already logged in on this counter")
		}
		return "", domain.User{}, err
	}
	s.invalidateCounterOpen(ctx, counter.ID)
	metrics.CounterLoginsTotal.WithLabelValues("ok").Inc()
	s.log.Info("barman logged in", zap.Int64("counter_id", counter.ID), zap.Int64("user_id", user.ID))
	return token, *user, nil
}

// CounterLogout ends the permanency of a barman. The request must come from
// the browser holding the counter.
func (s *Service) CounterLogout(ctx context.Context, sess CounterSession, userID int64) error {
	counter, err := s.repo.GetCounter(ctx, sess.CounterID)
	if err != nil {
		return notFound(err, "counter")
	}
	if counter.Type == domain.CounterBar && !tokenMatches(counter.Token, sess.Token) {
		return domain.ErrBadLocation
	}
	if _, err := s.repo.ClosePermanency(ctx, counter.ID, userID); err != nil {
		return notFound(err, "permanency")
	}
	s.invalidateCounterOpen(ctx, counter.ID)
	s.log.Info("barman logged out", zap.Int64("counter_id", counter.ID), zap.Int64("user_id", userID))
	return nil
}

// SessionState reports whether a user is on duty on a counter. An open
// permanency past the idle timeout counts as IDLE.
func (s *Service) SessionState(ctx context.Context, counterID int64, userID int64) (domain.SessionState, error) {
	open, err := s.repo.ListOpenPermanencies(ctx, counterID)
	if err != nil {
		return "", err
	}
	for _, p := range open {
		if p.UserID != userID {
			continue
		}
		if s.now().Sub(p.Activity) >= s.settings.IdleTimeout {
			return domain.SessionIdle, nil
		}
		return domain.SessionOn, nil
	}
	return domain.SessionOff, nil
}

// CounterOpen reports whether a counter has at least one active barman. The
// answer is cached until the next login, logout or idle sweep.
func (s *Service) CounterOpen(ctx context.Context, counterID int64) (bool, error) {
	var open bool
	key := cache.CounterOpenKey(counterID)
	if hit, err := s.cache.Get(ctx, key, &open); err == nil && hit {
		return open, nil
	}

	perms, err := s.repo.ListOpenPermanencies(ctx, counterID)
	if err != nil {
		return false, err
	}
	limit := s.now().Add(-s.settings.IdleTimeout)
	open = false
	for _, p := range perms {
		if p.Activity.After(limit) {
			open = true
			break
		}
	}
	if err := s.cache.Set(ctx, key, open, s.cacheTTL); err != nil {
		s.log.Warn("counter cache write failed", zap.Int64("counter_id", counterID), zap.Error(err))
	}
	return open, nil
}

func (s *Service) invalidateCounterOpen(ctx context.Context, counterID int64) {
	if err := s.cache.Delete(ctx, cache.CounterOpenKey(counterID)); err != nil {
		s.log.Warn("counter cache invalidation failed", zap.Int64("counter_id", counterID), zap.Error(err))
	}
}

// CounterView is the counter main screen.
type CounterView struct {
	Counter      domain.Counter       `json:"counter"`
	Barmen       []domain.User        `json:"barmen"`
	Open         bool                 `json:"open"`
	Authorized   bool                 `json:"authorized"`
	LastPurchase *domain.LastPurchase `json:"last_purchase,omitempty"`
}

// CounterMain renders the counter main screen. The last purchase context is
// handed out once.
func (s *Service) CounterMain(ctx context.Context, sess CounterSession) (CounterView, error) {
	counter, err := s.repo.GetCounter(ctx, sess.CounterID)
	if err != nil {
		return CounterView{}, notFound(err, "counter")
	}
	if counter.Type == domain.CounterEboutic {
		return CounterView{}, domain.ErrNotFound
	}
	barmen, err := s.Heartbeat(ctx, counter.ID)
	if err != nil {
		return CounterView{}, err
	}

	view := CounterView{Counter: *counter, Barmen: barmen, Open: len(barmen) > 0}
	switch counter.Type {
	case domain.CounterBar:
		view.Authorized = view.Open && tokenMatches(counter.Token, sess.Token)
	case domain.CounterOffice:
		_, ok := ActorFromContext(ctx)
		view.Authorized = ok
	}
	if view.Authorized && sess.Owner != "" {
		last, err := s.repo.PopLastPurchase(ctx, counter.ID, sess.Owner)
		if err == nil {
			view.LastPurchase = last
		} else if !errors.Is(err, store.ErrNotFound) {
			return CounterView{}, err
		}
	}
	return view, nil
}
