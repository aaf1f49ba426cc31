package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/store"
)

func (s *Service) createStudentCard(ctx context.Context, customerID int64, uid string) (domain.StudentCard, error) {
	uid = strings.ToUpper(strings.TrimSpace(uid))
	if !studentCardPattern.MatchString(uid) {
		return domain.StudentCard{}, domain.ErrInvalidStudentCardUID
	}
	card, err := s.repo.CreateStudentCard(ctx, domain.StudentCard{UID: uid, CustomerID: customerID, CreatedAt: s.now()})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.StudentCard{}, domain.NewError(domain.KindInvalidStudentCardUID, "this card is already registered")
		}
		return domain.StudentCard{}, notFound(err, "customer")
	}
	s.log.Info("student card registered", zap.Int64("customer_id", customerID), zap.Int64("card_id", card.ID))
	return *card, nil
}

// AddStudentCard registers a card for its owner or on behalf of a counter
// admin. Counters go through AddStudentCardAtCounter.
func (s *Service) AddStudentCard(ctx context.Context, customerID int64, uid string) (domain.StudentCard, error) {
	if err := s.requireOwnerOrGroup(ctx, customerID, s.settings.CounterAdminGroup); err != nil {
		return domain.StudentCard{}, err
	}
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return domain.StudentCard{}, notFound(err, "customer")
	}
	return s.createStudentCard(ctx, customerID, uid)
}

func (s *Service) DeleteStudentCard(ctx context.Context, cardID int64) error {
	card, err := s.repo.GetStudentCard(ctx, cardID)
	if err != nil {
		return notFound(err, "student card")
	}
	if err := s.requireOwnerOrGroup(ctx, card.CustomerID, s.settings.CounterAdminGroup); err != nil {
		return err
	}
	if err := s.repo.DeleteStudentCard(ctx, card.ID); err != nil {
		return notFound(err, "student card")
	}
	s.log.Info("student card removed", zap.Int64("customer_id", card.CustomerID), zap.Int64("card_id", card.ID))
	return nil
}

func (s *Service) ListStudentCards(ctx context.Context, customerID int64) ([]domain.StudentCard, error) {
	if err := s.requireOwnerOrGroup(ctx, customerID, s.settings.CounterAdminGroup); err != nil {
		return nil, err
	}
	return s.repo.ListStudentCards(ctx, customerID)
}

// requireOwnerOrGroup lets a user act on their own data, and the given group
// act on everyone's.
func (s *Service) requireOwnerOrGroup(ctx context.Context, ownerID int64, groupID int64) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if actor.UserID == ownerID {
		return nil
	}
	_, err = s.requireGroup(ctx, groupID)
	return err
}
