package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sith/backend/internal/cache"
	"sith/backend/internal/domain"
)

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == 0 {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	return actor, nil
}

// userGroups is a pull-through cache over the group memberships of a user.
func (s *Service) userGroups(ctx context.Context, userID int64) ([]int64, error) {
	var groups []int64
	key := cache.GroupsKey(userID)
	hit, err := s.cache.Get(ctx, key, &groups)
	if err != nil {
		s.log.Warn("group cache read failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	if hit {
		return groups, nil
	}

	groups, err = s.repo.ListUserGroups(ctx, userID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	if err := s.cache.Set(ctx, key, groups, s.cacheTTL); err != nil {
		s.log.Warn("group cache write failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return groups, nil
}

func (s *Service) isInGroup(ctx context.Context, userID int64, groupID int64) (bool, error) {
	groups, err := s.userGroups(ctx, userID)
	if err != nil {
		return false, err
	}
	return containsID(groups, groupID), nil
}

// requireGroup returns the actor when it is an admin or a member of groupID.
func (s *Service) requireGroup(ctx context.Context, groupID int64) (domain.Actor, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role == "admin" {
		return actor, nil
	}
	ok, err := s.isInGroup(ctx, actor.UserID, groupID)
	if err != nil {
		return domain.Actor{}, err
	}
	if !ok {
		return domain.Actor{}, domain.ErrForbidden
	}
	return actor, nil
}

// hasGroup is requireGroup without the error for a plain "no".
func (s *Service) hasGroup(ctx context.Context, groupID int64) (bool, error) {
	_, err := s.requireGroup(ctx, groupID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrUnauthenticated):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) AddUserToGroup(ctx context.Context, userID int64, groupID int64) ([]int64, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != "admin" {
		return nil, domain.ErrForbidden
	}
	if groupID < 1 {
		return nil, domain.ValidationError("invalid group", map[string]string{"group_id": "must be positive"})
	}
	if err := s.repo.AddUserToGroup(ctx, userID, groupID); err != nil {
		return nil, notFound(err, "user")
	}
	s.invalidateGroups(ctx, userID)
	return s.userGroups(ctx, userID)
}

func (s *Service) RemoveUserFromGroup(ctx context.Context, userID int64, groupID int64) ([]int64, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != "admin" {
		return nil, domain.ErrForbidden
	}
	if err := s.repo.RemoveUserFromGroup(ctx, userID, groupID); err != nil {
		return nil, notFound(err, "user")
	}
	s.invalidateGroups(ctx, userID)
	return s.userGroups(ctx, userID)
}

func (s *Service) invalidateGroups(ctx context.Context, userID int64) {
	if err := s.cache.Delete(ctx, cache.GroupsKey(userID)); err != nil {
		s.log.Warn("group cache invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// canBuy reports whether the user may appear as a customer at all.
func (s *Service) canBuy(ctx context.Context, user domain.User) (bool, error) {
	if !user.Active {
		return false, nil
	}
	banned, err := s.isInGroup(ctx, user.ID, s.settings.SiteBannedGroup)
	if err != nil {
		return false, err
	}
	return !banned, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func intersects(a []int64, b []int64) bool {
	for _, v := range a {
		if containsID(b, v) {
			return true
		}
	}
	return false
}
