package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sith/backend/internal/cache"
	"sith/backend/internal/config"
	"sith/backend/internal/domain"
	"sith/backend/internal/store/memory"
)

const seedUserPassword = "plop1234"

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := New(repo, config.DefaultCounterSettings(), Deps{Cache: cache.NewMemoryCache()})
	return svc, repo
}

// openBar logs the seeded barman on the bar and returns the browser session.
func openBar(t *testing.T, svc *Service) CounterSession {
	t.Helper()
	token, user, err := svc.CounterLogin(context.Background(), memory.SeedBarCounterID, "skia", seedUserPassword)
	require.NoError(t, err)
	require.Equal(t, memory.SeedBarmanID, user.ID)
	require.Len(t, token, counterTokenLength)
	return CounterSession{CounterID: memory.SeedBarCounterID, Owner: "browser-1", Token: token}
}

func asUser(id int64, username string) context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: id, Username: username, Role: "user"})
}

func asAdmin() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: memory.SeedAdminID, Username: "root", Role: "admin"})
}

func balanceOf(t *testing.T, repo *memory.Store, userID int64) string {
	t.Helper()
	c, err := repo.GetCustomer(context.Background(), userID)
	require.NoError(t, err)
	return c.Balance.String()
}

func TestCounterLoginKeepsTokenWhileOpen(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	token, _, err := svc.CounterLogin(ctx, memory.SeedBarCounterID, "krophil", seedUserPassword)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, token)

	barmen, err := svc.Heartbeat(ctx, memory.SeedBarCounterID)
	require.NoError(t, err)
	assert.Len(t, barmen, 2)
}

func TestCounterLoginRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	openBar(t, svc)

	_, _, err := svc.CounterLogin(ctx, memory.SeedBarCounterID, "skia", seedUserPassword)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, _, err = svc.CounterLogin(ctx, memory.SeedBarCounterID, "krophil", "wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, _, err = svc.CounterLogin(ctx, memory.SeedBarCounterID, "sli", seedUserPassword)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, _, err = svc.CounterLogin(ctx, memory.SeedEbouticCounterID, "skia", seedUserPassword)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCounterTokenIsRequiredOnBar(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddProduct(ctx, CounterSession{CounterID: memory.SeedBarCounterID, Owner: "b"}, memory.SeedCustomerID, memory.SeedBeerID, 1)
	assert.ErrorIs(t, err, domain.ErrCounterClosed)

	sess := openBar(t, svc)
	stolen := sess
	stolen.Token = "not-the-token"
	_, err = svc.AddProduct(ctx, stolen, memory.SeedCustomerID, memory.SeedBeerID, 1)
	assert.ErrorIs(t, err, domain.ErrBadLocation)

	err = svc.CounterLogout(ctx, stolen, memory.SeedBarmanID)
	assert.ErrorIs(t, err, domain.ErrBadLocation)

	require.NoError(t, svc.CounterLogout(ctx, sess, memory.SeedBarmanID))
	_, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBeerID, 1)
	assert.ErrorIs(t, err, domain.ErrCounterClosed)
}

func TestIdleBarmanIsSweptOnNextInteraction(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := openBar(t, svc)

	open, err := svc.CounterOpen(ctx, memory.SeedBarCounterID)
	require.NoError(t, err)
	assert.True(t, open)

	start := svc.now()
	svc.now = func() time.Time { return start.Add(11 * time.Minute) }

	state, err := svc.SessionState(ctx, memory.SeedBarCounterID, memory.SeedBarmanID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionIdle, state)

	_, err = svc.AddProduct(ctx, sess, memory.SeedCustomerID, memory.SeedBeerID, 1)
	assert.ErrorIs(t, err, domain.ErrCounterClosed)

	state, err = svc.SessionState(ctx, memory.SeedBarCounterID, memory.SeedBarmanID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionOff, state)

	open, err = svc.CounterOpen(ctx, memory.SeedBarCounterID)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestClickRefusesEbouticCounter(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.OpenClick(asAdmin(), CounterSession{CounterID: memory.SeedEbouticCounterID}, memory.SeedCustomerID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestOfficeCounterNeedsAnAuthenticatedUser(t *testing.T) {
	svc, _ := newTestService(t)
	sess := CounterSession{CounterID: memory.SeedOfficeCounterID, Owner: "office"}

	_, err := svc.OpenClick(context.Background(), sess, memory.SeedCustomerID)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	view, err := svc.OpenClick(asAdmin(), sess, memory.SeedCustomerID)
	require.NoError(t, err)
	assert.Equal(t, memory.SeedOfficeCounterID, view.Counter.ID)
	assert.Empty(t, view.RefillMethods)
}
