package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"sith/backend/internal/bank"
	"sith/backend/internal/cache"
	"sith/backend/internal/config"
	"sith/backend/internal/domain"
	"sith/backend/internal/notify"
	"sith/backend/internal/store"
	"sith/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// CounterSession identifies the browser driving a counter: the counter it
// is on, its opaque owner token and the counter token it holds.
type CounterSession struct {
	CounterID int64
	Owner     string
	Token     string
}

// Deps are the optional collaborators of a Service. Zero values fall back to
// no-op implementations.
type Deps struct {
	Cache          cache.Cache
	Notifier       notify.Notifier
	Logger         *zap.Logger
	Verifier       *bank.Verifier
	Merchant       bank.Merchant
	CacheTTL       time.Duration
	EticketStorage string
}

type Service struct {
	repo           store.Repository
	settings       config.CounterSettings
	cache          cache.Cache
	notifier       notify.Notifier
	log            *zap.Logger
	verifier       *bank.Verifier
	merchant       bank.Merchant
	cacheTTL       time.Duration
	eticketStorage string
	validate       *validator.Validate
	now            func() time.Time
}

func New(repo store.Repository, settings config.CounterSettings, deps Deps) *Service {
	if deps.Cache == nil {
		deps.Cache = cache.NoopCache{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{Log: deps.Logger}
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = time.Minute
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	return &Service{
		repo:           repo,
		settings:       settings,
		cache:          deps.Cache,
		notifier:       deps.Notifier,
		log:            deps.Logger,
		verifier:       deps.Verifier,
		merchant:       deps.Merchant,
		cacheTTL:       deps.CacheTTL,
		eticketStorage: deps.EticketStorage,
		validate:       validate,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Settings() config.CounterSettings {
	return s.settings
}

// validationError turns validator output into a VALIDATION domain error with
// one message per offending field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return domain.ValidationError("invalid input", fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "this field is required"
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "min":
		return "must be at least " + fe.Param()
	case "e164":
		return "must be an international phone number"
	case "iso3166_1_alpha2":
		return "must be a two letter country code"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "invalid value"
	}
}

// notFound maps a store miss to the domain NOT_FOUND kind.
func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewError(domain.KindNotFound, "%s not found", what)
	}
	return err
}

// ledgerFailed maps the store errors of a balance write. The write left
// nothing behind, so every mapped error can be retried by the caller.
func ledgerFailed(err error, what string) error {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return domain.ErrInsufficientFunds
	case errors.Is(err, store.ErrDepositLimit):
		return domain.ErrDepositLimitExceeded
	case errors.Is(err, store.ErrConflict):
		return domain.ErrAccountBusy
	default:
		return notFound(err, what)
	}
}

func (s *Service) operationLog(ctx context.Context, action string, entityType string, entityID string, counterID int64, label string, fallback domain.Actor) domain.OperationLog {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = fallback
	}
	if actor.Username == "" {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	return domain.OperationLog{
		ID:            xid.New("oplog"),
		ActorID:       actor.UserID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		CounterID:     counterID,
		Label:         label,
		CreatedAt:     s.now(),
	}
}

// sendMail delivers msg without surfacing failures to the caller.
func (s *Service) sendMail(ctx context.Context, msg notify.Message) error {
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.log.Warn("failed to send notification", zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.Error(err))
		return err
	}
	return nil
}
