package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/logger"
	"sith/backend/internal/metrics"
	"sith/backend/internal/service"
)

type API struct {
	service        *service.Service
	auth           *AuthManager
	log            *zap.Logger
	allowedOrigin  string
	loginLimiter   *attemptLimiter
	counterLimiter *attemptLimiter
	csrfSecret     []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// crypto/rand does not fail on supported platforms
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:        svc,
		auth:           auth,
		log:            log,
		allowedOrigin:  allowedOrigin,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		counterLimiter: newAttemptLimiter(10, time.Minute),
		csrfSecret:     csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts tokens of the current and previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /counter/{id}", a.optionalAuth(a.handleCounterMain))
	mux.HandleFunc("POST /counter/{id}/login", a.handleCounterLogin)
	mux.HandleFunc("POST /counter/{id}/logout", a.optionalAuth(a.handleCounterLogout))
	mux.HandleFunc("/counter/{id}/click/{customer_id}", a.optionalAuth(a.handleClick))
	mux.HandleFunc("GET /counter/{id}/identify", a.optionalAuth(a.handleIdentify))
	mux.HandleFunc("GET /counter/{id}/last-ops", a.optionalAuth(a.handleLastOperations))
	mux.HandleFunc("POST /counter/{id}/sales/{sale_id}/delete", a.optionalAuth(a.handleDeleteSale))
	mux.HandleFunc("POST /counter/{id}/refills/{refill_id}/delete", a.optionalAuth(a.handleDeleteRefill))
	mux.HandleFunc("/counter/{id}/cash-summary", a.optionalAuth(a.handleCashSummary))

	mux.HandleFunc("GET /eboutic", a.requireAuth(a.handleEboutic))
	mux.HandleFunc("POST /eboutic/command", a.requireAuth(a.handleEbouticCommand))
	mux.HandleFunc("POST /eboutic/pay-with-account", a.requireAuth(a.handlePayWithAccount))
	mux.HandleFunc("GET /eboutic/et_autoanswer", a.handleBankCallback)

	mux.HandleFunc("/api/billing-info/{user_id}", a.requireAuth(a.handleBillingInfo))
	mux.HandleFunc("/api/v1/customers/{user_id}/student-cards", a.requireAuth(a.handleStudentCards))
	mux.HandleFunc("DELETE /api/v1/student-cards/{card_id}", a.requireAuth(a.handleDeleteStudentCard))
	mux.HandleFunc("GET /api/v1/sales/{sale_id}/eticket.pdf", a.requireAuth(a.handleEticketPDF))

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct))
	mux.HandleFunc("/api/v1/product-types", a.requireAuth(a.handleProductTypes))
	mux.HandleFunc("POST /api/v1/product-types/{id}/move", a.requireAuth(a.handleMoveProductType))
	mux.HandleFunc("POST /api/v1/returnables", a.requireAuth(a.handleCreateReturnable))
	mux.HandleFunc("POST /api/v1/returnables/{id}/recompute", a.requireAuth(a.handleRecomputeReturnable))
	mux.HandleFunc("POST /api/v1/etickets", a.requireAuth(a.handleCreateEticket))
	mux.HandleFunc("GET /api/v1/operation-logs", a.requireAuth(a.handleOperationLogs))
	mux.HandleFunc("GET /api/v1/cash-summaries", a.requireAuth(a.handleCashSummaries))
	mux.HandleFunc("/api/v1/users/{id}/groups/{group_id}", a.requireAuth(a.handleUserGroup))

	return metrics.Instrument(logger.RequestLog(a.withMiddleware(mux), a.log))
}

func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return "", false
	}
	return strings.TrimSpace(authorization[len("Bearer "):]), true
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

// optionalAuth attaches the actor when a bearer token is sent. Counter
// pages work without one: the counter token authenticates the browser.
func (a *API) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			next(w, r)
			return
		}
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) || errors.Is(err, errInactiveAccount) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients send it back in the X-CSRF-Token header or the csrf_token form field.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExempt reports paths called without a prior CSRF token fetch: the
// login endpoints.
func csrfExempt(path string) bool {
	if path == "/api/v1/auth/login" {
		return true
	}
	rest, ok := strings.CutPrefix(path, "/counter/")
	if !ok {
		return false
	}
	id, action, ok := strings.Cut(rest, "/")
	return ok && action == "login" && id != ""
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if csrfExempt(r.URL.Path) {
		return true
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if token == "" && isFormRequest(r) {
		token = strings.TrimSpace(r.PostFormValue("csrf_token"))
	}
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func isFormRequest(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/x-www-form-urlencoded")
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Counter-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errorStatus maps a service error to its HTTP status.
func errorStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden, domain.KindBadLocation, domain.KindAlcoholBanned, domain.KindCounterBanned:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindCounterClosed:
		return http.StatusConflict
	case domain.KindValidation, domain.KindProductUnavailable, domain.KindTooYoung, domain.KindNoAgeOnFile,
		domain.KindInsufficientFunds, domain.KindDepositLimitExceeded, domain.KindInvalidStudentCardUID:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= 500 {
		a.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, domain.ErrNotFound)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTime reads an optional RFC 3339 or YYYY-MM-DD query parameter.
func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, domain.ValidationError("invalid date", map[string]string{"date": "expected RFC 3339 or YYYY-MM-DD"})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError returns a generic message for 5xx responses so internals never
// leak. 4xx bodies carry the domain error code and field messages.
func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]any{"error": err.Error()}
	if status >= 500 {
		body["error"] = "internal server error"
	} else {
		var de *domain.Error
		if errors.As(err, &de) {
			body["code"] = de.Kind
			if len(de.Fields) > 0 {
				body["fields"] = de.Fields
			}
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
