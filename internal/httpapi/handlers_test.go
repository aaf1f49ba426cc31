package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"sith/backend/internal/cache"
	"sith/backend/internal/config"
	"sith/backend/internal/service"
	"sith/backend/internal/store/memory"
)

const seedUserPassword = "plop1234"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, config.DefaultCounterSettings(), service.Deps{Cache: cache.NewMemoryCache()})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", nil)
}

func serve(api *API, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

// barBrowser logs the seeded barman on the bar and returns the cookies the
// browser holds afterwards.
func barBrowser(t *testing.T, api *API) []*http.Cookie {
	t.Helper()
	form := url.Values{"username": {"skia"}, "password": {seedUserPassword}}
	req := httptest.NewRequest(http.MethodPost, "/counter/1/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(api, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("counter login expected 303, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "/counter/1" {
		t.Fatalf("expected redirect to /counter/1, got %q", got)
	}
	cookies := rec.Result().Cookies()
	var hasToken, hasSession bool
	for _, c := range cookies {
		hasToken = hasToken || (c.Name == "counter_token_1" && len(c.Value) == 30)
		hasSession = hasSession || (c.Name == sessionCookie && c.Value != "")
	}
	if !hasToken || !hasSession {
		t.Fatalf("expected counter token and session cookies, got %v", cookies)
	}
	return cookies
}

func clickForm(t *testing.T, api *API, cookies []*http.Cookie, customerID int64, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	values.Set("csrf_token", api.generateCSRFToken())
	req := httptest.NewRequest(http.MethodPost, "/counter/1/click/"+strconv.FormatInt(customerID, 10), strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return serve(api, req)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := serve(api, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	serve(api, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := serve(api, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("expected http_requests_total in metrics output")
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(LoginRequest{Username: "root", Password: "admin123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(api, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.AccessToken == "" || resp.UserID != memory.SeedAdminID {
		t.Fatalf("unexpected login response %+v", resp)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(LoginRequest{Username: "root", Password: "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(api, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := serve(api, httptest.NewRequest(http.MethodGet, "/api/v1/products?counter_id=1", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "sli", seedUserPassword)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?counter_id=1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(api, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	products, ok := decodeBody(t, rec)["products"].([]any)
	if !ok || len(products) == 0 {
		t.Fatalf("expected bar products in response")
	}
	for _, p := range products {
		if p.(map[string]any)["code"] == "PIZZA" {
			t.Fatalf("staff-only product listed for a plain customer")
		}
	}
}

func TestCounterLoginRejectsBadPassword(t *testing.T) {
	api := newTestAPI(t)
	form := url.Values{"username": {"skia"}, "password": {"nope"}}
	req := httptest.NewRequest(http.MethodPost, "/counter/1/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(api, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/counter/1?error=UNAUTHENTICATED" {
		t.Fatalf("unexpected redirect %q", got)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "counter_token_1" {
			t.Fatalf("no counter token expected after a failed login")
		}
	}
}

func TestClickSaleThroughHTTP(t *testing.T) {
	api := newTestAPI(t)
	cookies := barBrowser(t, api)

	rec := clickForm(t, api, cookies, memory.SeedCustomerID, url.Values{
		"action":     {"add_product"},
		"product_id": {"1"},
		"quantity":   {"2"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add_product expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error"] != nil {
		t.Fatalf("unexpected inline error %v", body["error"])
	}
	click := body["click"].(map[string]any)
	if click["basket_total"] != "3.40" {
		t.Fatalf("expected basket total 3.40, got %v", click["basket_total"])
	}

	rec = clickForm(t, api, cookies, memory.SeedCustomerID, url.Values{"action": {"finish"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("finish expected 303, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/counter/1", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = serve(api, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("counter main expected 200, got %d", rec.Code)
	}
	main := decodeBody(t, rec)
	if main["authorized"] != true {
		t.Fatalf("expected the browser to hold the counter")
	}
	last, ok := main["last_purchase"].(map[string]any)
	if !ok {
		t.Fatalf("expected last purchase on the main screen, got %v", main)
	}
	if last["new_balance"] != "6.60" {
		t.Fatalf("expected new balance 6.60, got %v", last["new_balance"])
	}
}

func TestClickShowsUserErrorsInline(t *testing.T) {
	api := newTestAPI(t)
	cookies := barBrowser(t, api)

	rec := clickForm(t, api, cookies, memory.SeedCustomerID, url.Values{
		"action":     {"add_product"},
		"product_id": {strconv.FormatInt(memory.SeedGalaID, 10)},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	inline, ok := body["error"].(map[string]any)
	if !ok || inline["code"] != "PRODUCT_UNAVAILABLE" {
		t.Fatalf("expected inline PRODUCT_UNAVAILABLE, got %v", body["error"])
	}

	rec = clickForm(t, api, cookies, memory.SeedCustomerID, url.Values{"action": {"code"}, "code": {"10XBEER"}})
	body = decodeBody(t, rec)
	inline, ok = body["error"].(map[string]any)
	if !ok || inline["code"] != "INSUFFICIENT_FUNDS" {
		t.Fatalf("expected inline INSUFFICIENT_FUNDS, got %v", body["error"])
	}
}

func TestClickWithoutCounterTokenRedirects(t *testing.T) {
	api := newTestAPI(t)
	barBrowser(t, api)

	req := httptest.NewRequest(http.MethodGet, "/counter/1/click/3", nil)
	req.AddCookie(&http.Cookie{Name: "counter_token_1", Value: "stolen"})
	rec := serve(api, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "/counter/1" {
		t.Fatalf("expected redirect to the counter, got %q", got)
	}
}

func TestIdentifyByStudentCard(t *testing.T) {
	api := newTestAPI(t)
	rec := serve(api, httptest.NewRequest(http.MethodGet, "/counter/1/identify?code="+memory.SeedStudentCardUID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["click_url"]; got != "/counter/1/click/3" {
		t.Fatalf("unexpected click url %v", got)
	}

	rec = serve(api, httptest.NewRequest(http.MethodGet, "/counter/1/identify?code=9999z", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec.Code)
	}
}

func TestBankCallbackContract(t *testing.T) {
	api := newTestAPI(t)

	rec := serve(api, httptest.NewRequest(http.MethodGet, "/eboutic/et_autoanswer?Amount=100", nil))
	if rec.Code != http.StatusBadRequest || rec.Body.String() != "Bad arguments" {
		t.Fatalf("expected 400 Bad arguments, got %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(api, httptest.NewRequest(http.MethodGet, "/eboutic/et_autoanswer?Amount=100&BasketID=1&Auto=XXXX&Error=00000&Sig=AAAA", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for an unverifiable signature, got %d", rec.Code)
	}
	if strings.Contains(strings.ToLower(rec.Body.String()), "signature") {
		t.Fatalf("expected an opaque body, got %q", rec.Body.String())
	}
}

func TestBillingInfoRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "sli", seedUserPassword)
	csrf := fetchCSRFToken(t, api)

	payload := `{"first_name":"Sli","last_name":"Customer","address_1":"1 rue de Sevenans","zip_code":"90000","city":"Belfort","country":"FR"}`
	req := httptest.NewRequest(http.MethodPost, "/api/billing-info/3", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := serve(api, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["state"]; got != "MISSING_PHONE_NUMBER" {
		t.Fatalf("expected MISSING_PHONE_NUMBER, got %v", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/billing-info/3", strings.NewReader(`{"first_name":"Sli"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec = serve(api, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["code"] != "VALIDATION" || body["fields"] == nil {
		t.Fatalf("expected field errors, got %v", body)
	}

	other := loginAs(t, api, "skia", seedUserPassword)
	req = httptest.NewRequest(http.MethodGet, "/api/billing-info/3", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	if rec := serve(api, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user, got %d", rec.Code)
	}
}

func TestEbouticRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := serve(api, httptest.NewRequest(http.MethodGet, "/eboutic", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	token := loginAs(t, api, "sli", seedUserPassword)
	req := httptest.NewRequest(http.MethodGet, "/eboutic", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = serve(api, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestOperationLogsNeedAccountingAdmin(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/operation-logs", nil)
	req.Header.Set("Authorization", "Bearer "+loginAs(t, api, "sli", seedUserPassword))
	if rec := serve(api, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/operation-logs?from=2020-01-01", nil)
	req.Header.Set("Authorization", "Bearer "+loginAs(t, api, "root", "admin123"))
	rec := serve(api, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
