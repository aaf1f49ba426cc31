package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/money"
	"sith/backend/internal/service"
	"sith/backend/internal/xid"
)

const (
	sessionCookie      = "sith_session"
	counterTokenCookie = "counter_token_"
	counterTokenHeader = "X-Counter-Token"
)

func counterPath(counterID int64) string {
	return "/counter/" + strconv.FormatInt(counterID, 10)
}

// ownerToken returns the opaque browser session token, issuing one on the
// first counter request.
func ownerToken(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	owner := xid.New("")
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    owner,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return owner
}

// counterSession reads the browser session driving the counter of the
// request path.
func counterSession(w http.ResponseWriter, r *http.Request) (service.CounterSession, bool) {
	counterID, ok := pathID(r, "id")
	if !ok {
		return service.CounterSession{}, false
	}
	token := strings.TrimSpace(r.Header.Get(counterTokenHeader))
	if token == "" {
		if c, err := r.Cookie(counterTokenCookie + strconv.FormatInt(counterID, 10)); err == nil {
			token = c.Value
		}
	}
	return service.CounterSession{
		CounterID: counterID,
		Owner:     ownerToken(w, r),
		Token:     token,
	}, true
}

// failCounter sends the browser back to the counter main screen when it does
// not hold the counter.
func (a *API) failCounter(w http.ResponseWriter, r *http.Request, counterID int64, err error) {
	if errors.Is(err, domain.ErrBadLocation) || errors.Is(err, domain.ErrCounterClosed) {
		http.Redirect(w, r, counterPath(counterID), http.StatusSeeOther)
		return
	}
	a.fail(w, err)
}

func (a *API) handleCounterMain(w http.ResponseWriter, r *http.Request) {
	sess, ok := counterSession(w, r)
	if !ok {
		writeNotFound(w)
		return
	}
	view, err := a.service.CounterMain(r.Context(), sess)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCounterLogin(w http.ResponseWriter, r *http.Request) {
	counterID, ok := pathID(r, "id")
	if !ok {
		writeNotFound(w)
		return
	}
	if !a.counterLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	token, user, err := a.service.CounterLogin(r.Context(), counterID, r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errorStatus(err) >= 500 {
			a.fail(w, err)
			return
		}
		redirectWithError(w, r, counterPath(counterID), err)
		return
	}
	ownerToken(w, r)
	http.SetCookie(w, &http.Cookie{
		Name:     counterTokenCookie + strconv.FormatInt(counterID, 10),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	a.log.Debug("counter login", zap.Int64("counter_id", counterID), zap.Int64("user_id", user.ID))
	http.Redirect(w, r, counterPath(counterID), http.StatusSeeOther)
}

func (a *API) handleCounterLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := counterSession(w, r)
	if !ok {
		writeNotFound(w)
		return
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue("user_id")), 10, 64)
	if err != nil {
		redirectWithError(w, r, counterPath(sess.CounterID), domain.ValidationError("invalid user", map[string]string{"user_id": "invalid value"}))
		return
	}
	if err := a.service.CounterLogout(r.Context(), sess, userID); err != nil {
		if errorStatus(err) >= 500 {
			a.fail(w, err)
			return
		}
		redirectWithError(w, r, counterPath(sess.CounterID), err)
		return
	}
	http.Redirect(w, r, counterPath(sess.CounterID), http.StatusSeeOther)
}

// redirectWithError redirects to target with the error code in the query.
func redirectWithError(w http.ResponseWriter, r *http.Request, target string, err error) {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.KindValidation
	}
	http.Redirect(w, r, target+"?error="+url.QueryEscape(string(kind)), http.StatusSeeOther)
}

type clickResponse struct {
	Click  service.ClickView    `json:"click"`
	Error  *domain.Error        `json:"error,omitempty"`
	Refill *domain.CreditResult `json:"refill,omitempty"`
}

func (a *API) handleClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	sess, ok := counterSession(w, r)
	if !ok {
		writeNotFound(w)
		return
	}
	customerID, ok := pathID(r, "customer_id")
	if !ok {
		writeNotFound(w)
		return
	}

	var resp clickResponse
	if r.Method == http.MethodPost {
		redirect, refill, err := a.clickAction(r, sess, customerID)
		if err != nil {
			if !domain.KindOf(err).UserFacing() {
				a.failCounter(w, r, sess.CounterID, err)
				return
			}
			var de *domain.Error
			errors.As(err, &de)
			resp.Error = de
		}
		if redirect {
			http.Redirect(w, r, counterPath(sess.CounterID), http.StatusSeeOther)
			return
		}
		resp.Refill = refill
	}

	view, err := a.service.OpenClick(r.Context(), sess, customerID)
	if err != nil {
		a.failCounter(w, r, sess.CounterID, err)
		return
	}
	resp.Click = view
	writeJSON(w, http.StatusOK, resp)
}

// clickAction runs one form action of the click page. A true redirect sends
// the barman back to the counter main screen.
func (a *API) clickAction(r *http.Request, sess service.CounterSession, customerID int64) (bool, *domain.CreditResult, error) {
	ctx := r.Context()
	switch action := r.PostFormValue("action"); action {
	case "add_product":
		productID, err := formID(r, "product_id")
		if err != nil {
			return false, nil, err
		}
		quantity := 1
		if raw := strings.TrimSpace(r.PostFormValue("quantity")); raw != "" {
			quantity, err = strconv.Atoi(raw)
			if err != nil || quantity < 1 {
				return false, nil, domain.ValidationError("invalid quantity", map[string]string{"quantity": "must be a positive integer"})
			}
		}
		_, err = a.service.AddProduct(ctx, sess, customerID, productID, quantity)
		return false, nil, err
	case "del_product":
		productID, err := formID(r, "product_id")
		if err != nil {
			return false, nil, err
		}
		_, err = a.service.RemoveProduct(ctx, sess, customerID, productID)
		return false, nil, err
	case "refill":
		amount, err := money.Parse(r.PostFormValue("amount"))
		if err != nil {
			return false, nil, domain.ValidationError("invalid amount", map[string]string{"amount": "must be a decimal amount"})
		}
		result, err := a.service.Refill(ctx, sess, customerID, service.RefillRequest{
			Amount:        amount,
			PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(r.PostFormValue("payment_method")))),
			Bank:          strings.TrimSpace(r.PostFormValue("bank")),
			CheckNumber:   strings.TrimSpace(r.PostFormValue("check_number")),
		})
		if err != nil {
			return false, nil, err
		}
		return false, &result, nil
	case "code":
		result, err := a.service.ParseCode(ctx, sess, customerID, r.PostFormValue("code"))
		if err != nil {
			return false, nil, err
		}
		return result.Action != service.CodeAdded, nil, nil
	case "cancel":
		return true, nil, a.service.Cancel(ctx, sess, customerID)
	case "finish":
		_, err := a.service.Finish(ctx, sess, customerID)
		return err == nil, nil, err
	case "add_student_card":
		_, err := a.service.AddStudentCardAtCounter(ctx, sess, customerID, r.PostFormValue("student_card_uid"))
		return false, nil, err
	default:
		return false, nil, domain.ValidationError("unknown action", map[string]string{"action": "unknown action " + strconv.Quote(action)})
	}
}

func formID(r *http.Request, field string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue(field)), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError("invalid "+field, map[string]string{field: "invalid value"})
	}
	return id, nil
}

// handleIdentify resolves the code typed or scanned on the counter main
// screen to a customer.
func (a *API) handleIdentify(w http.ResponseWriter, r *http.Request) {
	sess, ok := counterSession(w, r)
	if !ok {
		writeNotFound(w)
		return
	}
	customer, user, err := a.service.LookupCustomer(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customer":      customer,
		"customer_name": user.DisplayName(),
		"click_url":     counterPath(sess.CounterID) + "/click/" + strconv.FormatInt(customer.UserID, 10),
	})
}

func (a *API) handleLastOperations(w http.ResponseWriter, r *http.Request) {
	sess, ok := counterSession(w, r)
	if !ok {
		writeNotFound(w)
		return
	}
	view, err := a.service.LastOperations(r.Context(), sess)
	if err != nil {
		a.failCounter(w, r, sess.CounterID, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	sess, ok := counterSession(w, r)
	if !ok {
		writeNotFound(w)
		return
	}
	saleID, ok := pathID(r, "sale_id")
	if !ok {
		writeNotFound(w)
		return
	}
	customer, err := a.service.DeleteSale(r.Context(), &sess, saleID)
	if err != nil {
		a.failCounter(w, r, sess.CounterID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleDeleteRefill(w http.ResponseWriter, r *http.Request) {
	sess, ok := counterSession(w, r)
	if !ok {
		writeNotFound(w)
		return
	}
	refillID, ok := pathID(r, "refill_id")
	if !ok {
		writeNotFound(w)
		return
	}
	customer, err := a.service.DeleteRefill(r.Context(), &sess, refillID)
	if err != nil {
		a.failCounter(w, r, sess.CounterID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCashSummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := counterSession(w, r)
	if !ok {
		writeNotFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		pending, err := a.service.PendingCash(r.Context(), sess)
		if err != nil {
			a.failCounter(w, r, sess.CounterID, err)
			return
		}
		writeJSON(w, http.StatusOK, pending)
	case http.MethodPost:
		var req service.CashSummaryRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		summary, err := a.service.CreateCashSummary(r.Context(), sess, req)
		if err != nil {
			a.failCounter(w, r, sess.CounterID, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"summary": summary})
	default:
		writeMethodNotAllowed(w)
	}
}
