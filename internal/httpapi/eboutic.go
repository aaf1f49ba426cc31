package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"sith/backend/internal/domain"
	"sith/backend/internal/service"
)

func (a *API) handleEboutic(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	products, err := a.service.EbouticProducts(r.Context(), actor.UserID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleEbouticCommand(w http.ResponseWriter, r *http.Request) {
	var req service.EbouticCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	command, err := a.service.CreateEbouticCommand(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, command)
}

type payWithAccountRequest struct {
	BasketID int64 `json:"basket_id"`
}

func (a *API) handlePayWithAccount(w http.ResponseWriter, r *http.Request) {
	var req payWithAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settlement, err := a.service.PayWithAccount(r.Context(), req.BasketID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// handleBankCallback answers the bank server. Anything but a settled or
// refused payment is a 500 so that the bank retries later.
func (a *API) handleBankCallback(w http.ResponseWriter, r *http.Request) {
	outcome, err := a.service.HandleBankCallback(r.Context(), r.URL.RawQuery)
	switch {
	case err == nil && outcome.Paid:
		writeText(w, http.StatusOK, outcome.Message)
	case err == nil:
		writeText(w, http.StatusAccepted, outcome.Message)
	case errors.Is(err, domain.ErrValidation):
		writeText(w, http.StatusBadRequest, "Bad arguments")
	default:
		a.log.Warn("bank callback failed", zap.String("kind", string(domain.KindOf(err))), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Payment not processed")
	}
}

func (a *API) handleBillingInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "user_id")
	if !ok {
		writeNotFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		view, err := a.service.GetBillingInfo(r.Context(), userID)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPost, http.MethodPut:
		var info domain.BillingInfo
		if err := decodeJSON(r, &info); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.UpsertBillingInfo(r.Context(), userID, info)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		writeMethodNotAllowed(w)
	}
}

type studentCardRequest struct {
	UID string `json:"uid"`
}

func (a *API) handleStudentCards(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "user_id")
	if !ok {
		writeNotFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cards, err := a.service.ListStudentCards(r.Context(), userID)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"student_cards": cards})
	case http.MethodPost:
		var req studentCardRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		card, err := a.service.AddStudentCard(r.Context(), userID, req.UID)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"student_card": card})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleDeleteStudentCard(w http.ResponseWriter, r *http.Request) {
	cardID, ok := pathID(r, "card_id")
	if !ok {
		writeNotFound(w)
		return
	}
	if err := a.service.DeleteStudentCard(r.Context(), cardID); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEticketPDF(w http.ResponseWriter, r *http.Request) {
	saleID, ok := pathID(r, "sale_id")
	if !ok {
		writeNotFound(w)
		return
	}
	var buf bytes.Buffer
	if err := a.service.RenderEticket(r.Context(), saleID, &buf); err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="eticket-`+strconv.FormatInt(saleID, 10)+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
