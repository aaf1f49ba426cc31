package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"sith/backend/internal/domain"
	"sith/backend/internal/service"
)

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		counterID, err := strconv.ParseInt(r.URL.Query().Get("counter_id"), 10, 64)
		if err != nil || counterID <= 0 {
			writeError(w, http.StatusBadRequest, domain.ValidationError("counter_id is required", map[string]string{"counter_id": "this field is required"}))
			return
		}
		actor, _ := service.ActorFromContext(r.Context())
		products, err := a.service.ListProductsFor(r.Context(), actor.UserID, counterID)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req service.ProductRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeNotFound(w)
		return
	}
	var req service.ProductUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleProductTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		types, err := a.service.ListProductTypes(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product_types": types})
	case http.MethodPost:
		var req service.ProductTypeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		productType, err := a.service.CreateProductType(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product_type": productType})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleMoveProductType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeNotFound(w)
		return
	}
	var req service.MoveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	types, err := a.service.MoveProductType(r.Context(), id, req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_types": types})
}

func (a *API) handleCreateReturnable(w http.ResponseWriter, r *http.Request) {
	var req service.ReturnableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	returnable, err := a.service.CreateReturnable(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"returnable": returnable})
}

func (a *API) handleRecomputeReturnable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeNotFound(w)
		return
	}
	updated, err := a.service.RecomputeReturnable(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": updated})
}

func (a *API) handleCreateEticket(w http.ResponseWriter, r *http.Request) {
	var req service.EticketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ticket, err := a.service.CreateEticket(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"eticket": ticket})
}

func (a *API) handleOperationLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseTime(query.Get("from"))
	if err != nil {
		a.fail(w, err)
		return
	}
	to, err := parseTime(query.Get("to"))
	if err != nil {
		a.fail(w, err)
		return
	}
	var fromAt, toAt time.Time
	if from != nil {
		fromAt = *from
	}
	if to != nil {
		toAt = *to
	}
	logs, err := a.service.ListOperationLogs(r.Context(), fromAt, toAt, parsePositiveLimit(query.Get("limit"), 100, 500))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operation_logs": logs})
}

func (a *API) handleCashSummaries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var counterID int64
	if raw := query.Get("counter_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, domain.ValidationError("invalid counter", map[string]string{"counter_id": "invalid value"}))
			return
		}
		counterID = id
	}
	from, err := parseTime(query.Get("from"))
	if err != nil {
		a.fail(w, err)
		return
	}
	to, err := parseTime(query.Get("to"))
	if err != nil {
		a.fail(w, err)
		return
	}
	summaries, err := a.service.ListCashSummaries(r.Context(), counterID, from, to)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cash_summaries": summaries})
}

func (a *API) handleUserGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeNotFound(w)
		return
	}
	groupID, ok := pathID(r, "group_id")
	if !ok {
		writeNotFound(w)
		return
	}

	var (
		groups []int64
		err    error
	)
	switch r.Method {
	case http.MethodPost:
		groups, err = a.service.AddUserToGroup(r.Context(), userID, groupID)
	case http.MethodDelete:
		groups, err = a.service.RemoveUserFromGroup(r.Context(), userID, groupID)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "group_ids": groups})
}
