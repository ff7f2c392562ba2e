package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/service"
)

func (a *API) handleApplyMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.MovementInput
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	// The actor always comes from the token on this route.
	req.ActorID = ""
	movement, err := a.svc.Ledger.ApplyMovement(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (a *API) handleMovementHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID := strings.TrimSpace(q.Get("product_id"))
	if productID == "" {
		writeError(w, http.StatusBadRequest, domain.EINVALID, "product_id is required")
		return
	}
	page := parsePositiveLimit(q.Get("page"), 1, 0)
	limit := parsePositiveLimit(q.Get("limit"), 20, 100)

	result, err := a.svc.Ledger.History(r.Context(), productID, domain.MovementType(strings.TrimSpace(q.Get("type"))), page, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleMovementSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.EINVALID, "from must be RFC3339")
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.EINVALID, "to must be RFC3339")
		return
	}
	summary, err := a.svc.Ledger.Summary(r.Context(), from, to, strings.TrimSpace(q.Get("product_id")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

type variantTarget struct {
	ProductID string                  `json:"product_id" validate:"required"`
	Variant   *domain.VariantSelector `json:"variant,omitempty"`
}

func (a *API) handleNotifyPreOrders(w http.ResponseWriter, r *http.Request) {
	var req variantTarget
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	result, err := a.svc.PreOrders.NotifyWhenInStock(r.Context(), req.ProductID, req.Variant)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleExpirePreOrders(w http.ResponseWriter, r *http.Request) {
	expired, err := a.svc.PreOrders.ExpireOld(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": expired})
}

func (a *API) handleNotifySubscribers(w http.ResponseWriter, r *http.Request) {
	var req variantTarget
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	result, err := a.svc.BackInStock.NotifySubscribers(r.Context(), req.ProductID, req.Variant)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSubscriberCount counts across all variants unless both variant_group
// and variant_value are given.
func (a *API) handleSubscriberCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID := strings.TrimSpace(q.Get("product_id"))
	if productID == "" {
		writeError(w, http.StatusBadRequest, domain.EINVALID, "product_id is required")
		return
	}
	var variant *domain.VariantSelector
	group, value := strings.TrimSpace(q.Get("variant_group")), strings.TrimSpace(q.Get("variant_value"))
	if group != "" || value != "" {
		variant = &domain.VariantSelector{Group: group, Value: value}
	}
	count, err := a.svc.BackInStock.SubscriberCount(r.Context(), productID, variant)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "count": count})
}

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !a.subscribeLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many subscription attempts")
		return
	}
	var req domain.SubscribeRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if actor, ok := service.ActorFromContext(r.Context()); ok {
		req.UserID = actor.UserID
	} else {
		req.UserID = ""
	}
	req.IPAddress = clientKey(r)
	req.UserAgent = r.UserAgent()

	sub, err := a.svc.BackInStock.Subscribe(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Email     string                  `json:"email" validate:"required,email"`
	ProductID string                  `json:"product_id" validate:"required"`
	Variant   *domain.VariantSelector `json:"variant,omitempty"`
}

func (a *API) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	sub, err := a.svc.BackInStock.Unsubscribe(r.Context(), req.Email, req.ProductID, req.Variant)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleCreatePreOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	var req domain.PreOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, domain.EINVALID, "invalid JSON body")
		return
	}
	// Customers always order for themselves; admins may place one on a
	// customer's behalf.
	if actor.Role != "admin" || req.UserID == "" {
		req.UserID = actor.UserID
	}
	if err := a.validateStruct(&req); err != nil {
		a.fail(w, r, err)
		return
	}
	preOrder, err := a.svc.PreOrders.Create(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, preOrder)
}

func (a *API) handleListPreOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	userID := actor.UserID
	if requested := strings.TrimSpace(r.URL.Query().Get("user_id")); requested != "" {
		userID = requested
	}
	list, err := a.svc.PreOrders.ListForUser(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pre_orders": list, "count": len(list)})
}

func (a *API) handleGetPreOrder(w http.ResponseWriter, r *http.Request) {
	preOrder, err := a.svc.PreOrders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preOrder)
}

func (a *API) handleCancelPreOrder(w http.ResponseWriter, r *http.Request) {
	preOrder, err := a.svc.PreOrders.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preOrder)
}

type convertRequest struct {
	ShippingAddress string `json:"shipping_address" validate:"required"`
	PaymentMethod   string `json:"payment_method" validate:"required"`
	Note            string `json:"note,omitempty"`
}

func (a *API) handleConvertPreOrder(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	order, err := a.svc.PreOrders.ConvertToOrder(r.Context(), mux.Vars(r)["id"], domain.OrderData{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Note:            req.Note,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}
