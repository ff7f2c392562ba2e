package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/service"
)

type cartResponse struct {
	Cart   domain.Cart       `json:"cart"`
	Totals domain.CartTotals `json:"totals"`
}

func (a *API) writeCart(w http.ResponseWriter, status int, cart *domain.Cart) {
	writeJSON(w, status, cartResponse{Cart: *cart, Totals: a.svc.Carts.Totals(*cart)})
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	ref, err := cartRef(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	cart, err := a.svc.Carts.Get(r.Context(), ref)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeCart(w, http.StatusOK, cart)
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	ref, err := cartRef(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.svc.Carts.Clear(r.Context(), ref); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addItemRequest struct {
	ProductID string                  `json:"product_id" validate:"required"`
	Quantity  int                     `json:"quantity" validate:"gte=1"`
	Variant   domain.VariantSelection `json:"variant,omitempty"`
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ref, err := cartRef(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req addItemRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	cart, err := a.svc.Carts.AddItem(r.Context(), ref, req.ProductID, req.Quantity, req.Variant)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeCart(w, http.StatusOK, cart)
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	ref, err := cartRef(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req updateItemRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	cart, err := a.svc.Carts.UpdateItem(r.Context(), ref, mux.Vars(r)["lineID"], req.Quantity)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeCart(w, http.StatusOK, cart)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	ref, err := cartRef(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	cart, err := a.svc.Carts.RemoveItem(r.Context(), ref, mux.Vars(r)["lineID"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeCart(w, http.StatusOK, cart)
}

func (a *API) handleValidateCart(w http.ResponseWriter, r *http.Request) {
	ref, err := cartRef(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result, err := a.svc.Carts.Validate(r.Context(), ref)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    result.Valid,
		"problems": result.Problems,
		"cart":     result.Cart,
		"totals":   a.svc.Carts.Totals(result.Cart),
	})
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required"`
}

func (a *API) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	ref, err := cartRef(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req applyCouponRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	cart, err := a.svc.Coupons.Apply(r.Context(), ref, req.Code)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeCart(w, http.StatusOK, cart)
}

func (a *API) handleRemoveCoupon(w http.ResponseWriter, r *http.Request) {
	ref, err := cartRef(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	cart, err := a.svc.Coupons.Remove(r.Context(), ref)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeCart(w, http.StatusOK, cart)
}

// handleMergeCart folds the session cart named by the request headers into
// the signed-in user's cart, typically right after login.
func (a *API) handleMergeCart(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	from, ok := sessionCartRef(r)
	if !ok {
		writeError(w, http.StatusBadRequest, domain.EINVALID, "missing "+guestSessionHeader+" or "+legacySessionHeader+" header")
		return
	}
	cart, err := a.svc.Carts.Merge(r.Context(), actor.UserID, from)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeCart(w, http.StatusOK, cart)
}

func (a *API) handleRedeemCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := a.svc.Coupons.Redeem(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}
