package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/service"
	"storefront/backend/internal/telemetry"
	"storefront/backend/internal/xid"
)

const (
	// guestSessionHeader carries the guest cart key for anonymous shoppers.
	guestSessionHeader = "X-Cart-Session"
	// legacySessionHeader carries the old session id for carts created before
	// guest carts moved out of the database.
	legacySessionHeader = "X-Session-ID"
	requestIDHeader     = "X-Request-ID"
	maxSessionKeyLength = 128
)

type Options struct {
	AllowedOrigin string
	Logger        zerolog.Logger
	Metrics       *telemetry.Metrics
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type API struct {
	svc              *service.Services
	auth             *AuthManager
	allowedOrigin    string
	logger           zerolog.Logger
	metrics          *telemetry.Metrics
	gatherer         prometheus.Gatherer
	validate         *validator.Validate
	subscribeLimiter *attemptLimiter
}

func New(svc *service.Services, auth *AuthManager, opts Options) *API {
	return &API{
		svc:              svc,
		auth:             auth,
		allowedOrigin:    opts.AllowedOrigin,
		logger:           opts.Logger.With().Str("component", "http").Logger(),
		metrics:          opts.Metrics,
		gatherer:         opts.Gatherer,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		subscribeLimiter: newAttemptLimiter(10, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(a.observe)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, domain.ENOTFOUND, "route not found")
	})

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(a.identify)

	api.HandleFunc("/cart", a.handleGetCart).Methods(http.MethodGet)
	api.HandleFunc("/cart", a.handleClearCart).Methods(http.MethodDelete)
	api.HandleFunc("/cart/items", a.handleAddItem).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{lineID}", a.handleUpdateItem).Methods(http.MethodPatch)
	api.HandleFunc("/cart/items/{lineID}", a.handleRemoveItem).Methods(http.MethodDelete)
	api.HandleFunc("/cart/validate", a.handleValidateCart).Methods(http.MethodPost)
	api.HandleFunc("/cart/coupon", a.handleApplyCoupon).Methods(http.MethodPost)
	api.HandleFunc("/cart/coupon", a.handleRemoveCoupon).Methods(http.MethodDelete)
	api.HandleFunc("/cart/merge", a.requireAuth(a.handleMergeCart, "customer", "admin")).Methods(http.MethodPost)

	api.HandleFunc("/subscriptions", a.handleSubscribe).Methods(http.MethodPost)
	api.HandleFunc("/subscriptions/unsubscribe", a.handleUnsubscribe).Methods(http.MethodPost)

	api.HandleFunc("/preorders", a.requireAuth(a.handleCreatePreOrder, "customer", "admin")).Methods(http.MethodPost)
	api.HandleFunc("/preorders", a.requireAuth(a.handleListPreOrders, "customer", "admin")).Methods(http.MethodGet)
	api.HandleFunc("/preorders/{id}", a.requireAuth(a.handleGetPreOrder, "customer", "admin")).Methods(http.MethodGet)
	api.HandleFunc("/preorders/{id}/cancel", a.requireAuth(a.handleCancelPreOrder, "customer", "admin")).Methods(http.MethodPost)
	api.HandleFunc("/preorders/{id}/convert", a.requireAuth(a.handleConvertPreOrder, "customer", "admin")).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(a.requireRole("admin"))
	admin.HandleFunc("/stock/movements", a.handleApplyMovement).Methods(http.MethodPost)
	admin.HandleFunc("/stock/movements", a.handleMovementHistory).Methods(http.MethodGet)
	admin.HandleFunc("/stock/summary", a.handleMovementSummary).Methods(http.MethodGet)
	admin.HandleFunc("/preorders/notify", a.handleNotifyPreOrders).Methods(http.MethodPost)
	admin.HandleFunc("/preorders/expire", a.handleExpirePreOrders).Methods(http.MethodPost)
	admin.HandleFunc("/subscriptions/notify", a.handleNotifySubscribers).Methods(http.MethodPost)
	admin.HandleFunc("/subscriptions/count", a.handleSubscriberCount).Methods(http.MethodGet)
	admin.HandleFunc("/coupons/{code}/redeem", a.handleRedeemCoupon).Methods(http.MethodPost)

	return a.withMiddleware(r)
}

// identify attaches the bearer token's actor to the request context. Requests
// without a token continue anonymously; a bad token is rejected.
func (a *API) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, domain.EUNAUTHORIZED, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := service.ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, domain.EUNAUTHORIZED, "missing bearer token")
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, domain.EFORBIDDEN, "forbidden role")
			return
		}
		next(w, r)
	}
}

func (a *API) requireRole(roles ...string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return a.requireAuth(next.ServeHTTP, roles...)
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+guestSessionHeader+", "+legacySessionHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 64 {
			requestID = xid.New("req")
			r.Header.Set(requestIDHeader, requestID)
		}
		w.Header().Set(requestIDHeader, requestID)

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe runs inside the router so the route template is known; it logs the
// request and records its latency.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		a.metrics.ObserveHTTP(r.Method, route, strconv.Itoa(rec.status), elapsed)
		ev := a.logger.Info()
		if rec.status >= 500 {
			ev = a.logger.Error()
		}
		ev.Str("request_id", r.Header.Get(requestIDHeader)).
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("request")
	})
}

// cartRef resolves which cart a request addresses: the signed-in user's cart,
// otherwise the guest cart, otherwise the legacy session cart.
func cartRef(r *http.Request) (domain.CartRef, error) {
	if actor, ok := service.ActorFromContext(r.Context()); ok {
		return domain.CartRef{Kind: domain.CartRegistered, Key: actor.UserID}, nil
	}
	if ref, ok := sessionCartRef(r); ok {
		return ref, nil
	}
	return domain.CartRef{}, domain.Errorf(domain.EUNAUTHORIZED, "httpapi.cart",
		"sign in or send an %s header", guestSessionHeader)
}

func sessionCartRef(r *http.Request) (domain.CartRef, bool) {
	if key := strings.TrimSpace(r.Header.Get(guestSessionHeader)); key != "" && len(key) <= maxSessionKeyLength {
		return domain.CartRef{Kind: domain.CartGuest, Key: key}, true
	}
	if key := strings.TrimSpace(r.Header.Get(legacySessionHeader)); key != "" && len(key) <= maxSessionKeyLength {
		return domain.CartRef{Kind: domain.CartLegacy, Key: key}, true
	}
	return domain.CartRef{}, false
}

// decodeAndValidate reads a JSON body into dest and runs struct validation.
func (a *API) decodeAndValidate(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return domain.WrapError(err, domain.EINVALID, "httpapi.decode", "invalid JSON body")
	}
	return a.validateStruct(dest)
}

func (a *API) validateStruct(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.WrapError(err, domain.EINVALID, "httpapi.validate", "invalid request")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return domain.Invalid("httpapi.validate", strings.Join(msgs, "; "))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
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

// statusFor maps an error code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.EINSUFFICIENTSTOCK, domain.ESTILLINSTOCK, domain.EDUPLICATEPREORDER,
		domain.EALREADYSUBSCRIBED, domain.ECONFLICT:
		return http.StatusConflict
	case domain.EEXPIRED:
		return http.StatusGone
	case domain.ENOTSTARTED, domain.EUSAGELIMIT, domain.EBELOWMINIMUM, domain.ECARTEMPTY:
		return http.StatusUnprocessableEntity
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err using its code. Internal errors are logged with their cause
// and answered with a generic message.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := statusFor(code)
	if status >= 500 {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
	}
	writeError(w, status, code, domain.ErrorMessage(err))
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
