package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyfission/realm-backend/api"
	"github.com/keyfission/realm-backend/engine"
	"github.com/keyfission/realm-backend/interfaces"
	"github.com/keyfission/realm-backend/metrics"
	"github.com/keyfission/realm-backend/tenantauth"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes HTTP requests for one realm. Every user-facing route
// runs the same prelude: the realm in the URL must be this process's realm,
// the bearer credential must verify against the issuing tenant's key, and
// the credential's subject must be the user named in the URL. Only then does
// the request reach the engine.
type Handler struct {
	realm  interfaces.RealmID
	auth   *tenantauth.Authenticator
	engine *engine.Engine
	log    *slog.Logger
}

// NewHandler creates a new HTTP request handler with the specified dependencies.
//
// Parameters:
//   - realm: The realm this process serves
//   - auth: Verifier for tenant-signed bearer credentials
//   - engine: The registration/recovery protocol engine
//   - log: Structured logger for operational insights
//
// Returns a configured Handler instance.
func NewHandler(realm interfaces.RealmID, auth *tenantauth.Authenticator, engine *engine.Engine, log *slog.Logger) *Handler {
	return &Handler{
		realm:  realm,
		auth:   auth,
		engine: engine,
		log:    log,
	}
}

// Realm returns the realm this handler serves.
func (h *Handler) Realm() interfaces.RealmID {
	return h.realm
}

// HandleRegister creates or replaces the authenticated user's record.
//
// URL format: POST /api/realm/{realm_id}/users/{user_id}/register
//
// Request body: api.RegisterRequest
// Response: api.RegisterResponse
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "register"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	claim, user, err := h.authorize(r)
	if err != nil {
		h.writeError(w, op, err)
		return
	}

	var request api.RegisterRequest
	if err := decodeBody(r, &request); err != nil {
		h.writeError(w, op, err)
		return
	}

	result, err := h.engine.Register(r.Context(), claim.Tenant, user,
		request.BlindedInput, interfaces.LockoutPolicy{GuessLimit: request.Policy.GuessLimit}, request.EncryptedShare)
	if err != nil {
		h.writeError(w, op, err)
		return
	}

	h.writeJSON(w, op, http.StatusOK, &api.RegisterResponse{
		Generation:    result.Generation,
		BlindedResult: result.BlindedResult,
	})
}

// HandleRecover charges one guess against the authenticated user's record
// and returns the blinded evaluation.
//
// URL format: POST /api/realm/{realm_id}/users/{user_id}/recover
//
// Request body: api.RecoverRequest
// Response: api.RecoverResponse
func (h *Handler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	const op = "recover"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	claim, user, err := h.authorize(r)
	if err != nil {
		h.writeError(w, op, err)
		return
	}

	var request api.RecoverRequest
	if err := decodeBody(r, &request); err != nil {
		h.writeError(w, op, err)
		return
	}

	result, err := h.engine.Recover(r.Context(), claim.Tenant, user, request.Generation, request.BlindedGuess)
	if err != nil {
		h.writeError(w, op, err)
		return
	}

	h.writeJSON(w, op, http.StatusOK, &api.RecoverResponse{
		BlindedResult: result.BlindedResult,
		GuessCount:    result.GuessCount,
		GuessLimit:    result.GuessLimit,
	})
}

// HandleDelete erases the authenticated user's record, all generations
// included. Deleting an absent record succeeds.
//
// URL format: DELETE /api/realm/{realm_id}/users/{user_id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "delete"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	claim, user, err := h.authorize(r)
	if err != nil {
		h.writeError(w, op, err)
		return
	}

	if err := h.engine.Delete(r.Context(), claim.Tenant, user); err != nil {
		h.writeError(w, op, err)
		return
	}

	metrics.RequestsTotal.WithLabelValues(op, "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus reports the authenticated user's record state without
// consuming a guess.
//
// URL format: GET /api/realm/{realm_id}/users/{user_id}/status
//
// Response: api.StatusResponse
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	const op = "status"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	claim, user, err := h.authorize(r)
	if err != nil {
		h.writeError(w, op, err)
		return
	}

	status, err := h.engine.GetStatus(r.Context(), claim.Tenant, user)
	if err != nil {
		h.writeError(w, op, err)
		return
	}

	h.writeJSON(w, op, http.StatusOK, &api.StatusResponse{
		Registered: status.Registered,
		Generation: status.Generation,
		GuessCount: status.GuessCount,
		GuessLimit: status.GuessLimit,
		Locked:     status.Locked,
	})
}

// HandleUnsupported rejects methods and paths outside the protocol surface.
func (h *Handler) HandleUnsupported(w http.ResponseWriter, r *http.Request) {
	const op = "unsupported"
	h.writeError(w, op, fmt.Errorf("%w: %s %s", interfaces.ErrUnsupportedOperation, r.Method, r.URL.Path))
}

// authorize runs the request prelude shared by every user-facing route.
// Realm mismatch is checked before the credential so a misrouted request is
// answered 421 regardless of what token it carries.
func (h *Handler) authorize(r *http.Request) (*tenantauth.Claim, interfaces.UserID, error) {
	requestRealm, err := interfaces.NewRealmIDFromHex(r.PathValue("realm_id"))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", interfaces.ErrWrongRealm, err)
	}
	if !requestRealm.Equal(h.realm) {
		return nil, "", fmt.Errorf("%w: this process serves realm %s", interfaces.ErrWrongRealm, h.realm)
	}

	token, ok := bearerToken(r)
	if !ok {
		return nil, "", fmt.Errorf("%w: missing bearer credential", interfaces.ErrMalformedCredential)
	}

	claim, err := h.auth.Authenticate(r.Context(), token, h.realm)
	if err != nil {
		return nil, "", err
	}

	user := interfaces.UserID(r.PathValue("user_id"))
	if user == "" {
		return nil, "", fmt.Errorf("%w: missing user id", interfaces.ErrInvalidPayload)
	}
	if claim.Subject != user {
		return nil, "", fmt.Errorf("%w: credential subject does not name the requested user", interfaces.ErrSubjectMismatch)
	}

	return claim, user, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func decodeBody(r *http.Request, into any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: failed to read request body", interfaces.ErrInvalidPayload)
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidPayload, err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, op string, status int, payload any) {
	metrics.RequestsTotal.WithLabelValues(op, "ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// writeError maps the error taxonomy onto the JSON error envelope. The
// message is the code's own text: operational detail stays in the log, not
// on the wire.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	code := api.CodeOf(err)
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "operation", op, "code", code, "err", err)
	} else {
		h.log.Info("Request rejected", "operation", op, "code", code, "err", err)
	}
	metrics.RequestsTotal.WithLabelValues(op, code).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	envelope := api.ErrorResponse{Error: api.ErrorDetail{Code: code, Message: messageFor(code)}}
	if encodeErr := json.NewEncoder(w).Encode(envelope); encodeErr != nil {
		h.log.Error("Failed to encode error response", "err", encodeErr)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrWrongRealm):
		return http.StatusMisdirectedRequest
	case errors.Is(err, interfaces.ErrSubjectMismatch):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrMalformedCredential),
		errors.Is(err, interfaces.ErrUnknownTenant),
		errors.Is(err, interfaces.ErrInvalidSignature),
		errors.Is(err, interfaces.ErrExpired),
		errors.Is(err, interfaces.ErrAudienceMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrUnsupportedOperation):
		return http.StatusMethodNotAllowed
	case errors.Is(err, interfaces.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrStaleGeneration):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrLockedOut):
		return http.StatusLocked
	case errors.Is(err, interfaces.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code string) string {
	return strings.ReplaceAll(code, "_", " ")
}
