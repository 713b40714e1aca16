package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"taskboard-serverless/internal/observability"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(strings.ToLower(body.Username))
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	if !usernameRegex.MatchString(body.Username) {
		writeFailure(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if !emailRegex.MatchString(body.Email) || len(body.Email) > 254 {
		writeFailure(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if len(body.Password) < 8 || len(body.Password) > 200 {
		writeFailure(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	result, err := h.service.Register(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeFailure(w, http.StatusBadRequest, "email is already registered")
			return
		}
		sentry.CaptureException(err)
		writeFailure(w, http.StatusInternalServerError, "failed to register")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}

	result, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeFailure(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		var lockedErr ErrLoginLocked
		if errors.As(err, &lockedErr) {
			retryAfter := int(time.Until(lockedErr.Until).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeFailure(w, http.StatusTooManyRequests, "login temporarily locked")
			return
		}

		sentry.CaptureException(err)
		writeFailure(w, http.StatusInternalServerError, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Refresh runs the rotation state machine. Every validation rejection maps to
// the same external message so callers cannot probe which check failed; the
// concrete reason only goes to the log.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}

	if strings.TrimSpace(body.Token) == "" || strings.TrimSpace(body.RefreshToken) == "" {
		writeFailure(w, http.StatusBadRequest, "invalid payload")
		return
	}

	result, err := h.service.Rotate(r.Context(), body.Token, body.RefreshToken)
	if err != nil {
		if IsRotationRejection(err) {
			h.logger.Info("token_rotation_rejected", map[string]any{
				"reason": err.Error(),
			})
			writeFailure(w, http.StatusUnauthorized, "invalid tokens")
			return
		}

		h.logger.Error("token_rotation_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		writeFailure(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, AuthResult{Success: false, Errors: []string{message}})
}
