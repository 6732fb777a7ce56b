package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/services"
	"github.com/useraccounts/apiserver/internal/store"
)

// UserHandler provides HTTP handlers for accounts.
type UserHandler struct {
	users *services.UserService
	log   logging.Logger
}

// NewUserHandler constructs a handler with the provided service.
func NewUserHandler(users *services.UserService, log logging.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

// UserRouter registers account routes on the given router. authMiddleware
// guards the self routes; limit throttles every route that checks a password.
func UserRouter(r chi.Router, handler *UserHandler, authMiddleware, limit func(http.Handler) http.Handler) {
	r.MethodNotAllowed(MethodNotAllowed)
	r.NotFound(NotFound)

	r.With(limit).Post("/", handler.Create)
	r.Get("/verify", handler.Verify)
	r.Group(func(r chi.Router) {
		r.Use(limit, authMiddleware)
		r.Get("/self", handler.Self)
		r.Put("/self", handler.UpdateSelf)
	})
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCreateUser(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.Create(r.Context(), services.CreateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Self returns the authenticated account.
func (h *UserHandler) Self(w http.ResponseWriter, r *http.Request) {
	if r.URL.RawQuery != "" {
		writeError(w, http.StatusBadRequest, errUnexpectedQuery.Error())
		return
	}
	if hasBody(r) {
		writeError(w, http.StatusBadRequest, errUnexpectedBody)
		return
	}

	user, ok := UserFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateSelf changes the name or password of the authenticated account.
func (h *UserHandler) UpdateSelf(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}

	req, err := decodeUpdateUser(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = h.users.Update(r.Context(), user, services.UpdateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to update user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Verify consumes the token sent to the address in the user query parameter.
func (h *UserHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := allowOnlyQuery(r, queryParamUser, queryParamToken); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if hasBody(r) {
		writeError(w, http.StatusBadRequest, errUnexpectedBody)
		return
	}

	query := r.URL.Query()
	email := strings.TrimSpace(query.Get(queryParamUser))
	token := strings.TrimSpace(query.Get(queryParamToken))
	if email == "" || token == "" {
		writeError(w, http.StatusBadRequest, "user and token query parameters are required")
		return
	}

	user, err := h.users.Verify(r.Context(), email, token)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to verify user")
		return
	}

	h.log.Info(r.Context(), "account verified", "user_id", user.ID)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "account verified"})
}

func (h *UserHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrEmailTaken),
		errors.Is(err, services.ErrNothingToUpdate),
		errors.Is(err, services.ErrTokenInvalid),
		errors.Is(err, services.ErrTokenExpired),
		errors.Is(err, services.ErrAlreadyVerified):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case store.IsUnavailable(err):
		h.log.Error(r.Context(), fallback, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		h.log.Error(r.Context(), fallback, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
