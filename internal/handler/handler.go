package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/auth"
	"github.com/honeynil/paisa-tracker/internal/models"
	service "github.com/honeynil/paisa-tracker/internal/services"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service    service.FinanceService
	sessionTTL time.Duration
}

func NewHandler(s service.FinanceService, sessionTTL time.Duration) *Handler {
	return &Handler{service: s, sessionTTL: sessionTTL}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// fail maps service errors onto the status codes the client relies on: 400
// is never retried, so only caller mistakes may produce it.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInvalidStatusTransition),
		errors.Is(err, pkgerrors.ErrInvalidTransactionType),
		errors.Is(err, pkgerrors.ErrUsernameExists):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, pkgerrors.ErrReminderNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/api/transactions", h.ListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions", h.CreateTransaction).Methods(http.MethodPost)
	r.HandleFunc("/api/transactions/{id}", h.DeleteTransaction).Methods(http.MethodDelete)
	r.HandleFunc("/api/reminders", h.ListReminders).Methods(http.MethodGet)
	r.HandleFunc("/api/reminders", h.CreateReminder).Methods(http.MethodPost)
	r.HandleFunc("/api/reminders/{id}", h.UpdateReminderStatus).Methods(http.MethodPatch)
	r.HandleFunc("/api/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/logout", h.Logout).Methods(http.MethodPost)
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router, requireSession mux.MiddlewareFunc) {
	r.Handle("/api/user", requireSession(http.HandlerFunc(h.CurrentUser))).Methods(http.MethodGet)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.Invalid("Invalid ID")
	}
	return id, nil
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListTransactions(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("Failed to get transactions"))
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var userID *int64
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		userID = &id
	}
	tx, err := h.service.CreateTransaction(r.Context(), req, userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("Invalid ID"))
		return
	}
	if err := h.service.DeleteTransaction(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListReminders(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("Failed to get reminders"))
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

type reminderBody struct {
	Amount     decimal.Decimal `json:"amount"`
	FromPerson string          `json:"fromPerson"`
	DueDate    string          `json:"dueDate"`
	Notes      *string         `json:"notes"`
}

func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var body reminderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	due, ok := parseDate(body.DueDate)
	if !ok {
		h.writeError(w, http.StatusBadRequest, errors.New("Invalid or missing dueDate field"))
		return
	}

	rem, err := h.service.CreateReminder(r.Context(), models.CreateReminderRequest{
		Amount:     body.Amount,
		FromPerson: body.FromPerson,
		DueDate:    due,
		Notes:      body.Notes,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rem)
}

type statusBody struct {
	Status          models.ReminderStatus `json:"status"`
	RescheduledDate *string               `json:"rescheduledDate"`
}

func (h *Handler) UpdateReminderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("Invalid ID"))
		return
	}
	var body statusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	req := models.UpdateReminderStatusRequest{Status: body.Status}
	if body.RescheduledDate != nil && *body.RescheduledDate != "" {
		d, ok := parseDate(*body.RescheduledDate)
		if !ok {
			h.writeError(w, http.StatusBadRequest, errors.New("Invalid rescheduledDate"))
			return
		}
		req.RescheduledDate = &d
	}
	if err := h.service.UpdateReminderStatus(r.Context(), id, req); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := h.service.Register(r.Context(), creds); err != nil {
		h.fail(w, err)
		return
	}
	token, user, err := h.service.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.setSession(w, token)
	h.writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, user, err := h.service.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.setSession(w, token)
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		if err := h.service.Logout(r.Context(), userID); err != nil {
			h.fail(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: auth.SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, pkgerrors.ErrUnauthenticated)
		return
	}
	user, err := h.service.CurrentUser(r.Context(), userID)
	if errors.Is(err, pkgerrors.ErrUserNotFound) {
		h.writeError(w, http.StatusUnauthorized, pkgerrors.ErrUnauthenticated)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}
