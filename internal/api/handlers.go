// Package api exposes subscription creation and billing runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/subscription-engine/internal/billing"
	"gitlab.com/yelinaung/subscription-engine/internal/logger"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
	"gitlab.com/yelinaung/subscription-engine/internal/repository"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
	maxBodyBytes     = 1 << 20
)

// SubscriptionCreator runs the creation path for a new subscription.
type SubscriptionCreator interface {
	Create(ctx context.Context, sub *models.Subscription, now time.Time) (*billing.CreateResult, error)
}

// SubscriptionReader reads subscriptions and their generated expenses.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID int64) ([]models.Subscription, error)
	ListExpensesBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Expense, error)
	ExpenseTotal(ctx context.Context, subscriptionID uuid.UUID) (decimal.Decimal, error)
}

// SubscriptionEditor pauses, resumes and toggles expense generation.
type SubscriptionEditor interface {
	SetSubscriptionActive(ctx context.Context, id uuid.UUID, active bool) error
	SetSubscriptionAutoExpense(ctx context.Context, id uuid.UUID, auto bool) error
}

// RunTrigger performs and records one catch-up run.
type RunTrigger interface {
	RunOnce(ctx context.Context, asOf time.Time) (*models.RunReport, error)
}

// RunLister lists recorded run reports, newest first.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]models.RunReport, error)
}

// Handler serves the API.
type Handler struct {
	creator       SubscriptionCreator
	subscriptions SubscriptionReader
	editor        SubscriptionEditor
	trigger       RunTrigger
	runs          RunLister
	loc           *time.Location
	now           func() time.Time
	health        func(ctx context.Context) error
}

// Deps holds the collaborators a Handler needs.
type Deps struct {
	Creator       SubscriptionCreator
	Subscriptions SubscriptionReader
	Editor        SubscriptionEditor
	Trigger       RunTrigger
	Runs          RunLister
	// Location is the billing calendar used to read as_of dates.
	Location *time.Location
	// Health reports storage health for /healthz. Optional.
	Health func(ctx context.Context) error
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		creator:       deps.Creator,
		subscriptions: deps.Subscriptions,
		editor:        deps.Editor,
		trigger:       deps.Trigger,
		runs:          deps.Runs,
		loc:           loc,
		now:           time.Now,
		health:        deps.Health,
	}
}

// CreateSubscription handles POST /api/subscriptions.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sub, problems := req.toSubscription()
	if len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid subscription", Problems: problems})
		return
	}

	result, err := h.creator.Create(r.Context(), sub, h.now())
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid subscription", Problems: verr.Problems})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create subscription", err)
		return
	}

	resp := CreateSubscriptionResponse{Subscription: toSubscriptionDTO(result.Subscription)}
	if result.FirstExpense != nil {
		dto := toExpenseDTO(result.FirstExpense)
		resp.FirstExpense = &dto
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetSubscription handles GET /api/subscriptions/{id}.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.subscriptions.GetSubscription(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Subscription not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get subscription", err)
		return
	}

	total, err := h.subscriptions.ExpenseTotal(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to total expenses", err)
		return
	}

	dto := toSubscriptionDTO(sub)
	dto.TotalBilled = total.StringFixed(2)
	writeJSON(w, http.StatusOK, dto)
}

// UpdateSubscription handles PATCH /api/subscriptions/{id}.
// Resuming a paused subscription bills the skipped periods on later runs.
func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	var req UpdateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.IsActive == nil && req.AutoExpense == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update (set is_active or auto_expense)", nil)
		return
	}

	if req.IsActive != nil {
		if err := h.editor.SetSubscriptionActive(r.Context(), id, *req.IsActive); err != nil {
			h.writeUpdateError(w, err)
			return
		}
	}
	if req.AutoExpense != nil {
		if err := h.editor.SetSubscriptionAutoExpense(r.Context(), id, *req.AutoExpense); err != nil {
			h.writeUpdateError(w, err)
			return
		}
	}

	sub, err := h.subscriptions.GetSubscription(r.Context(), id)
	if err != nil {
		h.writeUpdateError(w, err)
		return
	}

	logger.Log.Info().
		Str("subscription_id", id.String()).
		Str("name", logger.SanitizeText(sub.Name)).
		Bool("is_active", sub.IsActive).
		Bool("auto_expense", sub.AutoExpense).
		Msg("Subscription updated")
	writeJSON(w, http.StatusOK, toSubscriptionDTO(sub))
}

func (h *Handler) writeUpdateError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Subscription not found", nil)
		return
	}
	writeError(w, http.StatusInternalServerError, "Failed to update subscription", err)
}

// ListUserSubscriptions handles GET /api/users/{userID}/subscriptions.
func (h *Handler) ListUserSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return
	}

	subs, err := h.subscriptions.ListSubscriptionsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list subscriptions", err)
		return
	}

	dtos := make([]SubscriptionDTO, 0, len(subs))
	for i := range subs {
		dtos = append(dtos, toSubscriptionDTO(&subs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListSubscriptionExpenses handles GET /api/subscriptions/{id}/expenses.
func (h *Handler) ListSubscriptionExpenses(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	if _, err := h.subscriptions.GetSubscription(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Subscription not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get subscription", err)
		return
	}

	expenses, err := h.subscriptions.ListExpensesBySubscription(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list expenses", err)
		return
	}

	dtos := make([]ExpenseDTO, 0, len(expenses))
	for i := range expenses {
		dtos = append(dtos, toExpenseDTO(&expenses[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerRun handles POST /api/billing/runs.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	asOf := h.now()
	if req.AsOf != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(req.AsOf), h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	report, err := h.trigger.RunOnce(r.Context(), asOf)
	if report == nil {
		writeError(w, http.StatusInternalServerError, "Catch-up run failed", err)
		return
	}
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Catch-up run finished but was not recorded")
	}
	writeJSON(w, http.StatusOK, report)
}

// ListRuns handles GET /api/billing/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []models.RunReport{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func subscriptionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subscription id", err)
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Log.Error().Err(err).Int("status", status).Msg(message)
	}
	writeJSON(w, status, resp)
}
