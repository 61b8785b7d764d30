package api

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// CreateSubscriptionRequest is the body of POST /api/subscriptions.
// Dates use YYYY-MM-DD. NextBilling defaults to StartDate.
type CreateSubscriptionRequest struct {
	UserID      int64           `json:"user_id"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Cycle       string          `json:"cycle"`
	StartDate   string          `json:"start_date"`
	NextBilling string          `json:"next_billing,omitempty"`
	EndDate     string          `json:"end_date,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
	AutoExpense *bool           `json:"auto_expense,omitempty"`
	CategoryID  json.RawMessage `json:"category_id,omitempty"`
	Note        string          `json:"note,omitempty"`
}

// uncategorized are category values that mean "no category".
var uncategorized = map[string]bool{
	"":              true,
	"none":          true,
	"uncategorized": true,
	"null":          true,
}

// toSubscription converts the request, collecting every problem it can
// detect before model validation.
func (req *CreateSubscriptionRequest) toSubscription() (*models.Subscription, []string) {
	var problems []string

	sub := &models.Subscription{
		UserID:      req.UserID,
		Name:        strings.TrimSpace(req.Name),
		Amount:      req.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		IsActive:    true,
		AutoExpense: true,
		Note:        strings.TrimSpace(req.Note),
	}
	if sub.Currency == "" {
		sub.Currency = models.DefaultCurrency
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}
	if req.AutoExpense != nil {
		sub.AutoExpense = *req.AutoExpense
	}
	if req.UserID <= 0 {
		problems = append(problems, "user_id is required")
	}

	cycle, err := models.ParseBillingCycle(req.Cycle)
	if err != nil {
		problems = append(problems, err.Error())
	}
	sub.Cycle = cycle

	start, ok := parseDate(req.StartDate)
	if !ok {
		problems = append(problems, "start_date must be a date (YYYY-MM-DD)")
	}
	sub.StartDate = start
	sub.NextBilling = start

	if req.NextBilling != "" {
		next, ok := parseDate(req.NextBilling)
		if !ok {
			problems = append(problems, "next_billing must be a date (YYYY-MM-DD)")
		}
		sub.NextBilling = next
	}
	if req.EndDate != "" {
		end, ok := parseDate(req.EndDate)
		if !ok {
			problems = append(problems, "end_date must be a date (YYYY-MM-DD)")
		} else {
			sub.EndDate = &end
		}
	}

	categoryID, err := parseCategoryID(req.CategoryID)
	if err != nil {
		problems = append(problems, err.Error())
	}
	sub.CategoryID = categoryID

	return sub, problems
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var errInvalidCategory = errors.New(`category_id must be a positive integer or "none"`)

// parseCategoryID accepts a number, a numeric string, null or one of the
// "no category" sentinels.
func parseCategoryID(raw json.RawMessage) (*int, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if uncategorized[s] {
		return nil, nil
	}

	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return nil, errInvalidCategory
	}
	return &id, nil
}

// SubscriptionDTO is a subscription as returned by the API.
type SubscriptionDTO struct {
	ID          uuid.UUID `json:"id"`
	UserID      int64     `json:"user_id"`
	Name        string    `json:"name"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Cycle       string    `json:"cycle"`
	StartDate   string    `json:"start_date"`
	NextBilling string    `json:"next_billing"`
	EndDate     *string   `json:"end_date"`
	IsActive    bool      `json:"is_active"`
	AutoExpense bool      `json:"auto_expense"`
	CategoryID  *int      `json:"category_id"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	// TotalBilled is only filled in by GET /api/subscriptions/{id}.
	TotalBilled string `json:"total_billed,omitempty"`
}

func toSubscriptionDTO(sub *models.Subscription) SubscriptionDTO {
	dto := SubscriptionDTO{
		ID:          sub.ID,
		UserID:      sub.UserID,
		Name:        sub.Name,
		Amount:      sub.Amount.StringFixed(2),
		Currency:    sub.Currency,
		Cycle:       string(sub.Cycle),
		StartDate:   sub.StartDate.Format(time.DateOnly),
		NextBilling: sub.NextBilling.Format(time.DateOnly),
		IsActive:    sub.IsActive,
		AutoExpense: sub.AutoExpense,
		CategoryID:  sub.CategoryID,
		Note:        sub.Note,
		CreatedAt:   sub.CreatedAt,
	}
	if sub.EndDate != nil {
		end := sub.EndDate.Format(time.DateOnly)
		dto.EndDate = &end
	}
	return dto
}

// ExpenseDTO is a generated expense as returned by the API.
type ExpenseDTO struct {
	ID                 int        `json:"id"`
	Amount             string     `json:"amount"`
	Currency           string     `json:"currency"`
	Description        string     `json:"description,omitempty"`
	Merchant           string     `json:"merchant"`
	CategoryID         *int       `json:"category_id"`
	OccurredAt         string     `json:"occurred_at"`
	SubscriptionID     *uuid.UUID `json:"subscription_id,omitempty"`
	GeneratedForPeriod *string    `json:"generated_for_period,omitempty"`
}

func toExpenseDTO(exp *models.Expense) ExpenseDTO {
	dto := ExpenseDTO{
		ID:             exp.ID,
		Amount:         exp.Amount.StringFixed(2),
		Currency:       exp.Currency,
		Description:    exp.Description,
		Merchant:       exp.Merchant,
		CategoryID:     exp.CategoryID,
		OccurredAt:     exp.OccurredAt.Format(time.DateOnly),
		SubscriptionID: exp.SubscriptionID,
	}
	if exp.GeneratedForPeriod != nil {
		period := exp.GeneratedForPeriod.Format(time.DateOnly)
		dto.GeneratedForPeriod = &period
	}
	return dto
}

// CreateSubscriptionResponse is returned by POST /api/subscriptions.
type CreateSubscriptionResponse struct {
	Subscription SubscriptionDTO `json:"subscription"`
	FirstExpense *ExpenseDTO     `json:"first_expense"`
}

// UpdateSubscriptionRequest is the body of PATCH /api/subscriptions/{id}.
// Omitted fields are left unchanged.
type UpdateSubscriptionRequest struct {
	IsActive    *bool `json:"is_active,omitempty"`
	AutoExpense *bool `json:"auto_expense,omitempty"`
}

// TriggerRunRequest is the optional body of POST /api/billing/runs.
type TriggerRunRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Details  string   `json:"details,omitempty"`
	Problems []string `json:"problems,omitempty"`
}
