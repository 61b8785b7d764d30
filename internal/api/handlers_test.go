package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"gitlab.com/yelinaung/subscription-engine/internal/billing"
	"gitlab.com/yelinaung/subscription-engine/internal/models"
	"gitlab.com/yelinaung/subscription-engine/internal/repository"
	"gitlab.com/yelinaung/subscription-engine/internal/scheduler"
)

type testServer struct {
	store   *repository.MemoryStore
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, origins ...string) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	engine := billing.New(store, store, billing.Settings{Location: time.UTC})
	sched, err := scheduler.New(engine.Runner, store, scheduler.Options{Spec: "@hourly"})
	require.NoError(t, err)

	h := NewHandler(Deps{
		Creator:       engine.Creator,
		Subscriptions: store,
		Editor:        store,
		Trigger:       sched,
		Runs:          store,
		Location:      time.UTC,
	})
	h.now = func() time.Time { return time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC) }

	return &testServer{store: store, handler: h, router: NewRouter(h, origins)}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func netflix() map[string]any {
	return map[string]any{
		"user_id":    1,
		"name":       "Netflix",
		"amount":     "15.00",
		"currency":   "usd",
		"cycle":      "monthly",
		"start_date": "2024-01-15",
		"note":       "family plan",
	}
}

func TestCreateSubscription(t *testing.T) {
	t.Parallel()

	t.Run("creates and bills the due first occurrence", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/api/subscriptions", netflix())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		resp := decode[CreateSubscriptionResponse](t, rec)
		require.Equal(t, "Netflix", resp.Subscription.Name)
		require.Equal(t, "15.00", resp.Subscription.Amount)
		require.Equal(t, "USD", resp.Subscription.Currency)
		require.Equal(t, "monthly", resp.Subscription.Cycle)
		require.Equal(t, "2024-02-15", resp.Subscription.NextBilling)
		require.True(t, resp.Subscription.IsActive)
		require.True(t, resp.Subscription.AutoExpense)

		require.NotNil(t, resp.FirstExpense)
		require.Equal(t, "2024-01-15", *resp.FirstExpense.GeneratedForPeriod)
		require.Equal(t, "Netflix", resp.FirstExpense.Merchant)
		require.Len(t, s.store.Expenses(), 1)
	})

	t.Run("future start creates no expense", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		body := netflix()
		body["start_date"] = "2024-03-01"

		rec := s.do(t, http.MethodPost, "/api/subscriptions", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[CreateSubscriptionResponse](t, rec)
		require.Nil(t, resp.FirstExpense)
		require.Equal(t, "2024-03-01", resp.Subscription.NextBilling)
	})

	t.Run("explicit next billing and flags", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		body := netflix()
		body["next_billing"] = "2024-02-01"
		body["end_date"] = "2024-12-31"
		body["auto_expense"] = false

		rec := s.do(t, http.MethodPost, "/api/subscriptions", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[CreateSubscriptionResponse](t, rec)
		require.False(t, resp.Subscription.AutoExpense)
		require.Equal(t, "2024-02-01", resp.Subscription.NextBilling)
		require.Equal(t, "2024-12-31", *resp.Subscription.EndDate)
		require.Nil(t, resp.FirstExpense)
	})

	t.Run("defaults currency", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		body := netflix()
		delete(body, "currency")

		rec := s.do(t, http.MethodPost, "/api/subscriptions", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Equal(t, models.DefaultCurrency, decode[CreateSubscriptionResponse](t, rec).Subscription.Currency)
	})
}

func TestCreateSubscription_CategorySentinels(t *testing.T) {
	t.Parallel()

	for _, value := range []any{"", "none", "None", "uncategorized", "null", nil} {
		t.Run("sentinel", func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t)
			body := netflix()
			body["category_id"] = value

			rec := s.do(t, http.MethodPost, "/api/subscriptions", body)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			require.Nil(t, decode[CreateSubscriptionResponse](t, rec).Subscription.CategoryID)
		})
	}

	t.Run("numeric category is kept", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		cat := s.store.AddCategory("Streaming", nil)
		body := netflix()
		body["category_id"] = cat.ID

		rec := s.do(t, http.MethodPost, "/api/subscriptions", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[CreateSubscriptionResponse](t, rec)
		require.Equal(t, cat.ID, *resp.Subscription.CategoryID)
		require.Equal(t, cat.ID, *resp.FirstExpense.CategoryID)
	})

	t.Run("numeric string category is kept", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		body := netflix()
		body["category_id"] = "7"

		rec := s.do(t, http.MethodPost, "/api/subscriptions", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[CreateSubscriptionResponse](t, rec)
		require.Equal(t, 7, *resp.Subscription.CategoryID)
		require.Nil(t, resp.FirstExpense.CategoryID)
	})

	t.Run("garbage category is rejected", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		body := netflix()
		body["category_id"] = "streaming"

		rec := s.do(t, http.MethodPost, "/api/subscriptions", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateSubscription_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(map[string]any)
		problem string
	}{
		{"zero amount", func(b map[string]any) { b["amount"] = "0" }, "amount must be positive"},
		{"negative amount", func(b map[string]any) { b["amount"] = -5 }, "amount must be positive"},
		{"sub-cent amount", func(b map[string]any) { b["amount"] = "1.234" }, "2 decimal places"},
		{"unknown cycle", func(b map[string]any) { b["cycle"] = "fortnightly" }, "unrecognized billing cycle"},
		{"bad start date", func(b map[string]any) { b["start_date"] = "15/01/2024" }, "start_date"},
		{"next before start", func(b map[string]any) { b["next_billing"] = "2024-01-01" }, "next billing date must not be before start date"},
		{"bad currency", func(b map[string]any) { b["currency"] = "dollars" }, "currency"},
		{"missing user", func(b map[string]any) { delete(b, "user_id") }, "user_id"},
		{"missing name", func(b map[string]any) { b["name"] = "  " }, "name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t)
			body := netflix()
			tt.modify(body)

			rec := s.do(t, http.MethodPost, "/api/subscriptions", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			resp := decode[ErrorResponse](t, rec)
			require.NotEmpty(t, resp.Problems)
			found := false
			for _, p := range resp.Problems {
				if bytes.Contains([]byte(p), []byte(tt.problem)) {
					found = true
				}
			}
			require.True(t, found, "problems %v do not mention %q", resp.Problems, tt.problem)
			require.Empty(t, s.store.Expenses())
		})
	}
}

func TestCreateSubscription_BadBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/subscriptions", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/subscriptions", `{"name":"x","surprise":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSubscription(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	created := decode[CreateSubscriptionResponse](t, s.do(t, http.MethodPost, "/api/subscriptions", netflix()))
	id := created.Subscription.ID.String()

	rec := s.do(t, http.MethodGet, "/api/subscriptions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[SubscriptionDTO](t, rec)
	require.Equal(t, created.Subscription.ID, dto.ID)
	require.Equal(t, "15.00", dto.TotalBilled)
	require.Empty(t, created.Subscription.TotalBilled)

	rec = s.do(t, http.MethodGet, "/api/subscriptions/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/subscriptions/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSubscription(t *testing.T) {
	t.Parallel()

	t.Run("pauses and disables generation", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		created := decode[CreateSubscriptionResponse](t, s.do(t, http.MethodPost, "/api/subscriptions", netflix()))
		path := "/api/subscriptions/" + created.Subscription.ID.String()

		rec := s.do(t, http.MethodPatch, path, map[string]any{"is_active": false})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		dto := decode[SubscriptionDTO](t, rec)
		require.False(t, dto.IsActive)
		require.True(t, dto.AutoExpense)
		require.Equal(t, "2024-02-15", dto.NextBilling)

		rec = s.do(t, http.MethodPatch, path, map[string]any{"auto_expense": false})
		require.Equal(t, http.StatusOK, rec.Code)
		require.False(t, decode[SubscriptionDTO](t, rec).AutoExpense)
	})

	t.Run("paused subscription is reported and resumes where it stopped", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		created := decode[CreateSubscriptionResponse](t, s.do(t, http.MethodPost, "/api/subscriptions", netflix()))
		path := "/api/subscriptions/" + created.Subscription.ID.String()

		require.Equal(t, http.StatusOK, s.do(t, http.MethodPatch, path, map[string]any{"is_active": false}).Code)

		rec := s.do(t, http.MethodPost, "/api/billing/runs", TriggerRunRequest{AsOf: "2024-04-01"})
		require.Equal(t, http.StatusOK, rec.Code)
		report := decode[models.RunReport](t, rec)
		require.Zero(t, report.ExpensesCreated)
		require.Len(t, report.SkippedLifecycle, 1)
		require.Equal(t, created.Subscription.ID, report.SkippedLifecycle[0].SubscriptionID)

		require.Equal(t, http.StatusOK, s.do(t, http.MethodPatch, path, map[string]any{"is_active": true}).Code)

		rec = s.do(t, http.MethodPost, "/api/billing/runs", TriggerRunRequest{AsOf: "2024-04-01"})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 2, decode[models.RunReport](t, rec).ExpensesCreated)
	})

	t.Run("rejects empty and unknown updates", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)
		created := decode[CreateSubscriptionResponse](t, s.do(t, http.MethodPost, "/api/subscriptions", netflix()))
		path := "/api/subscriptions/" + created.Subscription.ID.String()

		require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, path, map[string]any{}).Code)
		require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, path, `{"name":"Hulu"}`).Code)
		require.Equal(t, http.StatusBadRequest,
			s.do(t, http.MethodPatch, "/api/subscriptions/not-a-uuid", map[string]any{"is_active": true}).Code)
		require.Equal(t, http.StatusNotFound,
			s.do(t, http.MethodPatch, "/api/subscriptions/"+uuid.NewString(), map[string]any{"is_active": true}).Code)
	})
}

func TestListUserSubscriptions(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	spotify := netflix()
	spotify["name"] = "Spotify"
	for _, body := range []map[string]any{spotify, netflix()} {
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/subscriptions", body).Code)
	}
	other := netflix()
	other["user_id"] = 2
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/subscriptions", other).Code)

	rec := s.do(t, http.MethodGet, "/api/users/1/subscriptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	subs := decode[[]SubscriptionDTO](t, rec)
	require.Len(t, subs, 2)
	require.Equal(t, "Netflix", subs[0].Name)
	require.Equal(t, "Spotify", subs[1].Name)

	rec = s.do(t, http.MethodGet, "/api/users/99/subscriptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/users/abc/subscriptions", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSubscriptionExpenses(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	created := decode[CreateSubscriptionResponse](t, s.do(t, http.MethodPost, "/api/subscriptions", netflix()))
	id := created.Subscription.ID.String()

	rec := s.do(t, http.MethodPost, "/api/billing/runs", TriggerRunRequest{AsOf: "2024-04-01"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/subscriptions/"+id+"/expenses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	expenses := decode[[]ExpenseDTO](t, rec)
	require.Len(t, expenses, 3)
	require.Equal(t, "2024-03-15", *expenses[2].GeneratedForPeriod)

	rec = s.do(t, http.MethodGet, "/api/subscriptions/"+uuid.NewString()+"/expenses", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRun(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := netflix()
	body["start_date"] = "2024-02-15"
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/subscriptions", body).Code)

	t.Run("uses as_of", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/billing/runs", TriggerRunRequest{AsOf: "2024-04-01"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		report := decode[models.RunReport](t, rec)
		require.NotZero(t, report.ID)
		require.Equal(t, 2, report.ExpensesCreated)
		require.Equal(t, "2024-04-01", report.AsOf.Format(time.DateOnly))
	})

	t.Run("defaults to now", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/billing/runs", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		report := decode[models.RunReport](t, rec)
		require.Equal(t, "2024-01-20", report.AsOf.Format(time.DateOnly))
	})

	t.Run("rejects bad as_of", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/billing/runs", TriggerRunRequest{AsOf: "April 1st"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

type failingTrigger struct{}

func (failingTrigger) RunOnce(context.Context, time.Time) (*models.RunReport, error) {
	return nil, errors.New("database down")
}

func TestTriggerRun_Failure(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.handler.trigger = failingTrigger{}

	rec := s.do(t, http.MethodPost, "/api/billing/runs", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, decode[ErrorResponse](t, rec).Details, "database down")
}

func TestListRuns(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/billing/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[[]models.RunReport](t, rec))

	for _, asOf := range []string{"2024-02-01", "2024-03-01", "2024-04-01"} {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/billing/runs", TriggerRunRequest{AsOf: asOf}).Code)
	}

	rec = s.do(t, http.MethodGet, "/api/billing/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]models.RunReport](t, rec)
	require.Len(t, runs, 2)
	require.Equal(t, "2024-04-01", runs[0].AsOf.Format(time.DateOnly))

	rec = s.do(t, http.MethodGet, "/api/billing/runs?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	s.handler.health = func(context.Context) error { return errors.New("pool closed") }
	rec = s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "https://app.example")

	req := httptest.NewRequest(http.MethodOptions, "/api/billing/runs", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
