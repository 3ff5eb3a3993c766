package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/babylog/internal/auth"
	"github.com/dukerupert/babylog/internal/database"
	"github.com/dukerupert/babylog/internal/metrics"
	"github.com/dukerupert/babylog/internal/middleware"
	"github.com/dukerupert/babylog/internal/store"
	"github.com/dukerupert/babylog/internal/summary"
)

type testServer struct {
	handler http.Handler
	tokens  *auth.Tokens
	users   *store.UserStore
}

func setupServer(t *testing.T, limits middleware.Limits) *testServer {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(db, Config{
		Tokens:       tokens,
		Metrics:      metrics.New(),
		SummaryCache: summary.NewMemoryCache(time.Minute, 0),
		CORSOrigins:  []string{"https://app.example"},
		Limits:       limits,
	}, logger)
	return &testServer{handler: srv.Router(), tokens: tokens, users: store.NewUserStore(db)}
}

// login creates a user and returns a bearer token for it.
func (ts *testServer) login(t *testing.T, email string) string {
	t.Helper()
	u, err := ts.users.Create(context.Background(), email, "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := ts.tokens.Issue(u.ID, u.Email)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type errorResponse struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

type idResponse struct {
	ID string `json:"id"`
}

// setupFamily creates a family with one baby owned by a new user.
func (ts *testServer) setupFamily(t *testing.T) (token, familyID, babyID string) {
	t.Helper()
	token = ts.login(t, "owner@example.com")
	rec := ts.do(t, "POST", "/api/families", token, map[string]string{"name": "Smith"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create family: status = %d, body = %s", rec.Code, rec.Body)
	}
	familyID = decode[idResponse](t, rec).ID

	rec = ts.do(t, "POST", "/api/families/"+familyID+"/babies", token, map[string]string{
		"name":     "Ada",
		"timezone": "UTC",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create baby: status = %d, body = %s", rec.Code, rec.Body)
	}
	babyID = decode[idResponse](t, rec).ID
	return token, familyID, babyID
}

func TestHealth(t *testing.T) {
	ts := setupServer(t, middleware.Limits{})
	rec := ts.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestMalformedBodyNamesOnlyJSONFields(t *testing.T) {
	ts := setupServer(t, middleware.Limits{})
	token, _, babyID := ts.setupFamily(t)
	eventsPath := "/api/babies/" + babyID + "/events"

	cases := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{
			name: "wrong type",
			body: map[string]any{
				"type":        "feeding",
				"occurred_at": "2024-01-01T10:00:00Z",
				"detail":      map[string]any{"method": "bottle", "amount_ml": "lots"},
			},
			field: "detail.amount_ml",
		},
		{
			name: "unknown field",
			body: map[string]any{
				"type":       "feeding",
				"occurredAt": "2024-01-01T10:00:00Z",
				"detail":     map[string]any{"method": "bottle"},
			},
			field: "occurredAt",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, "POST", eventsPath, token, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			raw := rec.Body.String()
			for _, leak := range []string{"json:", "Go struct", "DetailInput", "CreateInput", "of type int"} {
				if strings.Contains(raw, leak) {
					t.Errorf("body %s contains %q", raw, leak)
				}
			}
			resp := decode[errorResponse](t, rec)
			if _, ok := resp.Error.Fields[tc.field]; !ok {
				t.Errorf("fields = %v, want %q", resp.Error.Fields, tc.field)
			}
		})
	}

	req := httptest.NewRequest("POST", eventsPath, strings.NewReader(`{"type":`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if got := decode[errorResponse](t, rec).Error.Fields["body"]; got != "must be a valid JSON object" {
		t.Errorf("truncated body problem = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupServer(t, middleware.Limits{})
	ts.do(t, "GET", "/health", "", nil)
	rec := ts.do(t, "GET", "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `babylog_http_requests_total{method="GET",route="GET /health",status="200"}`) {
		t.Errorf("metrics missing health request counter:\n%s", rec.Body)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := setupServer(t, middleware.Limits{})
	rec := ts.do(t, "GET", "/api/families", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := decode[errorResponse](t, rec).Error.Code; got != "unauthenticated" {
		t.Errorf("code = %q, want unauthenticated", got)
	}
}

func TestEventLifecycle(t *testing.T) {
	ts := setupServer(t, middleware.Limits{})
	token, _, babyID := ts.setupFamily(t)
	eventsPath := "/api/babies/" + babyID + "/events"

	body := map[string]any{
		"type":        "feeding",
		"occurred_at": "2024-01-01T10:00:00Z",
		"detail":      map[string]any{"method": "bottle", "amount_ml": 120},
	}
	first := ts.do(t, "POST", eventsPath, token, body, "Idempotency-Key", "abc-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", first.Code, first.Body)
	}
	created := decode[idResponse](t, first)

	// A retry returns the original event.
	retry := ts.do(t, "POST", eventsPath, token, body, "Idempotency-Key", "abc-1")
	if retry.Code != http.StatusCreated {
		t.Fatalf("retry: status = %d, body = %s", retry.Code, retry.Body)
	}
	if got := decode[idResponse](t, retry).ID; got != created.ID {
		t.Errorf("retry id = %s, want %s", got, created.ID)
	}

	// The same key with a different body conflicts.
	body["detail"] = map[string]any{"method": "bottle", "amount_ml": 90}
	conflict := ts.do(t, "POST", eventsPath, token, body, "Idempotency-Key", "abc-1")
	if conflict.Code != http.StatusConflict {
		t.Errorf("conflict: status = %d, want %d", conflict.Code, http.StatusConflict)
	}

	list := ts.do(t, "GET", eventsPath+"?limit=10", token, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list: status = %d, body = %s", list.Code, list.Body)
	}
	page := decode[struct {
		Results    []idResponse `json:"results"`
		Pagination struct {
			Total   int  `json:"total"`
			Limit   int  `json:"limit"`
			HasMore bool `json:"has_more"`
		} `json:"pagination"`
	}](t, list)
	if len(page.Results) != 1 || page.Pagination.Total != 1 || page.Pagination.Limit != 10 || page.Pagination.HasMore {
		t.Errorf("page = %+v, want the single event", page)
	}

	patch := ts.do(t, "PATCH", "/api/events/"+created.ID, token, map[string]any{"notes": "spit up"})
	if patch.Code != http.StatusOK {
		t.Fatalf("patch: status = %d, body = %s", patch.Code, patch.Body)
	}
	if got := decode[struct {
		Notes string `json:"notes"`
	}](t, patch).Notes; got != "spit up" {
		t.Errorf("notes = %q, want %q", got, "spit up")
	}

	daily := ts.do(t, "GET", "/api/babies/"+babyID+"/summary/daily?date=2024-01-01", token, nil)
	if daily.Code != http.StatusOK {
		t.Fatalf("daily: status = %d, body = %s", daily.Code, daily.Body)
	}
	sum := decode[struct {
		Feeding struct {
			Count            int            `json:"count"`
			AmountMLByMethod map[string]int `json:"amount_ml_by_method"`
		} `json:"feeding"`
	}](t, daily)
	if sum.Feeding.Count != 1 || sum.Feeding.AmountMLByMethod["bottle"] != 120 {
		t.Errorf("feeding summary = %+v", sum.Feeding)
	}

	rng := ts.do(t, "GET", "/api/babies/"+babyID+"/summary/range?from=2023-12-31&to=2024-01-02", token, nil)
	if rng.Code != http.StatusOK {
		t.Fatalf("range: status = %d, body = %s", rng.Code, rng.Body)
	}
	if got := len(decode[struct {
		Results []json.RawMessage `json:"results"`
	}](t, rng).Results); got != 3 {
		t.Errorf("range days = %d, want 3", got)
	}

	del := ts.do(t, "DELETE", "/api/events/"+created.ID, token, nil)
	if del.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want %d", del.Code, http.StatusNoContent)
	}
	if rec := ts.do(t, "GET", "/api/events/"+created.ID, token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestValidationErrorEnvelope(t *testing.T) {
	ts := setupServer(t, middleware.Limits{})
	token, _, babyID := ts.setupFamily(t)

	rec := ts.do(t, "POST", "/api/babies/"+babyID+"/events", token, map[string]any{
		"type":        "diaper",
		"occurred_at": "2024-01-01T10:00:00Z",
		"detail":      map[string]any{"amount_ml": 5},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	resp := decode[errorResponse](t, rec)
	if resp.Error.Code != "validation_error" || len(resp.Error.Fields) == 0 {
		t.Errorf("error = %+v, want validation_error with fields", resp.Error)
	}

	rec = ts.do(t, "POST", "/api/families", token, map[string]any{"name": "x", "colour": "red"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = ts.do(t, "GET", "/api/babies/"+babyID+"/events?limit=many", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestForeignAndViewerAccess(t *testing.T) {
	ts := setupServer(t, middleware.Limits{})
	owner, familyID, babyID := ts.setupFamily(t)
	viewer := ts.login(t, "viewer@example.com")
	outsider := ts.login(t, "outsider@example.com")

	rec := ts.do(t, "POST", "/api/families/"+familyID+"/members", owner, map[string]string{
		"email": "viewer@example.com",
		"role":  "viewer",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member: status = %d, body = %s", rec.Code, rec.Body)
	}

	body := map[string]any{
		"type":        "diaper",
		"occurred_at": "2024-01-01T10:00:00Z",
		"detail":      map[string]any{"wet": true},
	}
	if rec := ts.do(t, "POST", "/api/babies/"+babyID+"/events", viewer, body); rec.Code != http.StatusForbidden {
		t.Errorf("viewer create: status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if rec := ts.do(t, "GET", "/api/babies/"+babyID+"/events", viewer, nil); rec.Code != http.StatusOK {
		t.Errorf("viewer list: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := ts.do(t, "GET", "/api/babies/"+babyID+"/events", outsider, nil); rec.Code != http.StatusNotFound {
		t.Errorf("outsider list: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := ts.do(t, "GET", "/api/babies/"+babyID+"/summary/daily?date=2024-01-01", outsider, nil); rec.Code != http.StatusNotFound {
		t.Errorf("outsider summary: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := ts.do(t, "GET", "/api/families/"+familyID+"/members", outsider, nil); rec.Code != http.StatusForbidden {
		t.Errorf("outsider members: status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRateLimited(t *testing.T) {
	ts := setupServer(t, middleware.Limits{Read: 2, Write: 10, Window: time.Minute})
	token := ts.login(t, "busy@example.com")

	for i := 0; i < 2; i++ {
		if rec := ts.do(t, "GET", "/api/families", token, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	rec := ts.do(t, "GET", "/api/families", token, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Another user has their own budget.
	other := ts.login(t, "calm@example.com")
	if rec := ts.do(t, "GET", "/api/families", other, nil); rec.Code != http.StatusOK {
		t.Errorf("other user: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := setupServer(t, middleware.Limits{})
	req := httptest.NewRequest("OPTIONS", "/api/families", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
