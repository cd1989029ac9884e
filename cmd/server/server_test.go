package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/routingrules/rules"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...rules.Option) *Server {
	t.Helper()
	opts = append([]rules.Option{rules.WithLogger(quietLogger())}, opts...)
	engine := rules.NewEngine(rules.NewInMemoryRuleStore(), opts...)
	return NewServer(engine, ServerOptions{StoreName: "memory", Logger: quietLogger()})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createRule(t *testing.T, h http.Handler, req CreateRuleRequest) RuleResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/rules", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[RuleResponse](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "memory", resp.Store)
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthUnavailable(t *testing.T) {
	engine := rules.NewEngine(rules.NewInMemoryRuleStore(), rules.WithLogger(quietLogger()))
	s := NewServer(engine, ServerOptions{StoreName: "postgres", Health: downStore{}, Logger: quietLogger()})

	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decodeBody[HealthResponse](t, rec).Status)
}

func TestCreateAndEvaluate(t *testing.T) {
	s := newTestServer(t)

	sales := createRule(t, s, CreateRuleRequest{Name: "Vendas", Keywords: []string{"comprar", "preço"}, DepartmentID: "sales", Priority: 10})
	createRule(t, s, CreateRuleRequest{Name: "Suporte", Keywords: []string{"erro", "bug"}, DepartmentID: "support", Priority: 5})
	assert.True(t, sales.Active)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", EvaluateRequest{Text: "Tive um erro ao comprar"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[EvaluateResponse](t, rec)
	assert.True(t, resp.Matched)
	assert.Equal(t, sales.ID, resp.RuleID)
	assert.Equal(t, "sales", resp.DepartmentID)
	assert.Equal(t, []string{"comprar"}, resp.MatchedKeywords)
	assert.Nil(t, resp.Rule, "evaluate does not echo the full rule")
}

func TestEvaluateNoMatchIsOK(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", EvaluateRequest{Text: "bom dia"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[EvaluateResponse](t, rec)
	assert.False(t, resp.Matched)
	assert.Empty(t, resp.DepartmentID)
	assert.NotNil(t, resp.MatchedKeywords)
}

func TestSimulateReturnsRule(t *testing.T) {
	s := newTestServer(t)
	created := createRule(t, s, CreateRuleRequest{Name: "Vendas", Keywords: []string{"comprar"}, DepartmentID: "sales"})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/simulate", EvaluateRequest{Text: "quero COMPRAR"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[EvaluateResponse](t, rec)
	require.NotNil(t, resp.Rule)
	assert.Equal(t, created.ID, resp.Rule.ID)
	assert.Equal(t, []string{"comprar"}, resp.Rule.Keywords)
}

func TestCreateValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules", CreateRuleRequest{Name: "X", Keywords: []string{}, DepartmentID: "D1", Priority: 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "keywords", resp.Field)
	assert.NotEmpty(t, resp.Reason)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[RulesListResponse](t, rec).Rules)
}

func TestMalformedBodies(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name, method, path, body string
	}{
		{"broken json", http.MethodPost, "/api/v1/rules", `{"name":`},
		{"unknown field", http.MethodPost, "/api/v1/rules", `{"name":"x","expression":"a > b"}`},
		{"empty body", http.MethodPost, "/api/v1/evaluate", ``},
		{"trailing data", http.MethodPost, "/api/v1/evaluate", `{"text":"a"}{"text":"b"}`},
		{"wrong type", http.MethodPut, "/api/v1/rules/order", `{"items":[{"id":"a","priority":"high"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestGetUpdateDelete(t *testing.T) {
	s := newTestServer(t)
	created := createRule(t, s, CreateRuleRequest{Name: "Vendas", Description: "leads", Keywords: []string{"comprar"}, DepartmentID: "sales", Priority: 3})

	rec := doJSON(t, s, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Vendas", decodeBody[RuleResponse](t, rec).Name)

	rec = doJSON(t, s, http.MethodPatch, "/api/v1/rules/"+created.ID, `{"active":false,"priority":8}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[RuleResponse](t, rec)
	assert.False(t, updated.Active)
	assert.Equal(t, 8, updated.Priority)
	assert.Equal(t, "leads", updated.Description, "omitted fields are unchanged")

	rec = doJSON(t, s, http.MethodPatch, "/api/v1/rules/"+created.ID, `{"keywords":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{created.ID}, decodeBody[ErrorResponse](t, rec).IDs)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/rules/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRulesOrdered(t *testing.T) {
	s := newTestServer(t)
	low := createRule(t, s, CreateRuleRequest{Name: "Low", Keywords: []string{"a"}, DepartmentID: "d", Priority: 1})
	inactive := false
	off := createRule(t, s, CreateRuleRequest{Name: "Off", Keywords: []string{"b"}, DepartmentID: "d", Priority: 50, Active: &inactive})
	high := createRule(t, s, CreateRuleRequest{Name: "High", Keywords: []string{"c"}, DepartmentID: "d", Priority: 9})

	rec := doJSON(t, s, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[RulesListResponse](t, rec).Rules
	require.Len(t, list, 3)
	assert.Equal(t, []string{off.ID, high.ID, low.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestReorder(t *testing.T) {
	s := newTestServer(t, rules.WithCache(rules.NewInMemoryRulesCache(rules.DefaultCacheConfig())))
	sales := createRule(t, s, CreateRuleRequest{Name: "Vendas", Keywords: []string{"comprar"}, DepartmentID: "sales", Priority: 10})
	support := createRule(t, s, CreateRuleRequest{Name: "Suporte", Keywords: []string{"erro"}, DepartmentID: "support", Priority: 5})

	// Warm the cache.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", EvaluateRequest{Text: "erro ao comprar"})
	require.Equal(t, "sales", decodeBody[EvaluateResponse](t, rec).DepartmentID)

	rec = doJSON(t, s, http.MethodPut, "/api/v1/rules/order", ReorderRequest{Items: []PriorityItem{
		{ID: sales.ID, Priority: 1},
		{ID: support.ID, Priority: 20},
	}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodPost, "/api/v1/evaluate", EvaluateRequest{Text: "erro ao comprar"})
	assert.Equal(t, "support", decodeBody[EvaluateResponse](t, rec).DepartmentID)
}

func TestReorderErrors(t *testing.T) {
	s := newTestServer(t)
	a := createRule(t, s, CreateRuleRequest{Name: "A", Keywords: []string{"x"}, DepartmentID: "d", Priority: 7})

	rec := doJSON(t, s, http.MethodPut, "/api/v1/rules/order", ReorderRequest{Items: []PriorityItem{
		{ID: a.ID, Priority: 1},
		{ID: "nonexistent", Priority: 2},
	}})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"nonexistent"}, decodeBody[ErrorResponse](t, rec).IDs)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/rules/"+a.ID, nil)
	assert.Equal(t, 7, decodeBody[RuleResponse](t, rec).Priority)

	rec = doJSON(t, s, http.MethodPut, "/api/v1/rules/order", ReorderRequest{Items: []PriorityItem{
		{ID: a.ID, Priority: 1},
		{ID: a.ID, Priority: 2},
	}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "items", decodeBody[ErrorResponse](t, rec).Field)

	rec = doJSON(t, s, http.MethodPut, "/api/v1/rules/order", `{"items":[]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// TestPriorityOutOfRange checks priorities that do not fit the 32-bit
// column are a 400, not a retryable 503.
func TestPriorityOutOfRange(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules", `{"name":"X","keywords":["k"],"department_id":"d","priority":3000000000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "priority", decodeBody[ErrorResponse](t, rec).Field)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	a := createRule(t, s, CreateRuleRequest{Name: "A", Keywords: []string{"x"}, DepartmentID: "d", Priority: 7})

	rec = doJSON(t, s, http.MethodPatch, "/api/v1/rules/"+a.ID, `{"priority":-3000000000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "priority", decodeBody[ErrorResponse](t, rec).Field)

	rec = doJSON(t, s, http.MethodPut, "/api/v1/rules/order", `{"items":[{"id":"`+a.ID+`","priority":3000000000}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "items", decodeBody[ErrorResponse](t, rec).Field)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/rules/"+a.ID, nil)
	assert.Equal(t, 7, decodeBody[RuleResponse](t, rec).Priority)
}

// failingStore answers every call with a store outage.
type failingStore struct{ rules.RuleStore }

func (failingStore) List(context.Context) ([]rules.Rule, error) {
	return nil, &rules.StoreUnavailableError{Op: "list", Err: errors.New("connection refused")}
}

func TestStoreUnavailableMapsTo503(t *testing.T) {
	engine := rules.NewEngine(failingStore{RuleStore: rules.NewInMemoryRuleStore()}, rules.WithLogger(quietLogger()))
	s := NewServer(engine, ServerOptions{Logger: quietLogger()})

	rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", EvaluateRequest{Text: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = doJSON(t, s, http.MethodGet, "/api/v1/rules", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := rules.NewMetrics(reg)
	require.NoError(t, err)

	engine := rules.NewEngine(rules.NewInMemoryRuleStore(), rules.WithLogger(quietLogger()), rules.WithMetrics(m))
	s := NewServer(engine, ServerOptions{
		Logger:      quietLogger(),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		MetricsPath: "/metrics",
	})

	doJSON(t, s, http.MethodPost, "/api/v1/evaluate", EvaluateRequest{Text: "x"})

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `routing_rules_evaluations_total{mode="evaluate",outcome="no_match"} 1`), rec.Body.String())
}
