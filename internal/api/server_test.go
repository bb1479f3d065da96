package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/findataops/internal/api/handlers"
	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/institution"
	"github.com/dvloznov/findataops/internal/jobs"
	"github.com/dvloznov/findataops/internal/jobs/inmemory"
	"github.com/dvloznov/findataops/internal/metrics"
	"github.com/dvloznov/findataops/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory handlers.Store that records the filters it receives.
type fakeStore struct {
	txns      []domain.CanonicalTransaction
	anomalies map[string]*domain.AnomalyRecord
	forecasts []domain.ForecastRecord
	runs      []domain.RunRecord

	lastStart, lastEnd time.Time
	lastAnomalyFilter  store.AnomalyFilter
	lastForecastFilter store.ForecastFilter
	lastRunsLimit      int
	ackCalls           int

	err error
}

func (f *fakeStore) TransactionsBetween(ctx context.Context, start, end time.Time) ([]domain.CanonicalTransaction, error) {
	f.lastStart, f.lastEnd = start, end
	return f.txns, f.err
}

func (f *fakeStore) ListAnomalies(ctx context.Context, filter store.AnomalyFilter) ([]domain.AnomalyRecord, error) {
	f.lastAnomalyFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.AnomalyRecord
	for _, a := range f.anomalies {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeStore) GetAnomaly(ctx context.Context, id string) (*domain.AnomalyRecord, error) {
	a, ok := f.anomalies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) AcknowledgeAnomaly(ctx context.Context, id, by string) (*domain.AnomalyRecord, error) {
	f.ackCalls++
	a, ok := f.anomalies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !a.Acknowledged {
		now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
		a.Acknowledged, a.AcknowledgedBy, a.AcknowledgedAt = true, by, &now
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListForecasts(ctx context.Context, filter store.ForecastFilter) ([]domain.ForecastRecord, error) {
	f.lastForecastFilter = filter
	return f.forecasts, f.err
}

func (f *fakeStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	f.lastRunsLimit = limit
	return f.runs, f.err
}

func (f *fakeStore) Summary(ctx context.Context) (*domain.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Summary{Transactions: len(f.txns), Anomalies: len(f.anomalies), Runs: len(f.runs)}, nil
}

type testServer struct {
	store    *fakeStore
	queue    *inmemory.Queue
	jobStore *inmemory.Store
	router   *gin.Engine
}

func newTestServer(t *testing.T, authToken string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs := &fakeStore{
		txns: []domain.CanonicalTransaction{{Identity: "t1", Amount: decimal.RequireFromString("-4.50")}},
		anomalies: map[string]*domain.AnomalyRecord{
			"a1": {ID: "a1", TxnIdentity: "t1", Type: domain.AnomalyNovelMerchant, Severity: domain.SeverityMedium},
		},
	}
	js := inmemory.NewStore()
	q := inmemory.NewQueue(10, 1, js)
	t.Cleanup(func() { q.Close() })

	h := handlers.New(fs,
		handlers.WithJobs(q, js),
		handlers.WithRegistry(institution.Default()),
		handlers.WithClock(func() time.Time { return time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC) }),
	)
	router := NewRouter(h, RouterConfig{Log: zerolog.New(io.Discard), Metrics: metrics.New(), AuthToken: authToken})
	return &testServer{store: fs, queue: q, jobStore: js, router: router}
}

func (ts *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, "secret")

	w := ts.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing generated request id")
	}

	// Drive one API request so the request counter has a sample.
	ts.do(http.MethodGet, "/api/summary", "", "Authorization", "Bearer secret")

	w = ts.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "findataops_http_requests_total") {
		t.Error("request counter missing from /metrics output")
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, "secret")

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"no header", nil, http.StatusUnauthorized},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"valid token", []string{"Authorization", "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodGet, "/api/summary", "", tt.header...)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestListTransactions(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodGet, "/api/transactions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got := ts.store.lastStart.Format(domain.DateLayout); got != "2023-06-15" {
		t.Errorf("default start = %s", got)
	}
	if got := ts.store.lastEnd.Format(domain.DateLayout); got != "2024-06-15" {
		t.Errorf("default end = %s", got)
	}

	var body struct {
		Count int `json:"count"`
	}
	decode(t, w, &body)
	if body.Count != 1 {
		t.Errorf("count = %d", body.Count)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"?start_date=2024-01-01&end_date=2024-01-31", http.StatusOK},
		{"?start_date=01/01/2024", http.StatusBadRequest},
		{"?start_date=2024-02-01&end_date=2024-01-01", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := ts.do(http.MethodGet, "/api/transactions"+tt.query, ""); w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.query, w.Code, tt.want)
		}
	}
}

func TestListAnomalies_Filters(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		query string
		code  int
		want  store.AnomalyFilter
	}{
		{"", http.StatusOK, store.AnomalyFilter{}},
		{"?severity=HIGH&unacknowledged=true&limit=5", http.StatusOK, store.AnomalyFilter{Severity: domain.SeverityHigh, UnacknowledgedOnly: true, Limit: 5}},
		{"?severity=critical", http.StatusBadRequest, store.AnomalyFilter{}},
		{"?limit=-1", http.StatusBadRequest, store.AnomalyFilter{}},
		{"?unacknowledged=maybe", http.StatusBadRequest, store.AnomalyFilter{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ts.store.lastAnomalyFilter = store.AnomalyFilter{}
			w := ts.do(http.MethodGet, "/api/anomalies"+tt.query, "")
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
			if tt.code == http.StatusOK && ts.store.lastAnomalyFilter != tt.want {
				t.Errorf("filter = %+v, want %+v", ts.store.lastAnomalyFilter, tt.want)
			}
		})
	}
}

func TestAcknowledgeAnomaly(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodPost, "/api/anomalies/a1/acknowledge", `{"acknowledged_by":"alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var first domain.AnomalyRecord
	decode(t, w, &first)
	if !first.Acknowledged || first.AcknowledgedBy != "alice" {
		t.Errorf("unexpected record: %+v", first)
	}

	// A second reviewer does not overwrite the first acknowledgement.
	w = ts.do(http.MethodPost, "/api/anomalies/a1/acknowledge", `{"acknowledged_by":"bob"}`)
	var second domain.AnomalyRecord
	decode(t, w, &second)
	if w.Code != http.StatusOK || second.AcknowledgedBy != "alice" {
		t.Errorf("repeat ack = %d %+v", w.Code, second)
	}

	if w := ts.do(http.MethodPost, "/api/anomalies/nope/acknowledge", `{"acknowledged_by":"alice"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
	if w := ts.do(http.MethodPost, "/api/anomalies/a1/acknowledge", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing reviewer status = %d, want 400", w.Code)
	}
}

func TestGetAnomaly(t *testing.T) {
	ts := newTestServer(t, "")
	if w := ts.do(http.MethodGet, "/api/anomalies/a1", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/anomalies/zzz", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestForecastsAndRuns(t *testing.T) {
	ts := newTestServer(t, "")

	ts.do(http.MethodGet, "/api/forecasts?category=Rent", "")
	if want := (store.ForecastFilter{Category: "Rent", LatestOnly: true}); ts.store.lastForecastFilter != want {
		t.Errorf("forecast filter = %+v", ts.store.lastForecastFilter)
	}
	ts.do(http.MethodGet, "/api/forecasts?all=true", "")
	if ts.store.lastForecastFilter.LatestOnly {
		t.Error("all=true should request full history")
	}

	ts.do(http.MethodGet, "/api/runs", "")
	if ts.store.lastRunsLimit != handlers.DefaultRunsLimit {
		t.Errorf("runs limit = %d", ts.store.lastRunsLimit)
	}
	ts.do(http.MethodGet, "/api/runs?limit=3", "")
	if ts.store.lastRunsLimit != 3 {
		t.Errorf("runs limit = %d, want 3", ts.store.lastRunsLimit)
	}
}

func TestStoreFailureIs500(t *testing.T) {
	ts := newTestServer(t, "")
	ts.store.err = errors.New("database is locked")

	for _, path := range []string{"/api/transactions", "/api/anomalies", "/api/forecasts", "/api/runs", "/api/summary"} {
		w := ts.do(http.MethodGet, path, "")
		if w.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", path, w.Code)
		}
		if strings.Contains(w.Body.String(), "locked") {
			t.Errorf("%s leaks the driver error: %s", path, w.Body.String())
		}
	}
}

func TestIngestAndJobStatus(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodPost, "/api/ingest", `{"uri":"gs://statements/chase_2024_01.csv","institution":"Chase"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var accepted struct {
		JobID  string         `json:"job_id"`
		Status jobs.JobStatus `json:"status"`
	}
	decode(t, w, &accepted)
	if accepted.JobID == "" || accepted.Status != jobs.JobStatusPending {
		t.Fatalf("unexpected response: %+v", accepted)
	}
	if ts.queue.Depth() != 1 {
		t.Errorf("queue depth = %d, want 1", ts.queue.Depth())
	}

	w = ts.do(http.MethodGet, "/api/jobs/"+accepted.JobID, "")
	var job jobs.IngestJob
	decode(t, w, &job)
	if w.Code != http.StatusOK || job.URI != "gs://statements/chase_2024_01.csv" || job.Institution != "Chase" {
		t.Errorf("job status = %d %+v", w.Code, job)
	}

	if w := ts.do(http.MethodGet, "/api/jobs/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/jobs", ""); w.Code != http.StatusOK {
		t.Errorf("list jobs status = %d", w.Code)
	}
}

func TestIngestValidation(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"uri":`},
		{"missing uri", `{"institution":"Chase"}`},
		{"unknown institution", `{"uri":"a.csv","institution":"Monzo"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(http.MethodPost, "/api/ingest", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
	if ts.queue.Depth() != 0 {
		t.Error("rejected requests must not enqueue jobs")
	}
}

func TestIngestWithoutQueue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(handlers.New(&fakeStore{}), RouterConfig{Log: zerolog.New(io.Discard)})

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{"uri":"a.csv"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestNoRouteAndCORS(t *testing.T) {
	ts := newTestServer(t, "")

	if w := ts.do(http.MethodGet, "/api/nothing", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	w := ts.do(http.MethodOptions, "/api/anomalies", "")
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}
	w = ts.do(http.MethodGet, "/health", "", "X-Request-ID", "req-42")
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("request id = %q, want propagated req-42", got)
	}
}
