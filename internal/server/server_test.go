package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/EVOLVR/internal/config"
	apperrors "github.com/copyleftdev/EVOLVR/internal/errors"
	"github.com/copyleftdev/EVOLVR/internal/metrics"
	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/runtime"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{"ENV": "test"})
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T, opts ...Option) (*Server, http.Handler) {
	t.Helper()
	srv := NewServer(testConfig(t), zaptest.NewLogger(t), opts...)
	t.Cleanup(func() { _ = srv.Close() })
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

type stateView struct {
	ID           string                 `json:"optimization_id"`
	Algorithm    string                 `json:"algorithm"`
	Runtime      string                 `json:"runtime"`
	Status       string                 `json:"status"`
	Reason       string                 `json:"reason"`
	Progress     float64                `json:"progress"`
	Evaluations  int64                  `json:"evaluations"`
	EndTime      *time.Time             `json:"end_time"`
	BestSolution *optimization.Solution `json:"best_solution"`
	Error        string                 `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func wait(t *testing.T, srv *Server, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := srv.Wait(ctx, id)
	require.NoError(t, err)
}

func TestRegisterRoutes(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/optimize", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/optimization/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},
		{"GET", "/nonexistent", false},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, nil)
			if tt.shouldExist {
				// Unknown job ids are 404 with a JSON body; unrouted paths are plain text.
				assert.NotContains(t, rec.Body.String(), "404 page not found")
				return
			}
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestOptimizeLifecycle(t *testing.T) {
	tests := []struct {
		name    string
		req     StartRequest
		maxBest float64
	}{
		{
			name: "nelder-mead basic",
			req: StartRequest{
				Algorithm:      AlgorithmNelderMead,
				Runtime:        RuntimeBasic,
				Bounds:         [][]float64{{-5, 5}, {-5, 5}},
				Start:          []float64{1, 1},
				StepSize:       0.5,
				MaxEvaluations: 200,
			},
			maxBest: 0.1,
		},
		{
			name: "random parallel",
			req: StartRequest{
				Algorithm:      AlgorithmRandom,
				Runtime:        RuntimeParallel,
				Bounds:         [][]float64{{-1, 1}, {-1, 1}},
				Seed:           1,
				MaxEvaluations: 60,
				PopulationSize: 5,
			},
			maxBest: 2,
		},
		{
			name: "bayesian basic",
			req: StartRequest{
				Algorithm:      AlgorithmBayesian,
				Bounds:         [][]float64{{-2, 2}},
				Seed:           2,
				MaxEvaluations: 15,
			},
			maxBest: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, h := newTestServer(t)

			rec := do(t, h, http.MethodPost, "/api/v1/optimize", tt.req)
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
			started := decode[stateView](t, rec)
			require.NotEmpty(t, started.ID)
			assert.Equal(t, tt.req.Algorithm, started.Algorithm)

			wait(t, srv, started.ID)

			rec = do(t, h, http.MethodGet, "/api/v1/status/"+started.ID, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			st := decode[stateView](t, rec)
			assert.Equal(t, string(StatusCompleted), st.Status)
			assert.Equal(t, "max_evaluations", st.Reason)
			assert.GreaterOrEqual(t, st.Evaluations, tt.req.MaxEvaluations)
			assert.Equal(t, 1.0, st.Progress)
			assert.NotNil(t, st.EndTime)
			require.NotNil(t, st.BestSolution)
			assert.Len(t, st.BestSolution.Parameters, len(tt.req.Bounds))
			assert.True(t, st.BestSolution.Legal)
			assert.Less(t, st.BestSolution.Value, tt.maxBest)
		})
	}
}

func TestOptimizeDefaultsToNelderMead(t *testing.T) {
	srv, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/v1/optimize", StartRequest{
		Bounds:         [][]float64{{-1, 1}},
		MaxEvaluations: 20,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	st := decode[stateView](t, rec)
	assert.Equal(t, AlgorithmNelderMead, st.Algorithm)
	assert.Equal(t, RuntimeBasic, st.Runtime)
	wait(t, srv, st.ID)

	got := decode[stateView](t, do(t, h, http.MethodGet, "/api/v1/status/"+st.ID, nil))
	want := stateView{
		ID:          st.ID,
		Algorithm:   AlgorithmNelderMead,
		Runtime:     RuntimeBasic,
		Status:      string(StatusCompleted),
		Reason:      "max_evaluations",
		Progress:    1,
		Evaluations: 20,
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(stateView{}, "EndTime", "BestSolution")); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestOptimizeStopsOnConvergence(t *testing.T) {
	converging := StartRequest{
		Algorithm:      AlgorithmRandom,
		Runtime:        RuntimeBasic,
		Bounds:         [][]float64{{-1, 1}, {-1, 1}},
		Seed:           4,
		MaxEvaluations: 1000,
		PopulationSize: 5,
	}

	tests := []struct {
		name string
		env  map[string]string
		tol  float64
	}{
		{"from request", map[string]string{}, 10},
		{"from config", map[string]string{"OPT_CONVERGENCE_TOLERANCE": "10"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadFrom(tt.env)
			require.NoError(t, err)
			srv := NewServer(cfg, zaptest.NewLogger(t))
			t.Cleanup(func() { _ = srv.Close() })

			req := converging
			req.ConvergenceTolerance = tt.tol
			st, err := srv.Start(req)
			require.NoError(t, err)
			wait(t, srv, st.ID)

			st, err = srv.Status(st.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, st.Status)
			assert.Equal(t, runtime.ReasonConverged, st.Reason)
			// Every point of [-1,1]^2 scores at most 2, so the range is within
			// tolerance as soon as the population is full.
			assert.Equal(t, int64(5), st.Evaluations)
		})
	}
}

func TestOptimizeValidation(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{"},
		{"no bounds", StartRequest{}},
		{"bad bound shape", StartRequest{Bounds: [][]float64{{1}}}},
		{"empty interval", StartRequest{Bounds: [][]float64{{1, 1}}}},
		{"unknown algorithm", StartRequest{Algorithm: "annealing", Bounds: [][]float64{{0, 1}}}},
		{"unknown runtime", StartRequest{Runtime: "cluster", Bounds: [][]float64{{0, 1}}}},
		{"start outside bounds", StartRequest{Bounds: [][]float64{{0, 1}}, Start: []float64{2}}},
		{"start wrong length", StartRequest{Bounds: [][]float64{{0, 1}}, Start: []float64{0.5, 0.5}}},
		{"evaluations below floor", StartRequest{Bounds: [][]float64{{0, 1}}, MaxEvaluations: 1}},
		{"negative population", StartRequest{Algorithm: AlgorithmRandom, Bounds: [][]float64{{0, 1}}, PopulationSize: -1}},
		{"negative tolerance", StartRequest{Bounds: [][]float64{{0, 1}}, ConvergenceTolerance: -0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/optimize", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestUnknownJob(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/v1/status/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "server", body["component"])
	assert.Equal(t, "lookup", body["operation"])
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/v1/optimization/nope", nil).Code)
}

func longRunning() StartRequest {
	return StartRequest{
		Algorithm:      AlgorithmRandom,
		Bounds:         [][]float64{{-1, 1}},
		Seed:           3,
		MaxEvaluations: 50_000_000,
		PopulationSize: 5,
	}
}

func TestCancel(t *testing.T) {
	srv, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/v1/optimize", longRunning())
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[stateView](t, rec).ID

	rec = do(t, h, http.MethodDelete, "/api/v1/optimization/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(StatusCancelled), decode[stateView](t, rec).Status)

	wait(t, srv, id)
	st, err := srv.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st.Status)
	assert.NotNil(t, st.EndTime)
	assert.Less(t, st.Evaluations, int64(50_000_000))

	rec = do(t, h, http.MethodDelete, "/api/v1/optimization/"+id, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloseCancelsJobs(t *testing.T) {
	srv := NewServer(testConfig(t), zaptest.NewLogger(t))
	st, err := srv.Start(longRunning())
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	st, err = srv.Status(st.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st.Status)
	assert.NotNil(t, st.EndTime)
}

type rpcView struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func rpc(t *testing.T, h http.Handler, body string) rpcView {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/rpc", body)
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[rpcView](t, rec)
}

func TestJSONRPC(t *testing.T) {
	srv, h := newTestServer(t)

	resp := rpc(t, h, `{"jsonrpc":"2.0","id":1,"method":"optimization.start",
		"params":[{"algorithm":"random","bounds":[[-1,1],[-1,1]],"seed":4,"max_evaluations":10}]}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(1), resp.ID)
	var started stateView
	require.NoError(t, json.Unmarshal(resp.Result, &started))
	require.NotEmpty(t, started.ID)
	wait(t, srv, started.ID)

	resp = rpc(t, h, `{"jsonrpc":"2.0","id":"s","method":"optimization.status","params":{"optimization_id":"`+started.ID+`"}}`)
	require.Nil(t, resp.Error)
	var st stateView
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	assert.Equal(t, string(StatusCompleted), st.Status)
	assert.Equal(t, "random", st.Algorithm)

	errorCases := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, apperrors.CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"optimization.status"}`, apperrors.CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"optimization.pause"}`, apperrors.CodeMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"optimization.status"}`, apperrors.CodeInvalidParams},
		{"missing id", `{"jsonrpc":"2.0","id":1,"method":"optimization.status","params":{}}`, apperrors.CodeInvalidParams},
		{"unknown job", `{"jsonrpc":"2.0","id":1,"method":"optimization.status","params":{"optimization_id":"nope"}}`, apperrors.CodeNotFound},
		{"bad start", `{"jsonrpc":"2.0","id":1,"method":"optimization.start","params":{"bounds":[]}}`, apperrors.CodeInvalidParams},
		{"cancel finished", `{"jsonrpc":"2.0","id":1,"method":"optimization.cancel","params":{"optimization_id":"` + started.ID + `"}}`, apperrors.CodeConflict},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpc(t, h, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
			assert.Nil(t, resp.Result)
		})
	}
}

func TestJobsReportMetrics(t *testing.T) {
	collector := metrics.New("test")
	srv, _ := newTestServer(t, WithMetrics(collector))

	st, err := srv.Start(StartRequest{Algorithm: AlgorithmRandom, Bounds: [][]float64{{0, 1}}, Seed: 5, MaxEvaluations: 12})
	require.NoError(t, err)
	wait(t, srv, st.ID)

	assert.Equal(t, 1, testutil.CollectAndCount(collector, "test_evaluations_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(collector, "test_terminations_total"))
	assert.Equal(t, 0, testutil.CollectAndCount(collector, "test_best_fitness"), "finished jobs drop their gauge")
}
