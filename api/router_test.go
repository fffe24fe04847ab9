package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/splitflow/api"
	"github.com/BaSui01/splitflow/api/handlers"
	"github.com/BaSui01/splitflow/assign"
	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/ledger"
	"github.com/BaSui01/splitflow/report"
	"github.com/BaSui01/splitflow/store"
)

func newTestServer(t *testing.T, limiter *rate.Limiter) *httptest.Server {
	t.Helper()

	mem := store.NewMemory()
	logger := zap.NewNop()
	registry := experiment.NewRegistry(mem, logger)
	engine := assign.NewEngine(registry, mem, logger)
	lg := ledger.New(mem, logger)
	reporter := report.NewReporter(registry, mem, logger)

	router := api.NewRouter(api.Handlers{
		Experiment: handlers.NewExperimentHandler(registry, logger),
		Assign:     handlers.NewAssignHandler(engine, lg, limiter, logger),
		Report:     handlers.NewReportHandler(reporter, logger),
		Health:     handlers.NewHealthHandler(logger),
	}, logger)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func experimentDefinition() map[string]any {
	return map[string]any{
		"name":     "subject line test",
		"category": "message-subject",
		"variants": []map[string]any{
			{
				"weight": 0.5,
				"payload": map[string]any{
					"category": "message-subject",
					"fields":   map[string]any{"subject": "control"},
				},
			},
			{
				"weight": 0.5,
				"payload": map[string]any{
					"category": "message-subject",
					"fields":   map[string]any{"subject": "treatment"},
				},
			},
		},
	}
}

func createActiveExperiment(t *testing.T, base string) string {
	t.Helper()

	resp, env := doJSON(t, http.MethodPost, base+"/v1/experiments", experimentDefinition())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, env.Success)

	var exp experiment.Experiment
	require.NoError(t, json.Unmarshal(env.Data, &exp))
	require.NotEmpty(t, exp.ID)
	require.Equal(t, experiment.StateDraft, exp.State)

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/experiments/%s/start", base, exp.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return exp.ID
}

func TestExperimentLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createActiveExperiment(t, srv.URL)

	resp, env := doJSON(t, http.MethodGet, srv.URL+"/v1/experiments/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exp experiment.Experiment
	require.NoError(t, json.Unmarshal(env.Data, &exp))
	assert.Equal(t, experiment.StateActive, exp.State)
	assert.NotNil(t, exp.StartedAt)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/archive", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateExperimentValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	def := experimentDefinition()
	def["variants"] = def["variants"].([]map[string]any)[:1] // one variant only

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/v1/experiments", def)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestIllegalTransitionConflicts(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createActiveExperiment(t, srv.URL)

	// Starting an already active experiment is a state conflict.
	resp, env := doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_STATE", env.Error.Code)
}

func TestUnknownExperimentIs404(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, env := doJSON(t, http.MethodGet, srv.URL+"/v1/experiments/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "EXPERIMENT_NOT_FOUND", env.Error.Code)
}

func TestAssignAndConvertOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createActiveExperiment(t, srv.URL)

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/assignments",
		map[string]any{"subject_id": "user-42"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var placement assign.Placement
	require.NoError(t, json.Unmarshal(env.Data, &placement))
	require.NotNil(t, placement.Assignment)
	variant := placement.Assignment.VariantIndex

	// Assignment is idempotent over HTTP too.
	_, env = doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/assignments",
		map[string]any{"subject_id": "user-42"})
	require.NoError(t, json.Unmarshal(env.Data, &placement))
	assert.Equal(t, variant, placement.Assignment.VariantIndex)

	resp, env = doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/conversions",
		map[string]any{"subject_id": "user-42", "type": "purchase", "value": 9.99})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var conv ledger.Conversion
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	assert.Equal(t, variant, conv.VariantIndex)
	assert.Equal(t, 9.99, conv.Value)
}

func TestConversionWithoutAssignmentConflicts(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createActiveExperiment(t, srv.URL)

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/conversions",
		map[string]any{"subject_id": "stranger", "type": "purchase"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SUBJECT_NOT_ASSIGNED", env.Error.Code)
}

func TestAssignRateLimited(t *testing.T) {
	srv := newTestServer(t, rate.NewLimiter(0, 0)) // deny everything
	id := createActiveExperiment(t, srv.URL)

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/assignments",
		map[string]any{"subject_id": "user-1"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
}

func TestReportAndPortfolioOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createActiveExperiment(t, srv.URL)

	for i := 0; i < 20; i++ {
		subject := fmt.Sprintf("user-%d", i)
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/assignments",
			map[string]any{"subject_id": subject})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		if i%4 == 0 {
			resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/experiments/"+id+"/conversions",
				map[string]any{"subject_id": subject, "type": "purchase", "value": 5})
			require.Equal(t, http.StatusCreated, resp.StatusCode)
		}
	}

	resp, env := doJSON(t, http.MethodGet, srv.URL+"/v1/experiments/"+id+"/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary report.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 20, summary.TotalAssignments)

	resp, env = doJSON(t, http.MethodGet, srv.URL+"/v1/experiments/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep report.Report
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, id, rep.ExperimentID)
	assert.Len(t, rep.Performance, 2)

	resp, env = doJSON(t, http.MethodGet, srv.URL+"/v1/portfolio", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p report.Portfolio
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 1, p.Experiments)
	assert.Equal(t, 20, p.TotalAssignments)
}

func TestSampleSizeEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, env := doJSON(t, http.MethodGet,
		srv.URL+"/v1/sample-size?baseline=0.05&min_effect=0.2&alpha=0.05&power=0.8", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		PerVariant int `json:"per_variant"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 8155, out.PerVariant)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/sample-size?baseline=2&min_effect=0.2", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
