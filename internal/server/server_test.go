package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/GRANITE/internal/config"
	"github.com/quantfold/GRANITE/internal/covariance"
	"github.com/quantfold/GRANITE/internal/covariance/kernels"
	"github.com/quantfold/GRANITE/internal/logging"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stdout"

	cfg.Kernel.Name = "squared_exponential"
	cfg.Kernel.Sigma = 1.0
	cfg.Kernel.LengthScale = 1.0

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  "debug",
		Format: "console",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig(t)
	kernel, err := kernels.New(cfg.Kernel.Name, cfg.Hyperparameters())
	require.NoError(t, err)
	return NewServer(cfg, testLogger(t), covariance.NewEvaluator(kernel, nil))
}

func testRouter(t *testing.T) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()
	testServer(t).RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	srv := testServer(t)
	assert.NotNil(t, srv, "Server should be created")
}

func TestEnvsEnvsEndpoint(t *testing.T) {
	r := testRouter(t)

	w := postJSON(t, r, "/api/v1/kernel/envs-envs", map[string]interface{}{
		"envs1": map[string]interface{}{
			"descriptors": [][]float64{{1, 0, 0}, {0, 1, 0}},
		},
		"envs2": map[string]interface{}{
			"descriptors": [][]float64{{1, 0, 0}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp matrixResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Rows)
	assert.Equal(t, 1, resp.Cols)
	// Identical normalized descriptors give the signal variance.
	assert.InDelta(t, 1.0, resp.Data[0][0], 1e-12)
}

func TestEnvsEnvsEndpointRejectsMalformedBody(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/kernel/envs-envs", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnvsEnvsEndpointRejectsDimMismatch(t *testing.T) {
	r := testRouter(t)

	w := postJSON(t, r, "/api/v1/kernel/envs-envs", map[string]interface{}{
		"envs1": map[string]interface{}{"descriptors": [][]float64{{1, 0, 0}}},
		"envs2": map[string]interface{}{"descriptors": [][]float64{{1, 0}}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestEnvsEnvsGradEndpoint(t *testing.T) {
	r := testRouter(t)

	w := postJSON(t, r, "/api/v1/kernel/envs-envs-grad", map[string]interface{}{
		"envs1": map[string]interface{}{
			"descriptors": [][]float64{{1, 0.5, 0}, {0.2, 1, 0.3}},
		},
		"envs2": map[string]interface{}{
			"descriptors": [][]float64{{1, 0, 0}, {0, 1, 0}, {0.4, 0.4, 0.4}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Kuu  matrixResponse `json:"kuu"`
		Grad matrixResponse `json:"grad"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Kuu.Rows)
	assert.Equal(t, 3, resp.Kuu.Cols)
	// One stacked block per hyperparameter.
	assert.Equal(t, 4, resp.Grad.Rows)
	assert.Equal(t, 3, resp.Grad.Cols)
}

func TestStructureEndpoints(t *testing.T) {
	r := testRouter(t)

	struc := map[string]interface{}{
		"descriptors": [][]float64{{1, 0.2, 0}, {0.1, 1, 0.4}},
		"num_atoms":   1,
		"force_maps": [][]map[string]interface{}{
			{{"comp": 0, "dof": 0, "coeff": 0.5}},
			{{"comp": 1, "dof": 2, "coeff": -0.25}},
		},
		"stress_maps": [][]map[string]interface{}{
			{{"comp": 2, "dof": 0, "coeff": 0.1}},
			nil,
		},
	}

	w := postJSON(t, r, "/api/v1/kernel/envs-struc", map[string]interface{}{
		"envs": map[string]interface{}{
			"descriptors": [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		},
		"struc": struc,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var block matrixResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &block))
	// 1 energy + 3 force + 6 stress rows for a one-atom structure.
	assert.Equal(t, 10, block.Rows)
	assert.Equal(t, 3, block.Cols)

	w = postJSON(t, r, "/api/v1/kernel/self-kernel", map[string]interface{}{"struc": struc})
	require.Equal(t, http.StatusOK, w.Code)

	var self struct {
		Values []float64 `json:"values"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &self))
	require.Len(t, self.Values, 10)

	w = postJSON(t, r, "/api/v1/kernel/struc-struc", map[string]interface{}{
		"struc1": struc,
		"struc2": struc,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var full matrixResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &full))
	require.Equal(t, 10, full.Rows)
	require.Equal(t, 10, full.Cols)
	for i, v := range self.Values {
		assert.InDelta(t, full.Data[i][i], v, 1e-12)
	}
}

func TestSelfKernelEndpointRejectsBadMaps(t *testing.T) {
	r := testRouter(t)

	w := postJSON(t, r, "/api/v1/kernel/self-kernel", map[string]interface{}{
		"struc": map[string]interface{}{
			"descriptors": [][]float64{{1, 0}},
			"num_atoms":   1,
			"force_maps": [][]map[string]interface{}{
				{{"comp": 9, "dof": 0, "coeff": 1.0}},
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHyperparameterEndpoints(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/kernel/hyperparameters", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Hyperparameters []float64 `json:"hyperparameters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []float64{1.0, 1.0}, resp.Hyperparameters)

	body, err := json.Marshal(map[string]interface{}{"hyperparameters": []float64{2.0, 0.5}})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPut, "/api/v1/kernel/hyperparameters", bytes.NewReader(body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []float64{2.0, 0.5}, resp.Hyperparameters)

	body, err = json.Marshal(map[string]interface{}{"hyperparameters": []float64{1.0}})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPut, "/api/v1/kernel/hyperparameters", bytes.NewReader(body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
