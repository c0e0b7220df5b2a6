package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/GRANITE/internal/config"
	"github.com/quantfold/GRANITE/internal/covariance"
	"github.com/quantfold/GRANITE/internal/covariance/descriptors"
	"github.com/quantfold/GRANITE/internal/logging"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server exposes the covariance evaluation operations over HTTP. Every
// endpoint is synchronous: the kernel core never blocks or performs I/O, so
// requests evaluate inline and return the resulting matrices as JSON.
type Server struct {
	cfg       *config.Config
	logger    Logger
	evaluator *covariance.Evaluator
}

// NewServer creates a new server instance with the given config, logger and
// evaluator.
func NewServer(cfg *config.Config, logger Logger, evaluator *covariance.Evaluator) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		evaluator: evaluator,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/kernel", func(r chi.Router) {
		r.Post("/envs-envs", s.handleEnvsEnvs)
		r.Post("/envs-envs-grad", s.handleEnvsEnvsGrad)
		r.Post("/envs-struc", s.handleEnvsStruc)
		r.Post("/self-kernel", s.handleSelfKernel)
		r.Post("/struc-struc", s.handleStrucStruc)
		r.Get("/hyperparameters", s.handleGetHyperparameters)
		r.Put("/hyperparameters", s.handleSetHyperparameters)
	})
}

// clusterPayload is the wire form of a ClusterDescriptor: one descriptor
// vector per row, with optional per-row normalization scalars (Euclidean
// norms are used when omitted).
type clusterPayload struct {
	Descriptors [][]float64 `json:"descriptors"`
	Norms       []float64   `json:"norms,omitempty"`
}

// entryPayload is the wire form of one chain-rule map entry.
type entryPayload struct {
	Comp  int     `json:"comp"`
	DOF   int     `json:"dof"`
	Coeff float64 `json:"coeff"`
}

// structurePayload is the wire form of DescriptorValues.
type structurePayload struct {
	Descriptors [][]float64      `json:"descriptors"`
	Norms       []float64        `json:"norms,omitempty"`
	NumAtoms    int              `json:"num_atoms"`
	ForceMaps   [][]entryPayload `json:"force_maps,omitempty"`
	StressMaps  [][]entryPayload `json:"stress_maps,omitempty"`
}

// matrixResponse carries a dense matrix row-major.
type matrixResponse struct {
	Rows int         `json:"rows"`
	Cols int         `json:"cols"`
	Data [][]float64 `json:"data"`
}

func toMatrixResponse(m mat.Matrix) matrixResponse {
	r, c := m.Dims()
	data := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
		}
		data[i] = row
	}
	return matrixResponse{Rows: r, Cols: c, Data: data}
}

func denseFromPayload(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("descriptor matrix must not be empty")
	}
	d := len(rows[0])
	out := mat.NewDense(len(rows), d, nil)
	for i, row := range rows {
		if len(row) != d {
			return nil, fmt.Errorf("row %d has length %d, expected %d", i, len(row), d)
		}
		out.SetRow(i, row)
	}
	return out, nil
}

func (p clusterPayload) toCluster() (*descriptors.ClusterDescriptor, error) {
	vectors, err := denseFromPayload(p.Descriptors)
	if err != nil {
		return nil, err
	}
	return descriptors.NewClusterDescriptor(vectors, p.Norms)
}

func toDerivMaps(maps [][]entryPayload) [][]descriptors.DerivEntry {
	if maps == nil {
		return nil
	}
	out := make([][]descriptors.DerivEntry, len(maps))
	for e, entries := range maps {
		for _, entry := range entries {
			out[e] = append(out[e], descriptors.DerivEntry{Comp: entry.Comp, DOF: entry.DOF, Coeff: entry.Coeff})
		}
	}
	return out
}

func (p structurePayload) toStructure() (descriptors.DescriptorValues, error) {
	vectors, err := denseFromPayload(p.Descriptors)
	if err != nil {
		return descriptors.DescriptorValues{}, err
	}
	return descriptors.NewDescriptorValues(vectors, p.Norms, p.NumAtoms, toDerivMaps(p.ForceMaps), toDerivMaps(p.StressMaps))
}

// handleEnvsEnvs computes the covariance block between two clusters.
func (s *Server) handleEnvsEnvs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Envs1 clusterPayload `json:"envs1"`
		Envs2 clusterPayload `json:"envs2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, opEnvsEnvs, start, err)
		return
	}

	envs1, err := req.Envs1.toCluster()
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, opEnvsEnvs, start, err)
		return
	}
	envs2, err := req.Envs2.toCluster()
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, opEnvsEnvs, start, err)
		return
	}

	K, err := s.evaluator.EnvsEnvs(envs1, envs2)
	if err != nil {
		s.respondWithError(w, http.StatusUnprocessableEntity, opEnvsEnvs, start, err)
		return
	}
	s.respondWithJSON(w, opEnvsEnvs, start, toMatrixResponse(K))
}

// handleEnvsEnvsGrad computes the Gram block and its stacked hyperparameter
// derivative blocks in one call, so the gradient is always consistent with
// the Kuu it reuses.
func (s *Server) handleEnvsEnvsGrad(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Envs1 clusterPayload `json:"envs1"`
		Envs2 clusterPayload `json:"envs2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, opEnvsEnvsGrad, start, err)
		return
	}

	envs1, err := req.Envs1.toCluster()
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, opEnvsEnvsGrad, start, err)
		return
	}
	envs2, err := req.Envs2.toCluster()
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, opEnvsEnvsGrad, start, err)
		return
	}

	Kuu, err := s.evaluator.EnvsEnvs(envs1, envs2)
	if err != nil {
		s.respondWithError(w, http.StatusUnprocessableEntity, opEnvsEnvsGrad, start, err)
		return
	}
	grad, err := s.evaluator.EnvsEnvsGrad(envs1, envs2, Kuu)
	if err != nil {
		s.respondWithError(w, http.StatusUnprocessableEntity, opEnvsEnvsGrad, start, err)
		return
	}

	s.respondWithJSON(w, opEnvsEnvsGrad, start, map[string]interface{}{
		"kuu":  toMatrixResponse(Kuu),
		"grad": toMatrixResponse(grad),
	})
}

// handleEnvsStruc computes the energy/force/stress block between a cluster
// and one structure.
func (s *Server) handleEnvsStruc(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Envs  clusterPayload   `json:"envs"`
		Struc structurePayload `json:"struc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, opEnvsStruc, start, err)
		return
	}

	envs, err := req.Envs.toCluster()
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, opEnvsStruc, start, err)
		return
	}
	struc, err := req.Struc.toStructure()
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, opEnvsStruc, start, err)
		return
	}

	block, err := s.evaluator.EnvsStruc(envs, &struc)
	if err != nil {
		s.respondWithError(w, http.StatusUnprocessableEntity, opEnvsStruc, start, err)
		return
	}
	s.respondWithJSON(w, opEnvsStruc, start, toMatrixResponse(block))
}

// handleSelfKernel computes one structure's self-covariance vector.
func (s *Server) handleSelfKernel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Struc structurePayload `json:"struc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, opSelfKernel, start, err)
		return
	}

	struc, err := req.Struc.toStructure()
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, opSelfKernel, start, err)
		return
	}

	self, err := s.evaluator.SelfKernelStruc(struc)
	if err != nil {
		s.respondWithError(w, http.StatusUnprocessableEntity, opSelfKernel, start, err)
		return
	}

	values := make([]float64, self.Len())
	for i := range values {
		values[i] = self.AtVec(i)
	}
	s.respondWithJSON(w, opSelfKernel, start, map[string]interface{}{"values": values})
}

// handleStrucStruc computes the full cross-covariance matrix between two
// structures.
func (s *Server) handleStrucStruc(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Struc1 structurePayload `json:"struc1"`
		Struc2 structurePayload `json:"struc2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, opStrucStruc, start, err)
		return
	}

	struc1, err := req.Struc1.toStructure()
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, opStrucStruc, start, err)
		return
	}
	struc2, err := req.Struc2.toStructure()
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, opStrucStruc, start, err)
		return
	}

	K, err := s.evaluator.StrucStruc(struc1, struc2)
	if err != nil {
		s.respondWithError(w, http.StatusUnprocessableEntity, opStrucStruc, start, err)
		return
	}
	s.respondWithJSON(w, opStrucStruc, start, toMatrixResponse(K))
}

// handleGetHyperparameters returns the kernel's current hyperparameters.
func (s *Server) handleGetHyperparameters(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.respondWithJSON(w, opHyperparameters, start, map[string]interface{}{
		"hyperparameters": s.evaluator.Hyperparameters(),
	})
}

// handleSetHyperparameters replaces the kernel's hyperparameters. Only the
// vector length is validated; degenerate values are accepted and propagate
// into later evaluations.
func (s *Server) handleSetHyperparameters(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Hyperparameters []float64 `json:"hyperparameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, opHyperparameters, start, err)
		return
	}

	if err := s.evaluator.SetHyperparameters(req.Hyperparameters); err != nil {
		s.respondWithError(w, http.StatusBadRequest, opHyperparameters, start, err)
		return
	}

	s.logger.Info("Hyperparameters updated", map[string]interface{}{
		"hyperparameters": req.Hyperparameters,
	})
	s.respondWithJSON(w, opHyperparameters, start, map[string]interface{}{
		"hyperparameters": s.evaluator.Hyperparameters(),
	})
}

// respondWithJSON sends a successful response and records metrics.
func (s *Server) respondWithJSON(w http.ResponseWriter, op string, start time.Time, payload interface{}) {
	observeEvaluation(op, start, nil)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError sends an error response and records metrics.
func (s *Server) respondWithError(w http.ResponseWriter, status int, op string, start time.Time, err error) {
	observeEvaluation(op, start, err)
	s.logger.Error("Request error", map[string]interface{}{
		"operation": op,
		"status":    status,
		"error":     err.Error(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
	})
}

// Close cleans up resources.
func (s *Server) Close() error {
	return nil
}
