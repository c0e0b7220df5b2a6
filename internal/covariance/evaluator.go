package covariance

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/GRANITE/internal/covariance/descriptors"
	"github.com/quantfold/GRANITE/internal/covariance/kernels"
)

// Evaluator hosts a kernel behind input validation and locking. The kernel
// math itself is pure and single-threaded by contract; the Evaluator is what
// makes it safe to share one kernel instance between concurrent callers by
// serializing hyperparameter mutation against evaluations.
type Evaluator struct {
	kernel kernels.Kernel

	// Serializes SetHyperparameters against all evaluation calls, and
	// evaluations against each other (the kernels reuse pooled scratch).
	mu sync.Mutex

	logger *zap.Logger
}

// NewEvaluator wraps a kernel. A nil logger disables logging.
func NewEvaluator(kernel kernels.Kernel, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		kernel: kernel,
		logger: logger.Named("covariance"),
	}
}

// Hyperparameters returns the kernel's current hyperparameter vector.
func (ev *Evaluator) Hyperparameters() []float64 {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.kernel.Hyperparameters()
}

// SetHyperparameters replaces the kernel's hyperparameters. Vector length is
// validated by the kernel; degenerate values are accepted and propagate into
// later evaluations per the kernel contract.
func (ev *Evaluator) SetHyperparameters(hyps []float64) error {
	const op = "Evaluator.SetHyperparameters"

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if err := ev.kernel.SetHyperparameters(hyps); err != nil {
		return WrapError(err, "covariance: "+op)
	}
	ev.logger.Debug("Updated hyperparameters", zap.Float64s("hyps", hyps))
	return nil
}

// EnvsEnvs computes the m x n covariance block between two environment
// clusters.
func (ev *Evaluator) EnvsEnvs(envs1, envs2 *descriptors.ClusterDescriptor) (*mat.Dense, error) {
	const op = "Evaluator.EnvsEnvs"

	if envs1 == nil || envs2 == nil {
		return nil, WrapError(errors.New("clusters must not be nil"), "covariance: "+op)
	}
	if envs1.Dim() != envs2.Dim() {
		err := fmt.Errorf("descriptor length mismatch: %d vs %d", envs1.Dim(), envs2.Dim())
		return nil, WrapError(err, "covariance: "+op)
	}

	ev.logger.Debug("Computing environment covariance block",
		zap.Int("rows", envs1.Len()),
		zap.Int("cols", envs2.Len()),
		zap.Int("descriptor_dim", envs1.Dim()),
	)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.kernel.EnvsEnvs(envs1, envs2), nil
}

// EnvsEnvsGrad computes the stacked hyperparameter derivative blocks of a
// previously computed Gram matrix Kuu. Kuu must match the cluster sizes and
// be numerically consistent with the current hyperparameters; only the
// dimensions are checked.
func (ev *Evaluator) EnvsEnvsGrad(envs1, envs2 *descriptors.ClusterDescriptor, Kuu mat.Matrix) (*mat.Dense, error) {
	const op = "Evaluator.EnvsEnvsGrad"

	if envs1 == nil || envs2 == nil {
		return nil, WrapError(errors.New("clusters must not be nil"), "covariance: "+op)
	}
	if Kuu == nil {
		return nil, WrapError(errors.New("Kuu must not be nil"), "covariance: "+op)
	}
	r, c := Kuu.Dims()
	if r != envs1.Len() || c != envs2.Len() {
		err := fmt.Errorf("Kuu is %dx%d, clusters are %dx%d", r, c, envs1.Len(), envs2.Len())
		return nil, WrapError(err, "covariance: "+op)
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.kernel.EnvsEnvsGrad(envs1, envs2, Kuu), nil
}

// EnvsStruc computes the (1+3A+6) x m block between one structure's labels
// and each environment of the cluster.
func (ev *Evaluator) EnvsStruc(envs *descriptors.ClusterDescriptor, struc *descriptors.DescriptorValues) (*mat.Dense, error) {
	const op = "Evaluator.EnvsStruc"

	if envs == nil || struc == nil || struc.IsZero() {
		return nil, WrapError(errors.New("cluster and structure must not be nil"), "covariance: "+op)
	}
	if envs.Dim() != struc.Dim() {
		err := fmt.Errorf("descriptor length mismatch: %d vs %d", envs.Dim(), struc.Dim())
		return nil, WrapError(err, "covariance: "+op)
	}

	ev.logger.Debug("Computing environment-structure block",
		zap.Int("environments", envs.Len()),
		zap.Int("structure_envs", struc.NumEnvs()),
		zap.Int("atoms", struc.NumAtoms()),
	)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.kernel.EnvsStruc(envs, struc), nil
}

// SelfKernelStruc computes the structure's self-covariance vector of length
// 1+3A+6 for predictive-variance estimation.
func (ev *Evaluator) SelfKernelStruc(struc descriptors.DescriptorValues) (*mat.VecDense, error) {
	const op = "Evaluator.SelfKernelStruc"

	if struc.IsZero() {
		return nil, WrapError(errors.New("structure must not be empty"), "covariance: "+op)
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.kernel.SelfKernelStruc(struc), nil
}

// StrucStruc computes the full (1+3A1+6) x (1+3A2+6) cross-covariance matrix
// between two structures.
func (ev *Evaluator) StrucStruc(struc1, struc2 descriptors.DescriptorValues) (*mat.Dense, error) {
	const op = "Evaluator.StrucStruc"

	if struc1.IsZero() || struc2.IsZero() {
		return nil, WrapError(errors.New("structures must not be empty"), "covariance: "+op)
	}
	if struc1.Dim() != struc2.Dim() {
		err := fmt.Errorf("descriptor length mismatch: %d vs %d", struc1.Dim(), struc2.Dim())
		return nil, WrapError(err, "covariance: "+op)
	}

	ev.logger.Debug("Computing structure-structure covariance",
		zap.Int("labels1", struc1.NumLabels()),
		zap.Int("labels2", struc2.NumLabels()),
	)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.kernel.StrucStruc(struc1, struc2), nil
}
