package kernels

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/GRANITE/internal/covariance/descriptors"
)

// Check that SquaredExponential respects the Kernel interface.
var _ Kernel = (*SquaredExponential)(nil)

// SquaredExponential is a squared-exponential (RBF) kernel over normalized
// environment descriptors:
//
//	k(d1, d2) = sigma^2 * exp((u - 1) / ls^2),  u = d1.d2 / (|d1||d2|)
//
// which is the Gaussian decay exp(-r^2/(2 ls^2)) in the squared distance
// r^2 = 2 - 2u between the unit-normalized vectors. Dividing by the stored
// norms makes the similarity invariant to descriptor magnitude, so
// environments with differing atom counts or cutoff radii compare on equal
// footing, and the self-similarity of an exactly normalized environment is
// sigma^2.
type SquaredExponential struct {
	// Signal standard deviation (amplitude of the latent function).
	sigma float64
	// Length scale (larger = smoother similarity decay).
	ls float64
	// Cached squares, refreshed on every hyperparameter mutation.
	sig2, ls2 float64

	pool *MatrixPool
}

// NewSquaredExponential creates a squared-exponential kernel with the given
// signal standard deviation and length scale.
func NewSquaredExponential(sigma, ls float64) *SquaredExponential {
	return &SquaredExponential{
		sigma: sigma,
		ls:    ls,
		sig2:  sigma * sigma,
		ls2:   ls * ls,
		pool:  NewMatrixPool(),
	}
}

func (k *SquaredExponential) value(u float64) float64 {
	return k.sig2 * math.Exp((u-1)/k.ls2)
}

func (k *SquaredExponential) slope(u float64) float64 {
	return k.value(u) / k.ls2
}

func (k *SquaredExponential) curvature(u float64) float64 {
	return k.value(u) / (k.ls2 * k.ls2)
}

// EnvsEnvs computes the m x n covariance block between two clusters.
func (k *SquaredExponential) EnvsEnvs(envs1, envs2 *descriptors.ClusterDescriptor) *mat.Dense {
	return gramMatrix(k, envs1, envs2)
}

// EnvsEnvsGrad computes the hyperparameter derivatives of Kuu, stacked as
// two m x n blocks: rows [0,m) hold dK/dsigma, rows [m,2m) hold dK/dls.
// Both blocks are pointwise algebraic functions of the already-computed
// covariance values:
//
//	dK/dsigma = 2K/sigma
//	dK/dls    = -2K*ln(K/sigma^2)/ls
//
// so the exponential is never re-evaluated. Kuu must be consistent with the
// current hyperparameters.
func (k *SquaredExponential) EnvsEnvsGrad(envs1, envs2 *descriptors.ClusterDescriptor, Kuu mat.Matrix) *mat.Dense {
	m, n := Kuu.Dims()
	grad := mat.NewDense(2*m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			v := Kuu.At(i, j)
			grad.Set(i, j, 2*v/k.sigma)
			if v > 0 {
				grad.Set(m+i, j, -2*v*math.Log(v/k.sig2)/k.ls)
			}
		}
	}
	return grad
}

// EnvsStruc computes the (1+3A+6) x m energy/force/stress block between one
// structure and each environment of the cluster.
func (k *SquaredExponential) EnvsStruc(envs *descriptors.ClusterDescriptor, struc *descriptors.DescriptorValues) *mat.Dense {
	return envsStruc(k, envs, struc)
}

// SelfKernelStruc computes the structure's self-covariance vector for
// predictive-variance estimation.
func (k *SquaredExponential) SelfKernelStruc(struc descriptors.DescriptorValues) *mat.VecDense {
	return selfKernel(k, k.pool, &struc)
}

// StrucStruc computes the full cross-covariance matrix between two
// structures' energy, force and stress labels.
func (k *SquaredExponential) StrucStruc(struc1, struc2 descriptors.DescriptorValues) *mat.Dense {
	return strucStruc(k, k.pool, &struc1, &struc2)
}

// Hyperparameters returns [sigma, ls].
func (k *SquaredExponential) Hyperparameters() []float64 {
	return []float64{k.sigma, k.ls}
}

// SetHyperparameters replaces [sigma, ls] and refreshes the cached squares.
// Values are not range-checked: a zero or negative length scale propagates
// as Inf/NaN into later evaluations.
func (k *SquaredExponential) SetHyperparameters(hyps []float64) error {
	if len(hyps) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(hyps))
	}
	k.sigma = hyps[0]
	k.ls = hyps[1]
	k.sig2 = k.sigma * k.sigma
	k.ls2 = k.ls * k.ls
	return nil
}
