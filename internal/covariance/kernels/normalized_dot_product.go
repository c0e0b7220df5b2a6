package kernels

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/GRANITE/internal/covariance/descriptors"
)

// Check that NormalizedDotProduct respects the Kernel interface.
var _ Kernel = (*NormalizedDotProduct)(nil)

// NormalizedDotProduct is a quadratic angular kernel over normalized
// environment descriptors:
//
//	k(d1, d2) = sigma^2 * u^2,  u = d1.d2 / (|d1||d2|)
//
// Its single hyperparameter is the signal standard deviation sigma.
type NormalizedDotProduct struct {
	sigma float64
	sig2  float64

	pool *MatrixPool
}

// NewNormalizedDotProduct creates a normalized dot product kernel with the
// given signal standard deviation.
func NewNormalizedDotProduct(sigma float64) *NormalizedDotProduct {
	return &NormalizedDotProduct{sigma: sigma, sig2: sigma * sigma, pool: NewMatrixPool()}
}

func (k *NormalizedDotProduct) value(u float64) float64 {
	return k.sig2 * u * u
}

func (k *NormalizedDotProduct) slope(u float64) float64 {
	return 2 * k.sig2 * u
}

func (k *NormalizedDotProduct) curvature(u float64) float64 {
	return 2 * k.sig2
}

// EnvsEnvs computes the m x n covariance block between two clusters.
func (k *NormalizedDotProduct) EnvsEnvs(envs1, envs2 *descriptors.ClusterDescriptor) *mat.Dense {
	return gramMatrix(k, envs1, envs2)
}

// EnvsEnvsGrad computes the single m x n derivative block dK/dsigma = 2K/sigma
// from the already-computed covariance values.
func (k *NormalizedDotProduct) EnvsEnvsGrad(envs1, envs2 *descriptors.ClusterDescriptor, Kuu mat.Matrix) *mat.Dense {
	m, n := Kuu.Dims()
	grad := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			grad.Set(i, j, 2*Kuu.At(i, j)/k.sigma)
		}
	}
	return grad
}

// EnvsStruc computes the (1+3A+6) x m energy/force/stress block between one
// structure and each environment of the cluster.
func (k *NormalizedDotProduct) EnvsStruc(envs *descriptors.ClusterDescriptor, struc *descriptors.DescriptorValues) *mat.Dense {
	return envsStruc(k, envs, struc)
}

// SelfKernelStruc computes the structure's self-covariance vector.
func (k *NormalizedDotProduct) SelfKernelStruc(struc descriptors.DescriptorValues) *mat.VecDense {
	return selfKernel(k, k.pool, &struc)
}

// StrucStruc computes the full cross-covariance matrix between two
// structures' label sets.
func (k *NormalizedDotProduct) StrucStruc(struc1, struc2 descriptors.DescriptorValues) *mat.Dense {
	return strucStruc(k, k.pool, &struc1, &struc2)
}

// Hyperparameters returns [sigma].
func (k *NormalizedDotProduct) Hyperparameters() []float64 {
	return []float64{k.sigma}
}

// SetHyperparameters replaces [sigma] and refreshes the cached square.
func (k *NormalizedDotProduct) SetHyperparameters(hyps []float64) error {
	if len(hyps) != 1 {
		return fmt.Errorf("expected 1 hyperparameter, got %d", len(hyps))
	}
	k.sigma = hyps[0]
	k.sig2 = k.sigma * k.sigma
	return nil
}
