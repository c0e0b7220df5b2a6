// Package kernels implements covariance functions between atomic-environment
// descriptors for Gaussian Process regression of interatomic potentials.
// Every kernel family exposes the same fixed capability set; the family is
// selected by name at configuration time.
package kernels

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/GRANITE/internal/covariance/descriptors"
)

// Kernel is the contract shared by all compact kernel families.
//
// All evaluation methods are pure: they never mutate their inputs and every
// call returns freshly owned output. Rows and columns correspond 1:1, in
// order, to the environments or structure labels passed in. None of the
// methods is safe to call concurrently with SetHyperparameters on the same
// instance; callers serialize mutation against evaluation.
type Kernel interface {
	// EnvsEnvs returns the m x n covariance block between two environment
	// clusters.
	EnvsEnvs(envs1, envs2 *descriptors.ClusterDescriptor) *mat.Dense

	// EnvsEnvsGrad returns the analytic derivative of each entry of Kuu
	// with respect to each hyperparameter, stacked vertically: block h
	// occupies rows [h*m, (h+1)*m) in hyperparameter order. Kuu must have
	// been produced by EnvsEnvs on the same clusters under the current
	// hyperparameters; a stale Kuu silently yields wrong numbers.
	EnvsEnvsGrad(envs1, envs2 *descriptors.ClusterDescriptor, Kuu mat.Matrix) *mat.Dense

	// EnvsStruc returns the (1+3A+6) x m block of covariances between the
	// structure's energy, force and stress labels and each environment of
	// the cluster.
	EnvsStruc(envs *descriptors.ClusterDescriptor, struc *descriptors.DescriptorValues) *mat.Dense

	// SelfKernelStruc returns the length 1+3A+6 self-covariance vector of
	// one structure, equal to the diagonal of StrucStruc(struc, struc).
	SelfKernelStruc(struc descriptors.DescriptorValues) *mat.VecDense

	// StrucStruc returns the full (1+3A1+6) x (1+3A2+6) cross-covariance
	// matrix between two structures' label sets.
	StrucStruc(struc1, struc2 descriptors.DescriptorValues) *mat.Dense

	// Hyperparameters returns the current hyperparameter vector.
	Hyperparameters() []float64

	// SetHyperparameters replaces the hyperparameter vector and refreshes
	// any cached derived quantities. Only the vector length is validated;
	// degenerate values (zero or negative length scale) are accepted and
	// propagate as Inf/NaN into later evaluations.
	SetHyperparameters(hyps []float64) error
}

// New selects a kernel family by name. Hyperparameters are ordered as the
// family documents them: [sigma, ls] for squared_exponential, [sigma] for
// normalized_dot_product.
func New(name string, hyps []float64) (Kernel, error) {
	switch name {
	case "squared_exponential":
		if len(hyps) != 2 {
			return nil, fmt.Errorf("squared_exponential expects 2 hyperparameters, got %d", len(hyps))
		}
		return NewSquaredExponential(hyps[0], hyps[1]), nil
	case "normalized_dot_product":
		if len(hyps) != 1 {
			return nil, fmt.Errorf("normalized_dot_product expects 1 hyperparameter, got %d", len(hyps))
		}
		return NewNormalizedDotProduct(hyps[0]), nil
	default:
		return nil, fmt.Errorf("unknown kernel %q", name)
	}
}
