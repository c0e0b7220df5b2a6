// Package descriptors holds the data containers the covariance kernels
// consume: per-environment descriptor vectors, their normalization factors,
// and the sparse chain-rule maps that attribute descriptor-space derivatives
// to force and stress degrees of freedom. Descriptor construction itself
// (featurization, neighbor lists, cutoffs) happens upstream; these types only
// carry the results.
package descriptors

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// StressComponents is the number of independent components of the symmetric
// 3x3 stress tensor.
const StressComponents = 6

// DerivEntry ties one descriptor component to one degree of freedom of the
// owning structure. Coeff is the partial derivative of the descriptor
// component with respect to that degree of freedom.
type DerivEntry struct {
	// Comp is the descriptor component index.
	Comp int
	// DOF is the target degree of freedom: 3*atom+axis for force maps,
	// 0..5 for stress maps.
	DOF int
	// Coeff is the chain-rule coefficient.
	Coeff float64
}

// ClusterDescriptor is an ordered, stably indexed collection of environment
// descriptors drawn from one or more structures. It is immutable once
// constructed and is read-only from the kernels' perspective.
type ClusterDescriptor struct {
	vectors *mat.Dense
	norms   []float64
}

// NewClusterDescriptor builds a cluster from an m x d matrix whose rows are
// environment descriptors. norms supplies one normalization scalar per row;
// pass nil to use the Euclidean norms of the rows.
func NewClusterDescriptor(vectors *mat.Dense, norms []float64) (*ClusterDescriptor, error) {
	if vectors == nil {
		return nil, errors.New("descriptor matrix must not be nil")
	}
	m, d := vectors.Dims()
	if m == 0 || d == 0 {
		return nil, errors.New("descriptor matrix must not be empty")
	}
	if norms == nil {
		norms = rowNorms(vectors)
	}
	if len(norms) != m {
		return nil, fmt.Errorf("norm count %d does not match environment count %d", len(norms), m)
	}
	return &ClusterDescriptor{vectors: mat.DenseCopyOf(vectors), norms: append([]float64(nil), norms...)}, nil
}

// FromStructures collects every local environment of the given structures
// into one cluster, preserving structure order and within-structure order.
func FromStructures(strucs ...DescriptorValues) (*ClusterDescriptor, error) {
	if len(strucs) == 0 {
		return nil, errors.New("at least one structure is required")
	}
	dim := strucs[0].Dim()
	total := 0
	for _, s := range strucs {
		if s.Dim() != dim {
			return nil, fmt.Errorf("descriptor length mismatch: %d vs %d", s.Dim(), dim)
		}
		total += s.NumEnvs()
	}
	vectors := mat.NewDense(total, dim, nil)
	norms := make([]float64, 0, total)
	row := 0
	for _, s := range strucs {
		for e := 0; e < s.NumEnvs(); e++ {
			vectors.SetRow(row, s.Environment(e))
			norms = append(norms, s.Norm(e))
			row++
		}
	}
	return &ClusterDescriptor{vectors: vectors, norms: norms}, nil
}

// Len returns the number of environments in the cluster.
func (c *ClusterDescriptor) Len() int {
	m, _ := c.vectors.Dims()
	return m
}

// Dim returns the descriptor length.
func (c *ClusterDescriptor) Dim() int {
	_, d := c.vectors.Dims()
	return d
}

// Environment returns the descriptor vector of environment i. The returned
// slice aliases internal storage and must not be modified.
func (c *ClusterDescriptor) Environment(i int) []float64 {
	return c.vectors.RawRowView(i)
}

// Norm returns the normalization scalar of environment i.
func (c *ClusterDescriptor) Norm(i int) float64 {
	return c.norms[i]
}

// DescriptorValues is one structure's full descriptor set: a descriptor
// vector for every local environment, per-environment normalization factors,
// the atom count, and the sparse chain-rule maps from descriptor components
// to the structure's 3A force components and 6 stress components.
//
// The type has value semantics: kernel operations that take it by value may
// work on local copies without observable effect on the caller's original.
type DescriptorValues struct {
	vectors    *mat.Dense
	norms      []float64
	numAtoms   int
	forceMaps  [][]DerivEntry
	stressMaps [][]DerivEntry
}

// NewDescriptorValues builds a structure descriptor set. vectors is n x d
// with one row per local environment, norms is per-row (nil for Euclidean
// norms), and forceMaps/stressMaps give the chain-rule attribution of each
// environment's descriptor components. Force DOF indices must lie in
// [0, 3*numAtoms), stress DOF indices in [0, 6). Either map may be nil for
// an environment with no derivative contributions.
func NewDescriptorValues(vectors *mat.Dense, norms []float64, numAtoms int, forceMaps, stressMaps [][]DerivEntry) (DescriptorValues, error) {
	if vectors == nil {
		return DescriptorValues{}, errors.New("descriptor matrix must not be nil")
	}
	n, d := vectors.Dims()
	if n == 0 || d == 0 {
		return DescriptorValues{}, errors.New("descriptor matrix must not be empty")
	}
	if numAtoms <= 0 {
		return DescriptorValues{}, fmt.Errorf("atom count must be positive, got %d", numAtoms)
	}
	if norms == nil {
		norms = rowNorms(vectors)
	}
	if len(norms) != n {
		return DescriptorValues{}, fmt.Errorf("norm count %d does not match environment count %d", len(norms), n)
	}
	if forceMaps != nil && len(forceMaps) != n {
		return DescriptorValues{}, fmt.Errorf("force map count %d does not match environment count %d", len(forceMaps), n)
	}
	if stressMaps != nil && len(stressMaps) != n {
		return DescriptorValues{}, fmt.Errorf("stress map count %d does not match environment count %d", len(stressMaps), n)
	}
	if err := checkMaps(forceMaps, d, 3*numAtoms, "force"); err != nil {
		return DescriptorValues{}, err
	}
	if err := checkMaps(stressMaps, d, StressComponents, "stress"); err != nil {
		return DescriptorValues{}, err
	}
	if forceMaps == nil {
		forceMaps = make([][]DerivEntry, n)
	}
	if stressMaps == nil {
		stressMaps = make([][]DerivEntry, n)
	}
	return DescriptorValues{
		vectors:    mat.DenseCopyOf(vectors),
		norms:      append([]float64(nil), norms...),
		numAtoms:   numAtoms,
		forceMaps:  forceMaps,
		stressMaps: stressMaps,
	}, nil
}

// IsZero reports whether v is the zero value rather than a constructed
// descriptor set.
func (v DescriptorValues) IsZero() bool { return v.vectors == nil }

// NumEnvs returns the number of local environments in the structure.
func (v DescriptorValues) NumEnvs() int {
	n, _ := v.vectors.Dims()
	return n
}

// Dim returns the descriptor length.
func (v DescriptorValues) Dim() int {
	_, d := v.vectors.Dims()
	return d
}

// NumAtoms returns the structure's atom count.
func (v DescriptorValues) NumAtoms() int { return v.numAtoms }

// NumLabels returns the label count 1+3A+6: one energy, three force
// components per atom, six stress components.
func (v DescriptorValues) NumLabels() int { return 1 + 3*v.numAtoms + StressComponents }

// Environment returns the descriptor vector of local environment i. The
// returned slice aliases internal storage and must not be modified.
func (v DescriptorValues) Environment(i int) []float64 {
	return v.vectors.RawRowView(i)
}

// Norm returns the normalization scalar of local environment i.
func (v DescriptorValues) Norm(i int) float64 { return v.norms[i] }

// ForceMap returns the force chain-rule map of local environment i.
func (v DescriptorValues) ForceMap(i int) []DerivEntry { return v.forceMaps[i] }

// StressMap returns the stress chain-rule map of local environment i.
func (v DescriptorValues) StressMap(i int) []DerivEntry { return v.stressMaps[i] }

func checkMaps(maps [][]DerivEntry, dim, dofs int, kind string) error {
	for e, entries := range maps {
		for _, entry := range entries {
			if entry.Comp < 0 || entry.Comp >= dim {
				return fmt.Errorf("environment %d: %s map component %d out of range [0,%d)", e, kind, entry.Comp, dim)
			}
			if entry.DOF < 0 || entry.DOF >= dofs {
				return fmt.Errorf("environment %d: %s map DOF %d out of range [0,%d)", e, kind, entry.DOF, dofs)
			}
		}
	}
	return nil
}

func rowNorms(m *mat.Dense) []float64 {
	rows, _ := m.Dims()
	norms := make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		sum := 0.0
		for _, x := range row {
			sum += x * x
		}
		norms[i] = math.Sqrt(sum)
	}
	return norms
}
