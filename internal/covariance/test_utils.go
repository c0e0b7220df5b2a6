package covariance

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/GRANITE/internal/covariance/descriptors"
)

// assertMatEqual checks if two matrices are approximately equal.
func assertMatEqual(t *testing.T, got, want mat.Matrix, tol float64) {
	t.Helper()

	rg, cg := got.Dims()
	rw, cw := want.Dims()
	if rg != rw || cg != cw {
		t.Fatalf("matrix dimensions mismatch: got %dx%d, want %dx%d", rg, cg, rw, cw)
	}

	for i := 0; i < rg; i++ {
		for j := 0; j < cg; j++ {
			g := got.At(i, j)
			w := want.At(i, j)
			if math.Abs(g-w) > tol {
				t.Fatalf("at (%d,%d): got %v, want %v (tolerance %v)", i, j, g, w, tol)
			}
		}
	}
}

// generateRandomDescriptors generates a rows x cols descriptor matrix with
// entries in [min, max].
func generateRandomDescriptors(rng *rand.Rand, rows, cols int, min, max float64) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = min + rng.Float64()*(max-min)
	}
	return mat.NewDense(rows, cols, data)
}

// generateRandomCluster builds a cluster of m random environments of
// dimension d with Euclidean norms.
func generateRandomCluster(rng *rand.Rand, m, d int) *descriptors.ClusterDescriptor {
	c, err := descriptors.NewClusterDescriptor(generateRandomDescriptors(rng, m, d, 0.5, 1.5), nil)
	if err != nil {
		panic(err)
	}
	return c
}

// generateRandomStructure builds a structure with the given atom and
// environment counts, random descriptors, and dense-ish random chain-rule
// maps covering every force and stress degree of freedom.
func generateRandomStructure(rng *rand.Rand, numAtoms, numEnvs, d int) descriptors.DescriptorValues {
	vectors := generateRandomDescriptors(rng, numEnvs, d, 0.5, 1.5)
	forceMaps := make([][]descriptors.DerivEntry, numEnvs)
	stressMaps := make([][]descriptors.DerivEntry, numEnvs)
	for e := 0; e < numEnvs; e++ {
		for dof := 0; dof < 3*numAtoms; dof++ {
			forceMaps[e] = append(forceMaps[e], descriptors.DerivEntry{
				Comp: rng.Intn(d), DOF: dof, Coeff: rng.Float64() - 0.5,
			})
		}
		for dof := 0; dof < descriptors.StressComponents; dof++ {
			stressMaps[e] = append(stressMaps[e], descriptors.DerivEntry{
				Comp: rng.Intn(d), DOF: dof, Coeff: rng.Float64() - 0.5,
			})
		}
	}
	s, err := descriptors.NewDescriptorValues(vectors, nil, numAtoms, forceMaps, stressMaps)
	if err != nil {
		panic(err)
	}
	return s
}
