package descriptors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewClusterDescriptorComputesEuclideanNorms(t *testing.T) {
	vectors := mat.NewDense(2, 3, []float64{
		3, 4, 0,
		1, 0, 0,
	})
	c, err := NewClusterDescriptor(vectors, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 3, c.Dim())
	assert.InDelta(t, 5.0, c.Norm(0), 1e-14)
	assert.InDelta(t, 1.0, c.Norm(1), 1e-14)
}

func TestNewClusterDescriptorValidation(t *testing.T) {
	_, err := NewClusterDescriptor(nil, nil)
	assert.Error(t, err)

	vectors := mat.NewDense(2, 3, nil)
	_, err = NewClusterDescriptor(vectors, []float64{1.0})
	assert.Error(t, err)
}

func TestClusterDescriptorCopiesInput(t *testing.T) {
	vectors := mat.NewDense(1, 2, []float64{1, 2})
	c, err := NewClusterDescriptor(vectors, []float64{math.Sqrt(5)})
	require.NoError(t, err)

	vectors.Set(0, 0, 99)
	assert.Equal(t, 1.0, c.Environment(0)[0])
}

func TestNewDescriptorValuesValidation(t *testing.T) {
	vectors := mat.NewDense(2, 3, []float64{
		1, 0, 0,
		0, 1, 0,
	})

	_, err := NewDescriptorValues(vectors, nil, 0, nil, nil)
	assert.Error(t, err, "atom count must be positive")

	badForce := [][]DerivEntry{{{Comp: 5, DOF: 0, Coeff: 1}}, nil}
	_, err = NewDescriptorValues(vectors, nil, 2, badForce, nil)
	assert.Error(t, err, "component out of range")

	badDOF := [][]DerivEntry{{{Comp: 0, DOF: 6, Coeff: 1}}, nil}
	_, err = NewDescriptorValues(vectors, nil, 2, badDOF, nil)
	assert.Error(t, err, "force DOF out of range for a 2-atom structure")

	badStress := [][]DerivEntry{nil, {{Comp: 0, DOF: StressComponents, Coeff: 1}}}
	_, err = NewDescriptorValues(vectors, nil, 2, nil, badStress)
	assert.Error(t, err, "stress DOF out of range")

	s, err := NewDescriptorValues(vectors, nil, 2, nil, nil)
	require.NoError(t, err)
	assert.False(t, s.IsZero())
	assert.Equal(t, 2, s.NumEnvs())
	assert.Equal(t, 2, s.NumAtoms())
	assert.Equal(t, 1+6+StressComponents, s.NumLabels())
	assert.Empty(t, s.ForceMap(0))
	assert.Empty(t, s.StressMap(1))
}

func TestDescriptorValuesZeroValue(t *testing.T) {
	var s DescriptorValues
	assert.True(t, s.IsZero())
}

func TestFromStructuresPreservesOrder(t *testing.T) {
	v1 := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 2,
	})
	v2 := mat.NewDense(1, 2, []float64{3, 4})

	s1, err := NewDescriptorValues(v1, nil, 1, nil, nil)
	require.NoError(t, err)
	s2, err := NewDescriptorValues(v2, nil, 1, nil, nil)
	require.NoError(t, err)

	c, err := FromStructures(s1, s2)
	require.NoError(t, err)

	require.Equal(t, 3, c.Len())
	assert.Equal(t, []float64{1, 0}, c.Environment(0))
	assert.Equal(t, []float64{0, 2}, c.Environment(1))
	assert.Equal(t, []float64{3, 4}, c.Environment(2))
	assert.InDelta(t, 5.0, c.Norm(2), 1e-14)
}

func TestFromStructuresRejectsDimMismatch(t *testing.T) {
	s1, err := NewDescriptorValues(mat.NewDense(1, 2, []float64{1, 0}), nil, 1, nil, nil)
	require.NoError(t, err)
	s2, err := NewDescriptorValues(mat.NewDense(1, 3, []float64{1, 0, 0}), nil, 1, nil, nil)
	require.NoError(t, err)

	_, err = FromStructures(s1, s2)
	assert.Error(t, err)
}
