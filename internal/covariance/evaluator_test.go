package covariance

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/GRANITE/internal/covariance/descriptors"
	"github.com/quantfold/GRANITE/internal/covariance/kernels"
)

func testEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	return NewEvaluator(kernels.NewSquaredExponential(1.0, 1.0), nil)
}

func TestEvaluatorEnvsEnvs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ev := testEvaluator(t)

	envs := generateRandomCluster(rng, 4, 5)
	K, err := ev.EnvsEnvs(envs, envs)
	require.NoError(t, err)

	r, c := K.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 4, c)
	assertMatEqual(t, K, K.T(), 1e-14)
}

func TestEvaluatorEnvsEnvsValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ev := testEvaluator(t)

	_, err := ev.EnvsEnvs(nil, generateRandomCluster(rng, 2, 3))
	require.Error(t, err)
	_, ok := IsEvaluationError(err)
	assert.True(t, ok)

	_, err = ev.EnvsEnvs(generateRandomCluster(rng, 2, 3), generateRandomCluster(rng, 2, 4))
	assert.Error(t, err, "descriptor length mismatch")
}

func TestEvaluatorEnvsEnvsGradValidatesKuuDims(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ev := testEvaluator(t)

	envs1 := generateRandomCluster(rng, 3, 4)
	envs2 := generateRandomCluster(rng, 5, 4)

	Kuu, err := ev.EnvsEnvs(envs1, envs2)
	require.NoError(t, err)

	grad, err := ev.EnvsEnvsGrad(envs1, envs2, Kuu)
	require.NoError(t, err)
	gr, gc := grad.Dims()
	assert.Equal(t, 6, gr)
	assert.Equal(t, 5, gc)

	_, err = ev.EnvsEnvsGrad(envs1, envs2, mat.NewDense(2, 2, nil))
	assert.Error(t, err)
	_, err = ev.EnvsEnvsGrad(envs1, envs2, nil)
	assert.Error(t, err)
}

func TestEvaluatorStructureOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ev := testEvaluator(t)

	s := generateRandomStructure(rng, 2, 3, 4)
	envs := generateRandomCluster(rng, 3, 4)

	block, err := ev.EnvsStruc(envs, &s)
	require.NoError(t, err)
	r, c := block.Dims()
	assert.Equal(t, s.NumLabels(), r)
	assert.Equal(t, envs.Len(), c)

	self, err := ev.SelfKernelStruc(s)
	require.NoError(t, err)
	full, err := ev.StrucStruc(s, s)
	require.NoError(t, err)
	for i := 0; i < self.Len(); i++ {
		assert.Equal(t, full.At(i, i), self.AtVec(i))
	}
}

func TestEvaluatorStructureValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	ev := testEvaluator(t)

	var empty descriptors.DescriptorValues
	_, err := ev.SelfKernelStruc(empty)
	assert.Error(t, err)

	s := generateRandomStructure(rng, 1, 2, 4)
	_, err = ev.StrucStruc(s, empty)
	assert.Error(t, err)

	other := generateRandomStructure(rng, 1, 2, 5)
	_, err = ev.StrucStruc(s, other)
	assert.Error(t, err, "descriptor length mismatch")

	_, err = ev.EnvsStruc(nil, &s)
	assert.Error(t, err)
}

func TestEvaluatorSetHyperparameters(t *testing.T) {
	ev := testEvaluator(t)

	require.NoError(t, ev.SetHyperparameters([]float64{2.0, 0.5}))
	assert.Equal(t, []float64{2.0, 0.5}, ev.Hyperparameters())

	err := ev.SetHyperparameters([]float64{1.0})
	require.Error(t, err)
	_, ok := IsEvaluationError(err)
	assert.True(t, ok)
}

func TestEvaluatorSerializesMutationAgainstEvaluation(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	ev := testEvaluator(t)
	envs := generateRandomCluster(rng, 5, 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := ev.EnvsEnvs(envs, envs)
				assert.NoError(t, err)
			} else {
				assert.NoError(t, ev.SetHyperparameters([]float64{1.0 + float64(i), 1.0}))
			}
		}(i)
	}
	wg.Wait()
}
