package kernels

import "gonum.org/v1/gonum/mat"

// MatrixPool provides a pool of reusable scratch matrices to reduce
// allocations in the structure assembly loops. Returned matrices have
// unspecified contents; callers overwrite every cell they read.
type MatrixPool struct {
	dense []*mat.Dense
	vecs  []*mat.VecDense
}

// NewMatrixPool creates a new MatrixPool.
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		dense: make([]*mat.Dense, 0, 10),
		vecs:  make([]*mat.VecDense, 0, 10),
	}
}

// GetDense returns an r x c matrix from the pool or creates a new one.
func (p *MatrixPool) GetDense(r, c int) *mat.Dense {
	for len(p.dense) > 0 {
		m := p.dense[len(p.dense)-1]
		p.dense = p.dense[:len(p.dense)-1]
		if mr, mc := m.Dims(); mr == r && mc == c {
			return m
		}
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a dense matrix to the pool.
func (p *MatrixPool) PutDense(m *mat.Dense) {
	p.dense = append(p.dense, m)
}

// GetVecDense returns a length-n vector from the pool or creates a new one.
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	for len(p.vecs) > 0 {
		v := p.vecs[len(p.vecs)-1]
		p.vecs = p.vecs[:len(p.vecs)-1]
		if v.Len() == n {
			return v
		}
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool.
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	p.vecs = append(p.vecs, v)
}
