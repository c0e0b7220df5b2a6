package kernels

import (
	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/GRANITE/internal/covariance/descriptors"
)

// profile is the scalar form of a normalized-descriptor kernel: the kernel
// value and its first two derivatives as functions of the normalized dot
// product u = d1.d2 / (|d1||d2|). The chain-rule assembly below is shared by
// every kernel family through this interface.
type profile interface {
	value(u float64) float64
	slope(u float64) float64
	curvature(u float64) float64
}

// normalizedDot returns d1.d2 / (n1*n2).
func normalizedDot(d1, d2 []float64, n1, n2 float64) float64 {
	dot := 0.0
	for i := range d1 {
		dot += d1[i] * d2[i]
	}
	return dot / (n1 * n2)
}

// sideDeriv returns du/d(d1[comp]) with the norms treated as the Euclidean
// norms of the vectors: d2[comp]/(n1*n2) - u*d1[comp]/n1^2.
func sideDeriv(d1, d2 []float64, n1, n2, u float64, comp int) float64 {
	return d2[comp]/(n1*n2) - u*d1[comp]/(n1*n1)
}

// gramMatrix computes the m x n covariance block between two clusters.
func gramMatrix(p profile, envs1, envs2 *descriptors.ClusterDescriptor) *mat.Dense {
	m, n := envs1.Len(), envs2.Len()
	out := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		d1, n1 := envs1.Environment(i), envs1.Norm(i)
		for j := 0; j < n; j++ {
			u := normalizedDot(d1, envs2.Environment(j), n1, envs2.Norm(j))
			out.Set(i, j, p.value(u))
		}
	}
	return out
}

// envsStruc assembles the (1+3A+6) x m block between one structure's labels
// and each environment of a cluster. Row 0 sums the raw kernel over the
// structure's local environments; force rows carry the negative chain-ruled
// derivative (force = -dE/dx); stress rows apply the stress map as stored.
func envsStruc(p profile, envs *descriptors.ClusterDescriptor, struc *descriptors.DescriptorValues) *mat.Dense {
	cols := envs.Len()
	stressBase := 1 + 3*struc.NumAtoms()
	out := mat.NewDense(struc.NumLabels(), cols, nil)
	for j := 0; j < cols; j++ {
		d2, n2 := envs.Environment(j), envs.Norm(j)
		for e := 0; e < struc.NumEnvs(); e++ {
			d1, n1 := struc.Environment(e), struc.Norm(e)
			u := normalizedDot(d1, d2, n1, n2)
			out.Set(0, j, out.At(0, j)+p.value(u))
			kp := p.slope(u)
			for _, entry := range struc.ForceMap(e) {
				g := kp * sideDeriv(d1, d2, n1, n2, u, entry.Comp) * entry.Coeff
				row := 1 + entry.DOF
				out.Set(row, j, out.At(row, j)-g)
			}
			for _, entry := range struc.StressMap(e) {
				g := kp * sideDeriv(d1, d2, n1, n2, u, entry.Comp) * entry.Coeff
				row := stressBase + entry.DOF
				out.Set(row, j, out.At(row, j)+g)
			}
		}
	}
	return out
}

// labelEntry is one chain-rule contribution flattened to its output row or
// column: force entries land at 1+DOF with sign -1, stress entries at
// stressBase+DOF with sign +1.
type labelEntry struct {
	index int
	comp  int
	coeff float64
	sign  float64
}

func labelEntries(s *descriptors.DescriptorValues) [][]labelEntry {
	stressBase := 1 + 3*s.NumAtoms()
	out := make([][]labelEntry, s.NumEnvs())
	for e := range out {
		fm, sm := s.ForceMap(e), s.StressMap(e)
		entries := make([]labelEntry, 0, len(fm)+len(sm))
		for _, entry := range fm {
			entries = append(entries, labelEntry{index: 1 + entry.DOF, comp: entry.Comp, coeff: entry.Coeff, sign: -1})
		}
		for _, entry := range sm {
			entries = append(entries, labelEntry{index: stressBase + entry.DOF, comp: entry.Comp, coeff: entry.Coeff, sign: 1})
		}
		out[e] = entries
	}
	return out
}

// strucStruc assembles the full (1+3A1+6) x (1+3A2+6) cross-covariance
// matrix by double chain-rule application, once per side. The pairwise
// kernel profile over all environment pairs is materialized once in pooled
// scratch matrices and reused by every derivative block.
func strucStruc(p profile, pool *MatrixPool, s1, s2 *descriptors.DescriptorValues) *mat.Dense {
	m1, m2 := s1.NumEnvs(), s2.NumEnvs()
	out := mat.NewDense(s1.NumLabels(), s2.NumLabels(), nil)

	uMat := pool.GetDense(m1, m2)
	kpMat := pool.GetDense(m1, m2)
	kppMat := pool.GetDense(m1, m2)
	defer pool.PutDense(uMat)
	defer pool.PutDense(kpMat)
	defer pool.PutDense(kppMat)

	for i := 0; i < m1; i++ {
		d1, n1 := s1.Environment(i), s1.Norm(i)
		for j := 0; j < m2; j++ {
			u := normalizedDot(d1, s2.Environment(j), n1, s2.Norm(j))
			uMat.Set(i, j, u)
			kpMat.Set(i, j, p.slope(u))
			kppMat.Set(i, j, p.curvature(u))
			out.Set(0, 0, out.At(0, 0)+p.value(u))
		}
	}

	labels1 := labelEntries(s1)
	labels2 := labelEntries(s2)

	for e1 := 0; e1 < m1; e1++ {
		d1, n1 := s1.Environment(e1), s1.Norm(e1)
		for e2 := 0; e2 < m2; e2++ {
			d2, n2 := s2.Environment(e2), s2.Norm(e2)
			u := uMat.At(e1, e2)
			kp := kpMat.At(e1, e2)
			kpp := kppMat.At(e1, e2)
			invN12 := 1 / (n1 * n2)
			invN1sq := 1 / (n1 * n1)
			invN2sq := 1 / (n2 * n2)

			for _, le2 := range labels2[e2] {
				b := sideDeriv(d2, d1, n2, n1, u, le2.comp)
				out.Set(0, le2.index, out.At(0, le2.index)+le2.sign*le2.coeff*kp*b)
			}
			for _, le1 := range labels1[e1] {
				a := sideDeriv(d1, d2, n1, n2, u, le1.comp)
				out.Set(le1.index, 0, out.At(le1.index, 0)+le1.sign*le1.coeff*kp*a)

				for _, le2 := range labels2[e2] {
					b := sideDeriv(d2, d1, n2, n1, u, le2.comp)
					// d2u/(d d1_p d d2_q) = delta_pq/(n1 n2) - a*d2_q/n2^2
					//   - b*d1_p/n1^2 - u*d1_p*d2_q/(n1^2 n2^2)
					cross := -a*d2[le2.comp]*invN2sq - b*d1[le1.comp]*invN1sq -
						u*d1[le1.comp]*d2[le2.comp]*invN1sq*invN2sq
					if le1.comp == le2.comp {
						cross += invN12
					}
					h := kpp*a*b + kp*cross
					v := le1.sign * le2.sign * le1.coeff * le2.coeff * h
					out.Set(le1.index, le2.index, out.At(le1.index, le2.index)+v)
				}
			}
		}
	}
	return out
}

// selfKernel extracts the structure's self-covariance vector as the diagonal
// of the full structure-structure assembly, so the two stay consistent by
// construction.
func selfKernel(p profile, pool *MatrixPool, s *descriptors.DescriptorValues) *mat.VecDense {
	full := strucStruc(p, pool, s, s)
	n := s.NumLabels()
	diag := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		diag.SetVec(i, full.At(i, i))
	}
	return diag
}
