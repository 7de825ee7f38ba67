package ensemble

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RMSD computes the root-mean-square deviation between two coordinate sets
// after optimal rigid-body superposition (Kabsch algorithm: centering, SVD of
// the covariance matrix, rotation with reflection correction).
//
// Both sets must have identical atom counts; a mismatch is an InputError, not
// a silently skipped pair.
func RMSD(a, b [][3]float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &InputError{Message: fmt.Sprintf("atom count mismatch: %d vs %d", len(a), len(b))}
	}
	if len(a) < 3 {
		return 0, &InputError{Message: fmt.Sprintf("too few atoms for superposition: %d", len(a))}
	}

	n := len(a)
	ca := center(a)
	cb := center(b)

	// Covariance H = ca^T * cb (3x3).
	var h mat.Dense
	h.Mul(ca.T(), cb)

	var svd mat.SVD
	if ok := svd.Factorize(&h, mat.SVDFull); !ok {
		return 0, &InputError{Message: "SVD of covariance matrix failed"}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = U * D * V^T maximizes tr(R^T H); D corrects an improper rotation
	// (reflection) when det(U V^T) < 0.
	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&uvt) < 0 {
		d.SetDiag(2, -1)
	}
	var r mat.Dense
	r.Mul(&u, d)
	r.Mul(&r, v.T())

	// Rotate a onto b and measure.
	var rotated mat.Dense
	rotated.Mul(ca, &r)

	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			diff := rotated.At(i, j) - cb.At(i, j)
			sum += diff * diff
		}
	}
	return math.Sqrt(sum / float64(n)), nil
}

// center returns the coordinates as an n x 3 matrix translated so the centroid
// sits at the origin.
func center(coords [][3]float64) *mat.Dense {
	n := len(coords)
	var cx, cy, cz float64
	for _, c := range coords {
		cx += c[0]
		cy += c[1]
		cz += c[2]
	}
	cx /= float64(n)
	cy /= float64(n)
	cz /= float64(n)

	m := mat.NewDense(n, 3, nil)
	for i, c := range coords {
		m.Set(i, 0, c[0]-cx)
		m.Set(i, 1, c[1]-cy)
		m.Set(i, 2, c[2]-cz)
	}
	return m
}
