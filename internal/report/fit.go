package report

import (
	"fmt"
	"math"
)

// Fit is a least-squares quadratic model y ≈ Alpha·x + Beta·x² + C.
type Fit struct {
	Alpha float64
	Beta  float64
	C     float64
	// R2 is the coefficient of determination over the fitted points.
	R2 float64
	// N is the number of points used; NaN samples are dropped.
	N int
}

func (f Fit) String() string {
	return fmt.Sprintf("y = %.6g*x + %.6g*x^2 + %.6g (R2=%.4f, n=%d)", f.Alpha, f.Beta, f.C, f.R2, f.N)
}

// FitQuadratic solves the normal equations for y ≈ αx + βx² + c over the
// given samples. Pairs where either coordinate is NaN are skipped. At least
// three distinct x values are required.
func FitQuadratic(xs, ys []float64) (Fit, error) {
	if len(xs) != len(ys) {
		return Fit{}, fmt.Errorf("fit: %d x values vs %d y values", len(xs), len(ys))
	}

	var fx, fy []float64
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		fx = append(fx, xs[i])
		fy = append(fy, ys[i])
	}
	if distinct(fx) < 3 {
		return Fit{}, fmt.Errorf("fit: need at least 3 distinct x values, have %d", distinct(fx))
	}

	// Accumulate the moments for the 3x3 normal system in unknowns
	// (alpha, beta, c).
	var sx, sx2, sx3, sx4, sy, sxy, sx2y float64
	n := float64(len(fx))
	for i := range fx {
		x, y := fx[i], fy[i]
		x2 := x * x
		sx += x
		sx2 += x2
		sx3 += x2 * x
		sx4 += x2 * x2
		sy += y
		sxy += x * y
		sx2y += x2 * y
	}

	a := [3][4]float64{
		{sx2, sx3, sx, sxy},
		{sx3, sx4, sx2, sx2y},
		{sx, sx2, n, sy},
	}
	sol, err := solve3(a)
	if err != nil {
		return Fit{}, err
	}

	fit := Fit{Alpha: sol[0], Beta: sol[1], C: sol[2], N: len(fx)}

	mean := sy / n
	var ssTot, ssRes float64
	for i := range fx {
		pred := fit.Alpha*fx[i] + fit.Beta*fx[i]*fx[i] + fit.C
		ssRes += (fy[i] - pred) * (fy[i] - pred)
		ssTot += (fy[i] - mean) * (fy[i] - mean)
	}
	if ssTot > 0 {
		fit.R2 = 1 - ssRes/ssTot
	} else {
		fit.R2 = 1
	}
	return fit, nil
}

// solve3 does Gaussian elimination with partial pivoting on a 3x4
// augmented matrix.
func solve3(a [3][4]float64) ([3]float64, error) {
	for col := 0; col < 3; col++ {
		pivot := col
		for row := col + 1; row < 3; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [3]float64{}, fmt.Errorf("fit: singular system (degenerate x values)")
		}
		a[col], a[pivot] = a[pivot], a[col]
		for row := 0; row < 3; row++ {
			if row == col {
				continue
			}
			factor := a[row][col] / a[col][col]
			for k := col; k < 4; k++ {
				a[row][k] -= factor * a[col][k]
			}
		}
	}
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = a[i][3] / a[i][i]
	}
	return out, nil
}

func distinct(xs []float64) int {
	seen := make(map[float64]struct{}, len(xs))
	for _, x := range xs {
		seen[x] = struct{}{}
	}
	return len(seen)
}
