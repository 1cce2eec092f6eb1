package ml

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LinearModel is a fitted ordinary least-squares regression.
type LinearModel struct {
	Features  []string  `json:"features"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// FitLinear fits y ~ X with an intercept. Columns are centered and the
// minimum-norm solution is taken from a thin SVD, so collinear or constant
// columns (e.g. a window inside a single day) still yield a model.
func FitLinear(features []string, x [][]float64, y []float64) (*LinearModel, error) {
	n := len(x)
	if n == 0 {
		return nil, errors.New("fit linear: no samples")
	}
	if len(y) != n {
		return nil, fmt.Errorf("fit linear: %d rows but %d targets", n, len(y))
	}
	p := len(features)

	cols := make([][]float64, p)
	for j := range cols {
		cols[j] = make([]float64, n)
	}
	for i, row := range x {
		if len(row) != p {
			return nil, fmt.Errorf("fit linear: row %d has %d features, want %d", i, len(row), p)
		}
		for j, v := range row {
			cols[j][i] = v
		}
	}

	means := make([]float64, p)
	for j := range cols {
		means[j] = stat.Mean(cols[j], nil)
	}
	yMean := stat.Mean(y, nil)

	a := mat.NewDense(n, p, nil)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			a.Set(i, j, cols[j][i]-means[j])
		}
		b.SetVec(i, y[i]-yMean)
	}

	coef := make([]float64, p)
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("fit linear: svd factorization failed")
	}
	rcond := math.Nextafter(1, 2) - 1
	rank := svd.Rank(rcond * float64(max(n, p)))
	if rank > 0 {
		var beta mat.VecDense
		svd.SolveVecTo(&beta, b, rank)
		for j := range coef {
			coef[j] = beta.AtVec(j)
		}
	}

	intercept := yMean
	for j := range coef {
		intercept -= coef[j] * means[j]
	}

	return &LinearModel{
		Features:  slices.Clone(features),
		Coef:      coef,
		Intercept: intercept,
	}, nil
}

// CheckSchema returns an error unless the model was fitted on features.
func (m *LinearModel) CheckSchema(features []string) error {
	if !slices.Equal(m.Features, features) {
		return fmt.Errorf("feature schema mismatch: model %v, input %v", m.Features, features)
	}
	if len(m.Coef) != len(features) {
		return fmt.Errorf("model has %d coefficients for %d features", len(m.Coef), len(features))
	}
	return nil
}

// Predict applies the model to each row.
func (m *LinearModel) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(m.Coef) {
			return nil, fmt.Errorf("predict: row %d has %d features, want %d", i, len(row), len(m.Coef))
		}
		v := m.Intercept
		for j, c := range m.Coef {
			v += c * row[j]
		}
		out[i] = v
	}
	return out, nil
}

// MeanSquaredError returns the mean of squared residuals.
func MeanSquaredError(want, got []float64) float64 {
	if len(want) == 0 || len(want) != len(got) {
		return math.NaN()
	}
	var sum float64
	for i := range want {
		d := want[i] - got[i]
		sum += d * d
	}
	return sum / float64(len(want))
}
