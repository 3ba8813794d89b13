package predict

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// Linear is a linear model on standardized inputs.
type Linear struct {
	Mean      []float64 `json:"mean"`
	Scale     []float64 `json:"scale"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func (m *Linear) Eval(x []float64) float64 {
	ret := m.Intercept
	for j := range m.Coef {
		ret += m.Coef[j] * (x[j] - m.Mean[j]) / m.Scale[j]
	}
	return ret
}

// fitRidge solves (ZᵀZ + λI)β = Zᵀ(y - ȳ) on standardized columns Z.
// With nonNeg set, columns with negative coefficients are removed from the
// active set and the rest is refitted until all coefficients are >= 0.
func fitRidge(x [][]float64, y []float64, lambda float64, nonNeg bool) (*Linear, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("ridge: %d rows, %d targets: %w", n, len(y), model.ErrInsufficientData)
	}
	p := len(x[0])
	ret := &Linear{
		Mean:      make([]float64, p),
		Scale:     make([]float64, p),
		Coef:      make([]float64, p),
		Intercept: stat.Mean(y, nil),
	}
	z := mat.NewDense(n, p, nil)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			col[i] = x[i][j]
		}
		mean, sd := stat.MeanStdDev(col, nil)
		if sd == 0 || n < 2 {
			sd = 1
		}
		ret.Mean[j], ret.Scale[j] = mean, sd
		for i := 0; i < n; i++ {
			z.Set(i, j, (col[i]-mean)/sd)
		}
	}
	yc := mat.NewVecDense(n, nil)
	for i := range y {
		yc.SetVec(i, y[i]-ret.Intercept)
	}

	active := make([]int, p)
	for j := range active {
		active[j] = j
	}
	for len(active) > 0 {
		beta, err := solveActive(z, yc, active, lambda)
		if err != nil {
			return nil, err
		}
		keep := make([]int, 0, len(active))
		for k, j := range active {
			if nonNeg && beta[k] < 0 {
				continue
			}
			keep = append(keep, j)
		}
		if len(keep) == len(active) {
			for k, j := range active {
				ret.Coef[j] = beta[k]
			}
			break
		}
		active = keep
	}
	return ret, nil
}

func solveActive(z *mat.Dense, yc *mat.VecDense, active []int, lambda float64) ([]float64, error) {
	n, _ := z.Dims()
	k := len(active)
	sub := mat.NewDense(n, k, nil)
	for c, j := range active {
		for i := 0; i < n; i++ {
			sub.Set(i, c, z.At(i, j))
		}
	}
	var a mat.Dense
	a.Mul(sub.T(), sub)
	for i := 0; i < k; i++ {
		a.Set(i, i, a.At(i, i)+lambda)
	}
	b := mat.NewVecDense(k, nil)
	b.MulVec(sub.T(), yc)
	var beta mat.VecDense
	if err := beta.SolveVec(&a, b); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}
	ret := make([]float64, k)
	for i := range ret {
		ret[i] = beta.AtVec(i)
	}
	return ret, nil
}
