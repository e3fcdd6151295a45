// Package ratemodel fits a correlated-noise regression model to sparse,
// irregularly-timed rate observations.
//
// The model treats the true rate as a stationary Gaussian process around a
// constant prior rate, with marginal variance given by the prior uncertainty
// and a squared-exponential correlation over time:
//
//	k(a, b) = sigma0² · exp(−(a−b)² / (2·tcorr²))
//
// Each observation carries its own 1-sigma measurement error, which enters
// the fit as independent noise on the Gram matrix diagonal. With zero
// observations the posterior degenerates gracefully to the flat prior.
//
// A fitted Model is an immutable value: Fit is a pure function of the full
// observation set plus the prior, so refitting after every new observation
// is order-independent and trivially replayable. Observations need not be
// time-sorted and duplicate times are legal (the per-point noise keeps the
// Gram matrix positive definite).
package ratemodel

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned when the posterior covariance cannot be
// factorized for sampling even after diagonal regularization.
var ErrNotPositiveDefinite = errors.New("ratemodel: posterior covariance not positive definite")

// Prior describes the pre-observation belief about a rate channel.
type Prior struct {
	// Rate is the expected rate before any observations. Must be > 0.
	Rate float64

	// Sigma is the 1-sigma uncertainty on Rate. Must be > 0.
	Sigma float64

	// Tcorr is the correlation timescale in seconds: how far in time an
	// observation's influence extends. Must be > 0.
	Tcorr float64
}

// Validate checks that all prior parameters are strictly positive.
func (p Prior) Validate() error {
	if !(p.Rate > 0) {
		return fmt.Errorf("prior rate must be > 0, got %v", p.Rate)
	}
	if !(p.Sigma > 0) {
		return fmt.Errorf("prior sigma must be > 0, got %v", p.Sigma)
	}
	if !(p.Tcorr > 0) {
		return fmt.Errorf("prior correlation time must be > 0, got %v", p.Tcorr)
	}
	return nil
}

// Model is a fitted rate model. The zero value is not usable; obtain one
// from Fit. A Model holds no mutable state and is safe for concurrent reads.
type Model struct {
	prior Prior

	// times holds the fitted observation times. Empty for a prior-only fit.
	times []float64

	chol    mat.Cholesky  // factorization of K(times, times) + diag(sigma²)
	weights *mat.VecDense // (K + diag(sigma²))⁻¹ · (rate − prior.Rate)
}

// Fit produces a model from parallel observation slices (elapsed time,
// rate value, 1-sigma error) and a prior. The slices must have equal length
// and may be empty; every error must be strictly positive.
func Fit(dt, rate, sigma []float64, prior Prior) (*Model, error) {
	if err := prior.Validate(); err != nil {
		return nil, err
	}
	if len(dt) != len(rate) || len(dt) != len(sigma) {
		return nil, fmt.Errorf("observation slices must have equal length, got %d/%d/%d",
			len(dt), len(rate), len(sigma))
	}

	m := &Model{prior: prior}
	k := len(dt)
	if k == 0 {
		return m, nil
	}

	for i, s := range sigma {
		if !(s > 0) {
			return nil, fmt.Errorf("observation %d: error must be > 0, got %v", i, s)
		}
	}

	m.times = append([]float64(nil), dt...)

	gram := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := m.kernel(m.times[i], m.times[j])
			if i == j {
				v += sigma[i] * sigma[i]
			}
			gram.SetSym(i, j, v)
		}
	}
	if ok := m.chol.Factorize(gram); !ok {
		// Cannot happen with per-point noise > 0 on the diagonal, but a
		// broken factorization must not be silently fitted.
		return nil, fmt.Errorf("ratemodel: observation gram matrix not positive definite")
	}

	resid := mat.NewVecDense(k, nil)
	for i := 0; i < k; i++ {
		resid.SetVec(i, rate[i]-prior.Rate)
	}
	m.weights = mat.NewVecDense(k, nil)
	if err := m.chol.SolveVecTo(m.weights, resid); err != nil {
		return nil, fmt.Errorf("ratemodel: solving for weights: %w", err)
	}
	return m, nil
}

// Prior returns the prior the model was fitted against.
func (m *Model) Prior() Prior { return m.prior }

// NumObs returns the number of fitted observations.
func (m *Model) NumObs() int { return len(m.times) }

func (m *Model) kernel(a, b float64) float64 {
	d := (a - b) / m.prior.Tcorr
	return m.prior.Sigma * m.prior.Sigma * math.Exp(-0.5*d*d)
}

// Predict evaluates the posterior mean and 1-sigma uncertainty at the given
// times. The returned slices have the same length as grid.
func (m *Model) Predict(grid []float64) (mean, sigma []float64) {
	mean = make([]float64, len(grid))
	sigma = make([]float64, len(grid))
	if len(m.times) == 0 {
		for i := range grid {
			mean[i] = m.prior.Rate
			sigma[i] = m.prior.Sigma
		}
		return mean, sigma
	}

	k := len(m.times)
	cross := mat.NewVecDense(k, nil)
	solved := mat.NewVecDense(k, nil)
	for i, t := range grid {
		for j, tj := range m.times {
			cross.SetVec(j, m.kernel(t, tj))
		}
		mean[i] = m.prior.Rate + mat.Dot(cross, m.weights)

		// Posterior variance: k(t,t) − k*ᵀ (K+Σ)⁻¹ k*. Clamp the tiny
		// negative values that floating-point cancellation can produce.
		if err := m.chol.SolveVecTo(solved, cross); err != nil {
			// Factorization already succeeded in Fit; solve cannot fail.
			panic(fmt.Sprintf("ratemodel: solve after successful factorization: %v", err))
		}
		v := m.kernel(t, t) - mat.Dot(cross, solved)
		if v < 0 {
			v = 0
		}
		sigma[i] = math.Sqrt(v)
	}
	return mean, sigma
}

// posterior returns the joint posterior mean vector and covariance matrix
// over the given times.
func (m *Model) posterior(grid []float64) ([]float64, *mat.SymDense) {
	n := len(grid)
	mean := make([]float64, n)
	cov := mat.NewSymDense(n, nil)

	if len(m.times) == 0 {
		for i := range grid {
			mean[i] = m.prior.Rate
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				cov.SetSym(i, j, m.kernel(grid[i], grid[j]))
			}
		}
		return mean, cov
	}

	k := len(m.times)
	cross := mat.NewDense(n, k, nil)
	for i, t := range grid {
		for j, tj := range m.times {
			cross.Set(i, j, m.kernel(t, tj))
		}
	}

	// mean = prior + Ks·w, cov = Kss − Ks·(K+Σ)⁻¹·Ksᵀ
	for i := 0; i < n; i++ {
		mean[i] = m.prior.Rate + mat.Dot(cross.RowView(i), m.weights)
	}
	solved := mat.NewDense(k, n, nil)
	if err := m.chol.SolveTo(solved, cross.T()); err != nil {
		panic(fmt.Sprintf("ratemodel: solve after successful factorization: %v", err))
	}
	var reduction mat.Dense
	reduction.Mul(cross, solved)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, m.kernel(grid[i], grid[j])-0.5*(reduction.At(i, j)+reduction.At(j, i)))
		}
	}
	return mean, cov
}

// Sample draws n independent joint sample paths of the rate over the given
// times, consistent with the posterior mean and covariance. The result has
// one row per sample and one column per grid time. The caller provides the
// random source so sampling stays reproducible.
//
// The posterior covariance is only guaranteed positive semidefinite (a
// prior-only model with a long correlation time is nearly rank one), so the
// factorization retries with escalating diagonal jitter before giving up.
func (m *Model) Sample(grid []float64, n int, rng *rand.Rand) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("ratemodel: sample count must be > 0, got %d", n)
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("ratemodel: sample grid must not be empty")
	}

	mean, cov := m.posterior(grid)
	dim := len(grid)

	var chol mat.Cholesky
	amp2 := m.prior.Sigma * m.prior.Sigma
	jitter := 0.0
	factorized := false
	for _, scale := range []float64{0, 1e-12, 1e-10, 1e-8, 1e-6} {
		jitter = scale * amp2
		if scale > 0 {
			for i := 0; i < dim; i++ {
				cov.SetSym(i, i, cov.At(i, i)+jitter)
			}
		}
		if chol.Factorize(cov) {
			factorized = true
			break
		}
	}
	if !factorized {
		return nil, ErrNotPositiveDefinite
	}

	var lower mat.TriDense
	chol.LTo(&lower)

	out := mat.NewDense(n, dim, nil)
	z := mat.NewVecDense(dim, nil)
	path := mat.NewVecDense(dim, nil)
	for s := 0; s < n; s++ {
		for i := 0; i < dim; i++ {
			z.SetVec(i, rng.NormFloat64())
		}
		path.MulVec(&lower, z)
		for i := 0; i < dim; i++ {
			out.Set(s, i, mean[i]+path.AtVec(i))
		}
	}
	return out, nil
}
