// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Conditioned vectors with a smaller standard deviation than this are
// treated as identically zero. Inputs are standardized, so this is
// well below any real signal.
const degenerateStdDev = 1e-10

// selector holds the read-only inputs of the minP model selection. It
// is shared by all null trials and must not be modified once built.
type selector struct {
	u  *mat.Dense // samples × PCs, orthonormal columns
	m  *mat.Dense // residualization matrix
	r  int
	ks []int
	n  int
}

// condition applies M to z and rescales the result to unit population
// variance. ok is false if the conditioned vector is numerically
// zero, in which case zcond is all zeros.
func (s *selector) condition(z []float64) (zcond *mat.VecDense, ok bool) {
	zcond = mat.NewVecDense(s.n, nil)
	zcond.MulVec(s.m, mat.NewVecDense(len(z), z))
	std := popStdDev(zcond.RawVector().Data)
	if !(std > degenerateStdDev) {
		return mat.NewVecDense(s.n, nil), false
	}
	zcond.ScaleVec(1/std, zcond)
	return zcond, true
}

// minpStats fits every candidate model size to the conditioned z and
// returns the size with the smallest F-test p-value, along with that
// p-value and R². Ties go to the smaller model.
func (s *selector) minpStats(z []float64) (k int, p, r2 float64) {
	zcond, ok := s.condition(z)
	if !ok {
		return s.ks[0], 1, 0
	}
	p = math.Inf(1)
	for _, kk := range s.ks {
		zhat, _ := regress(s.u, zcond, kk)
		pk, r2k := fitStats(zhat, zcond, kk, s.n, s.r)
		if math.IsNaN(pk) {
			pk = 1
		}
		if pk < p {
			k, p, r2 = kk, pk, r2k
		}
	}
	return k, p, r2
}

// nullStats runs minpStats on each column of nullY, using up to
// threads goroutines. Each trial writes only its own slot of the
// returned slices.
func (s *selector) nullStats(ctx context.Context, nullY *mat.Dense, threads int) (ps, r2s []float64, err error) {
	_, nnull := nullY.Dims()
	ps = make([]float64, nnull)
	r2s = make([]float64, nnull)
	thr := throttle{Max: threads}
	for i := 0; i < nnull; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		thr.Go(func() error {
			_, ps[i], r2s[i] = s.minpStats(mat.Col(nil, i, nullY))
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return ps, r2s, nil
}

// defaultKs returns the candidate model sizes used when none are
// given: steps of 2% of n, up to 4 steps or n/5.
func defaultKs(n int) []int {
	incr := int(0.02 * float64(n))
	if incr < 1 {
		incr = 1
	}
	maxnpcs := 4 * incr
	if n/5 < maxnpcs {
		maxnpcs = n / 5
	}
	var ks []int
	for k := incr; k <= maxnpcs; k += incr {
		ks = append(ks, k)
	}
	return ks
}

// checkKs returns an error unless ks is a usable set of candidate
// model sizes for n samples, npcs available PCs and r covariate
// degrees of freedom.
func checkKs(ks []int, npcs, n, r int) error {
	if len(ks) == 0 {
		return fmt.Errorf("%w: no candidate model sizes for %d samples; provide ks explicitly", ErrInvalidKs, n)
	}
	for i, k := range ks {
		if k < 1 {
			return fmt.Errorf("%w: model size %d is not positive", ErrInvalidKs, k)
		}
		if i > 0 && k <= ks[i-1] {
			return fmt.Errorf("%w: ks must be strictly increasing, got %v", ErrInvalidKs, ks)
		}
	}
	kmax := ks[len(ks)-1]
	if kmax > npcs {
		return fmt.Errorf("%w: model size %d exceeds the %d available NAM PCs", ErrInvalidKs, kmax, npcs)
	}
	if df := n - (1 + r + kmax); df < 1 {
		return fmt.Errorf("%w: model size %d leaves %d residual degrees of freedom (n=%d, r=%d)", ErrInvalidKs, kmax, df, n, r)
	}
	return nil
}
