// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// popStdDev returns the population (ddof=0) standard deviation of x.
func popStdDev(x []float64) float64 {
	return math.Sqrt(stat.Moment(2, x, nil))
}

// standardize returns a copy of a with zero mean and unit population
// variance.
func standardize(a []float64) []float64 {
	mean := stat.Mean(a, nil)
	std := popStdDev(a)
	out := make([]float64, len(a))
	for i, x := range a {
		out[i] = (x - mean) / std
	}
	return out
}

// regress projects q onto the first k columns of u. The columns of u
// are orthonormal, so the coefficients are just u[:,:k]ᵀq.
func regress(u *mat.Dense, q *mat.VecDense, k int) (qhat, beta *mat.VecDense) {
	n, _ := u.Dims()
	xpc := u.Slice(0, n, 0, k)
	beta = mat.NewVecDense(k, nil)
	beta.MulVec(xpc.T(), q)
	qhat = mat.NewVecDense(n, nil)
	qhat.MulVec(xpc, beta)
	return qhat, beta
}

// fitStats returns the F-test p-value and R² of the k-PC fit yhat to
// ycond. r is the number of degrees of freedom already spent on
// covariates and batch.
func fitStats(yhat, ycond *mat.VecDense, k, n, r int) (p, r2 float64) {
	var resid mat.VecDense
	resid.SubVec(yhat, ycond)
	sseFull := mat.Dot(&resid, &resid)
	sseRed := mat.Dot(ycond, ycond)
	if sseRed == 0 {
		return 1, 0
	}
	if sseFull == 0 {
		return 0, 1
	}
	f := ((sseRed - sseFull) / float64(k)) / (sseFull / float64(n))
	if f < 0 {
		// rounding error when the fit explains nothing
		f = 0
	}
	dist := distuv.F{D1: float64(k), D2: float64(n - (1 + r + k))}
	return dist.Survival(f), 1 - sseFull/sseRed
}
