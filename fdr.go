// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	maxLocalNulls = 1000
	fdrGridSize   = 400
)

// FDRRecord is one row of the empirical FDR table.
type FDRRecord struct {
	Threshold   float64 `json:"threshold"`
	FDR         float64 `json:"fdr"`
	NumDetected int     `json:"num_detected"`
}

// LocalResult holds the neighborhood-level FDR estimates. Thresholds
// are nil when no threshold on the grid reaches the given level.
type LocalResult struct {
	FDRs            []FDRRecord
	FDR5pThreshold  *float64
	FDR10pThreshold *float64
}

// neighborhoodCorrs returns, for each neighborhood j, the mean over
// samples of y_i * resid_ij.
func neighborhoodCorrs(y []float64, resid *mat.Dense) []float64 {
	n, _ := resid.Dims()
	var corr mat.VecDense
	corr.MulVec(resid.T(), mat.NewVecDense(len(y), y))
	out := corr.RawVector().Data
	floats.Scale(1/float64(n), out)
	return out
}

// localTest estimates the FDR curve for ncorrs using the first
// (at most 1000) columns of nullY as the null ensemble. Each null
// phenotype goes through the same conditioning as the real one.
func localTest(s *selector, resid *mat.Dense, ncorrs []float64, nullY *mat.Dense) *LocalResult {
	n, nnull := nullY.Dims()
	if nnull > maxLocalNulls {
		nnull = maxLocalNulls
	}
	_, nbhds := resid.Dims()
	nullNcorrs := make([]float64, 0, nnull*nbhds)
	var corr mat.VecDense
	for i := 0; i < nnull; i++ {
		zcond, _ := s.condition(mat.Col(nil, i, nullY))
		corr.MulVec(resid.T(), zcond)
		for _, v := range corr.RawVector().Data {
			nullNcorrs = append(nullNcorrs, math.Abs(v)/float64(n))
		}
	}

	maxcorr := 0.0
	for _, v := range ncorrs {
		maxcorr = math.Max(maxcorr, math.Abs(v))
	}
	thresholds := floats.Span(make([]float64, fdrGridSize), maxcorr/4, maxcorr)
	fdrs := empiricalFDRs(ncorrs, nullNcorrs, nnull, thresholds)
	return &LocalResult{
		FDRs:            fdrs,
		FDR5pThreshold:  fdrThreshold(fdrs, 0.05),
		FDR10pThreshold: fdrThreshold(fdrs, 0.1),
	}
}

// empiricalFDRs estimates the FDR at each threshold t as the average
// number of null statistics above t per null draw, divided by the
// number of observed |z| above t (at least 1), capped at 1. nullAbs
// holds the absolute null statistics of nnull draws, concatenated.
func empiricalFDRs(z, nullAbs []float64, nnull int, thresholds []float64) []FDRRecord {
	absz := make([]float64, len(z))
	for i, v := range z {
		absz[i] = math.Abs(v)
	}
	sort.Float64s(absz)
	nulls := append([]float64(nil), nullAbs...)
	sort.Float64s(nulls)

	recs := make([]FDRRecord, len(thresholds))
	for i, t := range thresholds {
		detected := countAbove(absz, t)
		fdr := 0.0
		if nnull > 0 {
			falsePos := float64(countAbove(nulls, t)) / float64(nnull)
			fdr = falsePos / math.Max(float64(detected), 1)
		}
		recs[i] = FDRRecord{
			Threshold:   t,
			FDR:         math.Min(fdr, 1),
			NumDetected: detected,
		}
	}
	return recs
}

// countAbove returns the number of elements of sorted that are
// strictly greater than t.
func countAbove(sorted []float64, t float64) int {
	return len(sorted) - sort.Search(len(sorted), func(i int) bool { return sorted[i] > t })
}

// fdrThreshold returns the smallest threshold whose FDR is at most
// level, or nil if there is none.
func fdrThreshold(fdrs []FDRRecord, level float64) *float64 {
	for _, rec := range fdrs {
		if rec.FDR <= level {
			t := rec.Threshold
			return &t
		}
	}
	return nil
}
