// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Residualizer returns the matrix M that projects an intercept, batch
// indicators and the given covariates out of any sample-indexed
// vector, and the number r of non-intercept columns projected out.
//
// Covariates are standardized before use. batches and covs may be
// nil; if both are nil, M only centers its input.
func Residualizer(batches []string, covs *mat.Dense) (m *mat.Dense, r int, err error) {
	n := len(batches)
	if covs != nil {
		rows, _ := covs.Dims()
		if batches != nil && rows != n {
			return nil, 0, fmt.Errorf("%w: %d batch labels but %d covariate rows", ErrShape, n, rows)
		}
		n = rows
	}
	if n == 0 {
		return nil, 0, fmt.Errorf("%w: cannot build residualizer without batches or covariates", ErrShape)
	}

	var cols [][]float64
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	cols = append(cols, ones)
	if batches != nil {
		// first stratum is the reference level
		for _, g := range strata(batches, n)[1:] {
			ind := make([]float64, n)
			for _, i := range g {
				ind[i] = 1
			}
			cols = append(cols, ind)
		}
	}
	if covs != nil {
		_, ncov := covs.Dims()
		for j := 0; j < ncov; j++ {
			col := mat.Col(nil, j, covs)
			mean := stat.Mean(col, nil)
			std := popStdDev(col)
			if std == 0 {
				return nil, 0, fmt.Errorf("%w: covariate %d is constant", ErrCollinear, j)
			}
			for i := range col {
				col[i] = (col[i] - mean) / std
			}
			cols = append(cols, col)
		}
	}

	c := mat.NewDense(n, len(cols), nil)
	for j, col := range cols {
		c.SetCol(j, col)
	}
	proj, err := hatMatrix(c)
	if err != nil {
		return nil, 0, err
	}
	m = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	m.Sub(m, proj)
	return m, len(cols) - 1, nil
}

// hatMatrix returns C(CᵀC)⁻¹Cᵀ.
func hatMatrix(c *mat.Dense) (proj *mat.Dense, err error) {
	defer func() {
		if e := recover(); e != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			proj, err = nil, fmt.Errorf("%w: %v", ErrCollinear, e)
		}
	}()
	var ctc mat.Dense
	ctc.Mul(c.T(), c)
	var ctcInvCt mat.Dense
	if err := ctcInvCt.Solve(&ctc, c.T()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollinear, err)
	}
	proj = &mat.Dense{}
	proj.Mul(c, &ctcInvCt)
	return proj, nil
}
