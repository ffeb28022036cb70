// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/check.v1"
)

type regressSuite struct{}

var _ = check.Suite(&regressSuite{})

func (s *regressSuite) TestStandardize(c *check.C) {
	z := standardize([]float64{1, 2, 3, 4, 10})
	checkClose(c, stat.Mean(z, nil), 0, 1e-12)
	checkClose(c, popStdDev(z), 1, 1e-12)
	// population, not sample, standard deviation
	checkClose(c, popStdDev([]float64{1, 3}), 1, 1e-12)
}

func (s *regressSuite) TestProjection(c *check.C) {
	nam, _ := makeTestNAM(c, 1, 30, 1, 50, nil)
	q := mat.NewVecDense(30, normals(2, 30))
	for _, k := range []int{1, 3, 7} {
		qhat, beta := regress(nam.SampleXPC, q, k)
		c.Check(beta.Len(), check.Equals, k)
		// residual is orthogonal to every column used
		var resid mat.VecDense
		resid.SubVec(q, qhat)
		for j := 0; j < k; j++ {
			checkClose(c, mat.Dot(nam.SampleXPC.ColView(j), &resid), 0, 1e-10, fmt.Sprintf("k=%d j=%d", k, j))
			checkClose(c, beta.AtVec(j), mat.Dot(nam.SampleXPC.ColView(j), q), 1e-12)
		}
	}
}

// The least-squares coefficients from a Gaussian GLM agree with the
// orthonormal projection.
func (s *regressSuite) TestMatchesGLM(c *check.C) {
	n, k := 40, 4
	nam, _ := makeTestNAM(c, 3, n, 2, 60, nil)
	yv := normals(4, n)
	_, beta := regress(nam.SampleXPC, mat.NewVecDense(n, yv), k)

	data := [][]statmodel.Dtype{yv}
	names := []string{"y"}
	for j := 0; j < k; j++ {
		data = append(data, mat.Col(nil, j, nam.SampleXPC))
		names = append(names, fmt.Sprintf("pc%d", j))
	}
	model, err := glm.NewGLM(statmodel.NewDataset(data, names), "y", names[1:], &glm.Config{
		Family:    glm.NewFamily(glm.GaussianFamily),
		FitMethod: "IRLS",
		Log:       log.New(io.Discard, "", 0),
	})
	c.Assert(err, check.IsNil)
	params := model.Fit().Params()
	c.Assert(params, check.HasLen, k)
	for j, p := range params {
		checkClose(c, p, beta.AtVec(j), 1e-6, names[j+1])
	}
}

func (s *regressSuite) TestFitStats(c *check.C) {
	// With k=2 the F survival function has the closed form
	// (1 + 2f/d2)^(-d2/2).
	ycond := mat.NewVecDense(6, []float64{1, -1, 2, -2, 0.5, -0.5})
	yhat := mat.NewVecDense(6, []float64{0.5, -0.5, 1.5, -1.5, 0, 0})
	n, r, k := 20, 1, 2
	sseFull := 0.25*4 + 0.25*2
	sseRed := 1 + 1 + 4 + 4 + 0.25 + 0.25
	f := ((sseRed - sseFull) / float64(k)) / (sseFull / float64(n))
	d2 := float64(n - (1 + r + k))

	p, r2 := fitStats(yhat, ycond, k, n, r)
	checkClose(c, r2, 1-sseFull/sseRed, 1e-12)
	checkClose(c, p, math.Pow(1+2*f/d2, -d2/2), 1e-12)

	p, r2 = fitStats(mat.NewVecDense(6, nil), mat.NewVecDense(6, nil), k, n, r)
	c.Check(p, check.Equals, 1.0)
	c.Check(r2, check.Equals, 0.0)

	p, r2 = fitStats(ycond, ycond, k, n, r)
	c.Check(p, check.Equals, 0.0)
	c.Check(r2, check.Equals, 1.0)

	// no improvement over the zero model
	p, _ = fitStats(mat.NewVecDense(6, nil), ycond, k, n, r)
	checkClose(c, p, 1, 1e-12)
}
