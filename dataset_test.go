// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type datasetSuite struct{}

var _ = check.Suite(&datasetSuite{})

// writeTestNAM writes nam's artifacts to dir using the on-disk layout
// LoadNAM reads.
func writeTestNAM(c *check.C, dir, suffix string, nam *NAMResult) {
	writeMatrix := func(name string, m *mat.Dense) {
		rows, cols := m.Dims()
		c.Assert(writeNpy(dir+"/"+name+suffix+".npy", mat.DenseCopyOf(m).RawMatrix().Data, rows, cols), check.IsNil)
	}
	writeMatrix("NAM_sampleXpc", nam.SampleXPC)
	writeMatrix("NAM_nbhdXpc", nam.NbhdXPC)
	writeMatrix("NAM_resid", nam.Resid)
	c.Assert(writeNpy(dir+"/NAM_svs"+suffix+".npy", nam.SVs, len(nam.SVs)), check.IsNil)
	if nam.M != nil {
		writeMatrix("M", nam.M)
		c.Assert(writeNpy(dir+"/r"+suffix+".npy", []float64{float64(nam.R)}, 1), check.IsNil)
	}
	if nam.FilterSamples != nil {
		filter := make([]float64, len(nam.FilterSamples))
		for i, keep := range nam.FilterSamples {
			if keep {
				filter[i] = 1
			}
		}
		c.Assert(writeNpy(dir+"/filter_samples"+suffix+".npy", filter, len(filter)), check.IsNil)
	}
	if nam.KeptCells != nil {
		c.Assert(os.WriteFile(dir+"/keptcells"+suffix+".txt", []byte(strings.Join(nam.KeptCells, "\n")+"\n"), 0666), check.IsNil)
	}
}

func gzipFile(c *check.C, fnm string) {
	in, err := os.Open(fnm)
	c.Assert(err, check.IsNil)
	defer in.Close()
	out, err := os.Create(fnm + ".gz")
	c.Assert(err, check.IsNil)
	defer out.Close()
	gzw := pgzip.NewWriter(out)
	_, err = io.Copy(gzw, in)
	c.Assert(err, check.IsNil)
	c.Assert(gzw.Close(), check.IsNil)
	c.Assert(os.Remove(fnm), check.IsNil)
}

func (s *datasetSuite) TestRoundTrip(c *check.C) {
	tmpdir := c.MkDir()
	nam, _ := makeTestNAM(c, 60, 12, 2, 20, nil)
	nam.FilterSamples = []bool{true, true, false, true, true, true, true, true, true, true, true, true, true}
	nam.KeptCells = []string{"AAAC-1", "AAAG-1"}
	writeTestNAM(c, tmpdir, "_x", nam)
	gzipFile(c, tmpdir+"/NAM_resid_x.npy")

	got, err := LoadNAM(context.Background(), tmpdir, "_x")
	c.Assert(err, check.IsNil)
	c.Check(mat.Equal(got.SampleXPC, nam.SampleXPC), check.Equals, true)
	c.Check(mat.Equal(got.NbhdXPC, nam.NbhdXPC), check.Equals, true)
	c.Check(mat.Equal(got.Resid, nam.Resid), check.Equals, true)
	c.Check(mat.Equal(got.M, nam.M), check.Equals, true)
	c.Check(got.R, check.Equals, nam.R)
	c.Check(got.SVs, check.DeepEquals, nam.SVs)
	c.Check(got.FilterSamples, check.DeepEquals, nam.FilterSamples)
	c.Check(got.KeptCells, check.DeepEquals, nam.KeptCells)
}

func (s *datasetSuite) TestOptionalArtifacts(c *check.C) {
	tmpdir := c.MkDir()
	nam, _ := makeTestNAM(c, 61, 12, 1, 20, nil)
	nam.M = nil
	writeTestNAM(c, tmpdir, "", nam)
	got, err := LoadNAM(context.Background(), tmpdir, "")
	c.Assert(err, check.IsNil)
	c.Check(got.M, check.IsNil)
	c.Check(got.FilterSamples, check.IsNil)
	c.Check(got.KeptCells, check.IsNil)
}

func (s *datasetSuite) TestMissingRequired(c *check.C) {
	tmpdir := c.MkDir()
	nam, _ := makeTestNAM(c, 62, 12, 1, 20, nil)
	writeTestNAM(c, tmpdir, "", nam)
	c.Assert(os.Remove(tmpdir+"/NAM_resid.npy"), check.IsNil)
	_, err := LoadNAM(context.Background(), tmpdir, "")
	c.Check(err, check.ErrorMatches, fmt.Sprintf(`.*%s/NAM_resid\.npy\.gz.*`, tmpdir))
}

func (s *datasetSuite) TestMismatchedRows(c *check.C) {
	tmpdir := c.MkDir()
	nam, _ := makeTestNAM(c, 63, 12, 1, 20, nil)
	writeTestNAM(c, tmpdir, "", nam)
	c.Assert(writeNpy(tmpdir+"/NAM_resid.npy", make([]float64, 11*20), 11, 20), check.IsNil)
	_, err := LoadNAM(context.Background(), tmpdir, "")
	c.Check(err, check.ErrorMatches, `.*NAM_sampleXpc has 12 rows but NAM_resid has 11`)
}

func (s *datasetSuite) TestMWithoutR(c *check.C) {
	tmpdir := c.MkDir()
	nam, _ := makeTestNAM(c, 64, 12, 2, 20, nil)
	writeTestNAM(c, tmpdir, "", nam)
	c.Assert(os.Remove(tmpdir+"/r.npy"), check.IsNil)
	_, err := LoadNAM(context.Background(), tmpdir, "")
	c.Check(err, check.ErrorMatches, `.*without a scalar r\.npy`)
}
