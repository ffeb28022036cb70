// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"math"
	"os"

	"gopkg.in/check.v1"
)

type samplesSuite struct{}

var _ = check.Suite(&samplesSuite{})

func (s *samplesSuite) TestLoad(c *check.C) {
	fnm := c.MkDir() + "/samples.csv"
	err := os.WriteFile(fnm, []byte(`id,age,batch,status
s1,31,b1,1
s2,NA,b2,0.5
s3,45,b1,
`), 0666)
	c.Assert(err, check.IsNil)
	st, err := loadSampleTable(fnm)
	c.Assert(err, check.IsNil)
	c.Check(st.ids, check.DeepEquals, []string{"s1", "s2", "s3"})

	batches, err := st.Labels("batch")
	c.Assert(err, check.IsNil)
	c.Check(batches, check.DeepEquals, []string{"b1", "b2", "b1"})

	status, err := st.Floats("status")
	c.Assert(err, check.IsNil)
	c.Check(status[:2], check.DeepEquals, []float64{1, 0.5})
	c.Check(math.IsNaN(status[2]), check.Equals, true)

	m, err := st.Matrix([]string{"age", "status"})
	c.Assert(err, check.IsNil)
	c.Check(m.At(0, 0), check.Equals, 31.0)
	c.Check(math.IsNaN(m.At(1, 0)), check.Equals, true)
	c.Check(m.At(1, 1), check.Equals, 0.5)

	m, err = st.Matrix(nil)
	c.Check(err, check.IsNil)
	c.Check(m, check.IsNil)

	_, err = st.Floats("batch")
	c.Check(err, check.ErrorMatches, `column "batch" row 0: cannot parse float "b1".*`)
	_, err = st.Labels("nonexistent")
	c.Check(err, check.ErrorMatches, `no column named "nonexistent"`)
}

func (s *samplesSuite) TestBadFiles(c *check.C) {
	dir := c.MkDir()
	for _, trial := range []struct {
		content string
		errre   string
	}{
		{"", `.*empty file`},
		{"id\ns1\n", `.*header does not look right.*`},
		{"id,x,x\ns1,1,2\n", `.*duplicate column "x".*`},
		{"id,x\ns1,1,2\n", `3 fields != 2 in .* line 2.*`},
	} {
		fnm := dir + "/samples.csv"
		c.Assert(os.WriteFile(fnm, []byte(trial.content), 0666), check.IsNil)
		_, err := loadSampleTable(fnm)
		c.Check(err, check.ErrorMatches, trial.errre)
	}
}
