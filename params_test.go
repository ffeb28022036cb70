// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"flag"
	"os"

	"gopkg.in/check.v1"
)

type paramsSuite struct{}

var _ = check.Suite(&paramsSuite{})

func (s *paramsSuite) TestFlagsOverrideParams(c *check.C) {
	fnm := c.MkDir() + "/params.yaml"
	err := os.WriteFile(fnm, []byte(`
suffix: _res
nnull: 500
ks: [1, 3, 5]
local_test: false
seed: 99
threads: 2
`), 0666)
	c.Assert(err, check.IsNil)
	p, err := loadParams(fnm)
	c.Assert(err, check.IsNil)

	opts := DefaultOptions()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.IntVar(&opts.Nnull, "nnull", opts.Nnull, "")
	flags.IntVar(&opts.Threads, "threads", 0, "")
	c.Assert(flags.Parse([]string{"-nnull=50"}), check.IsNil)
	p.apply(&opts, flags)

	c.Check(opts.Nnull, check.Equals, 50)
	c.Check(opts.Suffix, check.Equals, "_res")
	c.Check(opts.Ks, check.DeepEquals, []int{1, 3, 5})
	c.Check(opts.LocalTest, check.Equals, false)
	c.Assert(opts.Seed, check.NotNil)
	c.Check(*opts.Seed, check.Equals, int64(99))
	c.Check(opts.Threads, check.Equals, 2)
}

func (s *paramsSuite) TestUnknownField(c *check.C) {
	fnm := c.MkDir() + "/params.yaml"
	c.Assert(os.WriteFile(fnm, []byte("nnul: 10\n"), 0666), check.IsNil)
	_, err := loadParams(fnm)
	c.Check(err, check.ErrorMatches, `(?s).*field nnul not found.*`)
}

func (s *paramsSuite) TestEmpty(c *check.C) {
	fnm := c.MkDir() + "/params.yaml"
	c.Assert(os.WriteFile(fnm, nil, 0666), check.IsNil)
	p, err := loadParams(fnm)
	c.Assert(err, check.IsNil)
	c.Check(*p, check.DeepEquals, associationParams{})
}

func (s *paramsSuite) TestParseInts(c *check.C) {
	ks, err := parseInts("2, 4,6")
	c.Check(err, check.IsNil)
	c.Check(ks, check.DeepEquals, []int{2, 4, 6})
	ks, err = parseInts("")
	c.Check(err, check.IsNil)
	c.Check(ks, check.IsNil)
	_, err = parseInts("2,x")
	c.Check(err, check.NotNil)
}
