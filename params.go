// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// associationParams is the YAML form of the association command's
// statistical settings. Flags given on the command line take
// precedence.
type associationParams struct {
	Suffix             string `yaml:"suffix"`
	Nnull              int    `yaml:"nnull"`
	Ks                 []int  `yaml:"ks"`
	ForcePermuteAll    bool   `yaml:"force_permute_all"`
	LocalTest          *bool  `yaml:"local_test"`
	Seed               *int64 `yaml:"seed"`
	AllowLowSampleSize bool   `yaml:"allow_low_sample_size"`
	Threads            int    `yaml:"threads"`
}

func loadParams(fnm string) (*associationParams, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var p associationParams
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return &p, nil
}

// apply copies p's settings into opts, except those whose flags were
// set explicitly.
func (p *associationParams) apply(opts *Options, flags *flag.FlagSet) {
	set := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["suffix"] && p.Suffix != "" {
		opts.Suffix = p.Suffix
	}
	if !set["nnull"] && p.Nnull > 0 {
		opts.Nnull = p.Nnull
	}
	if !set["ks"] && p.Ks != nil {
		opts.Ks = p.Ks
	}
	if !set["force-permute-all"] && p.ForcePermuteAll {
		opts.ForcePermuteAll = true
	}
	if !set["local-test"] && p.LocalTest != nil {
		opts.LocalTest = *p.LocalTest
	}
	if !set["seed"] && p.Seed != nil {
		seed := *p.Seed
		opts.Seed = &seed
	}
	if !set["allow-low-sample-size"] && p.AllowLowSampleSize {
		opts.AllowLowSampleSize = true
	}
	if !set["threads"] && p.Threads > 0 {
		opts.Threads = p.Threads
	}
}

// parseInts parses a comma-separated list of integers. An empty
// string yields nil.
func parseInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, f := range strings.Split(s, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}
