// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// NAMResult holds the artifacts of one NAM computation: its
// decomposition, the residualized NAM, and the sample filter and
// residualization that were used to build it.
type NAMResult struct {
	SampleXPC *mat.Dense // retained samples × PCs, orthonormal columns
	SVs       []float64
	NbhdXPC   *mat.Dense
	Resid     *mat.Dense // retained samples × neighborhoods
	// Residualization matrix and the degrees of freedom it uses. If
	// M is nil, Association builds one from the batches and
	// covariates it is given.
	M *mat.Dense
	R int
	// One entry per dataset sample; nil means all samples are kept.
	FilterSamples []bool
	KeptCells     []string
}

func (nam *NAMResult) keep(n int) []bool {
	if nam.FilterSamples != nil {
		return nam.FilterSamples
	}
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	return keep
}

// Dataset is a set of samples and the NAMs computed on them, keyed by
// suffix.
type Dataset struct {
	SampleIDs []string
	NAM       map[string]*NAMResult
}

// N returns the number of samples in the dataset, before filtering.
func (d *Dataset) N() int {
	return len(d.SampleIDs)
}

// LoadNAM reads the NAM artifacts with the given suffix from dir. Each
// artifact is a .npy file, optionally gzipped (.npy.gz). M, r,
// filter_samples and keptcells are optional.
func LoadNAM(ctx context.Context, dir, suffix string) (*NAMResult, error) {
	nam := &NAMResult{}
	var (
		svs, filter, r []float64
		keptcells      []byte
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, a := range []struct {
		name     string
		dst      **mat.Dense
		vec      *[]float64
		optional bool
	}{
		{name: "NAM_sampleXpc", dst: &nam.SampleXPC},
		{name: "NAM_svs", vec: &svs},
		{name: "NAM_nbhdXpc", dst: &nam.NbhdXPC},
		{name: "NAM_resid", dst: &nam.Resid},
		{name: "M", dst: &nam.M, optional: true},
		{name: "r", vec: &r, optional: true},
		{name: "filter_samples", vec: &filter, optional: true},
	} {
		a := a
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fnm := dir + "/" + a.name + suffix + ".npy"
			data, shape, err := readNpy(fnm)
			if a.optional && errors.Is(err, fs.ErrNotExist) {
				return nil
			} else if err != nil {
				return err
			}
			if a.vec != nil {
				*a.vec = data
				return nil
			}
			if len(shape) != 2 {
				return fmt.Errorf("%s: expected 2-dimensional array, got shape %v", fnm, shape)
			}
			*a.dst = mat.NewDense(shape[0], shape[1], data)
			return nil
		})
	}
	g.Go(func() error {
		fnm := dir + "/keptcells" + suffix + ".txt"
		f, err := zopenAny(fnm)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
		defer f.Close()
		keptcells, err = io.ReadAll(f)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nam.SVs = svs
	if filter != nil {
		nam.FilterSamples = make([]bool, len(filter))
		for i, v := range filter {
			nam.FilterSamples[i] = v != 0
		}
	}
	if nam.M != nil {
		if len(r) != 1 {
			return nil, fmt.Errorf("%s: M%s.npy provided without a scalar r%s.npy", dir, suffix, suffix)
		}
		nam.R = int(r[0])
	}
	for _, line := range bytes.Split(keptcells, []byte{'\n'}) {
		if len(line) > 0 {
			nam.KeptCells = append(nam.KeptCells, string(line))
		}
	}
	rows, pcs := nam.SampleXPC.Dims()
	if rr, _ := nam.Resid.Dims(); rr != rows {
		return nil, fmt.Errorf("%s: NAM_sampleXpc%s has %d rows but NAM_resid%s has %d", dir, suffix, rows, suffix, rr)
	}
	if nam.M != nil {
		if mr, mc := nam.M.Dims(); mr != rows || mc != rows {
			return nil, fmt.Errorf("%s: M%s is %d×%d, expected %d×%d", dir, suffix, mr, mc, rows, rows)
		}
	}
	log.WithFields(log.Fields{
		"dir":     dir,
		"suffix":  suffix,
		"samples": rows,
		"pcs":     pcs,
	}).Info("loaded NAM")
	return nam, nil
}

// readNpy reads a float64 array (any numeric dtype is converted) from
// fnm or, if that does not exist, fnm+".gz". The returned data is in
// row-major order.
func readNpy(fnm string) ([]float64, []int, error) {
	f, err := zopenAny(fnm)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	data, err := npyFloat64(npy)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	shape := npy.Shape
	if npy.ColumnMajor && len(shape) == 2 {
		rows, cols := shape[0], shape[1]
		rm := make([]float64, len(data))
		for j := 0; j < cols; j++ {
			for i := 0; i < rows; i++ {
				rm[i*cols+j] = data[j*rows+i]
			}
		}
		data = rm
	}
	return data, shape, nil
}

// npyFloat64 reads the array data, converting integer dtypes.
func npyFloat64(npy *gonpy.NpyReader) ([]float64, error) {
	var out []float64
	switch {
	case strings.HasSuffix(npy.Dtype, "f8"):
		return npy.GetFloat64()
	case strings.HasSuffix(npy.Dtype, "u1"):
		v, err := npy.GetUint8()
		if err != nil {
			return nil, err
		}
		out = make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
	case strings.HasSuffix(npy.Dtype, "i8"):
		v, err := npy.GetInt64()
		if err != nil {
			return nil, err
		}
		out = make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
	case strings.HasSuffix(npy.Dtype, "i4"):
		v, err := npy.GetInt32()
		if err != nil {
			return nil, err
		}
		out = make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", npy.Dtype)
	}
	return out, nil
}

// zopenAny opens fnm, or fnm+".gz" if fnm does not exist.
func zopenAny(fnm string) (io.ReadCloser, error) {
	f, err := zopen(fnm)
	if errors.Is(err, fs.ErrNotExist) {
		return zopen(fnm + ".gz")
	}
	return f, err
}

func writeNpy(fnm string, data []float64, shape ...int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"shape":    shape,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = shape
	npw.WriteFloat64(data)
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return output.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
