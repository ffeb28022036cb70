// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Input validation errors. Errors returned by Association wrap one of
// these, so callers can use errors.Is.
var (
	ErrShape          = errors.New("shape mismatch")
	ErrLowSampleSize  = errors.New("too few samples")
	ErrFilterMismatch = errors.New("sample filter does not match phenotype/covariates")
	ErrInvalidKs      = errors.New("invalid candidate model sizes")
	ErrMissingNAM     = errors.New("NAM not computed")
	ErrInvalidNnull   = errors.New("invalid number of null permutations")
	ErrCollinear      = errors.New("batches and covariates are collinear")
)

const (
	minSampleSize = 10
	pvalueTol     = 1e-8
)

// AdvisoryKind identifies a non-fatal statistical warning.
type AdvisoryKind string

const (
	// The selected model size is the largest candidate; a larger
	// model might fit better.
	AdvisoryMaxKs AdvisoryKind = "max-ks"
	// No null statistic was as extreme as the observed one, so the
	// p-value is at its floor of 1/(Nnull+1).
	AdvisoryMinimalP AdvisoryKind = "minimal-p"
)

// Advisory is a statistical warning attached to a Result.
type Advisory struct {
	Kind    AdvisoryKind `json:"kind"`
	Message string       `json:"message"`
}

// Options control an association test. Use DefaultOptions to get the
// usual settings.
type Options struct {
	// Batch label for each sample in the dataset. Permutations only
	// shuffle phenotypes within a batch. Nil means one batch.
	Batches []string
	// Sample covariates (samples × covariates), used to build the
	// residualization matrix when the NAM does not provide one.
	Covs *mat.Dense
	// Selects one of several NAMs computed on the same dataset.
	Suffix string
	// Number of null permutations; must be positive.
	Nnull int
	// Candidate model sizes. Nil means defaultKs(n).
	Ks              []int
	ForcePermuteAll bool
	LocalTest       bool
	// Nil means seed from the clock; the seed used is recorded in
	// Result.Seed either way.
	Seed               *int64
	AllowLowSampleSize bool
	// Null trial goroutines. Zero means runtime.GOMAXPROCS(0).
	Threads int
	Logger  logrus.FieldLogger
}

// DefaultOptions returns Options with 1000 null permutations and the
// local test enabled.
func DefaultOptions() Options {
	return Options{
		Nnull:     1000,
		LocalTest: true,
	}
}

// Result of an association test.
type Result struct {
	P          float64
	NullMinPs  []float64
	K          int
	Ks         []int
	NCorrs     []float64
	YResidHat  []float64
	YResid     []float64
	Beta       []float64
	R2         float64
	R2PerPC    []float64
	NullR2Mean float64
	NullR2Std  float64
	Kept       []string
	Seed       int64
	Advisories []Advisory
	// Nil unless Options.LocalTest was set.
	Local *LocalResult
}

// Association tests for association between the phenotype y (one
// value per sample in data) and the NAM stored in data under
// opts.Suffix.
//
// Inputs are validated before any computation starts. Statistical
// advisories are returned in Result.Advisories and logged as warnings;
// they are never returned as errors.
func Association(ctx context.Context, data *Dataset, y []float64, opts Options) (*Result, error) {
	if len(y) != data.N() {
		return nil, fmt.Errorf("%w: y should be an array of length data.N (%d); instead its shape is (%d,)", ErrShape, data.N(), len(y))
	}
	if opts.Batches != nil && len(opts.Batches) != data.N() {
		return nil, fmt.Errorf("%w: batches should have length data.N (%d); instead its length is %d", ErrShape, data.N(), len(opts.Batches))
	}
	if opts.Covs != nil {
		if rows, _ := opts.Covs.Dims(); rows != data.N() {
			return nil, fmt.Errorf("%w: covs should have data.N (%d) rows; instead it has %d", ErrShape, data.N(), rows)
		}
	}
	if opts.Nnull < 1 {
		return nil, fmt.Errorf("%w: Nnull must be positive, got %d", ErrInvalidNnull, opts.Nnull)
	}
	nam, ok := data.NAM[opts.Suffix]
	if !ok {
		return nil, fmt.Errorf("%w: no NAM for suffix %q", ErrMissingNAM, opts.Suffix)
	}
	if nam.FilterSamples != nil && len(nam.FilterSamples) != data.N() {
		return nil, fmt.Errorf("%w: NAM sample filter has length %d, dataset has %d samples", ErrShape, len(nam.FilterSamples), data.N())
	}
	keep := nam.keep(data.N())
	retained := 0
	for _, k := range keep {
		if k {
			retained++
		}
	}
	if retained < minSampleSize && !opts.AllowLowSampleSize {
		return nil, fmt.Errorf("%w: dataset has %d samples, fewer than %d. CNA may have poor power at low sample sizes "+
			"because its null distribution is one in which each sample's single-cell profile is unchanged but the sample "+
			"labels are randomly assigned. To run at this sample size despite the possibility of low power, set "+
			"AllowLowSampleSize (-allow-low-sample-size)", ErrLowSampleSize, retained, minSampleSize)
	}
	for i, k := range keep {
		if !k {
			continue
		}
		if math.IsNaN(y[i]) {
			return nil, fmt.Errorf("%w: sample %d has no phenotype value but was kept when the NAM was computed; recompute the NAM", ErrFilterMismatch, i)
		}
		if opts.Covs != nil {
			for _, v := range opts.Covs.RawRowView(i) {
				if math.IsNaN(v) {
					return nil, fmt.Errorf("%w: sample %d has a missing covariate but was kept when the NAM was computed; recompute the NAM", ErrFilterMismatch, i)
				}
			}
		}
	}
	if rows, _ := nam.SampleXPC.Dims(); rows != retained {
		return nil, fmt.Errorf("%w: NAM has %d samples but the sample filter keeps %d", ErrShape, rows, retained)
	}
	if rows, _ := nam.Resid.Dims(); rows != retained {
		return nil, fmt.Errorf("%w: residualized NAM has %d samples but the sample filter keeps %d", ErrShape, rows, retained)
	}
	if nam.M != nil {
		if mr, mc := nam.M.Dims(); mr != retained || mc != retained {
			return nil, fmt.Errorf("%w: M is %d×%d, expected %d×%d", ErrShape, mr, mc, retained, retained)
		}
	}

	yk := make([]float64, 0, retained)
	var batches []string
	if opts.Batches != nil {
		batches = make([]string, 0, retained)
	}
	var covRows []int
	for i, k := range keep {
		if !k {
			continue
		}
		yk = append(yk, y[i])
		if batches != nil {
			batches = append(batches, opts.Batches[i])
		}
		covRows = append(covRows, i)
	}

	m, r := nam.M, nam.R
	if m == nil {
		var covs *mat.Dense
		if opts.Covs != nil {
			_, ncov := opts.Covs.Dims()
			covs = mat.NewDense(retained, ncov, nil)
			for i, row := range covRows {
				covs.SetRow(i, opts.Covs.RawRowView(row))
			}
		}
		if batches == nil && covs == nil {
			batches = make([]string, retained)
		}
		var err error
		m, r, err = Residualizer(batches, covs)
		if err != nil {
			return nil, err
		}
		if opts.Batches == nil {
			batches = nil
		}
	}

	res, err := associate(ctx, nam, m, r, yk, batches, opts)
	if err != nil {
		return nil, err
	}
	res.Kept = nam.KeptCells
	return res, nil
}

// associate runs the test on already filtered samples.
func associate(ctx context.Context, nam *NAMResult, m *mat.Dense, r int, y []float64, batches []string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	seed := time.Now().UnixNano()
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	rng := rand.New(rand.NewSource(uint64(seed)))
	if opts.ForcePermuteAll {
		batches = nil
	}
	nnull := opts.Nnull
	threads := opts.Threads
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}

	y = standardize(y)
	n := len(y)
	ks := opts.Ks
	if ks == nil {
		ks = defaultKs(n)
	}
	_, npcs := nam.SampleXPC.Dims()
	if err := checkKs(ks, npcs, n, r); err != nil {
		return nil, err
	}
	sel := &selector{u: nam.SampleXPC, m: m, r: r, ks: ks, n: n}
	res := &Result{Ks: ks, Seed: seed}
	advise := func(kind AdvisoryKind, msg string) {
		logger.WithField("advisory", kind).Warn(msg)
		res.Advisories = append(res.Advisories, Advisory{Kind: kind, Message: msg})
	}

	k, p, r2 := sel.minpStats(y)
	if k == ks[len(ks)-1] {
		advise(AdvisoryMaxKs, fmt.Sprintf("data supported use of %d NAM PCs, which is the maximum considered. "+
			"Consider allowing more PCs by using the ks option.", k))
	}
	res.K, res.R2 = k, r2

	ycond, ok := sel.condition(y)
	yhat, beta := regress(nam.SampleXPC, ycond, k)
	res.YResid = ycond.RawVector().Data
	res.YResidHat = yhat.RawVector().Data
	res.Beta = beta.RawVector().Data
	res.R2PerPC = make([]float64, k)
	if ok {
		norm := math.Sqrt(mat.Dot(ycond, ycond))
		for i, b := range res.Beta {
			res.R2PerPC[i] = (b / norm) * (b / norm)
		}
	}
	res.NCorrs = neighborhoodCorrs(y, nam.Resid)

	logger.WithFields(logrus.Fields{
		"k":     k,
		"p":     p,
		"nnull": nnull,
	}).Info("computing null distribution")
	nullY := conditionalPermutation(batches, y, nnull, rng)
	nullPs, nullR2s, err := sel.nullStats(ctx, nullY, threads)
	if err != nil {
		return nil, err
	}
	extreme := 0
	for _, np := range nullPs {
		if np <= p+pvalueTol {
			extreme++
		}
	}
	res.P = float64(extreme+1) / float64(nnull+1)
	if extreme == 0 {
		advise(AdvisoryMinimalP, "global association p-value attained minimal possible value. Consider increasing Nnull")
	}
	res.NullMinPs = nullPs
	res.NullR2Mean = stat.Mean(nullR2s, nil)
	res.NullR2Std = popStdDev(nullR2s)

	if opts.LocalTest {
		logger.Info("computing neighborhood-level FDRs")
		res.Local = localTest(sel, nam.Resid, res.NCorrs, nullY)
	}
	return res, nil
}
