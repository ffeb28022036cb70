// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"flag"
	"fmt"
	"io"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

// permuteCmd writes a matrix of batch-conditional permutations of a
// phenotype column, one permutation per column.
type permuteCmd struct{}

func (cmd *permuteCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *permuteCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	samplesFilename := flags.String("samples", "", "`samples.csv` file")
	phenotype := flags.String("phenotype", "", "phenotype column name in samples file")
	batchCol := flags.String("batch", "", "batch column name in samples file (default: permute across all samples)")
	nnull := flags.Int("nnull", 1000, "number of permutations")
	seed := flags.Int64("seed", 0, "PRNG seed (default: seed from clock)")
	outputFilename := flags.String("o", "permutations.npy", "output `file`")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if *samplesFilename == "" || *phenotype == "" {
		return fmt.Errorf("must provide -samples and -phenotype")
	}
	if *nnull < 1 {
		return fmt.Errorf("-nnull must be positive")
	}
	seedSet := false
	flags.Visit(func(f *flag.Flag) { seedSet = seedSet || f.Name == "seed" })
	if !seedSet {
		*seed = time.Now().UnixNano()
	}

	samples, err := loadSampleTable(*samplesFilename)
	if err != nil {
		return err
	}
	y, err := samples.Floats(*phenotype)
	if err != nil {
		return fmt.Errorf("%s: %w", *samplesFilename, err)
	}
	for i, v := range y {
		if math.IsNaN(v) {
			return fmt.Errorf("%s: sample %s has no %s value", *samplesFilename, samples.ids[i], *phenotype)
		}
	}
	var batches []string
	if *batchCol != "" {
		batches, err = samples.Labels(*batchCol)
		if err != nil {
			return fmt.Errorf("%s: %w", *samplesFilename, err)
		}
	}

	log.Infof("generating %d permutations with seed %d", *nnull, *seed)
	perm := conditionalPermutation(batches, y, *nnull, rand.New(rand.NewSource(uint64(*seed))))
	err = writeNpy(*outputFilename, perm.RawMatrix().Data, len(y), *nnull)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, *outputFilename)
	return nil
}
