// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	log "github.com/sirupsen/logrus"
)

type associationCmd struct{}

func (cmd *associationCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *associationCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts := DefaultOptions()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	arvadosRAM := flags.Int("arvados-ram", 16000000000, "amount of memory to request for arvados container (`bytes`)")
	arvadosVCPUs := flags.Int("arvados-vcpus", 8, "number of VCPUs to request for arvados container")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	namDir := flags.String("nam-dir", "./nam", "`directory` containing NAM .npy files")
	samplesFilename := flags.String("samples", "", "`samples.csv` file with sample IDs, phenotype, batch and covariate columns")
	paramsFilename := flags.String("params", "", "YAML `file` with test parameters (flags override)")
	outputDir := flags.String("output-dir", "./out", "output `directory`")
	phenotype := flags.String("phenotype", "", "phenotype column name in samples file")
	batchCol := flags.String("batch", "", "batch column name in samples file (default: all samples in one batch)")
	covCols := flags.String("covs", "", "comma-separated covariate column names in samples file")
	ks := flags.String("ks", "", "comma-separated candidate numbers of NAM PCs (default: based on sample count)")
	seed := flags.Int64("seed", 0, "PRNG seed (default: seed from clock)")
	flags.StringVar(&opts.Suffix, "suffix", "", "NAM file name suffix")
	flags.IntVar(&opts.Nnull, "nnull", opts.Nnull, "number of null permutations")
	flags.BoolVar(&opts.ForcePermuteAll, "force-permute-all", false, "permute phenotypes across batches")
	flags.BoolVar(&opts.LocalTest, "local-test", opts.LocalTest, "compute neighborhood-level FDRs")
	flags.BoolVar(&opts.AllowLowSampleSize, "allow-low-sample-size", false, "run even with fewer than 10 samples")
	flags.IntVar(&opts.Threads, "threads", 0, "number of null permutation workers (default: GOMAXPROCS)")
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

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		runner := arvadosContainerRunner{
			Name:        "cna association",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         int64(*arvadosRAM),
			VCPUs:       *arvadosVCPUs,
			Priority:    *priority,
			KeepCache:   2,
		}
		err = runner.TranslatePaths(namDir, samplesFilename, paramsFilename)
		if err != nil {
			return err
		}
		runner.Args = []string{"association", "-local=true",
			"-nam-dir=" + *namDir,
			"-samples=" + *samplesFilename,
			"-params=" + *paramsFilename,
			"-output-dir=/mnt/output",
			"-phenotype=" + *phenotype,
			"-batch=" + *batchCol,
			"-covs=" + *covCols,
		}
		// pass along statistical flags only if given, so a
		// params file still applies in the container
		flags.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "suffix", "nnull", "ks", "seed", "force-permute-all", "local-test", "allow-low-sample-size", "threads":
				runner.Args = append(runner.Args, "-"+f.Name+"="+f.Value.String())
			}
		})
		var output string
		output, err = runner.Run()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output)
		return nil
	}

	opts.Ks, err = parseInts(*ks)
	if err != nil {
		return fmt.Errorf("-ks: %w", err)
	}
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.Seed = seed
		}
	})
	if *paramsFilename != "" {
		params, err := loadParams(*paramsFilename)
		if err != nil {
			return err
		}
		params.apply(&opts, flags)
	}

	samples, err := loadSampleTable(*samplesFilename)
	if err != nil {
		return err
	}
	y, err := samples.Floats(*phenotype)
	if err != nil {
		return fmt.Errorf("%s: %w", *samplesFilename, err)
	}
	if *batchCol != "" {
		opts.Batches, err = samples.Labels(*batchCol)
		if err != nil {
			return fmt.Errorf("%s: %w", *samplesFilename, err)
		}
	}
	var covNames []string
	if *covCols != "" {
		covNames = strings.Split(*covCols, ",")
	}
	opts.Covs, err = samples.Matrix(covNames)
	if err != nil {
		return fmt.Errorf("%s: %w", *samplesFilename, err)
	}

	ctx := context.Background()
	nam, err := LoadNAM(ctx, *namDir, opts.Suffix)
	if err != nil {
		return err
	}
	data := &Dataset{
		SampleIDs: samples.ids,
		NAM:       map[string]*NAMResult{opts.Suffix: nam},
	}
	log.Print("performing association test")
	res, err := Association(ctx, data, y, opts)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"p":  res.P,
		"k":  res.K,
		"r2": res.R2,
	}).Info("association test done")

	err = os.MkdirAll(*outputDir, 0777)
	if err != nil {
		return err
	}
	err = writeResult(*outputDir, res)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, *outputDir)
	return nil
}
