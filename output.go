// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// Digest returns a BLAKE2b hash of the reproducible parts of the
// result: selected model size, p-value, neighborhood correlations and
// FDR table. Two runs with the same inputs and seed have the same
// digest.
func (res *Result) Digest() string {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	putInt := func(x int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
		h.Write(buf[:])
	}
	putFloat := func(x float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		h.Write(buf[:])
	}
	putInt(res.K)
	putFloat(res.P)
	putInt(len(res.NCorrs))
	for _, v := range res.NCorrs {
		putFloat(v)
	}
	if res.Local != nil {
		putInt(len(res.Local.FDRs))
		for _, rec := range res.Local.FDRs {
			putFloat(rec.Threshold)
			putFloat(rec.FDR)
			putInt(rec.NumDetected)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

type resultSummary struct {
	P               float64    `json:"p"`
	K               int        `json:"k"`
	Ks              []int      `json:"ks"`
	R2              float64    `json:"r2"`
	R2PerPC         []float64  `json:"r2_perpc"`
	NullR2Mean      float64    `json:"nullr2_mean"`
	NullR2Std       float64    `json:"nullr2_std"`
	FDR5pThreshold  *float64   `json:"fdr_5p_t"`
	FDR10pThreshold *float64   `json:"fdr_10p_t"`
	Seed            int64      `json:"seed"`
	Kept            int        `json:"kept_cells"`
	Advisories      []Advisory `json:"advisories"`
	Digest          string     `json:"digest"`
}

// writeResult writes the result arrays as .npy files, the FDR table
// as fdrs.csv (if computed), and everything else as summary.json.
func writeResult(outputDir string, res *Result) error {
	for _, a := range []struct {
		name string
		data []float64
	}{
		{"nullminps", res.NullMinPs},
		{"ncorrs", res.NCorrs},
		{"beta", res.Beta},
		{"yresid", res.YResid},
		{"yresid_hat", res.YResidHat},
	} {
		err := writeNpy(outputDir+"/"+a.name+".npy", a.data, len(a.data))
		if err != nil {
			return err
		}
	}

	summary := resultSummary{
		P:          res.P,
		K:          res.K,
		Ks:         res.Ks,
		R2:         res.R2,
		R2PerPC:    res.R2PerPC,
		NullR2Mean: res.NullR2Mean,
		NullR2Std:  res.NullR2Std,
		Seed:       res.Seed,
		Kept:       len(res.Kept),
		Advisories: res.Advisories,
		Digest:     res.Digest(),
	}
	if res.Local != nil {
		summary.FDR5pThreshold = res.Local.FDR5pThreshold
		summary.FDR10pThreshold = res.Local.FDR10pThreshold
		err := writeFDRs(outputDir+"/fdrs.csv", res.Local.FDRs)
		if err != nil {
			return err
		}
	}
	fnm := outputDir + "/summary.json"
	j, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	log.Infof("writing summary to %s", fnm)
	return os.WriteFile(fnm, j, 0666)
}

func writeFDRs(fnm string, fdrs []FDRRecord) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprint(bufw, "threshold,fdr,num_detected\n")
	for _, rec := range fdrs {
		fmt.Fprintf(bufw, "%g,%g,%d\n", rec.Threshold, rec.FDR, rec.NumDetected)
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return nil
}
