// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// sampleTable is a samples.csv file: a header row, then one row per
// sample. The first column is the sample ID.
type sampleTable struct {
	ids     []string
	columns map[string][]string
}

// Read a samples.csv file.
func loadSampleTable(samplesFilename string) (*sampleTable, error) {
	f, err := zopen(samplesFilename)
	if err != nil {
		return nil, err
	}
	buf, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	st := &sampleTable{columns: map[string][]string{}}
	var header []string
	lineNum := 0
	for _, csv := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		csv = bytes.TrimSuffix(csv, []byte{'\r'})
		if len(csv) == 0 {
			continue
		}
		split := strings.Split(string(csv), ",")
		if header == nil {
			header = split
			if len(header) < 2 {
				return nil, fmt.Errorf("%s: header does not look right: %q", samplesFilename, csv)
			}
			for _, name := range header[1:] {
				if _, dup := st.columns[name]; dup {
					return nil, fmt.Errorf("%s: duplicate column %q in header", samplesFilename, name)
				}
				st.columns[name] = nil
			}
			continue
		}
		if len(split) != len(header) {
			return nil, fmt.Errorf("%d fields != %d in %s line %d: %q", len(split), len(header), samplesFilename, lineNum, csv)
		}
		st.ids = append(st.ids, split[0])
		for i, name := range header[1:] {
			st.columns[name] = append(st.columns[name], split[i+1])
		}
	}
	if header == nil {
		return nil, fmt.Errorf("%s: empty file", samplesFilename)
	}
	return st, nil
}

// Labels returns the named column as strings.
func (st *sampleTable) Labels(name string) ([]string, error) {
	col, ok := st.columns[name]
	if !ok {
		return nil, fmt.Errorf("no column named %q", name)
	}
	return append([]string(nil), col...), nil
}

// Floats returns the named column as numbers. Empty, "NA" and "NaN"
// fields become NaN.
func (st *sampleTable) Floats(name string) ([]float64, error) {
	col, ok := st.columns[name]
	if !ok {
		return nil, fmt.Errorf("no column named %q", name)
	}
	out := make([]float64, len(col))
	for i, s := range col {
		switch s {
		case "", "NA", "NaN", "nan":
			out[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: cannot parse float %q: %s", name, i, s, err)
		}
		out[i] = f
	}
	return out, nil
}

// Matrix returns the named columns as a samples × len(names) matrix,
// or nil if names is empty.
func (st *sampleTable) Matrix(names []string) (*mat.Dense, error) {
	if len(names) == 0 {
		return nil, nil
	} else if len(st.ids) == 0 {
		return nil, fmt.Errorf("no samples")
	}
	m := mat.NewDense(len(st.ids), len(names), nil)
	for j, name := range names {
		col, err := st.Floats(name)
		if err != nil {
			return nil, err
		}
		m.SetCol(j, col)
	}
	return m, nil
}
