// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package cna

import (
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// strata groups sample indices 0..n-1 by batch label, ordered by
// label. A nil batches slice puts every sample in one stratum.
func strata(batches []string, n int) [][]int {
	if batches == nil {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}
	}
	byLabel := map[string][]int{}
	for i, b := range batches {
		byLabel[b] = append(byLabel[b], i)
	}
	labels := make([]string, 0, len(byLabel))
	for b := range byLabel {
		labels = append(labels, b)
	}
	sort.Strings(labels)
	groups := make([][]int, len(labels))
	for i, b := range labels {
		groups[i] = byLabel[b]
	}
	return groups
}

// conditionalPermutation returns an n × nnull matrix whose columns are
// permutations of y. Values are only shuffled among samples with the
// same batch label, so every column assigns each batch the same
// multiset of values as y does.
func conditionalPermutation(batches []string, y []float64, nnull int, rng *rand.Rand) *mat.Dense {
	n := len(y)
	out := mat.NewDense(n, nnull, nil)
	groups := strata(batches, n)
	for col := 0; col < nnull; col++ {
		for _, g := range groups {
			perm := rng.Perm(len(g))
			for i, dst := range g {
				out.Set(dst, col, y[g[perm[i]]])
			}
		}
	}
	return out
}
