// Copyright (C) The CNA Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/immunogenomics/cna"

func main() {
	cna.Main()
}
