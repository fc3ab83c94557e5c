// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nyschooldata exposes the nyschooldata R package's New York school
// enrollment functions to Go.
//
// Every function is a pass-through: arguments cross into R, the R package
// downloads, caches, cleans and reshapes the data, and the resulting
// data.frame comes back as a *table.Table. Nothing here retries, validates
// schemas or caches results.
//
// # Usage
//
//	years, err := nyschooldata.GetAvailableYears(ctx)
//	if err != nil {
//	    return err
//	}
//	enr, err := nyschooldata.FetchEnr(ctx, years[len(years)-1], nyschooldata.WithTidy(true))
//	if err != nil {
//	    var fe *nyschooldata.DataFetchError
//	    if errors.As(err, &fe) {
//	        log.Printf("fetch %d failed: %v", fe.Year, fe.Err)
//	    }
//	    return err
//	}
//	fmt.Println(enr.NumRows(), enr.ColumnNames())
//
// The first call initializes a process-wide session: it locates Rscript,
// confirms the package loads, and checks its version. Call Initialize
// explicitly to control that step or to supply a custom bridge.Runtime.
//
// # Requirements
//
// R with the jsonlite and nyschooldata packages installed. Rscript is found
// via $NYSCHOOLDATA_RSCRIPT, $R_HOME/bin, or PATH; see pkg/bridge.
//
// # Thread Safety
//
// All functions are safe for concurrent use. Each call runs in its own
// Rscript process.
package nyschooldata
