// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package table

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes the table as CSV with a header row.
//
// Missing values are written as empty fields, matching readr::write_csv(na = "").
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, t.NumCols())
	for r := 0; r < t.NumRows(); r++ {
		for i, c := range t.columns {
			if c.Values[r] == nil {
				record[i] = ""
				continue
			}
			record[i] = FormatValue(c.Values[r])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", r, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
