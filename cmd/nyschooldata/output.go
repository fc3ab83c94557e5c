// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/nyschooldata/pkg/table"
)

// Output formats.
const (
	formatAuto  = "auto"
	formatTable = "table"
	formatCSV   = "csv"
	formatJSON  = "json"
	formatArrow = "arrow"
)

// ErrArrowToTerminal is returned when Arrow IPC would be written to a TTY.
var ErrArrowToTerminal = errors.New("refusing to write Arrow IPC to a terminal; use --output")

var (
	colorAccent = lipgloss.Color("#20B9B4")
	colorBorder = lipgloss.Color("#16858E")
	colorMuted  = lipgloss.Color("#2C4A54")
	colorOK     = lipgloss.Color("#2CD7C7")
	colorError  = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	Number lipgloss.Style
	NA     lipgloss.Style
	Border lipgloss.Style
	Muted  lipgloss.Style
	OK     lipgloss.Style
	Fail   lipgloss.Style
}{
	Title:  lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	Header: lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1),
	Cell:   lipgloss.NewStyle().Padding(0, 1),
	Number: lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right),
	NA:     lipgloss.NewStyle().Padding(0, 1).Foreground(colorMuted),
	Border: lipgloss.NewStyle().Foreground(colorBorder),
	Muted:  lipgloss.NewStyle().Foreground(colorMuted),
	OK:     lipgloss.NewStyle().SetString("✓").Foreground(colorOK),
	Fail:   lipgloss.NewStyle().SetString("✗").Foreground(colorError),
}

// output is a resolved destination for one command's result.
type output struct {
	w      io.Writer
	format string
	tty    bool
	close  func() error
}

// openOutput resolves --output and --format. With auto, a file name's
// extension picks the format; otherwise a terminal gets a table and
// anything else CSV.
func (c *cli) openOutput() (*output, error) {
	format := strings.ToLower(c.format)
	switch format {
	case formatAuto, formatTable, formatCSV, formatJSON, formatArrow:
	default:
		return nil, fmt.Errorf("unknown format %q (want auto, table, csv, json, or arrow)", c.format)
	}

	out := &output{w: c.stdout, format: format, close: func() error { return nil }}
	if c.outputPath != "" {
		f, err := os.Create(c.outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		out.w, out.close = f, f.Close
		if format == formatAuto {
			out.format = formatForPath(c.outputPath)
		}
		return out, nil
	}

	out.tty = isTerminal(c.stdout)
	if format == formatAuto {
		out.format = formatCSV
		if out.tty {
			out.format = formatTable
		}
	}
	return out, nil
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".arrow", ".arrows", ".ipc":
		return formatArrow
	default:
		return formatCSV
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeTable renders t in the resolved format.
func (o *output) writeTable(t *table.Table) error {
	switch o.format {
	case formatTable:
		return renderTable(o.w, t)
	case formatJSON:
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	case formatArrow:
		if o.tty {
			return ErrArrowToTerminal
		}
		return writeArrow(o.w, t)
	default:
		return table.WriteCSV(o.w, t)
	}
}

// writeYears prints a JSON array for json and one year per line otherwise.
func (o *output) writeYears(years []int) error {
	if o.format == formatJSON {
		return json.NewEncoder(o.w).Encode(years)
	}
	var b strings.Builder
	for _, y := range years {
		b.WriteString(strconv.Itoa(y))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(o.w, b.String())
	return err
}

// renderTable draws a bordered table with numeric columns right-aligned
// and NA cells muted, followed by a dimensions line.
func renderTable(w io.Writer, t *table.Table) error {
	cols := t.Columns()
	rows := make([][]string, t.NumRows())
	for r := range rows {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = table.FormatValue(c.Values[r])
		}
		rows[r] = row
	}

	lt := ltable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		Headers(t.ColumnNames()...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == ltable.HeaderRow:
				return styles.Header
			case col < len(cols) && row >= 0 && row < len(rows) && cols[col].Values[row] == nil:
				return styles.NA
			case col < len(cols) && (cols[col].Type == table.TypeInt || cols[col].Type == table.TypeFloat):
				return styles.Number
			default:
				return styles.Cell
			}
		})

	_, err := fmt.Fprintf(w, "%s\n%s\n", lt.Render(),
		styles.Muted.Render(fmt.Sprintf("%d rows x %d columns", t.NumRows(), t.NumCols())))
	return err
}

// writeArrow writes t as a single-record Arrow IPC stream.
func writeArrow(w io.Writer, t *table.Table) error {
	mem := memory.NewGoAllocator()
	rec, err := t.ToArrow(mem)
	if err != nil {
		return err
	}
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := wr.Write(rec); err != nil {
		_ = wr.Close()
		return fmt.Errorf("write arrow record: %w", err)
	}
	return wr.Close()
}
