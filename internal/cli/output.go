// Package cli renders record views for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/archivext/internal/models"
	"github.com/hyperjump/archivext/internal/query"
	"github.com/hyperjump/archivext/internal/recordid"
	"github.com/hyperjump/archivext/internal/session"
	"github.com/hyperjump/archivext/internal/store"
	"github.com/hyperjump/archivext/pkg/utils"
)

// OutputFormat is the format for view output.
type OutputFormat string

const (
	// OutputText is a human-readable table (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputXLSX is a spreadsheet with one row per record.
	OutputXLSX OutputFormat = "xlsx"
)

// SheetName is the worksheet written by OutputXLSX.
const SheetName = "Signalements"

// descWidth caps the description column of text output.
const descWidth = 60

// ParseOutputFormat resolves a --output value. Empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return OutputText, nil
	case OutputText, OutputJSON, OutputXLSX:
		return f, nil
	default:
		return "", models.NewValidationError("output", "unknown format %q (want text, json or xlsx)", s)
	}
}

// Row is one record with its 1-based position and fingerprint.
type Row struct {
	Num    int
	ID     string
	Record *models.Record
}

// ViewRows pairs the records of v with their store positions.
func ViewRows(v store.View) []Row {
	rows := make([]Row, len(v.Records))
	for i, r := range v.Records {
		rows[i] = Row{Num: v.Positions[i], ID: recordid.ID(r), Record: r}
	}
	return rows
}

// HitRows turns fuzzy hits into rows numbered by rank.
func HitRows(hits []session.Hit) []Row {
	rows := make([]Row, len(hits))
	for i, h := range hits {
		rows[i] = Row{Num: i + 1, ID: h.ID, Record: h.Record}
	}
	return rows
}

type jsonRow struct {
	ID string `json:"id"`
	models.SessionEntry
}

type jsonOutput struct {
	Set     string    `json:"set,omitempty"`
	Query   string    `json:"query"`
	Label   string    `json:"label,omitempty"`
	Matches int       `json:"matches"`
	Total   int       `json:"total"`
	Records []jsonRow `json:"records"`
}

// WriteView writes v in format. xlsx output is binary and should go to a file.
func WriteView(w io.Writer, set session.Set, v store.View, format OutputFormat) error {
	rows := ViewRows(v)
	switch format {
	case OutputJSON:
		return writeJSON(w, jsonOutput{
			Set:     set.String(),
			Query:   v.Query,
			Label:   v.Label(),
			Matches: v.Matches,
			Total:   v.Total,
			Records: toJSONRows(rows),
		})
	case OutputXLSX:
		return WriteXLSX(w, rows)
	default:
		if label := v.Label(); label != "" {
			fmt.Fprintf(w, "%s (%s)\n\n", label, set)
		} else {
			fmt.Fprintf(w, "%d records (%s)\n\n", v.Total, set)
		}
		writeText(w, rows)
		return nil
	}
}

// WriteHits writes fuzzy lookup results in format.
func WriteHits(w io.Writer, q string, hits []session.Hit, format OutputFormat) error {
	rows := HitRows(hits)
	switch format {
	case OutputJSON:
		return writeJSON(w, jsonOutput{
			Query:   q,
			Matches: len(hits),
			Total:   len(hits),
			Records: toJSONRows(rows),
		})
	case OutputXLSX:
		return WriteXLSX(w, rows)
	default:
		fmt.Fprintf(w, "Found %d fuzzy matches for %q\n\n", len(hits), q)
		writeText(w, rows)
		for i, h := range hits {
			fmt.Fprintf(w, "  %d. %s score=%.4f\n", i+1, h.Set, h.Score)
		}
		return nil
	}
}

// WarnMisspelled prints a hint for every "word:" token of q that looks like a mistyped label.
func WarnMisspelled(w io.Writer, p *query.Parser, q string) {
	for _, s := range p.Misspelled(q) {
		fmt.Fprintf(w, "warning: unknown tag %q, did you mean %q?\n", s.Token+":", s.Label+":")
	}
}

func toJSONRows(rows []Row) []jsonRow {
	out := make([]jsonRow, len(rows))
	for i, row := range rows {
		r := row.Record
		respo := r.Responsible
		if respo == nil {
			respo = []string{}
		}
		out[i] = jsonRow{
			ID: row.ID,
			SessionEntry: models.SessionEntry{
				Num:         row.Num,
				Date:        r.Date,
				Author:      r.Author,
				Code:        r.Code,
				Flag:        r.Flag,
				Description: r.Description,
				Status:      r.Status,
				Responsible: respo,
			},
		}
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cells(row Row) []string {
	r := row.Record
	return []string{
		strconv.Itoa(row.Num),
		r.Date,
		r.Author,
		r.Code,
		r.Flag,
		utils.Truncate(utils.SingleLine(r.Description), descWidth),
		r.Status,
		r.ResponsibleString(),
	}
}

func writeText(w io.Writer, rows []Row) {
	headers := store.Headers()
	widths := make([]int, len(headers))
	table := make([][]string, len(rows))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	for i, row := range rows {
		table[i] = cells(row)
		for j, c := range table[i] {
			if n := len([]rune(c)); n > widths[j] {
				widths[j] = n
			}
		}
	}
	writeLine(w, headers, widths)
	for _, line := range table {
		writeLine(w, line, widths)
	}
}

func writeLine(w io.Writer, values []string, widths []int) {
	padded := make([]string, len(values))
	for i, v := range values {
		padded[i] = utils.PadRight(v, widths[i])
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(padded, "  "), " "))
}

// WriteXLSX writes rows as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	headers := append(store.Headers(), "ID")
	if err := setRow(f, 1, headers); err != nil {
		return err
	}
	for i, row := range rows {
		r := row.Record
		values := []interface{}{
			row.Num, r.Date, r.Author, r.Code, r.Flag, r.Description, r.Status, r.ResponsibleString(), row.ID,
		}
		if err := setRow(f, i+2, values); err != nil {
			return err
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setRow[T any](f *excelize.File, row int, values []T) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}
