// Package export renders completed analyses as spreadsheets.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
	"github.com/oliveagle/jsonpath"
	"github.com/xuri/excelize/v2"
)

// ErrNotCompleted is returned for jobs that have no report yet.
var ErrNotCompleted = errors.New("analysis is not completed")

// maxCellChars is the XLSX limit for one cell.
const maxCellChars = 32767

const (
	SheetSummary  = "Summary"
	SheetSections = "Sections"
)

// Field is one row of the summary sheet, looked up in the report by JSONPath.
type Field struct {
	Label string
	Path  string
}

var SummaryFields = []Field{
	{Label: "Pages", Path: "$.document.pages"},
	{Label: "Language", Path: "$.document.language"},
	{Label: "Revenue", Path: "$.metrics.financial_metrics.revenue"},
	{Label: "Net income", Path: "$.metrics.financial_metrics.net_income"},
	{Label: "Earnings per share", Path: "$.metrics.financial_metrics.eps"},
	{Label: "Profit margin", Path: "$.metrics.profit_margin"},
	{Label: "Recommendation", Path: "$.metrics.recommendation"},
	{Label: "Confidence", Path: "$.metrics.confidence_score"},
	{Label: "Overall risk", Path: "$.risk_indicators.overall_risk"},
}

// WorkbookXLSX returns the workbook of a completed job as bytes.
func WorkbookXLSX(job *jobs.Job) ([]byte, error) {
	if job.Status != jobs.StateCompleted || job.Result == nil {
		return nil, ErrNotCompleted
	}
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetSections); err != nil {
		return nil, err
	}

	if err := writeSummary(f, job); err != nil {
		return nil, fmt.Errorf("xlsx summary: %w", err)
	}
	if err := writeSections(f, job.Result); err != nil {
		return nil, fmt.Errorf("xlsx sections: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	log.Debug("Exported job %s: %d sections in %s", job.ID, len(job.Result), time.Since(start).Round(time.Millisecond))
	return buf.Bytes(), nil
}

// sheetWriter writes cells of one sheet and keeps the first error, so a
// run of writes needs a single check at the end.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (w *sheetWriter) row(row int, values ...any) {
	for i, v := range values {
		if w.err != nil {
			return
		}
		var cell string
		if cell, w.err = excelize.CoordinatesToCellName(i+1, row); w.err == nil {
			w.err = w.f.SetCellValue(w.sheet, cell, v)
		}
	}
}

func (w *sheetWriter) width(col string, width float64) {
	if w.err == nil {
		w.err = w.f.SetColWidth(w.sheet, col, col, width)
	}
}

func writeSummary(f *excelize.File, job *jobs.Job) error {
	w := &sheetWriter{f: f, sheet: SheetSummary}
	row := 0
	write := func(label string, v any) {
		row++
		w.row(row, label, v)
	}

	write("Analysis ID", job.ID)
	write("Query", job.Query)
	write("Status", string(job.Status))
	write("Completed at", job.UpdatedAt.UTC().Format(time.RFC3339))
	for _, field := range SummaryFields {
		v, err := Lookup(job.Result, field.Path)
		if err != nil || v == nil {
			write(field.Label, "n/a")
			continue
		}
		write(field.Label, v)
	}

	w.width("A", 22)
	w.width("B", 60)
	return w.err
}

func writeSections(f *excelize.File, report analysis.Report) error {
	w := &sheetWriter{f: f, sheet: SheetSections}
	w.row(1, "Section", "Content")

	names := report.Sections()
	sort.Strings(names)
	for i, name := range names {
		w.row(i+2, name, truncate(render(report[name]), maxCellChars))
	}

	w.width("A", 26)
	w.width("B", 120)
	return w.err
}

// Lookup evaluates a JSONPath expression against report.
func Lookup(report analysis.Report, path string) (any, error) {
	pattern, err := jsonpath.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression '%s': %w", path, err)
	}
	v, err := pattern.Lookup(map[string]any(report))
	if err != nil {
		return nil, fmt.Errorf("JSONPath expression '%s' returned no results: %w", path, err)
	}
	return v, nil
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
