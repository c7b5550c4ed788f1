package excel

import (
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"bellstat/domain/stats"
	"bellstat/internal/aggregate"
	apperrors "bellstat/internal/errors"

	"github.com/xuri/excelize/v2"
)

var scanHeaders = []interface{}{
	"radius", "trials", "value", "sigma", "z", "p_value", "p_value_lower",
	"ci_lo", "ci_hi", "bound_p_value", "excluded_draws", "reproducible", "warnings", "error",
}

var combineHeaders = []interface{}{"name", "trials", "value", "total", "sigma", "z", "degenerate"}

// Exporter writes analysis results as xlsx workbooks.
type Exporter struct {
	cfg ExportConfig
}

// NewExporter creates an exporter; a zero ColumnWidth falls back to the default.
func NewExporter(cfg ExportConfig) *Exporter {
	if cfg.ColumnWidth <= 0 {
		cfg.ColumnWidth = DefaultExportConfig().ColumnWidth
	}
	return &Exporter{cfg: cfg}
}

// ExportScan writes one row per radius to the Scan sheet and, when
// configured, the permutation and bootstrap draws to the Draws sheet.
func (e *Exporter) ExportScan(w io.Writer, scan *stats.ScanResult) error {
	f := excelize.NewFile()
	defer f.Close()

	rows := make([][]interface{}, 0, len(scan.Entries))
	for _, entry := range scan.Entries {
		rows = append(rows, scanRow(entry))
	}
	if err := e.writeTable(f, SheetScan, scanHeaders, rows); err != nil {
		return err
	}
	if e.cfg.IncludeDraws {
		if err := e.writeDraws(f, scan); err != nil {
			return err
		}
	}
	return e.write(f, w)
}

// ExportCombine writes the per-input rows followed by a combined row.
func (e *Exporter) ExportCombine(w io.Writer, rep *aggregate.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	rows := make([][]interface{}, 0, len(rep.Rows)+1)
	for _, r := range rep.Rows {
		rows = append(rows, []interface{}{r.Name, r.Trials, optional(r.Value), r.Total, r.Sigma, r.Z, r.Degenerate})
	}
	rows = append(rows, []interface{}{"combined", "", rep.PooledMean, rep.Total, rep.Sigma, rep.Z, ""})
	if err := e.writeTable(f, SheetCombine, combineHeaders, rows); err != nil {
		return err
	}
	return e.write(f, w)
}

// ExportScanFile writes the scan workbook to path.
func (e *Exporter) ExportScanFile(path string, scan *stats.ScanResult) error {
	return writeFile(path, func(w io.Writer) error { return e.ExportScan(w, scan) })
}

// ExportCombineFile writes the combine workbook to path.
func (e *Exporter) ExportCombineFile(path string, rep *aggregate.Report) error {
	return writeFile(path, func(w io.Writer) error { return e.ExportCombine(w, rep) })
}

func writeFile(path string, fn func(io.Writer) error) error {
	out, err := os.Create(path)
	if err != nil {
		return apperrors.ExportError("failed to create workbook", err)
	}
	if err := fn(out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return apperrors.ExportError("failed to close workbook", err)
	}
	return nil
}

func scanRow(entry stats.ScanEntry) []interface{} {
	row := []interface{}{entry.Radius}
	res := entry.Result
	if res == nil {
		row = append(row, "", "", "", "", "", "", "", "", "", "", "", "")
		return append(row, entry.Err)
	}

	var sigma, z interface{} = "", ""
	switch {
	case res.CH != nil && !res.CH.Degenerate:
		sigma, z = res.CH.Sigma, zOf(res.Value, res.CH.Sigma)
	case res.T3 != nil:
		sigma, z = res.T3.Sigma, res.T3.Z
	}
	var lo, hi interface{} = "", ""
	if ci := res.ConfidenceInterval; ci != nil {
		lo, hi = ci.Lo, ci.Hi
	}
	return append(row,
		res.Trials, finite(res.Value), sigma, z,
		optional(res.PValue), optional(res.PValueLower), lo, hi, optional(res.BoundPValue),
		res.ExcludedDraws, res.Reproducible, strings.Join(res.Warnings, "; "), entry.Err,
	)
}

func (e *Exporter) writeDraws(f *excelize.File, scan *stats.ScanResult) error {
	var headers []interface{}
	var columns [][]float64
	for _, entry := range scan.Entries {
		for _, d := range []*stats.Distribution{entry.Permutation, entry.Bootstrap} {
			if d == nil {
				continue
			}
			headers = append(headers, string(d.Kind)+"_r"+strconv.FormatFloat(entry.Radius, 'g', -1, 64))
			draws := d.Draws
			if e.cfg.MaxDraws > 0 && len(draws) > e.cfg.MaxDraws {
				draws = draws[:e.cfg.MaxDraws]
			}
			columns = append(columns, draws)
		}
	}
	if len(columns) == 0 {
		return nil
	}

	longest := 0
	for _, c := range columns {
		longest = max(longest, len(c))
	}
	rows := make([][]interface{}, longest)
	for i := range rows {
		rows[i] = make([]interface{}, len(columns))
		for j, c := range columns {
			if i < len(c) {
				rows[i][j] = c[i]
			} else {
				rows[i][j] = ""
			}
		}
	}
	return e.writeTable(f, SheetDraws, headers, rows)
}

func (e *Exporter) writeTable(f *excelize.File, sheet string, headers []interface{}, rows [][]interface{}) error {
	if err := addSheet(f, sheet); err != nil {
		return apperrors.ExportError("failed to create sheet "+sheet, err)
	}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return apperrors.ExportError("failed to write header of "+sheet, err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return apperrors.ExportError("failed to create header style", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return apperrors.ExportError("failed to style header of "+sheet, err)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return apperrors.ExportError("failed to address row", err)
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return apperrors.ExportError("failed to write row of "+sheet, err)
		}
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return apperrors.ExportError("failed to address column", err)
	}
	if err := f.SetColWidth(sheet, "A", last, e.cfg.ColumnWidth); err != nil {
		return apperrors.ExportError("failed to size columns of "+sheet, err)
	}
	return nil
}

// addSheet renames the default sheet for the first table of a new workbook.
func addSheet(f *excelize.File, sheet string) error {
	if list := f.GetSheetList(); len(list) == 1 && list[0] == "Sheet1" {
		return f.SetSheetName("Sheet1", sheet)
	}
	_, err := f.NewSheet(sheet)
	return err
}

func (e *Exporter) write(f *excelize.File, w io.Writer) error {
	if err := f.Write(w); err != nil {
		return apperrors.ExportError("failed to write workbook", err)
	}
	return nil
}

// finite maps NaN and infinities to an empty cell.
func finite(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return v
}

func optional(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return finite(*v)
}

func zOf(value, sigma float64) interface{} {
	if sigma <= 0 {
		return ""
	}
	return finite(value / sigma)
}
