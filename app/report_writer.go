package app

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"bellstat/adapters/excel"
	"bellstat/internal/aggregate"
	"bellstat/internal/config"
	apperrors "bellstat/internal/errors"
	"bellstat/internal/report"
)

// ReportWriter renders analysis and combine reports into an output
// directory: always Markdown, optionally HTML and an xlsx workbook.
type ReportWriter struct {
	out      config.OutputConfig
	exporter *excel.Exporter
}

// NewReportWriter creates a report writer for the output settings.
func NewReportWriter(out config.OutputConfig) *ReportWriter {
	cfg := excel.DefaultExportConfig()
	cfg.IncludeDraws = out.IncludeDraws
	return &ReportWriter{out: out, exporter: excel.NewExporter(cfg)}
}

// WriteAnalysis writes the reports of one run and returns the paths written.
func (w *ReportWriter) WriteAnalysis(res *AnalysisResult) ([]string, error) {
	if res == nil || res.Scan == nil {
		return nil, apperrors.InvalidInput("no scan result to report")
	}
	var md bytes.Buffer
	fmt.Fprintf(&md, "# %s\n\n", res.Name)
	if err := report.WriteScan(&md, res.Scan); err != nil {
		return nil, err
	}
	for _, entry := range res.Scan.Entries {
		if entry.Result == nil {
			continue
		}
		md.WriteString("\n")
		if err := report.WriteResult(&md, fmt.Sprintf("%s at radius %s", res.Scan.Statistic, report.Num(entry.Radius)), entry.Result); err != nil {
			return nil, err
		}
	}

	radii := make([]float64, 0, len(res.Cumulative))
	for r := range res.Cumulative {
		radii = append(radii, r)
	}
	sort.Float64s(radii)
	for _, r := range radii {
		fmt.Fprintf(&md, "\n### Cumulative CH at radius %s\n\n", report.Num(r))
		if err := report.WriteCumulative(&md, res.Cumulative[r]); err != nil {
			return nil, err
		}
	}

	return w.emit(res.Name, md.Bytes(), func(path string) error {
		return w.exporter.ExportScanFile(path, res.Scan)
	})
}

// WriteCombine writes the reports of a combine under name.
func (w *ReportWriter) WriteCombine(name string, rep *aggregate.Report) ([]string, error) {
	var md bytes.Buffer
	if err := report.WriteCombine(&md, rep); err != nil {
		return nil, err
	}
	return w.emit(name, md.Bytes(), func(path string) error {
		return w.exporter.ExportCombineFile(path, rep)
	})
}

func (w *ReportWriter) emit(name string, md []byte, xlsx func(string) error) ([]string, error) {
	if err := os.MkdirAll(w.out.Dir, 0o755); err != nil {
		return nil, apperrors.ExportError("failed to create output directory", err)
	}
	base := filepath.Join(w.out.Dir, name)
	paths := []string{base + ".md"}
	if err := os.WriteFile(paths[0], md, 0o644); err != nil {
		return nil, apperrors.ExportError("failed to write report", err)
	}
	if w.out.HTML {
		path := base + ".html"
		if err := os.WriteFile(path, report.HTML(md, name), 0o644); err != nil {
			return paths, apperrors.ExportError("failed to write html report", err)
		}
		paths = append(paths, path)
	}
	if w.out.XLSX {
		path := base + ".xlsx"
		if err := xlsx(path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
