package excel

// Sheet names used by the workbook exporter.
const (
	SheetScan    = "Scan"
	SheetDraws   = "Draws"
	SheetCombine = "Combine"
	SheetRecords = "Records"
)

// ExportConfig controls what the exporter writes.
type ExportConfig struct {
	// IncludeDraws adds a sheet with the raw resampling draws per radius.
	IncludeDraws bool `json:"include_draws" yaml:"include_draws"`
	// MaxDraws caps the draws written per column; 0 writes all of them.
	MaxDraws int `json:"max_draws" yaml:"max_draws"`
	// ColumnWidth applies to every populated column.
	ColumnWidth float64 `json:"column_width" yaml:"column_width"`
}

// DefaultExportConfig returns sensible defaults for workbook export
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		IncludeDraws: true,
		MaxDraws:     100000,
		ColumnWidth:  14,
	}
}
