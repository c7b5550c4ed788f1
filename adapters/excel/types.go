package excel

// RawRowData represents a row of raw sheet data as header -> cell text
type RawRowData map[string]string

// ExcelData represents one sheet read from an Excel or CSV file
type ExcelData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// RunSpec is one row of a batch manifest: a named run and its input files.
type RunSpec struct {
	Name  string
	Alice string
	Bob   string
	Sync  string
}
