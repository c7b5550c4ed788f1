package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "bellstat/internal/errors"

	"github.com/xuri/excelize/v2"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	sheet    string
}

// NewDataReader creates a reader for filePath. Excel files are read from
// their first sheet unless WithSheet names another.
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType}
}

// WithSheet selects the Excel sheet to read.
func (r *DataReader) WithSheet(sheet string) *DataReader {
	r.sheet = sheet
	return r
}

// ReadData reads the header row and every data row.
func (r *DataReader) ReadData() (*ExcelData, error) {
	if _, err := os.Stat(r.filePath); err != nil {
		return nil, apperrors.InvalidInputf(err, "%s file not found", strings.ToUpper(r.fileType))
	}

	var (
		rows [][]string
		err  error
	)
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	default:
		rows, err = r.readExcel()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("%s has no header row", r.filePath))
	}
	return processRows(rows), nil
}

func (r *DataReader) readExcel() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, apperrors.InvalidInputf(err, "failed to open Excel file")
	}
	defer f.Close()

	sheet := r.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperrors.InvalidInput("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperrors.InvalidInputf(err, "failed to read sheet %s", sheet)
	}
	return rows, nil
}

func (r *DataReader) readCSV() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, apperrors.InvalidInputf(err, "failed to open CSV file")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.InvalidInputf(err, "failed to read CSV file")
	}
	return rows, nil
}

// processRows converts raw string rows into ExcelData format
func processRows(rows [][]string) *ExcelData {
	headers := make([]string, len(rows[0]))
	for i, header := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(header))
	}

	var dataRows []RawRowData
	for _, row := range rows[1:] {
		rowData := make(RawRowData, len(headers))
		empty := true
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
				empty = empty && rowData[headers[j]] == ""
			}
		}
		if !empty {
			dataRows = append(dataRows, rowData)
		}
	}
	return &ExcelData{Headers: headers, Rows: dataRows}
}

// ReadRunManifest reads a batch manifest with columns name, alice, bob and
// sync. Relative paths resolve against the manifest's directory.
func ReadRunManifest(path string) ([]RunSpec, error) {
	data, err := NewDataReader(path).ReadData()
	if err != nil {
		return nil, err
	}
	for _, col := range []string{"name", "alice", "bob", "sync"} {
		if !contains(data.Headers, col) {
			return nil, apperrors.InvalidInput(fmt.Sprintf("manifest %s lacks column %q", path, col))
		}
	}

	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	seen := make(map[string]bool, len(data.Rows))
	specs := make([]RunSpec, 0, len(data.Rows))
	for i, row := range data.Rows {
		spec := RunSpec{
			Name:  row["name"],
			Alice: resolve(row["alice"]),
			Bob:   resolve(row["bob"]),
			Sync:  resolve(row["sync"]),
		}
		if spec.Name == "" || spec.Alice == "" || spec.Bob == "" || spec.Sync == "" {
			return nil, apperrors.InvalidInput(fmt.Sprintf("manifest %s row %d: every column needs a value", path, i+2))
		}
		if seen[spec.Name] {
			return nil, apperrors.InvalidInput(fmt.Sprintf("manifest %s row %d: duplicate run %q", path, i+2, spec.Name))
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("manifest %s lists no runs", path))
	}
	return specs, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
