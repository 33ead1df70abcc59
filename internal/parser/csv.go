package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/ragingest/internal/fragment"
)

// csvRowsPerTable groups rows into manageable table fragments.
const csvRowsPerTable = 20

// CSVParser handles CSV files. Rows are grouped under a "Rows a-b" title so
// the merge step attaches the row range to every table fragment.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) ([]fragment.Fragment, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	b := newBuilder(filename)
	if len(records) == 0 {
		return b.fragments(), nil
	}

	// First row is headers.
	headers := records[0]
	dataRows := records[1:]

	for i := 0; i < len(dataRows); i += csvRowsPerTable {
		end := min(i+csvRowsPerTable, len(dataRows))

		var text strings.Builder
		text.WriteString("Headers: " + strings.Join(headers, ", ") + "\n\n")
		for _, row := range dataRows[i:end] {
			for j, cell := range row {
				if j < len(headers) {
					text.WriteString(headers[j] + ": " + cell)
				} else {
					text.WriteString(cell)
				}
				if j < len(row)-1 {
					text.WriteString(", ")
				}
			}
			text.WriteString("\n")
		}

		b.heading(1, fmt.Sprintf("Rows %d-%d", i+2, end+1)) // 1-indexed, skip header
		b.block(fragment.Table, text.String())
	}

	return b.fragments(), nil
}
