package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// LoadCSV reads a case series CSV:
//
//   - The first row is a header; a "date" column and a "confirm" column are
//     required (case-insensitive), an optional "breakpoint" column holds
//     0/1 markers.
//   - Dates are ISO (2006-01-02).
//   - An empty or "NA" confirm cell is a missing observation.
//
// Returns the parsed Cases without validating series invariants; callers
// run Validate before fitting.
func LoadCSV(path string) (*Cases, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	cs, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cs, nil
}

// ReadCSV parses case series rows from r. Split out from LoadCSV so tests
// can feed strings.
func ReadCSV(r io.Reader) (*Cases, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	dateCol, confirmCol, bpCol := -1, -1, -1
	for j, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			dateCol = j
		case "confirm", "cases", "count":
			confirmCol = j
		case "breakpoint":
			bpCol = j
		}
	}
	if dateCol < 0 || confirmCol < 0 {
		return nil, fmt.Errorf("header needs date and confirm columns, got %v", header)
	}

	cs := &Cases{}
	row := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err)
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, len(header), len(record))
		}

		d, err := time.Parse(dateLayout, strings.TrimSpace(record[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("parse date at row %d (%q): %w", row+2, record[dateCol], err)
		}
		cs.Dates = append(cs.Dates, d)

		cell := strings.TrimSpace(record[confirmCol])
		if cell == "" || strings.EqualFold(cell, "NA") {
			cs.Counts = append(cs.Counts, Missing)
		} else {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("parse count at row %d (%q): %w", row+2, cell, err)
			}
			cs.Counts = append(cs.Counts, v)
		}

		if bpCol >= 0 {
			if cs.Breakpoints == nil {
				cs.Breakpoints = make([]bool, row)
			}
			cs.Breakpoints = append(cs.Breakpoints, strings.TrimSpace(record[bpCol]) == "1")
		}
		row++
	}
	if row == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return cs, nil
}
