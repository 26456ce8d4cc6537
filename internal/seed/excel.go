package seed

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/semcache/pkg/utils"
)

// loadExcel reads pairs from the first sheet. A header row naming "question" and "answer"
// columns selects them; otherwise the first two columns are used.
func loadExcel(path string) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Dataset{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}

	qCol, aCol := 0, 1
	if len(rows) > 0 {
		if q, a, ok := headerColumns(rows[0]); ok {
			qCol, aCol = q, a
			rows = rows[1:]
		}
	}

	ds := &Dataset{}
	for _, row := range rows {
		if qCol >= len(row) {
			continue
		}
		q := utils.NormalizeText(row[qCol])
		if q == "" {
			continue
		}
		a := ""
		if aCol < len(row) {
			a = strings.TrimSpace(row[aCol])
		}
		if a == "" {
			ds.Skipped++
			continue
		}
		ds.Pairs = append(ds.Pairs, Pair{Question: q, Answer: a})
	}
	return ds, nil
}

func headerColumns(row []string) (int, int, bool) {
	q, a := -1, -1
	for i, cell := range row {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "question", "query", "prompt":
			q = i
		case "answer", "response":
			a = i
		}
	}
	return q, a, q >= 0 && a >= 0
}
