package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/casefeed/internal/domain"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

type tableData struct {
	headers []string
	rows    [][]string
	// lines holds the 1-based source line of each row.
	lines []int
}

func (t tableData) column(index int) []string {
	values := make([]string, len(t.rows))
	for i, row := range t.rows {
		values[i] = row[index]
	}
	return values
}

// parseCSV reads payload with the given delimiter. The first non-empty
// record is the header row.
func parseCSV(payload []byte, delimiter rune) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.Comma = delimiter
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	var (
		records [][]string
		lines   []int
	)
	for {
		record, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return tableData{}, fmt.Errorf("%w: failed to read csv: %v", domain.ErrIO, err)
		}
		line, _ := csvReader.FieldPos(0)
		records = append(records, record)
		lines = append(lines, line)
	}

	return normalizeTable(records, lines), nil
}

func normalizeTable(records [][]string, lines []int) tableData {
	var table tableData
	for idx, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if table.headers == nil {
			table.headers = make([]string, len(row))
			for i, value := range row {
				table.headers[i] = strings.TrimSpace(strings.TrimPrefix(value, "\ufeff"))
			}
			continue
		}
		table.rows = append(table.rows, padRow(row, len(table.headers)))
		table.lines = append(table.lines, lines[idx])
	}
	return table
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
