// Package plotcsv holds the on-disk exchange format for strategy plot
// series: a CSV with a "time" column plus one column per plot title. Empty
// cells mean the series had no value on that bar.
package plotcsv

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// Writer appends one row per bar. The file is truncated on creation so each
// run starts from a clean sheet.
type Writer struct {
	f      *os.File
	w      *csv.Writer
	titles []string
}

func Create(path string, titles []string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	header := append([]string{"time"}, titles...)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{f: f, w: w, titles: titles}, nil
}

// Append writes one bar row; values are positional against the header
// titles, nil meaning no value.
func (pw *Writer) Append(ts int64, values []*float64) error {
	if len(values) != len(pw.titles) {
		return fmt.Errorf("plotcsv: %d values for %d titles", len(values), len(pw.titles))
	}
	row := make([]string, 0, len(values)+1)
	row = append(row, strconv.FormatInt(ts, 10))
	for _, v := range values {
		if v == nil {
			row = append(row, "")
		} else {
			row = append(row, strconv.FormatFloat(*v, 'g', -1, 64))
		}
	}
	if err := pw.w.Write(row); err != nil {
		return err
	}
	pw.w.Flush()
	return pw.w.Error()
}

func (pw *Writer) Close() error {
	pw.w.Flush()
	if err := pw.w.Error(); err != nil {
		pw.f.Close()
		return err
	}
	return pw.f.Close()
}

// Row is one parsed CSV line.
type Row struct {
	Time   int64
	Values []*float64
}

// Read parses the whole file. limit > 0 keeps only the last limit rows.
func Read(path string, limit int) (titles []string, rows []Row, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	header := records[0]
	if len(header) < 1 || header[0] != "time" {
		return nil, nil, fmt.Errorf("plotcsv: bad header in %s", path)
	}
	titles = header[1:]

	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			continue
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			continue
		}
		row := Row{Time: ts, Values: make([]*float64, len(titles))}
		for i, cell := range rec[1:] {
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				continue
			}
			vv := v
			row.Values[i] = &vv
		}
		rows = append(rows, row)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return titles, rows, nil
}
