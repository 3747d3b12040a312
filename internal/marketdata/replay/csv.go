package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"kdtrader/internal/model"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006",
}

// LoadCSV reads {dataDir}/{symbol}.csv and returns its observations with
// from <= ts <= to, sorted by time. Column names are matched
// case-insensitively: the datetime column is the first of timestamp,
// datetime, date; the price column is column ("close" when empty), with
// "adj_close" mapping to a Yahoo "Adj Close" header. A zero from or to leaves
// that side open. A missing file yields an empty source.
func LoadCSV(dataDir, symbol, column string, from, to time.Time) (*SliceSource, error) {
	path := filepath.Join(dataDir, symbol+".csv")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewSliceSource(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	defer f.Close()

	ticks, err := ParseCSV(f, symbol, column, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewSliceSource(ticks), nil
}

// ParseCSV parses CSV observations from r. See LoadCSV for column rules.
func ParseCSV(r io.Reader, symbol, column string, from, to time.Time) ([]model.Tick, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	dtIdx := -1
	for _, name := range []string{"timestamp", "datetime", "date"} {
		if i, ok := cols[name]; ok {
			dtIdx = i
			break
		}
	}
	if dtIdx < 0 {
		return nil, fmt.Errorf("%w: no datetime column", ErrMissingColumn)
	}

	pxIdx, err := priceColumn(cols, column)
	if err != nil {
		return nil, err
	}

	var ticks []model.Tick
	line := 1
	for {
		rec, err := cr.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if dtIdx >= len(rec) || pxIdx >= len(rec) {
			return nil, fmt.Errorf("line %d: short row", line)
		}
		ts, err := parseTime(rec[dtIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if (!from.IsZero() && ts.Before(from)) || (!to.IsZero() && ts.After(to)) {
			continue
		}
		px, err := strconv.ParseFloat(strings.TrimSpace(rec[pxIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: price %q: %w", line, rec[pxIdx], err)
		}
		ticks = append(ticks, model.Tick{Symbol: symbol, Price: px, TS: ts})
	}

	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].TS.Before(ticks[j].TS) })
	return ticks, nil
}

func priceColumn(cols map[string]int, column string) (int, error) {
	key := strings.ToLower(strings.TrimSpace(column))
	if key == "" {
		key = "close"
	}
	if key == "adj_close" {
		if i, ok := cols["adj close"]; ok {
			return i, nil
		}
	}
	if i, ok := cols[key]; ok {
		return i, nil
	}
	return -1, fmt.Errorf("%w: price column %q", ErrMissingColumn, column)
}

// parseTime accepts the layouts in timeLayouts or unix seconds. Times without
// a zone are UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		whole := int64(secs)
		return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparsable time %q", s)
}
