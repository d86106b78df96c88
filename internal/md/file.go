package md

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LoadBarsFile reads bars from a JSON array or a CSV file with a header row.
// CSV columns are matched by name; time and close are required. The result
// is normalized.
func LoadBarsFile(path, symbol string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var bars []Bar
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.NewDecoder(f).Decode(&bars); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrMarketDataFormat, path, err)
		}
	} else {
		bars, err = readCSV(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	for i := range bars {
		if bars[i].Symbol == "" {
			bars[i].Symbol = symbol
		}
	}
	return Normalize(bars)
}

func readCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMarketDataFormat, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["time"]; !ok {
		return nil, fmt.Errorf("%w: missing time column", ErrMarketDataFormat)
	}
	if _, ok := col["close"]; !ok {
		return nil, fmt.Errorf("%w: missing close column", ErrMarketDataFormat)
	}

	var bars []Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return bars, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMarketDataFormat, line, err)
		}
		bar, err := parseRecord(rec, col)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMarketDataFormat, line, err)
		}
		bars = append(bars, bar)
	}
}

func parseRecord(rec []string, col map[string]int) (Bar, error) {
	var bar Bar
	t, err := time.Parse(time.RFC3339, rec[col["time"]])
	if err != nil {
		return bar, err
	}
	bar.Time = t.UTC()
	if i, ok := col["symbol"]; ok {
		bar.Symbol = rec[i]
	}
	fields := map[string]*float64{
		"open": &bar.Open, "close": &bar.Close, "high": &bar.High,
		"low": &bar.Low, "volume": &bar.Volume, "turnover": &bar.Turnover,
	}
	for name, dst := range fields {
		i, ok := col[name]
		if !ok || rec[i] == "" {
			continue
		}
		if *dst, err = strconv.ParseFloat(rec[i], 64); err != nil {
			return bar, fmt.Errorf("%s: %v", name, err)
		}
	}
	return bar, nil
}
