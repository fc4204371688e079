package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ismaiel54/strategy-backtester/internal/event"
)

// TimedBar is one parsed bar with its timestamp, ready to be replayed.
type TimedBar struct {
	Timestamp time.Time
	Bar       event.Bar
}

// timestamp layouts accepted in the first CSV column, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadCSV reads bars for one symbol from a CSV file with columns
// timestamp,open,high,low,close,volume. A header row is detected and
// skipped. Rows come back sorted by timestamp.
func LoadCSV(path, symbol string) ([]TimedBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file: %w", err)
	}
	defer f.Close()

	bars, err := parse(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return bars, nil
}

func parse(r io.Reader, symbol string) ([]TimedBar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var bars []TimedBar
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read error at line %d: %w", line+1, err)
		}
		line++

		if line == 1 && isHeader(record) {
			continue
		}
		if len(record) < 6 {
			return nil, fmt.Errorf("line %d: expected 6 columns, got %d", line, len(record))
		}

		ts, err := parseTime(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		values := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+2, err)
			}
			values[i] = v
		}

		bar := event.Bar{
			Symbol: symbol,
			Open:   values[0],
			High:   values[1],
			Low:    values[2],
			Close:  values[3],
			Volume: values[4],
		}
		// Reject rows the event layer would refuse later anyway.
		if _, err := event.NewBar(ts, bar); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, TimedBar{Timestamp: ts, Bar: bar})
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

func parseTime(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, field); err == nil {
			return ts, nil
		}
	}
	if unix, err := strconv.ParseInt(field, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", field)
}

func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(record[0]))
	return first == "timestamp" || first == "time" || first == "date" || first == "ts"
}

// Merge interleaves already-sorted per-symbol series into one chronological
// replay sequence. Ties keep the input order so a stable multi-symbol
// replay stays deterministic.
func Merge(series ...[]TimedBar) []TimedBar {
	var total int
	for _, s := range series {
		total += len(s)
	}
	merged := make([]TimedBar, 0, total)
	for _, s := range series {
		merged = append(merged, s...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}
