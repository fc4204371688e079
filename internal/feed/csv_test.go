package feed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadCSV_WithHeader(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
2024-01-02,100,105,99,104,10000
2024-01-03,104,110,103,109,12000
`)

	bars, err := LoadCSV(path, "AAPL")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "AAPL", bars[0].Bar.Symbol)
	assert.Equal(t, 104.0, bars[0].Bar.Close)
	assert.Equal(t, 12000.0, bars[1].Bar.Volume)
	assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp))
}

func TestLoadCSV_UnixTimestampsAndSorting(t *testing.T) {
	path := writeCSV(t, `1700000200,104,110,103,109,12000
1700000100,100,105,99,104,10000
`)

	bars, err := LoadCSV(path, "AAPL")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), bars[0].Timestamp, "rows must come back sorted")
}

func TestLoadCSV_RejectsMalformedRows(t *testing.T) {
	_, err := LoadCSV(writeCSV(t, "2024-01-02,100,105,99\n"), "AAPL")
	require.Error(t, err)

	_, err = LoadCSV(writeCSV(t, "2024-01-02,100,95,99,104,10000\n"), "AAPL")
	require.Error(t, err, "high below low must be rejected")

	_, err = LoadCSV(writeCSV(t, "not-a-time,100,105,99,104,10000\n"), "AAPL")
	require.Error(t, err)

	_, err = LoadCSV(writeCSV(t, "2024-01-02,abc,105,99,104,10000\n"), "AAPL")
	require.Error(t, err)
}

func TestLoadCSV_MissingFile(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "nope.csv"), "AAPL")
	require.Error(t, err)
}

func TestMerge_Chronological(t *testing.T) {
	a, err := LoadCSV(writeCSV(t, `1000,1,1,1,1,10
3000,1,1,1,1,10
`), "AAPL")
	require.NoError(t, err)
	b, err := LoadCSV(writeCSV(t, `2000,2,2,2,2,10
4000,2,2,2,2,10
`), "MSFT")
	require.NoError(t, err)

	merged := Merge(a, b)
	require.Len(t, merged, 4)
	symbols := []string{merged[0].Bar.Symbol, merged[1].Bar.Symbol, merged[2].Bar.Symbol, merged[3].Bar.Symbol}
	assert.Equal(t, []string{"AAPL", "MSFT", "AAPL", "MSFT"}, symbols)
}
