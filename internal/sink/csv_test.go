package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/mediaharvest/internal/pipeline"
)

func record(i int) pipeline.Record {
	return pipeline.Record{
		SourceLocator: fmt.Sprintf("https://cdn.example.com/c1/%d.jpg", i),
		DisplayName:   fmt.Sprintf("photo %d", i),
		CollectionID:  "c1",
		Kind:          pipeline.KindImage,
		Status:        pipeline.FetchSuccess,
		LocalPath:     fmt.Sprintf("/media/c1/%d.jpg", i),
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWritesHeaderOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.csv")

	s, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(record(1)))
	require.NoError(t, s.Close())

	// Reopening an existing file must not emit a second header.
	s, err = OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(record(2)))
	require.NoError(t, s.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	require.Equal(t, Header, rows[0])
	require.Equal(t, "https://cdn.example.com/c1/1.jpg", rows[1][0])
	require.Equal(t, "https://cdn.example.com/c1/2.jpg", rows[2][0])
}

func TestCSVConcurrentAppendsProduceWholeRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.csv")
	s, err := OpenCSV(path)
	require.NoError(t, err)

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			require.NoError(t, s.Append(record(n)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	rows := readRows(t, path)
	require.Len(t, rows, writers+1, "one header plus one intact row per writer")
	for _, row := range rows {
		require.Len(t, row, len(Header))
	}
}

func TestCSVRecordsTerminalFailures(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.csv")
	s, err := OpenCSV(path)
	require.NoError(t, err)

	rec := record(1)
	rec.Status = pipeline.FetchTerminal
	rec.LocalPath = ""
	rec.Message = "protocol rejection: status 404"
	require.NoError(t, s.Append(rec))
	require.NoError(t, s.Close())

	rows := readRows(t, path)
	require.Equal(t, "terminal_failure", rows[1][4])
	require.Empty(t, rows[1][5])
	require.Equal(t, "protocol rejection: status 404", rows[1][6])
}

func TestOpenCSVCreatesParentDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "records.csv")
	s, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.FileExists(t, path)
}
