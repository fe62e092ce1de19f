package logsink

import (
	"bufio"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return l
}

func TestSink_CSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.csv")
	sink := New(Config{Request: StreamConfig{Path: path, Format: FormatCSV}}, testLogger())

	co := int64(1234)
	rec := &RequestRecord{
		Elapsed: 42, Raw: "GET /foo\n\"bar\"", Name: "foo", FinalURL: "http://x/foo",
		Redirected: true, ResponseTimeMs: 17, StatusCode: 200, Success: true,
		Update: false, User: 3, Error: "", CoordinatedOmissionElapsed: &co, UserCadence: 900,
	}
	sink.Send(Event{Kind: KindRequest, Request: rec})
	sink.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(bufio.NewReader(f))
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []string{
		"elapsed", "raw", "name", "final_url", "redirected", "response_time",
		"status_code", "success", "update", "user", "error",
		"coordinated_omission_elapsed", "user_cadence",
	}, rows[0])

	row := rows[1]
	require.Equal(t, strconv.Itoa(42), row[0])
	require.Equal(t, rec.Raw, row[1])
	require.Equal(t, "foo", row[2])
	require.Equal(t, "true", row[4])
	require.Equal(t, "200", row[6])
	require.Equal(t, "true", row[7])
	require.Equal(t, "3", row[9])
	require.Equal(t, "1234", row[11])
	require.Equal(t, "900", row[12])
}

func TestSink_FormatMatrix(t *testing.T) {
	dir := t.TempDir()
	formats := []Format{FormatCSV, FormatJSON, FormatRaw, FormatPretty}
	for _, f := range formats {
		cfg := Config{
			Request: StreamConfig{Path: filepath.Join(dir, "r.log"), Format: f},
			Task:    StreamConfig{Path: filepath.Join(dir, "t.log"), Format: f},
			Error:   StreamConfig{Path: filepath.Join(dir, "e.log"), Format: f},
			Debug:   StreamConfig{Path: filepath.Join(dir, "d.log"), Format: f},
		}
		sink := New(cfg, testLogger())
		sink.Send(Event{Kind: KindRequest, Request: &RequestRecord{Name: "r", StatusCode: 200, Success: true}})
		sink.Send(Event{Kind: KindTask, Task: &TaskRecord{Name: "t", Success: true}})
		sink.Send(Event{Kind: KindError, Error: &ErrorRecord{Name: "e", Error: "boom"}})
		sink.Send(Event{Kind: KindDebug, Debug: &DebugRecord{Tag: "d"}})
		sink.Close()

		for _, name := range []string{"r.log", "t.log", "e.log", "d.log"} {
			info, err := os.Stat(filepath.Join(dir, name))
			require.NoErrorf(t, err, "format %v file %s should exist", f, name)
			require.Greaterf(t, info.Size(), int64(0), "format %v file %s should be non-empty", f, name)
		}
	}
}

func TestSink_DisabledStreamIsNoop(t *testing.T) {
	sink := New(Config{}, testLogger())
	sink.Send(Event{Kind: KindRequest, Request: &RequestRecord{Name: "x"}})
	sink.Close() // must not block or panic with all streams nil
}

func TestSink_UnopenableFileDisablesStream(t *testing.T) {
	sink := New(Config{Request: StreamConfig{Path: "/nonexistent-dir-xyz/requests.csv", Format: FormatCSV}}, testLogger())
	sink.Send(Event{Kind: KindRequest, Request: &RequestRecord{Name: "x"}})
	sink.Close() // must not panic even though the stream failed to open
}
