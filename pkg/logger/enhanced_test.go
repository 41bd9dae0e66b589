package logger

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmgle/sourcewatch/internal/config"
)

func newSink(t *testing.T, format config.OutputFormat) (*EnhancedLogger, *bytes.Buffer, string) {
	t.Helper()
	cfg := config.Default()
	cfg.OutputFile = filepath.Join(t.TempDir(), "traffic.log")
	cfg.OutputFormat = format

	var console bytes.Buffer
	sink, err := NewEnhanced(cfg, &console)
	require.NoError(t, err)
	el := sink.(*EnhancedLogger)
	el.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 123e6, time.UTC) }
	t.Cleanup(func() { _ = sink.Close() })
	return el, &console, cfg.OutputFile
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func sampleRecord() *TrafficRecord {
	return &TrafficRecord{
		Timestamp:    "2024-05-01T12:00:00.123Z",
		URL:          "https://rapid-cloud.co/embed?a=<b>",
		Method:       "GET",
		Headers:      map[string]string{"referer": "x", "accept": "*/*"},
		ResourceType: "document",
	}
}

func TestEmitPretty(t *testing.T) {
	sink, console, path := newSink(t, config.FormatPretty)

	require.NoError(t, sink.Emit("🔍 Detected request:", sampleRecord()))

	want := `🔍 Detected request:
{
  "timestamp": "2024-05-01T12:00:00.123Z",
  "url": "https://rapid-cloud.co/embed?a=<b>",
  "method": "GET",
  "headers": {
    "accept": "*/*",
    "referer": "x"
  },
  "resourceType": "document",
  "isServiceWorker": false
}
`
	assert.Equal(t, want, readFile(t, path))
	assert.Equal(t, "\n"+want, console.String())
}

func TestEmitOrderAndAppend(t *testing.T) {
	sink, _, path := newSink(t, config.FormatPretty)
	require.NoError(t, os.WriteFile(path, []byte("earlier run\n"), 0o644))

	require.NoError(t, sink.Emit("first", &Capture{Value: "a...", TotalValues: 1}))
	require.NoError(t, sink.Emit("second", &Capture{Value: "b...", TotalValues: 2}))

	content := readFile(t, path)
	assert.True(t, strings.HasPrefix(content, "earlier run\n"))
	assert.Less(t, strings.Index(content, "first"), strings.Index(content, "second"))
}

func TestDiagnosticPretty(t *testing.T) {
	sink, console, path := newSink(t, config.FormatPretty)

	sink.Diagnostic("Page loaded successfully: %s", "https://example.com")

	assert.Equal(t, "\n2024-05-01T12:00:00.123Z - Page loaded successfully: https://example.com\n", readFile(t, path))
	assert.Contains(t, console.String(), "Page loaded successfully")
}

func TestEmitJSONLines(t *testing.T) {
	sink, _, path := newSink(t, config.FormatJSON)

	require.NoError(t, sink.Emit("🎯 Found new sources value to monitor:", &Capture{Value: "abc...", TotalValues: 1}))
	sink.Diagnostic("Stopping monitoring")

	lines := strings.Split(strings.TrimSpace(readFile(t, path)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "🎯 Found new sources value to monitor:", first["event"])
	assert.Equal(t, sink.SessionID(), first["session_id"])
	assert.Equal(t, map[string]any{"value": "abc...", "totalValues": float64(1)}, first["record"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "diagnostic", second["event"])
	assert.Equal(t, "Stopping monitoring", second["message"])
}

func TestEmitCSV(t *testing.T) {
	sink, _, path := newSink(t, config.FormatCSV)

	require.NoError(t, sink.Emit("🔍 Detected request:", sampleRecord()))
	require.NoError(t, sink.Emit("🔍 Found sources value in request:", &Detection{URL: "https://site/play", Encoding: "raw"}))

	rows, err := csv.NewReader(strings.NewReader(readFile(t, path))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "event", rows[0][2])
	assert.Equal(t, []string{"2024-05-01T12:00:00.123Z", sink.SessionID(), "🔍 Detected request:", "https://rapid-cloud.co/embed?a=<b>", "GET", "", "document", "false", ""}, rows[1])
	assert.Equal(t, "raw", rows[2][8])
}

func TestCloseStopsWrites(t *testing.T) {
	sink, _, path := newSink(t, config.FormatPretty)

	require.NoError(t, sink.Emit("before", &Capture{Value: "x", TotalValues: 1}))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	before := readFile(t, path)
	assert.ErrorIs(t, sink.Emit("after", &Capture{Value: "y", TotalValues: 2}), ErrClosed)
	sink.Diagnostic("after close")
	assert.Equal(t, before, readFile(t, path))
}

func TestQuietSuppressesConsole(t *testing.T) {
	cfg := config.Default()
	cfg.OutputFile = filepath.Join(t.TempDir(), "traffic.log")
	cfg.Quiet = true

	var console bytes.Buffer
	sink, err := NewEnhanced(cfg, &console)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit("x", &Capture{Value: "v", TotalValues: 1}))
	sink.Diagnostic("hello")
	assert.Empty(t, console.String())
	assert.Contains(t, readFile(t, cfg.OutputFile), "hello")
}

func TestNewEnhancedBadPath(t *testing.T) {
	cfg := config.Default()
	cfg.OutputFile = filepath.Join(t.TempDir(), "missing", "traffic.log")
	_, err := NewEnhanced(cfg, nil)
	require.Error(t, err)
}
