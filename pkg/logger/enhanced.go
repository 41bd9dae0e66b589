package logger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/xid"

	"github.com/hmgle/sourcewatch/internal/config"
)

// ErrClosed is returned by Emit once the sink has been closed.
var ErrClosed = errors.New("event sink closed")

// Records render like JSON.stringify(record, null, 2).
var recordJSON = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// EventSink writes labeled event records to the console and the traffic log
type EventSink interface {
	Logger
	Emit(prefix string, record any) error
	Diagnostic(format string, args ...interface{})
	DiagnosticError(format string, args ...interface{})
	SessionID() string
	Close() error
}

// EnhancedLogger implements both Logger and EventSink
type EnhancedLogger struct {
	*StandardLogger
	config     *config.Config
	console    io.Writer
	outputFile *os.File
	csvWriter  *csv.Writer
	sessionID  string
	now        func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewEnhanced creates the event sink. console receives records and system
// log lines unless cfg.Quiet is set; the traffic log is opened in append mode.
func NewEnhanced(cfg *config.Config, console io.Writer) (EventSink, error) {
	if cfg.Quiet {
		console = nil
	}

	enhanced := &EnhancedLogger{
		StandardLogger: NewStandard(console, cfg.LogLevel, cfg.LogFile),
		config:         cfg,
		console:        console,
		sessionID:      xid.New().String(),
		now:            time.Now,
	}

	if cfg.OutputFile != "" {
		if err := enhanced.setupFileOutput(); err != nil {
			enhanced.StandardLogger.Close()
			return nil, fmt.Errorf("failed to setup file output: %w", err)
		}
	}

	return enhanced, nil
}

// setupFileOutput opens the traffic log and initializes format writers
func (l *EnhancedLogger) setupFileOutput() error {
	var err error
	l.outputFile, err = os.OpenFile(l.config.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	if l.config.OutputFormat == config.FormatCSV {
		l.csvWriter = csv.NewWriter(l.outputFile)
		// Header only for a fresh file so appended runs stay one table.
		if info, err := l.outputFile.Stat(); err == nil && info.Size() == 0 {
			header := []string{"timestamp", "session_id", "event", "url", "method", "status", "resource_type", "service_worker", "message"}
			if err := l.csvWriter.Write(header); err != nil {
				return err
			}
			l.csvWriter.Flush()
		}
	}

	return nil
}

// SessionID identifies this run in json and csv output.
func (l *EnhancedLogger) SessionID() string { return l.sessionID }

// Emit writes one labeled record to the console and the traffic log.
func (l *EnhancedLogger) Emit(prefix string, record any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	pretty, err := recordJSON.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %q record: %w", prefix, err)
	}

	if l.console != nil {
		fmt.Fprintf(l.console, "\n%s\n%s\n", prefix, pretty)
	}

	if l.outputFile == nil {
		return nil
	}

	switch l.config.OutputFormat {
	case config.FormatJSON:
		return l.writeJSONLine(map[string]any{
			"timestamp":  Timestamp(l.now()),
			"session_id": l.sessionID,
			"event":      prefix,
			"record":     record,
		})
	case config.FormatCSV:
		return l.writeCSVRow(l.recordRow(prefix, record))
	default:
		_, err = fmt.Fprintf(l.outputFile, "%s\n%s\n", prefix, pretty)
		return err
	}
}

// Diagnostic logs an informational line and appends it to the traffic log.
func (l *EnhancedLogger) Diagnostic(format string, args ...interface{}) {
	l.Info(format, args...)
	l.writeDiagnostic(fmt.Sprintf(format, args...))
}

// DiagnosticError is Diagnostic at error level.
func (l *EnhancedLogger) DiagnosticError(format string, args ...interface{}) {
	l.Error(format, args...)
	l.writeDiagnostic(fmt.Sprintf(format, args...))
}

func (l *EnhancedLogger) writeDiagnostic(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.outputFile == nil {
		return
	}

	ts := Timestamp(l.now())
	var err error
	switch l.config.OutputFormat {
	case config.FormatJSON:
		err = l.writeJSONLine(map[string]any{
			"timestamp":  ts,
			"session_id": l.sessionID,
			"event":      "diagnostic",
			"message":    message,
		})
	case config.FormatCSV:
		err = l.writeCSVRow([]string{ts, l.sessionID, "diagnostic", "", "", "", "", "", message})
	default:
		_, err = fmt.Fprintf(l.outputFile, "\n%s - %s\n", ts, message)
	}
	if err != nil {
		l.Debug("Failed to write diagnostic: %v", err)
	}
}

func (l *EnhancedLogger) writeJSONLine(v any) error {
	data, err := recordJSON.Marshal(v)
	if err != nil {
		return err
	}
	_, err = l.outputFile.Write(append(data, '\n'))
	return err
}

func (l *EnhancedLogger) writeCSVRow(row []string) error {
	if err := l.csvWriter.Write(row); err != nil {
		return err
	}
	l.csvWriter.Flush()
	return l.csvWriter.Error()
}

// recordRow flattens the known record types into the csv columns.
func (l *EnhancedLogger) recordRow(prefix string, record any) []string {
	ts := Timestamp(l.now())
	row := []string{ts, l.sessionID, prefix, "", "", "", "", "", ""}

	switch r := record.(type) {
	case *TrafficRecord:
		row[0] = r.Timestamp
		row[3] = r.URL
		row[4] = r.Method
		if r.Status != 0 {
			row[5] = strconv.FormatInt(r.Status, 10)
		}
		row[6] = r.ResourceType
		row[7] = strconv.FormatBool(r.IsServiceWorker)
	case *Detection:
		row[3] = r.URL
		row[5] = r.Status
		row[6] = r.ResourceType
		row[8] = r.Encoding
	case *Capture:
		row[8] = fmt.Sprintf("%s (total %d)", r.Value, r.TotalValues)
	}
	return row
}

// Close flushes and closes the traffic log. Later Emit calls fail with
// ErrClosed.
func (l *EnhancedLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var err error
	if l.csvWriter != nil {
		l.csvWriter.Flush()
	}
	if l.outputFile != nil {
		err = l.outputFile.Close()
	}
	if cerr := l.StandardLogger.Close(); err == nil {
		err = cerr
	}
	return err
}
