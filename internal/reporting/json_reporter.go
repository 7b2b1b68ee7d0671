// internal/reporting/json_reporter.go
package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/observability"
)

// reportJSON sorts map keys so payloads decoded from storage render the same
// way on every run. Its own indenter misplaces nested map entries when keys
// are sorted, so output is encoded compact and indented afterwards.
var reportJSON = jsoniter.Config{
	EscapeHTML:    false,
	SortMapKeys:   true,
	UseNumber:     true,
	CaseSensitive: true,
}.Froze()

// JSONReporter streams each report as an indented JSON document.
type JSONReporter struct {
	mu      sync.Mutex
	writer  io.WriteCloser
	logger  *zap.Logger
	written int
}

// NewJSONReporter creates a reporter that takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: writer, logger: observability.GetLogger().Named("json_reporter")}
}

// Write encodes report immediately.
func (r *JSONReporter) Write(report *schemas.SessionReport) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := reportJSON.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", report.SessionID, err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return fmt.Errorf("failed to indent report %s: %w", report.SessionID, err)
	}
	out.WriteByte('\n')
	if _, err := r.writer.Write(out.Bytes()); err != nil {
		return fmt.Errorf("failed to write report %s: %w", report.SessionID, err)
	}
	r.written++
	return nil
}

// Close closes the writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	r.logger.Debug("JSON report written.", zap.Int("reports", r.written))
	return nil
}
