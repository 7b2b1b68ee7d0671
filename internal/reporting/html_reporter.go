// internal/reporting/html_reporter.go
package reporting

import (
	"fmt"
	"html/template"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/observability"
)

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Event log</title>
<style>
body { font-family: sans-serif; font-size: 13px; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 4px 6px; text-align: left; vertical-align: top; }
th { background: #eee; }
pre { margin: 4px 0; white-space: pre-wrap; }
.ok { color: green; }
.failed { color: red; }
.script { color: blue; }
.sev-ERROR { background: #fde8e8; }
.sev-WARN { background: #fff6dd; }
</style>
</head>
<body>
{{range .}}
<h2>Session {{.SessionID}}</h2>
<p>{{if .Target}}Target: {{.Target}}<br>{{end}}Created: {{.CreatedAt}}</p>
<table>
<tr><th>Time</th><th>Event source</th><th>Type</th><th>Data</th></tr>
{{range .Rows}}<tr class="sev-{{.Severity}}">
<td>{{.Time}}</td>
<td>{{.Event}}</td>
<td>{{.Severity}}</td>
<td{{if .Class}} class="{{.Class}}"{{end}}>{{.Summary}}{{if .Status}} <span class="{{.StatusClass}}">{{.Status}}</span>{{end}}
{{range .Details}}<details><summary>{{.Label}}</summary><pre>{{.Body}}</pre></details>{{end}}</td>
</tr>
{{end}}</table>
{{end}}
</body>
</html>
`

var reportTemplate = template.Must(template.New("report").Parse(htmlTemplate))

type htmlReport struct {
	SessionID string
	Target    string
	CreatedAt string
	Rows      []htmlRow
}

type htmlRow struct {
	Time        string
	Event       string
	Severity    string
	Class       string
	Summary     string
	Status      string
	StatusClass string
	Details     []htmlDetail
}

type htmlDetail struct {
	Label string
	Body  string
}

// HTMLReporter renders all written reports into one HTML page on Close.
type HTMLReporter struct {
	mu      sync.Mutex
	writer  io.WriteCloser
	logger  *zap.Logger
	reports []htmlReport
}

// NewHTMLReporter creates a reporter that takes ownership of writer.
func NewHTMLReporter(writer io.WriteCloser) *HTMLReporter {
	return &HTMLReporter{writer: writer, logger: observability.GetLogger().Named("html_reporter")}
}

// Write buffers report for rendering.
func (r *HTMLReporter) Write(report *schemas.SessionReport) error {
	if report == nil {
		return nil
	}
	view := htmlReport{
		SessionID: report.SessionID,
		Target:    report.Target,
		CreatedAt: report.CreatedAt.Format("2006-01-02 15:04:05 MST"),
		Rows:      make([]htmlRow, 0, len(report.Events)),
	}
	for _, ev := range report.Events {
		view.Rows = append(view.Rows, renderRow(ev))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, view)
	return nil
}

// Close renders the page and closes the writer.
func (r *HTMLReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	renderErr := reportTemplate.Execute(r.writer, r.reports)
	closeErr := r.writer.Close()
	if renderErr != nil {
		return fmt.Errorf("failed to render HTML report: %w", renderErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("HTML report written.", zap.Int("reports", len(r.reports)))
	return nil
}

func renderRow(ev schemas.EventRecord) htmlRow {
	row := htmlRow{
		Time:     ev.Time.Format("15:04:05.000"),
		Event:    ev.Event,
		Severity: ev.Severity,
	}

	switch p := ev.Payload.(type) {
	case schemas.RequestData:
		row.Summary = requestSummary("Request", p)
		if p.PostData != nil {
			row.Details = append(row.Details, htmlDetail{Label: "Request body", Body: *p.PostData})
		}
		if p.Failure != nil {
			row.Status, row.StatusClass = "Failed: "+*p.Failure, "failed"
		}
	case schemas.ResponsePayload:
		row.Summary = requestSummary("Response", p.Request)
		row.Status = fmt.Sprintf("%d %s", p.Response.Status, p.Response.StatusText)
		row.StatusClass = "failed"
		if p.Response.OK {
			row.StatusClass = "ok"
		}
		if p.Request.PostData != nil {
			row.Details = append(row.Details, htmlDetail{Label: "Request body", Body: *p.Request.PostData})
		}
		if p.Response.Content != nil {
			row.Details = append(row.Details, htmlDetail{Label: "Response body", Body: *p.Response.Content})
		}
	case schemas.NavigationData:
		row.Summary = "Navigated to " + p.URL
	case string:
		row.Summary = p
	case nil:
	default:
		if data, err := reportJSON.MarshalToString(p); err == nil {
			row.Summary = data
		} else {
			row.Summary = fmt.Sprintf("%v", p)
		}
	}

	if ev.Event == string(schemas.EventScript) {
		row.Class = "script"
	}
	return row
}

func requestSummary(label string, req schemas.RequestData) string {
	return fmt.Sprintf("%s %03d: %s %s", label, req.RequestID, req.Method, req.URL)
}
