// File: api/schemas/events_test.go
package schemas

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestSessionReport_PayloadsKeepTheirTypes(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	req := RequestData{RequestID: 1, Method: "POST", ResourceType: "XHR", URL: "http://app.test/api", PostData: strPtr("{}")}
	report := SessionReport{
		SessionID: "6f1c",
		CreatedAt: at,
		Events: []EventRecord{
			{Time: at, Event: string(EventNavigation), Severity: string(SeverityInfo), Payload: NavigationData{URL: "http://app.test/"}},
			{Time: at, Event: string(EventRequest), Severity: string(SeverityInfo), Payload: req},
			{Time: at, Event: string(EventResponse), Severity: string(SeverityInfo), Payload: ResponsePayload{
				Request:  req,
				Response: ResponseData{Status: 200, StatusText: "OK", OK: true, Content: strPtr("[]")},
			}},
			{Time: at, Event: string(EventConsole), Severity: string(SeverityError), Payload: "boom"},
			{Time: at, Event: string(EventScript), Severity: string(SeverityInfo), Payload: "Start: click #save"},
		},
	}

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded SessionReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(report, decoded); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload("custom", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, p)

	p, err = DecodePayload(EventConsole, []byte("null"))
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = DecodePayload(EventRequest, []byte(`"not an object"`))
	assert.Error(t, err)

	var rec EventRecord
	err = json.Unmarshal([]byte(`{"event":"request","payload":5}`), &rec)
	assert.ErrorContains(t, err, `event "request"`)
}

func TestLogEntry_Record(t *testing.T) {
	at := time.Now()
	rec := LogEntry{Time: at, Event: EventPageError, Severity: SeverityError, Payload: "x"}.Record()
	assert.Equal(t, EventRecord{Time: at, Event: "page-error", Severity: "ERROR", Payload: "x"}, rec)
}
