package eventlog

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/eventlogger/api/schemas"
)

func TestSession_ActiveSetTracksStartsMinusCompletions(t *testing.T) {
	s, clk := newTestSession(t, Options{})
	rng := rand.New(rand.NewSource(42))

	var open []int64
	starts, finishes, failures := 0, 0, 0
	for i := 0; i < 500; i++ {
		clk.Advance(time.Millisecond)
		switch op := rng.Intn(3); {
		case op == 0 || len(open) == 0:
			id, ok := s.OnRequestStarted(xhr("GET", "http://app.test/api/item"))
			require.True(t, ok)
			open = append(open, id)
			starts++
		default:
			idx := rng.Intn(len(open))
			id := open[idx]
			open = append(open[:idx], open[idx+1:]...)
			if op == 1 {
				require.True(t, s.OnRequestFinished(id, jsonResponse(200, `{}`)))
				finishes++
			} else {
				require.True(t, s.OnRequestFailed(id, "aborted"))
				failures++
			}
			// A second completion of the same id is ignored.
			assert.False(t, s.OnRequestFinished(id, jsonResponse(200, `{}`)))
			assert.False(t, s.OnRequestFailed(id, "aborted"))
		}
		require.Len(t, s.Active(), starts-finishes-failures)
	}
}

func TestSession_IdentifiersAreMonotonic(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	var last int64
	for i := 0; i < 5; i++ {
		id, ok := s.OnRequestStarted(xhr("GET", "http://app.test/api"))
		require.True(t, ok)
		assert.Greater(t, id, last)
		last = id
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, s.Active())
}

func TestSession_CaptureFilter(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	s.OnNavigation("https://app.test/home")

	_, ok := s.OnRequestStarted(RequestInfo{Method: "GET", URL: "https://app.test/logo.png", ResourceType: "Image"})
	assert.False(t, ok, "non-XHR resources are not tracked")

	_, ok = s.OnRequestStarted(RequestInfo{Method: "POST", URL: "https://analytics.example/collect", ResourceType: "Fetch"})
	assert.False(t, ok, "cross-host requests are not tracked")

	_, ok = s.OnRequestStarted(RequestInfo{Method: "GET", URL: "https://app.test/api/users", ResourceType: "Fetch"})
	assert.True(t, ok)

	// Only the navigation and the one tracked request were logged.
	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, schemas.EventNavigation, entries[0].Event)
	assert.Equal(t, schemas.NavigationData{URL: "https://app.test/home"}, entries[0].Payload)
	assert.Equal(t, schemas.EventRequest, entries[1].Event)
}

func TestSession_CustomFilterAllowsCrossHost(t *testing.T) {
	s, _ := newTestSession(t, Options{Filter: &Filter{ResourceTypes: []string{"xhr"}}})
	s.SetPageURL("https://app.test/")

	_, ok := s.OnRequestStarted(RequestInfo{Method: "GET", URL: "https://api.other.test/v1", ResourceType: "XHR"})
	assert.True(t, ok)
	_, ok = s.OnRequestStarted(RequestInfo{Method: "GET", URL: "https://api.other.test/v1", ResourceType: "Fetch"})
	assert.False(t, ok)
}

func TestSession_JSONRequestBodyRoundTrips(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	original := map[string]any{
		"name":  "Ada",
		"tags":  []any{"x", "y"},
		"count": 3.5,
		"meta":  map[string]any{"nested": true, "nothing": nil},
	}
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	_, ok := s.OnRequestStarted(RequestInfo{
		Method: "POST", URL: "http://app.test/api/users", ResourceType: "XHR",
		ContentType: "application/json; charset=utf-8", PostData: raw,
	})
	require.True(t, ok)

	data := s.Entries()[0].Payload.(schemas.RequestData)
	require.NotNil(t, data.PostData)
	assert.Contains(t, *data.PostData, "\n  ", "logged body is indented")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(*data.PostData), &decoded))
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("request body did not round-trip (-want +got):\n%s", diff)
	}
}

func TestSession_FailureEntry(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	id, _ := s.OnRequestStarted(xhr("DELETE", "http://app.test/api/users/1"))
	require.True(t, s.OnRequestFailed(id, "net::ERR_ABORTED"))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, schemas.EventRequest, entries[1].Event)
	assert.Equal(t, schemas.SeverityWarn, entries[1].Severity)
	data := entries[1].Payload.(schemas.RequestData)
	require.NotNil(t, data.Failure)
	assert.Equal(t, "net::ERR_ABORTED", *data.Failure)
	assert.Equal(t, id, data.RequestID)
	assert.Empty(t, s.Active())
}

func TestSession_UnreadableBodyLogsErrorAndNullContent(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	id, _ := s.OnRequestStarted(xhr("GET", "http://app.test/api/report"))
	require.True(t, s.OnRequestFinished(id, ResponseInfo{Status: 500, StatusText: "Internal Server Error", BodyErr: errors.New("no resource with given identifier")}))

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, schemas.EventConsole, entries[1].Event)
	assert.Equal(t, schemas.SeverityError, entries[1].Severity)
	assert.Contains(t, entries[1].Payload, "no resource with given identifier")

	resp := entries[2].Payload.(schemas.ResponsePayload)
	assert.Nil(t, resp.Response.Content)
	assert.False(t, resp.Response.OK)
	assert.Equal(t, 500, resp.Response.Status)
}

// decodeFailures reads the body decode failure counter from the default registry.
func decodeFailures(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "eventlogger_body_decode_failures_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatal("decode failure counter not registered")
	return 0
}

func TestSession_DecodeFailuresAreCounted(t *testing.T) {
	s, _ := newTestSession(t, Options{})

	before := decodeFailures(t)
	id, _ := s.OnRequestStarted(xhr("GET", "http://app.test/logo.png"))
	require.True(t, s.OnRequestFinished(id, ResponseInfo{Status: 200, StatusText: "OK", ContentType: "image/png", Body: []byte{0x89, 'P', 'N', 'G', 0xff, 0xfe}}))
	assert.Equal(t, before+1, decodeFailures(t), "invalid UTF-8 body")

	id, _ = s.OnRequestStarted(xhr("GET", "http://app.test/api/report"))
	require.True(t, s.OnRequestFinished(id, ResponseInfo{Status: 500, BodyErr: errors.New("no resource with given identifier")}))
	assert.Equal(t, before+2, decodeFailures(t), "unreadable body")

	id, _ = s.OnRequestStarted(xhr("GET", "http://app.test/api/empty"))
	require.True(t, s.OnRequestFinished(id, ResponseInfo{Status: 204, StatusText: "No Content"}))
	id, _ = s.OnRequestStarted(xhr("GET", "http://app.test/api/ok"))
	require.True(t, s.OnRequestFinished(id, ResponseInfo{Status: 200, StatusText: "OK", ContentType: "application/json", Body: []byte(`{"ok":true}`)}))
	assert.Equal(t, before+2, decodeFailures(t), "empty and decodable bodies are not failures")

	resp := lastEntry(t, s).Payload.(schemas.ResponsePayload)
	require.NotNil(t, resp.Response.Content)
}

func TestSession_ConsoleAndPageErrors(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	s.OnConsoleMessage(schemas.SeverityWarn, "deprecated API")
	s.OnPageError("TypeError: x is undefined")
	s.OnScriptStep("Start: Click Save")

	records := s.Records()
	require.Len(t, records, 3)
	assert.Equal(t, schemas.EventRecord{Time: epoch, Event: "console", Severity: "WARN", Payload: "deprecated API"}, records[0])
	assert.Equal(t, "page-error", records[1].Event)
	assert.Equal(t, "ERROR", records[1].Severity)
	assert.Equal(t, "script", records[2].Event)
}

func TestSession_ConsoleDoesNotTouchIdleClock(t *testing.T) {
	s, clk := newTestSession(t, Options{MinIdle: 50 * time.Millisecond})
	clk.Advance(60 * time.Millisecond)
	s.OnConsoleMessage(schemas.SeverityInfo, "noise")

	w, err := s.StartWait()
	require.NoError(t, err)
	_, done := pendingResult(w)
	assert.True(t, done)
}
