// internal/browser/instrumenter_integration_test.go
package browser_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/eventlog"
)

const testPage = `<!doctype html>
<html><body>
<button id="load" onclick="load()">Load</button>
<button id="save" onclick="save()">Save</button>
<div id="out"></div>
<script>
function load() {
  fetch('/api/items').then(r => r.json()).then(d => { document.getElementById('out').textContent = d.items.length; });
}
function save() {
  fetch('/api/save', {method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify({name: 'x'})})
    .then(r => {
      const el = document.createElement('div');
      el.className = 'alert alert-danger';
      el.textContent = 'Save failed';
      document.body.prepend(el);
    });
}
console.warn('page ready');
</script>
</body></html>`

func testHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, testPage)
	})
	mux.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[1,2]}`)
	})
	mux.HandleFunc("/api/save", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"nope"}`)
	})
	return mux
}

func responses(records []schemas.EventRecord) []schemas.ResponsePayload {
	var out []schemas.ResponsePayload
	for _, r := range records {
		if p, ok := r.Payload.(schemas.ResponsePayload); ok {
			out = append(out, p)
		}
	}
	return out
}

func TestInstrumenter_CapturesFetch(t *testing.T) {
	f := setupBrowser(t)
	server := createTestServer(t, testHandler())
	inst := f.Instrumenter

	require.NoError(t, inst.Init(eventlog.Options{MinIdle: 100 * time.Millisecond}))
	assert.ErrorIs(t, inst.Init(eventlog.Options{}), eventlog.ErrAlreadyInitialized)

	require.NoError(t, chromedp.Run(f.Ctx, chromedp.Navigate(server.URL)))
	require.NoError(t, chromedp.Run(f.Ctx, chromedp.Click("#load", chromedp.ByQuery)))

	require.Eventually(t, func() bool { return len(responses(inst.ReportEvents())) == 1 }, 10*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, inst.WaitForEvents(ctx))

	records := inst.ReportEvents()
	resp := responses(records)[0]
	assert.Equal(t, "GET", resp.Request.Method)
	assert.True(t, strings.HasSuffix(resp.Request.URL, "/api/items"))
	assert.Equal(t, 200, resp.Response.Status)
	require.NotNil(t, resp.Response.Content)
	assert.Equal(t, "{\n  \"items\": [\n    1,\n    2\n  ]\n}", *resp.Response.Content)

	var sawNavigation, sawWarning bool
	for _, r := range records {
		if r.Event == string(schemas.EventNavigation) {
			sawNavigation = true
		}
		if r.Event == string(schemas.EventConsole) && r.Payload == "page ready" {
			sawWarning = r.Severity == string(schemas.SeverityWarn)
		}
	}
	assert.True(t, sawNavigation)
	assert.True(t, sawWarning)
	assert.Equal(t, "Wait satisfied in", firstWords(records[len(records)-1].Payload, 3))
}

func TestInstrumenter_AlertFailsWait(t *testing.T) {
	f := setupBrowser(t)
	server := createTestServer(t, testHandler())
	inst := f.Instrumenter

	require.NoError(t, inst.Init(eventlog.Options{
		AlertLocator: ".alert-danger",
		AlertTimeout: 200 * time.Millisecond,
	}))
	require.NoError(t, chromedp.Run(f.Ctx, chromedp.Navigate(server.URL)))
	require.NoError(t, chromedp.Run(f.Ctx, chromedp.Click("#save", chromedp.ByQuery)))

	require.Eventually(t, func() bool { return len(inst.Notifications()) == 1 }, 10*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := inst.WaitForEvents(ctx)
	var assertion *eventlog.AssertionError
	require.True(t, errors.As(err, &assertion), "got %v", err)
	assert.Equal(t, []string{"Save failed"}, assertion.Texts)

	resp := responses(inst.ReportEvents())
	require.Len(t, resp, 1)
	assert.Equal(t, "POST", resp[0].Request.Method)
	require.NotNil(t, resp[0].Request.PostData)
	assert.Equal(t, "{\n  \"name\": \"x\"\n}", *resp[0].Request.PostData)
	assert.False(t, resp[0].Response.OK)
}

func firstWords(payload any, n int) string {
	s, _ := payload.(string)
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
