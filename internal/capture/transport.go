// internal/capture/transport.go
package capture

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/internal/eventlog"
)

// ResourceTypeFetch is the resource type reported for round trips made by
// an instrumented client. It is one of the types the default capture filter
// accepts.
const ResourceTypeFetch = "Fetch"

// Transport is an http.RoundTripper that records every round trip in an
// event log session. Response bodies are decompressed and buffered so the
// logged content is readable; the caller still receives the full body.
type Transport struct {
	// Base performs the actual round trip. Nil means http.DefaultTransport.
	Base    http.RoundTripper
	Session *eventlog.Session
	// ResourceType overrides ResourceTypeFetch.
	ResourceType string
	Logger       *zap.Logger
}

// NewClient returns an http.Client whose requests are recorded in s.
func NewClient(s *eventlog.Session, base http.RoundTripper, logger *zap.Logger) *http.Client {
	return &http.Client{Transport: &Transport{Base: base, Session: s, Logger: logger}}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) resourceType() string {
	if t.ResourceType != "" {
		return t.ResourceType
	}
	return ResourceTypeFetch
}

func (t *Transport) logger() *zap.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return zap.NewNop()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if out.Header.Get("Accept-Encoding") == "" {
		out.Header.Set("Accept-Encoding", acceptEncoding)
	}

	body, err := drainRequestBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	id, tracked := t.Session.OnRequestStarted(eventlog.RequestInfo{
		Method:       out.Method,
		URL:          out.URL.String(),
		ResourceType: t.resourceType(),
		ContentType:  out.Header.Get("Content-Type"),
		PostData:     body,
	})

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		if tracked {
			t.Session.OnRequestFailed(id, err.Error())
		}
		return nil, err
	}

	if err := decompress(resp); err != nil {
		_ = resp.Body.Close()
		if tracked {
			t.Session.OnRequestFailed(id, err.Error())
		}
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	if !tracked {
		return resp, nil
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if readErr != nil {
		t.logger().Debug("Response body truncated.", zap.String("url", out.URL.String()), zap.Error(readErr))
	}

	t.Session.OnRequestFinished(id, eventlog.ResponseInfo{
		Status:      resp.StatusCode,
		StatusText:  statusText(resp),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        raw,
		BodyErr:     readErr,
	})
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return resp, nil
}

// drainRequestBody reads and closes the request body, as RoundTrip must.
func drainRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

// statusText takes the reason phrase from the status line, falling back
// to the standard text for the code.
func statusText(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
