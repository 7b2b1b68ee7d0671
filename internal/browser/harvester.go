// internal/browser/harvester.go
package browser

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/eventlog"
	"github.com/xkilldash9x/eventlogger/internal/notify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// inflight links a CDP request to its session id and collects the response
// metadata until loading finishes.
type inflight struct {
	id          int64
	status      int
	statusText  string
	contentType string
}

// handleEvent is the target listener. It must not block: chromedp delivers
// events from a single goroutine.
func (i *Instrumenter) handleEvent(ev interface{}) {
	s := i.recorder.Session()
	if s == nil {
		return
	}
	switch e := ev.(type) {
	// -- Network Events --
	case *network.EventRequestWillBeSent:
		i.handleRequestWillBeSent(s, e)
	case *network.EventResponseReceived:
		i.handleResponseReceived(e)
	case *network.EventLoadingFinished:
		i.handleLoadingFinished(s, e)
	case *network.EventLoadingFailed:
		i.handleLoadingFailed(s, e)

	// -- Console and Runtime Events --
	case *runtime.EventConsoleAPICalled:
		s.OnConsoleMessage(consoleSeverity(e.Type), consoleText(e.Args))
	case *runtime.EventExceptionThrown:
		i.handleExceptionThrown(s, e)
	case *runtime.EventBindingCalled:
		i.handleBindingCalled(e)

	// -- Page Events --
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			s.OnNavigation(e.Frame.URL + e.Frame.URLFragment)
		}
	}
}

func (i *Instrumenter) handleRequestWillBeSent(s *eventlog.Session, e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}

	// A redirect reuses the request id. The hop that produced it is done.
	if e.RedirectResponse != nil {
		if prev := i.take(e.RequestID); prev != nil {
			s.OnRequestFinished(prev.id, eventlog.ResponseInfo{
				Status:      int(e.RedirectResponse.Status),
				StatusText:  e.RedirectResponse.StatusText,
				ContentType: responseContentType(e.RedirectResponse),
			})
		}
	}

	contentType := getHeader(e.Request.Headers, "Content-Type")
	id, ok := s.OnRequestStarted(eventlog.RequestInfo{
		Method:       e.Request.Method,
		URL:          e.Request.URL + e.Request.URLFragment,
		ResourceType: string(e.Type),
		ContentType:  contentType,
		PostData:     postData(e.Request),
	})
	if !ok {
		return
	}

	i.mu.Lock()
	i.requests[e.RequestID] = &inflight{id: id}
	i.mu.Unlock()
}

func (i *Instrumenter) handleResponseReceived(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if req, ok := i.requests[e.RequestID]; ok {
		req.status = int(e.Response.Status)
		req.statusText = e.Response.StatusText
		req.contentType = responseContentType(e.Response)
	}
}

func (i *Instrumenter) handleLoadingFinished(s *eventlog.Session, e *network.EventLoadingFinished) {
	i.mu.Lock()
	req, ok := i.requests[e.RequestID]
	if ok {
		delete(i.requests, e.RequestID)
	}
	closed := i.closed
	if ok && !closed {
		i.bodyWG.Add(1)
	}
	i.mu.Unlock()
	if !ok {
		return
	}
	if closed {
		s.OnRequestFinished(req.id, eventlog.ResponseInfo{
			Status: req.status, StatusText: req.statusText, ContentType: req.contentType,
			BodyErr: context.Canceled,
		})
		return
	}

	// The body fetch is a CDP round trip; the listener must not wait for it.
	// The request stays active until the body is in.
	go func() {
		defer i.bodyWG.Done()
		ctx, cancel := context.WithTimeout(Detach(i.ctx), i.settings.BodyFetchTimeout)
		defer cancel()

		body, err := i.fetchBody(ctx, e.RequestID)
		if err != nil {
			i.logger.Debug("Failed to fetch response body.",
				zap.Int64("request_id", req.id), zap.Error(err))
		}
		s.OnRequestFinished(req.id, eventlog.ResponseInfo{
			Status:      req.status,
			StatusText:  req.statusText,
			ContentType: req.contentType,
			Body:        body,
			BodyErr:     err,
		})
	}()
}

func (i *Instrumenter) handleLoadingFailed(s *eventlog.Session, e *network.EventLoadingFailed) {
	req := i.take(e.RequestID)
	if req == nil {
		return
	}
	reason := e.ErrorText
	if e.Canceled && reason == "" {
		reason = "canceled"
	}
	s.OnRequestFailed(req.id, reason)
}

func (i *Instrumenter) handleExceptionThrown(s *eventlog.Session, e *runtime.EventExceptionThrown) {
	if e.ExceptionDetails == nil {
		return
	}
	// The description carries the message and the stack.
	text := e.ExceptionDetails.Text
	if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
		text = e.ExceptionDetails.Exception.Description
	}
	s.OnPageError(text)
}

func (i *Instrumenter) handleBindingCalled(e *runtime.EventBindingCalled) {
	if e.Name != mutationBinding {
		return
	}
	var batch []notify.Mutation
	if err := json.Unmarshal([]byte(e.Payload), &batch); err != nil {
		i.logger.Warn("Discarding malformed mutation batch.", zap.Error(err))
		return
	}
	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()
	if closed {
		return
	}
	i.observer.HandleBatch(Detach(i.ctx), batch)
}

// take removes and returns the tracked request behind id, if any.
func (i *Instrumenter) take(id network.RequestID) *inflight {
	i.mu.Lock()
	defer i.mu.Unlock()
	req, ok := i.requests[id]
	if !ok {
		return nil
	}
	delete(i.requests, id)
	return req
}

// postData reassembles the request body. CDP sends entries base64 encoded;
// an entry that does not decode is taken as is.
func postData(req *network.Request) []byte {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return nil
	}
	var out []byte
	for _, entry := range req.PostDataEntries {
		if entry == nil {
			continue
		}
		if decoded, err := base64.StdEncoding.DecodeString(entry.Bytes); err == nil {
			out = append(out, decoded...)
			continue
		}
		out = append(out, entry.Bytes...)
	}
	return out
}

func responseContentType(resp *network.Response) string {
	if ct := getHeader(resp.Headers, "Content-Type"); ct != "" {
		return ct
	}
	return resp.MimeType
}

func getHeader(headers network.Headers, key string) string {
	for h, v := range headers {
		if strings.EqualFold(h, key) {
			if valStr, ok := v.(string); ok {
				// CDP joins multi value headers with newlines.
				return strings.Split(valStr, "\n")[0]
			}
		}
	}
	return ""
}

func consoleSeverity(t runtime.APIType) schemas.Severity {
	switch string(t) {
	case "warning":
		return schemas.SeverityWarn
	case "error", "assert":
		return schemas.SeverityError
	case "debug":
		return schemas.SeverityDebug
	default:
		return schemas.SeverityInfo
	}
}

// consoleText renders console arguments the way the devtools console does.
// Error objects are unwrapped to their description, which holds the message
// and the stack.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		parts = append(parts, remoteObjectText(arg))
	}
	return strings.Join(parts, " ")
}

func remoteObjectText(arg *runtime.RemoteObject) string {
	if arg.Type == runtime.TypeObject && arg.Subtype == runtime.SubtypeError && arg.Description != "" {
		return arg.Description
	}
	if len(arg.Value) > 0 {
		var s string
		if json.Unmarshal([]byte(arg.Value), &s) == nil {
			return s
		}
		return string(arg.Value)
	}
	if arg.UnserializableValue != "" {
		return string(arg.UnserializableValue)
	}
	if arg.Description != "" {
		return arg.Description
	}
	return "[" + string(arg.Type) + "]"
}
