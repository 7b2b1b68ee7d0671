package eventlog

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eventlogger/api/schemas"
	"github.com/xkilldash9x/eventlogger/internal/clock"
	"github.com/xkilldash9x/eventlogger/internal/observability"
)

const (
	DefaultMaxWait      = 10 * time.Second
	DefaultMinIdle      = 150 * time.Millisecond
	DefaultAlertTimeout = 100 * time.Millisecond
)

// Options configure a Session. Zero values select the defaults; a nil Filter
// selects DefaultFilter.
type Options struct {
	MaxWait      time.Duration
	MinIdle      time.Duration
	AlertLocator string
	AlertTimeout time.Duration
	Filter       *Filter
}

func (o Options) withDefaults() Options {
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.MinIdle <= 0 {
		o.MinIdle = DefaultMinIdle
	}
	if o.AlertTimeout <= 0 {
		o.AlertTimeout = DefaultAlertTimeout
	}
	if o.Filter == nil {
		f := DefaultFilter()
		o.Filter = &f
	}
	return o
}

// RequestInfo is what an adapter knows about a request when it starts.
type RequestInfo struct {
	Method       string
	URL          string
	ResourceType string
	ContentType  string
	PostData     []byte
}

// ResponseInfo describes a completed request. BodyErr is set when the body
// could not be retrieved at all.
type ResponseInfo struct {
	Status      int
	StatusText  string
	ContentType string
	Body        []byte
	BodyErr     error
}

// Session holds the request bookkeeping and event log of one browser context.
// Every handler runs its state change under mu and never blocks while
// holding it, so handlers and timer callbacks observe each other atomically.
type Session struct {
	ID string

	opts   Options
	clock  clock.Clock
	logger *zap.Logger
	log    EventLog

	mu            sync.Mutex
	counter       int64
	active        map[int64]schemas.RequestData
	lastEventTime time.Time
	pageHost      string

	pending  *Wait
	idle     waitTimer
	deadline waitTimer
}

// NewSession creates a session whose idle clock starts now.
func NewSession(opts Options, clk clock.Clock, logger *zap.Logger) *Session {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		ID:            id,
		opts:          opts.withDefaults(),
		clock:         clk,
		logger:        logger.Named("session").With(zap.String("session_id", id)),
		active:        make(map[int64]schemas.RequestData),
		lastEventTime: clk.Now(),
	}
}

// Options returns the effective configuration.
func (s *Session) Options() Options { return s.opts }

// SetPageURL records the page's current URL for the same-host filter.
func (s *Session) SetPageURL(pageURL string) {
	s.mu.Lock()
	s.pageHost = hostOf(pageURL)
	s.mu.Unlock()
}

// OnRequestStarted tracks a new request if it passes the capture filter and
// returns its identifier. Filtered requests return false and leave no trace.
func (s *Session) OnRequestStarted(info RequestInfo) (int64, bool) {
	postData := DecodeRequestBody(info.Method, info.ContentType, info.PostData)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opts.Filter.Allows(info.ResourceType, info.URL, s.pageHost) {
		return 0, false
	}

	now := s.clock.Now()
	s.counter++
	id := s.counter
	data := schemas.RequestData{
		RequestID:    id,
		Method:       info.Method,
		ResourceType: info.ResourceType,
		URL:          info.URL,
		PostData:     postData,
	}
	s.active[id] = data
	s.lastEventTime = now
	s.appendLocked(now, schemas.EventRequest, schemas.SeverityInfo, data)
	observability.RecordRequest(observability.OutcomeStarted)
	s.notifyActivityChangedLocked()
	return id, true
}

// OnRequestFailed records a failed request. It reports false when id is not
// active, so an identifier is only ever removed once.
func (s *Session) OnRequestFailed(id int64, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.active[id]
	if !ok {
		return false
	}
	now := s.clock.Now()
	data.Failure = &reason
	s.appendLocked(now, schemas.EventRequest, schemas.SeverityWarn, data)

	delete(s.active, id)
	s.lastEventTime = now
	observability.RecordRequest(observability.OutcomeFailed)
	s.notifyActivityChangedLocked()
	return true
}

// OnRequestFinished records the response of a completed request. Body
// problems never fail the capture; they leave Content nil.
func (s *Session) OnRequestFinished(id int64, resp ResponseInfo) bool {
	var content *string
	if resp.BodyErr == nil {
		content = DecodeResponseBody(resp.ContentType, resp.Body)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.active[id]
	if !ok {
		return false
	}
	now := s.clock.Now()
	switch {
	case resp.BodyErr != nil:
		observability.RecordDecodeFailure()
		s.appendLocked(now, schemas.EventConsole, schemas.SeverityError,
			fmt.Sprintf("Failed to read response body of request %d (%s): %v", id, data.URL, resp.BodyErr))
	case content == nil && len(resp.Body) > 0:
		// Binary or otherwise undecodable payload.
		observability.RecordDecodeFailure()
	}
	s.appendLocked(now, schemas.EventResponse, schemas.SeverityInfo, schemas.ResponsePayload{
		Request: data,
		Response: schemas.ResponseData{
			Status:     resp.Status,
			StatusText: resp.StatusText,
			OK:         resp.Status >= 200 && resp.Status <= 299,
			Content:    content,
		},
	})

	delete(s.active, id)
	s.lastEventTime = now
	observability.RecordRequest(observability.OutcomeFinished)
	s.notifyActivityChangedLocked()
	return true
}

// OnConsoleMessage appends a console entry.
func (s *Session) OnConsoleMessage(severity schemas.Severity, text string) {
	s.append(schemas.EventConsole, severity, text)
}

// OnNavigation appends a main-frame navigation and updates the page host.
func (s *Session) OnNavigation(pageURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageHost = hostOf(pageURL)
	s.appendLocked(s.clock.Now(), schemas.EventNavigation, schemas.SeverityInfo, schemas.NavigationData{URL: pageURL})
}

// OnPageError appends an uncaught page exception.
func (s *Session) OnPageError(message string) {
	s.append(schemas.EventPageError, schemas.SeverityError, message)
}

// OnScriptStep appends a step marker from the runner driving the browser.
func (s *Session) OnScriptStep(text string) {
	s.append(schemas.EventScript, schemas.SeverityInfo, text)
}

func (s *Session) append(kind schemas.EventKind, severity schemas.Severity, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(s.clock.Now(), kind, severity, payload)
}

func (s *Session) appendLocked(at time.Time, kind schemas.EventKind, severity schemas.Severity, payload any) {
	s.log.Append(schemas.LogEntry{Time: at, Event: kind, Severity: severity, Payload: payload})
}

// Active returns the identifiers of in-flight requests in ascending order.
func (s *Session) Active() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Session) activeLocked() []int64 {
	ids := make([]int64, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Entries returns a copy of the event log.
func (s *Session) Entries() []schemas.LogEntry { return s.log.Entries() }

// Records returns the event log as plain report records.
func (s *Session) Records() []schemas.EventRecord { return s.log.Records() }
