package notify

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/eventlogger/internal/clock"
	"github.com/xkilldash9x/eventlogger/internal/observability"
)

// Mutation is one element touched by a DOM mutation, as reported by the page.
type Mutation struct {
	Key       string `json:"key"`
	ClassName string `json:"className"`
	Text      string `json:"text"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	HasTitle  bool   `json:"hasTitle"`
	Visible   bool   `json:"visible"`
	Attached  bool   `json:"attached"`
}

// Probe is the periodic state of a tracked element.
type Probe struct {
	Key      string `json:"key"`
	Attached bool   `json:"attached"`
	Visible  bool   `json:"visible"`
}

// Notification is a tracked notification element.
type Notification struct {
	ID          int
	Key         string
	Kind        Kind
	Class       string
	Severity    string
	Title       string
	Text        string
	Visible     bool
	Shown       time.Duration
	LastUpdated time.Time
}

// ShownMillis is the accumulated visible time in milliseconds.
func (n Notification) ShownMillis() int64 { return n.Shown.Milliseconds() }

// EventType is a lifecycle transition.
type EventType string

const (
	EventCreated EventType = "Created"
	EventUpdated EventType = "Updated"
	EventRemoved EventType = "Removed"
	EventCleared EventType = "Cleared"
)

// Event is emitted to the Sink on every lifecycle transition.
type Event struct {
	Type         EventType
	Notification Notification
	Remaining    []int
}

type eventSummary struct {
	ID      int    `json:"alert"`
	Class   string `json:"class"`
	Type    Kind   `json:"type"`
	Title   string `json:"title,omitempty"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
	Shown   int64  `json:"shown"`
}

// Message renders the event as a single console line.
func (e Event) Message() string {
	switch e.Type {
	case EventCleared:
		return "Alert: Cleared all alerts"
	case EventRemoved:
		left := make([]string, len(e.Remaining))
		for i, id := range e.Remaining {
			left[i] = strconv.Itoa(id)
		}
		return fmt.Sprintf("Alert: Removed left=[%s] %s", strings.Join(left, ","), e.summary())
	default:
		return fmt.Sprintf("Alert: %s %s", e.Type, e.summary())
	}
}

func (e Event) summary() string {
	n := e.Notification
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(eventSummary{
		ID: n.ID, Class: n.Class, Type: n.Kind, Title: n.Title, Text: n.Text,
		Visible: n.Visible, Shown: n.ShownMillis(),
	})
	if err != nil {
		return fmt.Sprintf("{alert:%d}", n.ID)
	}
	return string(b)
}

// Sink receives lifecycle events. It is called without any lock held.
type Sink func(Event)

// Verdict tells the page what became of the elements of one batch. Track
// keys are now followed by probes, Reject keys must not be reported again
// and Drop keys were detached before they could be classified.
type Verdict struct {
	Track  []string `json:"track"`
	Reject []string `json:"reject"`
	Drop   []string `json:"drop"`
}

// Empty reports whether the verdict carries no keys.
func (v Verdict) Empty() bool {
	return len(v.Track) == 0 && len(v.Reject) == 0 && len(v.Drop) == 0
}

// State owns every tracked notification of one page. Each element is
// classified once: a key is either tracked or remembered as rejected until
// the page confirms it stopped reporting it.
type State struct {
	clock clock.Clock
	sink  Sink

	mu       sync.Mutex
	nextID   int
	tracked  map[string]*Notification
	rejected map[string]struct{}
}

// NewState creates an empty classifier state.
func NewState(clk clock.Clock, sink Sink) *State {
	if clk == nil {
		clk = clock.Real()
	}
	if sink == nil {
		sink = func(Event) {}
	}
	return &State{
		clock:    clk,
		sink:     sink,
		tracked:  make(map[string]*Notification),
		rejected: make(map[string]struct{}),
	}
}

// OnMutationBatch classifies unseen elements and refreshes tracked ones. It
// returns the number of tracked notifications afterwards.
func (s *State) OnMutationBatch(batch []Mutation) int {
	count, _ := s.ApplyBatch(batch)
	return count
}

// ApplyBatch is OnMutationBatch that also returns the verdict on the
// batch's unseen elements, for the page to act on.
func (s *State) ApplyBatch(batch []Mutation) (int, Verdict) {
	var verdict Verdict
	s.mu.Lock()
	now := s.clock.Now()
	var events []Event
	for _, m := range batch {
		if n, ok := s.tracked[m.Key]; ok {
			if applyVisibility(n, m.Visible && m.Attached, now) {
				events = append(events, Event{Type: EventUpdated, Notification: *n})
			}
			continue
		}
		if _, seen := s.rejected[m.Key]; seen {
			continue
		}
		if !m.Attached {
			verdict.Drop = append(verdict.Drop, m.Key)
			continue
		}
		c, ok := Classify(m.ClassName)
		if !ok {
			s.rejected[m.Key] = struct{}{}
			verdict.Reject = append(verdict.Reject, m.Key)
			continue
		}
		s.nextID++
		n := &Notification{
			ID:          s.nextID,
			Key:         m.Key,
			Kind:        c.Kind,
			Class:       c.Class,
			Severity:    c.Severity,
			Text:        m.Text,
			Visible:     m.Visible,
			LastUpdated: now,
		}
		if c.Kind == KindToast && m.HasTitle {
			n.Title = m.Title
			n.Text = m.Message
		}
		s.tracked[m.Key] = n
		verdict.Track = append(verdict.Track, m.Key)
		observability.RecordNotification(string(n.Kind))
		events = append(events, Event{Type: EventCreated, Notification: *n})
	}
	count := len(s.tracked)
	s.mu.Unlock()

	s.emit(events)
	return count, verdict
}

// ForgetRejected drops rejected keys the page has agreed to stop reporting.
func (s *State) ForgetRejected(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.rejected, k)
	}
}

// Rejected returns the number of rejected keys still remembered.
func (s *State) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rejected)
}

// Tick applies a round of probes. Tracked elements missing from probes or
// no longer attached are dropped. It returns the number still tracked.
func (s *State) Tick(probes []Probe) int {
	byKey := make(map[string]Probe, len(probes))
	for _, p := range probes {
		byKey[p.Key] = p
	}

	s.mu.Lock()
	now := s.clock.Now()
	had := len(s.tracked)
	var events []Event
	for _, n := range s.sortedLocked() {
		p, ok := byKey[n.Key]
		if !ok || !p.Attached {
			delete(s.tracked, n.Key)
			events = append(events, Event{Type: EventRemoved, Notification: *n, Remaining: s.idsLocked()})
			continue
		}
		if applyVisibility(n, p.Visible, now) {
			events = append(events, Event{Type: EventUpdated, Notification: *n})
		}
	}
	count := len(s.tracked)
	if had > 0 && count == 0 {
		events = append(events, Event{Type: EventCleared})
	}
	s.mu.Unlock()

	s.emit(events)
	return count
}

// applyVisibility records a visibility change, accumulating shown time when
// a visible notification becomes hidden. It reports whether anything changed.
func applyVisibility(n *Notification, visible bool, now time.Time) bool {
	if n.Visible == visible {
		return false
	}
	if n.Visible {
		n.Shown += now.Sub(n.LastUpdated)
	}
	n.Visible = visible
	n.LastUpdated = now
	return true
}

func (s *State) emit(events []Event) {
	for _, e := range events {
		s.sink(e)
	}
}

// Len returns the number of tracked notifications.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// TrackedKeys returns the keys of tracked notifications in creation order.
func (s *State) TrackedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedLocked()
	keys := make([]string, len(sorted))
	for i, n := range sorted {
		keys[i] = n.Key
	}
	return keys
}

// Tracked returns copies of tracked notifications in creation order.
func (s *State) Tracked() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedLocked()
	out := make([]Notification, len(sorted))
	for i, n := range sorted {
		out[i] = *n
	}
	return out
}

func (s *State) sortedLocked() []*Notification {
	out := make([]*Notification, 0, len(s.tracked))
	for _, n := range s.tracked {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *State) idsLocked() []int {
	ids := make([]int, 0, len(s.tracked))
	for _, n := range s.tracked {
		ids = append(ids, n.ID)
	}
	sort.Ints(ids)
	return ids
}
