package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/eventlogger/internal/clock/clocktest"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) sink(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestState() (*State, *clocktest.Fake, *recordingSink) {
	clk := clocktest.New(epoch)
	rec := &recordingSink{}
	return NewState(clk, rec.sink), clk, rec
}

func alertMutation(key, class string, visible bool) Mutation {
	return Mutation{Key: key, ClassName: class, Text: "Could not save", Visible: visible, Attached: true}
}

func TestState_AlertLifecycle(t *testing.T) {
	s, clk, rec := newTestState()

	require.Equal(t, 1, s.OnMutationBatch([]Mutation{alertMutation("d1:7", "alert alert-danger", true)}))
	created := s.Tracked()[0]
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, KindAlert, created.Kind)
	assert.Equal(t, "alert-danger", created.Class)
	assert.Equal(t, "danger", created.Severity)
	assert.True(t, created.Visible)

	// Later mutations never reclassify, even if the class changes.
	clk.Advance(10 * time.Millisecond)
	s.OnMutationBatch([]Mutation{alertMutation("d1:7", "alert alert-success", true)})
	again := s.Tracked()[0]
	assert.Equal(t, 1, again.ID)
	assert.Equal(t, "alert-danger", again.Class)
	assert.Equal(t, KindAlert, again.Kind)

	// Detached: gone on the next tick.
	assert.Equal(t, 0, s.Tick([]Probe{{Key: "d1:7", Attached: false}}))
	assert.Zero(t, s.Len())
	assert.Equal(t, []EventType{EventCreated, EventRemoved, EventCleared}, rec.types())
}

func TestState_RejectedElementsAreNeverReevaluated(t *testing.T) {
	s, _, rec := newTestState()

	s.OnMutationBatch([]Mutation{alertMutation("k1", "panel", true)})
	assert.Zero(t, s.Len())

	// The same element later gains an alert class: it stays rejected.
	s.OnMutationBatch([]Mutation{alertMutation("k1", "alert alert-danger", true)})
	assert.Zero(t, s.Len())
	assert.Empty(t, rec.types())
}

func TestState_ShownTimeAccumulatesWhileVisible(t *testing.T) {
	s, clk, rec := newTestState()
	s.OnMutationBatch([]Mutation{alertMutation("k", "alert alert-info", true)})

	clk.Advance(120 * time.Millisecond)
	s.Tick([]Probe{{Key: "k", Attached: true, Visible: false}})
	assert.Equal(t, int64(120), s.Tracked()[0].ShownMillis())

	// Hidden time does not count.
	clk.Advance(500 * time.Millisecond)
	s.Tick([]Probe{{Key: "k", Attached: true, Visible: true}})
	assert.Equal(t, int64(120), s.Tracked()[0].ShownMillis())

	clk.Advance(30 * time.Millisecond)
	s.Tick([]Probe{{Key: "k", Attached: true, Visible: false}})
	assert.Equal(t, int64(150), s.Tracked()[0].ShownMillis())

	// Unchanged visibility is not an update.
	s.Tick([]Probe{{Key: "k", Attached: true, Visible: false}})
	assert.Equal(t, []EventType{EventCreated, EventUpdated, EventUpdated, EventUpdated}, rec.types())
}

func TestState_ToastTitleAndMessage(t *testing.T) {
	s, _, _ := newTestState()
	s.OnMutationBatch([]Mutation{
		{Key: "a", ClassName: "ngx-toastr toast-error", Text: "Error\nDisk full", Title: "Error", Message: "Disk full", HasTitle: true, Attached: true},
		{Key: "b", ClassName: "toast toast-info", Text: "Saved", Attached: true},
	})
	tracked := s.Tracked()
	require.Len(t, tracked, 2)
	assert.Equal(t, "Error", tracked[0].Title)
	assert.Equal(t, "Disk full", tracked[0].Text)
	assert.Empty(t, tracked[1].Title)
	assert.Equal(t, "Saved", tracked[1].Text)
}

func TestState_MissingProbeMeansDetached(t *testing.T) {
	s, _, rec := newTestState()
	s.OnMutationBatch([]Mutation{
		alertMutation("a", "alert alert-danger", true),
		alertMutation("b", "alert alert-warning", true),
	})
	assert.Equal(t, 1, s.Tick([]Probe{{Key: "b", Attached: true, Visible: true}}))
	assert.Equal(t, []string{"b"}, s.TrackedKeys())

	rec.mu.Lock()
	removed := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	assert.Equal(t, EventRemoved, removed.Type)
	assert.Equal(t, []int{2}, removed.Remaining)
	assert.Equal(t, `Alert: Removed left=[2] {"alert":1,"class":"alert-danger","type":"alert","text":"Could not save","visible":true,"shown":0}`, removed.Message())
}

func TestState_DetachedUnknownElementIsIgnored(t *testing.T) {
	s, _, _ := newTestState()
	m := alertMutation("gone", "alert alert-danger", false)
	m.Attached = false
	assert.Zero(t, s.OnMutationBatch([]Mutation{m}))

	// It was not rejected either: reattached, it is classified.
	m.Attached = true
	assert.Equal(t, 1, s.OnMutationBatch([]Mutation{m}))
}

func TestEvent_Message(t *testing.T) {
	n := Notification{ID: 3, Kind: KindToast, Class: "toast-success", Title: "Done", Text: "Saved", Visible: true}
	assert.Equal(t, `Alert: Created {"alert":3,"class":"toast-success","type":"toast","title":"Done","text":"Saved","visible":true,"shown":0}`,
		Event{Type: EventCreated, Notification: n}.Message())
	assert.Equal(t, "Alert: Cleared all alerts", Event{Type: EventCleared}.Message())
}

func TestState_ApplyBatchVerdict(t *testing.T) {
	s, _, _ := newTestState()
	detached := alertMutation("d1:3", "alert alert-info", false)
	detached.Attached = false

	count, v := s.ApplyBatch([]Mutation{
		alertMutation("d1:1", "alert alert-danger", true),
		alertMutation("d1:2", "alert-container", true),
		detached,
	})
	assert.Equal(t, 1, count)
	assert.Equal(t, Verdict{Track: []string{"d1:1"}, Reject: []string{"d1:2"}, Drop: []string{"d1:3"}}, v)
	assert.Equal(t, 1, s.Rejected())

	// Already judged keys produce no further verdict.
	_, v = s.ApplyBatch([]Mutation{
		alertMutation("d1:1", "alert alert-danger", false),
		alertMutation("d1:2", "alert-container", true),
	})
	assert.True(t, v.Empty())
}

func TestState_ForgetRejected(t *testing.T) {
	s, _, _ := newTestState()
	s.OnMutationBatch([]Mutation{alertMutation("k1", "alert-container", true), alertMutation("k2", "snackish", true)})
	require.Equal(t, 2, s.Rejected())

	s.ForgetRejected([]string{"k1", "unknown"})
	assert.Equal(t, 1, s.Rejected())
	assert.Zero(t, s.Len())
}
