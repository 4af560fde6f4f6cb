package hooks

import (
	"sort"
	"sync"
	"time"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/pubsub"
	"github.com/lumeet/classmeet/internal/roster"
	"github.com/lumeet/classmeet/internal/rtc"
)

// RaisedHands tracks the receiver-local raised-hand set. A hand nobody
// dismisses is lowered automatically after the dismiss delay; a manual
// dismiss cancels that timer.
type RaisedHands struct {
	mu      sync.Mutex
	timers  map[domain.AttendeeID]*time.Timer
	bus     *pubsub.Bus[[]domain.AttendeeID]
	rost    *roster.Machine
	delay   time.Duration
	cancels []func()
}

type HandsOption func(*RaisedHands)

// WithDismissDelay overrides the auto-dismiss delay. Tests use short ones.
func WithDismissDelay(d time.Duration) HandsOption {
	return func(h *RaisedHands) { h.delay = d }
}

// NewRaisedHands subscribes to the raise/dismiss topics. rost may be nil;
// when set, the roster's HandRaised flags mirror this set.
func NewRaisedHands(src MessageSource, rost *roster.Machine, opts ...HandsOption) *RaisedHands {
	h := &RaisedHands{
		timers: make(map[domain.AttendeeID]*time.Timer),
		bus:    pubsub.NewBus[[]domain.AttendeeID](),
		rost:   rost,
		delay:  control.HandDismissDelay,
	}
	for _, o := range opts {
		o(h)
	}
	h.cancels = append(h.cancels,
		src.SubscribeMessages(string(control.TopicRaiseHand), h.onRaise),
		src.SubscribeMessages(string(control.TopicDismissHand), h.onDismiss),
	)
	return h
}

func (h *RaisedHands) Close() {
	for _, cancel := range h.cancels {
		cancel()
	}
	h.mu.Lock()
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = make(map[domain.AttendeeID]*time.Timer)
	h.mu.Unlock()
}

// Raised returns the current set, sorted for stable display.
func (h *RaisedHands) Raised() []domain.AttendeeID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.raisedLocked()
}

func (h *RaisedHands) Subscribe(fn func([]domain.AttendeeID)) func() { return h.bus.Subscribe(fn) }

func (h *RaisedHands) onRaise(msg rtc.Message) {
	// The payload is the raising attendee's id as plain text.
	id := domain.AttendeeID(msg.Payload)
	if id == "" {
		return
	}
	h.mu.Lock()
	if t, ok := h.timers[id]; ok {
		t.Stop()
	}
	h.timers[id] = time.AfterFunc(h.delay, func() { h.lower(id) })
	set := h.raisedLocked()
	h.mu.Unlock()

	if h.rost != nil {
		h.rost.SetHandRaised(id, true)
	}
	h.bus.Publish(set)
}

func (h *RaisedHands) onDismiss(msg rtc.Message) {
	id := domain.AttendeeID(msg.Payload)
	if id == "" {
		return
	}
	h.lower(id)
}

func (h *RaisedHands) lower(id domain.AttendeeID) {
	h.mu.Lock()
	t, ok := h.timers[id]
	if ok {
		t.Stop()
		delete(h.timers, id)
	}
	set := h.raisedLocked()
	h.mu.Unlock()
	if !ok {
		return
	}
	if h.rost != nil {
		h.rost.SetHandRaised(id, false)
	}
	h.bus.Publish(set)
}

func (h *RaisedHands) raisedLocked() []domain.AttendeeID {
	out := make([]domain.AttendeeID, 0, len(h.timers))
	for id := range h.timers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
