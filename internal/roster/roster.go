// Package roster merges the presence and volume-indicator event streams
// into one shared attendee mapping and republishes it at a bounded rate.
//
// Entry lifecycle: absent -> present(name unresolved) -> present(name
// resolved) -> absent. Entries are created lazily by the first volume
// event for an identity, never by a bare presence event; a presence
// removal deletes the entry immediately.
package roster

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/pubsub"
)

// DefaultPublishInterval bounds the fan-out rate to subscribers.
const DefaultPublishInterval = 400 * time.Millisecond

// Snapshot is an immutable copy of the roster handed to subscribers.
type Snapshot map[domain.AttendeeID]domain.RosterEntry

// NameResolver looks up the display name and host flag of one attendee.
type NameResolver func(ctx context.Context, id domain.AttendeeID) (*domain.AttendeeInfo, error)

type Machine struct {
	mu            sync.Mutex
	entries       map[domain.AttendeeID]*domain.RosterEntry
	nameRequested map[domain.AttendeeID]bool
	recorder      domain.AttendeeID
	local         domain.AttendeeID

	resolve    NameResolver
	bus        *pubsub.Bus[Snapshot]
	flush      *pubsub.Coalescer
	onAutoMute func()
	onRecorder func(domain.AttendeeID)
}

type Option func(*Machine)

// WithPublishInterval overrides the throttle window. Tests use short ones.
func WithPublishInterval(d time.Duration) Option {
	return func(m *Machine) {
		m.flush.Stop()
		m.flush = pubsub.NewCoalescer(d, m.publish)
	}
}

// WithAutoMute installs the action taken when the local attendee's own
// resolved name turns out to be the reserved recorder name.
func WithAutoMute(fn func()) Option { return func(m *Machine) { m.onAutoMute = fn } }

// WithRecorderSink is notified once the recording bot's identity is known.
func WithRecorderSink(fn func(domain.AttendeeID)) Option {
	return func(m *Machine) { m.onRecorder = fn }
}

func New(local domain.AttendeeID, resolve NameResolver, opts ...Option) *Machine {
	m := &Machine{
		entries:       make(map[domain.AttendeeID]*domain.RosterEntry),
		nameRequested: make(map[domain.AttendeeID]bool),
		local:         local,
		resolve:       resolve,
		bus:           pubsub.NewBus[Snapshot](),
	}
	m.flush = pubsub.NewCoalescer(DefaultPublishInterval, m.publish)
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe registers fn for throttled roster snapshots.
func (m *Machine) Subscribe(fn func(Snapshot)) func() { return m.bus.Subscribe(fn) }

// Close cancels any pending publication.
func (m *Machine) Close() { m.flush.Stop() }

// Snapshot returns a copy of the current roster.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// RecorderID reports the recording bot's identity, if resolved yet.
func (m *Machine) RecorderID() domain.AttendeeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorder
}

// HandlePresence applies one presence event. Removal deletes the entry
// and flushes immediately; arrival alone creates nothing (the first
// volume event does).
func (m *Machine) HandlePresence(ev domain.PresenceEvent) {
	if ev.Present {
		return
	}
	id := ev.Attendee.Base()
	m.mu.Lock()
	_, existed := m.entries[id]
	delete(m.entries, id)
	delete(m.nameRequested, id)
	if m.recorder == id {
		m.recorder = ""
	}
	m.mu.Unlock()
	if existed {
		m.flush.PublishImmediate()
	}
}

// HandleVolume applies one volume-indicator event. Nil fields leave the
// prior value untouched. The first event for an unnamed attendee kicks
// off the asynchronous name lookup.
func (m *Machine) HandleVolume(ctx context.Context, ev domain.VolumeUpdate) {
	if ev.Attendee.IsContentShare() {
		return
	}
	id := ev.Attendee.Base()

	m.mu.Lock()
	if m.recorder != "" && id == m.recorder {
		m.mu.Unlock()
		return
	}
	entry, ok := m.entries[id]
	if !ok {
		entry = &domain.RosterEntry{}
		m.entries[id] = entry
	}
	if ev.Volume != nil {
		entry.Volume = scale(*ev.Volume)
	}
	if ev.Muted != nil {
		entry.Muted = *ev.Muted
		entry.MutedKnown = true
	}
	if ev.Signal != nil {
		entry.Signal = scale(*ev.Signal)
	}
	needName := entry.Name == "" && !m.nameRequested[id]
	if needName {
		m.nameRequested[id] = true
	}
	m.mu.Unlock()

	if needName {
		go m.resolveName(ctx, id)
	}
	m.flush.Publish()
}

func (m *Machine) resolveName(ctx context.Context, id domain.AttendeeID) {
	info, err := m.resolve(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("module", "roster").Str("attendee", string(id)).Msg("name lookup failed")
		return
	}

	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		// Left while the lookup was in flight.
		m.mu.Unlock()
		return
	}
	if info.Name == domain.RecorderDisplayName {
		autoMute := id == m.local && m.onAutoMute != nil
		m.recorder = id
		delete(m.entries, id)
		onRecorder := m.onRecorder
		m.mu.Unlock()
		if autoMute {
			m.onAutoMute()
		}
		if onRecorder != nil {
			onRecorder(id)
		}
		m.flush.PublishImmediate()
		return
	}
	// Volume events applied while the lookup was in flight stay intact;
	// only the name and host fields are filled in here.
	entry.Name = info.Name
	entry.Host = info.Host
	m.mu.Unlock()
	m.flush.PublishImmediate()
}

// UpdateChatCount bumps the chat message counter of one attendee.
func (m *Machine) UpdateChatCount(id domain.AttendeeID) {
	m.update(id, func(e *domain.RosterEntry) { e.ChatCount++ })
}

// SetPresenter flags or unflags the screen-share presenter.
func (m *Machine) SetPresenter(id domain.AttendeeID, presenter bool) {
	m.update(id, func(e *domain.RosterEntry) { e.Presenter = presenter })
}

// SetHandRaised mirrors the raised-hand set into the roster view.
func (m *Machine) SetHandRaised(id domain.AttendeeID, raised bool) {
	m.update(id, func(e *domain.RosterEntry) { e.HandRaised = raised })
}

// SetActive marks the current speaker.
func (m *Machine) SetActive(id domain.AttendeeID, active bool) {
	m.update(id, func(e *domain.RosterEntry) { e.Active = active })
}

// SetHost updates the host flag, e.g. after a host transfer.
func (m *Machine) SetHost(id domain.AttendeeID, host bool) {
	m.update(id, func(e *domain.RosterEntry) { e.Host = host })
}

func (m *Machine) update(id domain.AttendeeID, fn func(*domain.RosterEntry)) {
	m.mu.Lock()
	entry, ok := m.entries[id.Base()]
	if ok {
		fn(entry)
	}
	m.mu.Unlock()
	if ok {
		m.flush.Publish()
	}
}

func (m *Machine) publish() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.bus.Publish(snap)
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(m.entries))
	for id, e := range m.entries {
		snap[id] = *e
	}
	return snap
}

func scale(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 100
	}
	return int(math.Round(v * 100))
}
