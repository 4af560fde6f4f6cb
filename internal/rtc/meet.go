package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/api"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/pubsub"
	"github.com/lumeet/classmeet/internal/roster"
	"github.com/lumeet/classmeet/internal/store"
)

// DeviceSnapshot is the per-class device state handed to subscribers.
type DeviceSnapshot map[domain.DeviceKind]domain.DeviceState

// Meet is the single point of truth for one active media session: device
// selection, the roster machine, and the generic messaging channel all
// live here. Device and media failures are non-fatal; they go to the log
// sink and never propagate. Only session construction returns an error.
type Meet struct {
	driver Driver
	api    *api.Client
	store  *store.Local

	mu         sync.Mutex
	ctx        context.Context
	sess       Session
	caps       Capabilities
	title      string
	localID    domain.AttendeeID
	externalID string
	devices    map[domain.DeviceKind]*domain.DeviceState
	msgBus     map[string]*pubsub.Bus[Message]
	volCancels map[domain.AttendeeID]func()
	cancels    []func()
	rost       *roster.Machine

	deviceBus *pubsub.Bus[DeviceSnapshot]
}

func NewMeet(driver Driver, apiClient *api.Client, st *store.Local) *Meet {
	m := &Meet{
		driver:    driver,
		api:       apiClient,
		store:     st,
		deviceBus: pubsub.NewBus[DeviceSnapshot](),
	}
	m.resetLocked()
	return m
}

// resetLocked reinitializes every session-scoped field to empty. Called
// on construction and after leave; the facade is reusable afterwards.
func (m *Meet) resetLocked() {
	m.ctx = context.Background()
	m.sess = nil
	m.caps = Capabilities{}
	m.title = ""
	m.localID = ""
	m.externalID = ""
	m.devices = make(map[domain.DeviceKind]*domain.DeviceState)
	for _, kind := range domain.DeviceKinds() {
		m.devices[kind] = &domain.DeviceState{}
	}
	m.msgBus = make(map[string]*pubsub.Bus[Message])
	m.volCancels = make(map[domain.AttendeeID]func())
	m.cancels = nil
	m.rost = nil
}

// InitializeSession constructs the underlying session, enumerates the
// three device classes, registers the device-change observer and wires
// the roster machine to the presence stream.
func (m *Meet) InitializeSession(ctx context.Context, cfg SessionConfig) error {
	sess, err := m.driver.NewSession(ctx, cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.ctx = ctx
	m.sess = sess
	m.caps = sess.Capabilities()
	m.title = cfg.Title
	m.localID = cfg.Join.Attendee.AttendeeID
	m.externalID = cfg.Join.Attendee.ExternalUserID

	m.rost = roster.New(m.localID, m.resolveAttendee,
		roster.WithAutoMute(func() { m.MuteLocal(true) }),
		roster.WithRecorderSink(func(id domain.AttendeeID) {
			if err := m.store.Set(store.KeyRecorderID, string(id)); err != nil {
				m.logErr(err, "persist recorder id")
			}
		}),
	)

	for kind, state := range m.devices {
		list, err := m.driver.Devices().Devices(ctx, kind)
		if err != nil {
			m.logErr(err, "enumerate devices")
			continue
		}
		state.Available = list
	}

	// Topics subscribed before initialization get wired now.
	for topic, bus := range m.msgBus {
		m.wireTopicLocked(topic, bus)
	}
	m.mu.Unlock()

	m.publishDevices()

	cancelDev := m.driver.Devices().OnDeviceChange(m.deviceListChanged)
	cancelPres := sess.OnPresence(m.presenceChanged)
	m.mu.Lock()
	m.cancels = append(m.cancels, cancelDev, cancelPres)
	m.mu.Unlock()

	log.Info().Str("module", "rtc.meet").Str("title", cfg.Title).
		Str("attendee", string(m.localID)).Bool("simulcast", cfg.Simulcast).
		Msg("session initialized")
	return nil
}

// JoinSession picks default devices, binds the media output and starts
// the session. A nil output is rejected up front; like every other media
// failure here it is logged, not returned.
func (m *Meet) JoinSession(ctx context.Context, sink MediaSink) {
	if sink == nil {
		log.Error().Str("module", "rtc.meet").Msg("join requires a media output")
		return
	}
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		log.Error().Str("module", "rtc.meet").Msg("join before initialize")
		return
	}
	for kind, state := range m.devices {
		if state.Selected == nil && len(state.Available) > 0 {
			state.Selected = &state.Available[0]
		}
		if state.Selected == nil {
			continue
		}
		if err := m.selectLocked(kind, state.Selected.ID); err != nil {
			m.logErr(err, "select default device")
		}
	}
	m.mu.Unlock()

	m.publishDevices()
	if err := sess.BindOutput(sink); err != nil {
		m.logErr(err, "bind media output")
	}
	if err := sess.Start(ctx); err != nil {
		m.logErr(err, "start session")
	}
}

// selectLocked delegates one device selection to the session. Audio
// output selection is a no-op when the runtime cannot do it.
func (m *Meet) selectLocked(kind domain.DeviceKind, id string) error {
	switch kind {
	case domain.AudioInput:
		return m.sess.SelectAudioInput(id)
	case domain.AudioOutput:
		if !m.caps.AudioOutputSelection {
			return nil
		}
		return m.sess.SelectAudioOutput(id)
	case domain.VideoInput:
		return m.sess.SelectVideoInput(id)
	}
	return nil
}

func (m *Meet) ChooseAudioInputDevice(dev domain.Device)  { m.choose(domain.AudioInput, dev) }
func (m *Meet) ChooseAudioOutputDevice(dev domain.Device) { m.choose(domain.AudioOutput, dev) }
func (m *Meet) ChooseVideoInputDevice(dev domain.Device)  { m.choose(domain.VideoInput, dev) }

func (m *Meet) choose(kind domain.DeviceKind, dev domain.Device) {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return
	}
	if err := m.selectLocked(kind, dev.ID); err != nil {
		m.logErr(err, "select device")
	}
	m.devices[kind].Selected = &dev
	m.mu.Unlock()
	m.publishDevices()
}

// SendMessage echoes the message to local topic subscribers first, then
// hands the network send to a one-shot task. Sender-side state never
// waits on the transport.
func (m *Meet) SendMessage(topic string, payload []byte) {
	m.mu.Lock()
	sess := m.sess
	msg := Message{
		Topic:            topic,
		Payload:          payload,
		Sender:           m.localID,
		SenderExternalID: m.externalID,
		Timestamp:        time.Now(),
		Lifetime:         MessageLifetime,
	}
	bus := m.msgBus[topic]
	m.mu.Unlock()

	if bus != nil {
		bus.Publish(msg)
	}
	if sess == nil {
		return
	}
	go func() {
		if err := sess.Send(msg); err != nil {
			m.logErr(err, "send message")
		}
	}()
}

// SubscribeMessages delivers every message on topic, including the local
// echo of messages this client sends itself.
func (m *Meet) SubscribeMessages(topic string, fn func(Message)) func() {
	m.mu.Lock()
	bus, ok := m.msgBus[topic]
	if !ok {
		bus = pubsub.NewBus[Message]()
		m.msgBus[topic] = bus
		if m.sess != nil {
			m.wireTopicLocked(topic, bus)
		}
	}
	m.mu.Unlock()
	return bus.Subscribe(fn)
}

func (m *Meet) wireTopicLocked(topic string, bus *pubsub.Bus[Message]) {
	cancel := m.sess.OnMessage(topic, func(msg Message) { bus.Publish(msg) })
	m.cancels = append(m.cancels, cancel)
}

// LeaveSession stops local media and the session, optionally ends the
// meeting on the server, clears local storage and resets every in-memory
// field. Safe to call twice.
func (m *Meet) LeaveSession(ctx context.Context, endMeeting bool) {
	m.mu.Lock()
	sess := m.sess
	title := m.title
	cancels := m.cancels
	volCancels := m.volCancels
	rost := m.rost
	m.mu.Unlock()

	if sess != nil {
		if err := sess.StopLocalVideo(); err != nil {
			m.logErr(err, "stop local video")
		}
		if err := sess.Stop(); err != nil {
			m.logErr(err, "stop session")
		}
	}
	if endMeeting && title != "" {
		if err := m.api.End(ctx, title); err != nil {
			m.logErr(err, "end meeting")
		}
	}
	for _, cancel := range volCancels {
		cancel()
	}
	for _, cancel := range cancels {
		cancel()
	}
	if rost != nil {
		rost.Close()
	}
	if err := m.store.Clear(); err != nil {
		m.logErr(err, "clear local storage")
	}

	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
	log.Info().Str("module", "rtc.meet").Str("title", title).Bool("ended", endMeeting).Msg("left session")
}

// presenceChanged feeds the roster machine and manages the nested
// per-attendee volume subscriptions.
func (m *Meet) presenceChanged(ev domain.PresenceEvent) {
	m.mu.Lock()
	sess := m.sess
	rost := m.rost
	if sess == nil || rost == nil {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	if ev.Present {
		if _, ok := m.volCancels[ev.Attendee]; !ok {
			m.volCancels[ev.Attendee] = sess.OnVolume(ev.Attendee, func(vu domain.VolumeUpdate) {
				rost.HandleVolume(ctx, vu)
			})
		}
	} else if cancel, ok := m.volCancels[ev.Attendee]; ok {
		cancel()
		delete(m.volCancels, ev.Attendee)
	}
	m.mu.Unlock()

	rost.HandlePresence(ev)
}

// deviceListChanged re-derives one device class from a fresh enumeration,
// keeping the previous selection when the device is still present.
func (m *Meet) deviceListChanged(kind domain.DeviceKind) {
	m.mu.Lock()
	ctx := m.ctx
	state, ok := m.devices[kind]
	if !ok || m.sess == nil {
		m.mu.Unlock()
		return
	}
	list, err := m.driver.Devices().Devices(ctx, kind)
	if err != nil {
		m.mu.Unlock()
		m.logErr(err, "re-enumerate devices")
		return
	}
	state.Available = list
	var next *domain.Device
	if state.Selected != nil {
		for i := range list {
			if list[i].ID == state.Selected.ID {
				next = &list[i]
				break
			}
		}
	}
	if next == nil && len(list) > 0 {
		next = &list[0]
	}
	state.Selected = next
	m.mu.Unlock()
	m.publishDevices()
}

// SubscribeDevices registers fn for "devices updated" events.
func (m *Meet) SubscribeDevices(fn func(DeviceSnapshot)) func() {
	return m.deviceBus.Subscribe(fn)
}

// DeviceSnapshot copies the current device state for all classes.
func (m *Meet) DeviceSnapshot() DeviceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceSnapshotLocked()
}

func (m *Meet) deviceSnapshotLocked() DeviceSnapshot {
	snap := make(DeviceSnapshot, len(m.devices))
	for kind, state := range m.devices {
		cp := domain.DeviceState{Available: append([]domain.Device(nil), state.Available...)}
		if state.Selected != nil {
			sel := *state.Selected
			cp.Selected = &sel
		}
		snap[kind] = cp
	}
	return snap
}

func (m *Meet) publishDevices() {
	m.mu.Lock()
	snap := m.deviceSnapshotLocked()
	m.mu.Unlock()
	m.deviceBus.Publish(snap)
}

// MuteLocal toggles the local microphone.
func (m *Meet) MuteLocal(muted bool) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.SetLocalMute(muted); err != nil {
		m.logErr(err, "set local mute")
	}
}

// StartLocalVideo turns the local video tile on.
func (m *Meet) StartLocalVideo() {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.StartLocalVideo(); err != nil {
		m.logErr(err, "start local video")
	}
}

// StopLocalVideo turns the local video tile off.
func (m *Meet) StopLocalVideo() {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.StopLocalVideo(); err != nil {
		m.logErr(err, "stop local video")
	}
}

// Roster exposes the session's roster machine, nil before initialization.
func (m *Meet) Roster() *roster.Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rost
}

// LocalID is the local attendee identity of the active session.
func (m *Meet) LocalID() domain.AttendeeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localID
}

// Title is the active meeting title, empty when no session is active.
func (m *Meet) Title() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.title
}

// Capabilities of the active session's runtime.
func (m *Meet) Capabilities() Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

func (m *Meet) resolveAttendee(ctx context.Context, id domain.AttendeeID) (*domain.AttendeeInfo, error) {
	m.mu.Lock()
	title := m.title
	m.mu.Unlock()
	return m.api.Attendee(ctx, title, id)
}

// logErr is the single sink for non-fatal media and device failures.
func (m *Meet) logErr(err error, msg string) {
	log.Error().Err(err).Str("module", "rtc.meet").Msg(msg)
}
