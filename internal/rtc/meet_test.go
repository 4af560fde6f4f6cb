package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumeet/classmeet/internal/api"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/store"
)

type fakeSession struct {
	mu       sync.Mutex
	caps     Capabilities
	started  bool
	stopped  bool
	sink     MediaSink
	selected map[domain.DeviceKind][]string
	mutes    []bool
	sent     []Message

	presenceFns []func(domain.PresenceEvent)
	volumeFns   map[domain.AttendeeID][]func(domain.VolumeUpdate)
	msgFns      map[string][]func(Message)
}

func newFakeSession(caps Capabilities) *fakeSession {
	return &fakeSession{
		caps:      caps,
		selected:  make(map[domain.DeviceKind][]string),
		volumeFns: make(map[domain.AttendeeID][]func(domain.VolumeUpdate)),
		msgFns:    make(map[string][]func(Message)),
	}
}

func (s *fakeSession) Capabilities() Capabilities { return s.caps }

func (s *fakeSession) BindOutput(sink MediaSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	return nil
}

func (s *fakeSession) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSession) record(kind domain.DeviceKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected[kind] = append(s.selected[kind], id)
	return nil
}

func (s *fakeSession) SelectAudioInput(id string) error  { return s.record(domain.AudioInput, id) }
func (s *fakeSession) SelectAudioOutput(id string) error { return s.record(domain.AudioOutput, id) }
func (s *fakeSession) SelectVideoInput(id string) error  { return s.record(domain.VideoInput, id) }

func (s *fakeSession) StartLocalVideo() error { return nil }
func (s *fakeSession) StopLocalVideo() error  { return nil }

func (s *fakeSession) SetLocalMute(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutes = append(s.mutes, muted)
	return nil
}

func (s *fakeSession) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSession) OnPresence(fn func(domain.PresenceEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presenceFns = append(s.presenceFns, fn)
	return func() {}
}

func (s *fakeSession) OnVolume(id domain.AttendeeID, fn func(domain.VolumeUpdate)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumeFns[id] = append(s.volumeFns[id], fn)
	return func() {}
}

func (s *fakeSession) OnMessage(topic string, fn func(Message)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgFns[topic] = append(s.msgFns[topic], fn)
	return func() {}
}

func (s *fakeSession) firePresence(ev domain.PresenceEvent) {
	s.mu.Lock()
	fns := append(([]func(domain.PresenceEvent))(nil), s.presenceFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *fakeSession) fireVolume(id domain.AttendeeID, ev domain.VolumeUpdate) {
	s.mu.Lock()
	fns := append(([]func(domain.VolumeUpdate))(nil), s.volumeFns[id]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeLister struct {
	mu        sync.Mutex
	lists     map[domain.DeviceKind][]domain.Device
	changeFns []func(domain.DeviceKind)
}

func (l *fakeLister) Devices(_ context.Context, kind domain.DeviceKind) ([]domain.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Device(nil), l.lists[kind]...), nil
}

func (l *fakeLister) OnDeviceChange(fn func(domain.DeviceKind)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changeFns = append(l.changeFns, fn)
	return func() {}
}

func (l *fakeLister) setList(kind domain.DeviceKind, list []domain.Device) {
	l.mu.Lock()
	l.lists[kind] = list
	fns := append(([]func(domain.DeviceKind))(nil), l.changeFns...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(kind)
	}
}

type fakeDriver struct {
	sess   *fakeSession
	lister *fakeLister
}

func (d *fakeDriver) NewSession(context.Context, SessionConfig) (Session, error) {
	return d.sess, nil
}

func (d *fakeDriver) Devices() DeviceLister { return d.lister }

func testFixture(t *testing.T, caps Capabilities) (*Meet, *fakeDriver, *store.Local) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"AttendeeInfo": map[string]any{"Name": "Alice", "Host": false},
		})
	}))
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	d := &fakeDriver{
		sess: newFakeSession(caps),
		lister: &fakeLister{lists: map[domain.DeviceKind][]domain.Device{
			domain.AudioInput:  {{ID: "mic-1", Label: "Mic 1"}, {ID: "mic-2", Label: "Mic 2"}},
			domain.AudioOutput: {{ID: "spk-1", Label: "Speaker 1"}},
			domain.VideoInput:  {{ID: "cam-1", Label: "Cam 1"}},
		}},
	}
	return NewMeet(d, api.New(srv.URL, "", ""), st), d, st
}

func testConfig() SessionConfig {
	return SessionConfig{
		Title: "math-101",
		Join: domain.JoinInfo{
			Attendee: domain.Credentials{AttendeeID: "me", ExternalUserID: "ext-me"},
		},
	}
}

func TestInitializePublishesDevices(t *testing.T) {
	m, _, _ := testFixture(t, Capabilities{AudioOutputSelection: true})

	require.NoError(t, m.InitializeSession(context.Background(), testConfig()))

	snap := m.DeviceSnapshot()
	require.Len(t, snap[domain.AudioInput].Available, 2)
	require.Len(t, snap[domain.AudioOutput].Available, 1)
	require.Nil(t, snap[domain.AudioInput].Selected)
	require.Equal(t, "math-101", m.Title())
	require.Equal(t, domain.AttendeeID("me"), m.LocalID())
}

func TestJoinRequiresOutput(t *testing.T) {
	m, d, _ := testFixture(t, Capabilities{})
	require.NoError(t, m.InitializeSession(context.Background(), testConfig()))

	m.JoinSession(context.Background(), nil)
	require.False(t, d.sess.started)
}

func TestJoinSelectsDefaults(t *testing.T) {
	m, d, _ := testFixture(t, Capabilities{AudioOutputSelection: false})
	require.NoError(t, m.InitializeSession(context.Background(), testConfig()))

	m.JoinSession(context.Background(), NullSink{})

	require.True(t, d.sess.started)
	snap := m.DeviceSnapshot()
	require.Equal(t, "mic-1", snap[domain.AudioInput].Selected.ID)
	require.Equal(t, "spk-1", snap[domain.AudioOutput].Selected.ID)
	require.Equal(t, "cam-1", snap[domain.VideoInput].Selected.ID)
	// Output selection is unsupported: never delegated to the session.
	require.Empty(t, d.sess.selected[domain.AudioOutput])
	require.Equal(t, []string{"mic-1"}, d.sess.selected[domain.AudioInput])
}

func TestDeviceChangePreservesSelection(t *testing.T) {
	m, d, _ := testFixture(t, Capabilities{})
	require.NoError(t, m.InitializeSession(context.Background(), testConfig()))
	m.ChooseAudioInputDevice(domain.Device{ID: "mic-2", Label: "Mic 2"})

	// mic-2 survives a re-enumeration that still contains it.
	d.lister.setList(domain.AudioInput, []domain.Device{{ID: "mic-2", Label: "Mic 2"}, {ID: "mic-3", Label: "Mic 3"}})
	require.Equal(t, "mic-2", m.DeviceSnapshot()[domain.AudioInput].Selected.ID)

	// Unplugging mic-2 falls back to the first available device.
	d.lister.setList(domain.AudioInput, []domain.Device{{ID: "mic-3", Label: "Mic 3"}})
	require.Equal(t, "mic-3", m.DeviceSnapshot()[domain.AudioInput].Selected.ID)

	// An empty class leaves no selection.
	d.lister.setList(domain.AudioInput, nil)
	require.Nil(t, m.DeviceSnapshot()[domain.AudioInput].Selected)
}

func TestSendMessageEchoesLocally(t *testing.T) {
	m, d, _ := testFixture(t, Capabilities{})
	require.NoError(t, m.InitializeSession(context.Background(), testConfig()))

	var echoed []Message
	m.SubscribeMessages("raise-hand", func(msg Message) { echoed = append(echoed, msg) })

	m.SendMessage("raise-hand", []byte("me"))

	// Local echo is synchronous, ahead of any network confirmation.
	require.Len(t, echoed, 1)
	require.Equal(t, domain.AttendeeID("me"), echoed[0].Sender)
	require.Equal(t, MessageLifetime, echoed[0].Lifetime)

	require.Eventually(t, func() bool { return d.sess.sentCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestIncomingMessageRouted(t *testing.T) {
	m, d, _ := testFixture(t, Capabilities{})
	require.NoError(t, m.InitializeSession(context.Background(), testConfig()))

	var got []Message
	m.SubscribeMessages("focus", func(msg Message) { got = append(got, msg) })

	d.sess.mu.Lock()
	fns := append(([]func(Message))(nil), d.sess.msgFns["focus"]...)
	d.sess.mu.Unlock()
	require.NotEmpty(t, fns)
	for _, fn := range fns {
		fn(Message{Topic: "focus", Payload: []byte(`{"focus":true}`), Sender: "teacher"})
	}
	require.Len(t, got, 1)
}

func TestPresenceWiresRoster(t *testing.T) {
	m, d, _ := testFixture(t, Capabilities{})
	require.NoError(t, m.InitializeSession(context.Background(), testConfig()))

	d.sess.firePresence(domain.PresenceEvent{Attendee: "a-1", Present: true})
	vol := 0.5
	d.sess.fireVolume("a-1", domain.VolumeUpdate{Attendee: "a-1", Volume: &vol})

	require.Eventually(t, func() bool {
		return m.Roster().Snapshot()["a-1"].Name == "Alice"
	}, time.Second, 5*time.Millisecond)

	d.sess.firePresence(domain.PresenceEvent{Attendee: "a-1", Present: false})
	require.Empty(t, m.Roster().Snapshot())
}

func TestLeaveClearsStorageAndResets(t *testing.T) {
	m, d, st := testFixture(t, Capabilities{})
	require.NoError(t, st.Set(store.KeyMeetingID, "m-1"))
	require.NoError(t, m.InitializeSession(context.Background(), testConfig()))
	m.JoinSession(context.Background(), NullSink{})

	m.LeaveSession(context.Background(), false)

	require.True(t, d.sess.stopped)
	require.Equal(t, 0, st.Len())
	require.Equal(t, "", m.Title())
	require.Equal(t, domain.AttendeeID(""), m.LocalID())
	require.Nil(t, m.Roster())

	// Callable again safely.
	m.LeaveSession(context.Background(), true)
}

func TestLeaveEndsMeetingOnServer(t *testing.T) {
	var ended bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/end" {
			ended = true
			require.Equal(t, "math-101", r.URL.Query().Get("title"))
		} else {
			_ = json.NewEncoder(w).Encode(map[string]any{"AttendeeInfo": map[string]any{"Name": "Alice"}})
		}
	}))
	defer srv.Close()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	d := &fakeDriver{sess: newFakeSession(Capabilities{}), lister: &fakeLister{lists: map[domain.DeviceKind][]domain.Device{}}}
	m := NewMeet(d, api.New(srv.URL, "", ""), st)

	require.NoError(t, m.InitializeSession(context.Background(), testConfig()))
	m.LeaveSession(context.Background(), true)
	require.True(t, ended)
}
