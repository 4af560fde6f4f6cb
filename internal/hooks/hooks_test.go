package hooks

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/rtc"
	"github.com/lumeet/classmeet/internal/store"
)

// fakeMeet satisfies every controller interface the hooks consume.
type fakeMeet struct {
	mu     sync.Mutex
	local  domain.AttendeeID
	topics map[string][]func(rtc.Message)

	mutes       []bool
	videoStarts int
	videoStops  int
	left        []bool
}

func newFakeMeet(local domain.AttendeeID) *fakeMeet {
	return &fakeMeet{local: local, topics: make(map[string][]func(rtc.Message))}
}

func (f *fakeMeet) SubscribeMessages(topic string, fn func(rtc.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics[topic] = append(f.topics[topic], fn)
	return func() {}
}

func (f *fakeMeet) LocalID() domain.AttendeeID { return f.local }

func (f *fakeMeet) MuteLocal(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes = append(f.mutes, muted)
}

func (f *fakeMeet) StartLocalVideo() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoStarts++
}

func (f *fakeMeet) StopLocalVideo() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoStops++
}

func (f *fakeMeet) LeaveSession(_ context.Context, endMeeting bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, endMeeting)
}

func (f *fakeMeet) deliver(t *testing.T, topic control.Topic, payload any, sender domain.AttendeeID) {
	t.Helper()
	var raw []byte
	switch p := payload.(type) {
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		var err error
		raw, err = json.Marshal(p)
		require.NoError(t, err)
	}
	f.mu.Lock()
	fns := append(([]func(rtc.Message))(nil), f.topics[string(topic)]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(rtc.Message{Topic: string(topic), Payload: raw, Sender: sender, Timestamp: time.Now()})
	}
}

func TestRemoteMuteIgnoresOtherTargets(t *testing.T) {
	f := newFakeMeet("me")
	h := NewLocalAudio(f, domain.RoleStudent, nil)
	defer h.Close()

	f.deliver(t, control.TopicRemoteMute, control.Flag{Focus: true, TargetID: "someone-else"}, "teacher")

	require.Empty(t, f.mutes)
	require.Equal(t, AudioState{CanUnmute: true}, h.State())
}

func TestRemoteMuteAndUnmute(t *testing.T) {
	f := newFakeMeet("me")
	h := NewLocalAudio(f, domain.RoleStudent, nil)
	defer h.Close()

	f.deliver(t, control.TopicRemoteMute, control.Flag{Focus: true, TargetID: "me"}, "teacher")
	require.Equal(t, []bool{true}, f.mutes)
	require.True(t, h.State().Muted)
	require.False(t, h.State().CanUnmute)
	require.False(t, h.Unmute())

	f.deliver(t, control.TopicRemoteMute, control.Flag{Focus: false, TargetID: "me"}, "teacher")
	require.False(t, h.State().Muted)
	require.True(t, h.State().CanUnmute)
}

func TestFocusModeLatchesNonHosts(t *testing.T) {
	f := newFakeMeet("me")
	h := NewLocalAudio(f, domain.RoleStudent, func() bool { return false })
	defer h.Close()

	f.deliver(t, control.TopicFocus, control.Flag{Focus: true}, "teacher")
	require.True(t, h.State().Muted)
	require.False(t, h.State().CanUnmute)
	require.False(t, h.Unmute())

	// Duplicate delivery is harmless.
	f.deliver(t, control.TopicFocus, control.Flag{Focus: true}, "teacher")
	require.True(t, h.State().Muted)

	f.deliver(t, control.TopicFocus, control.Flag{Focus: false}, "teacher")
	require.True(t, h.State().CanUnmute)
	require.True(t, h.Unmute())
}

func TestFocusModeSkipsHost(t *testing.T) {
	f := newFakeMeet("me")
	h := NewLocalAudio(f, domain.RoleTeacher, func() bool { return true })
	defer h.Close()

	f.deliver(t, control.TopicFocus, control.Flag{Focus: true}, "teacher")
	require.Empty(t, f.mutes)
	require.False(t, h.State().Muted)
}

func TestMuteAllSparesTeacher(t *testing.T) {
	teacher := newFakeMeet("t")
	ht := NewLocalAudio(teacher, domain.RoleTeacher, nil)
	defer ht.Close()
	student := newFakeMeet("s")
	hs := NewLocalAudio(student, domain.RoleStudent, nil)
	defer hs.Close()

	teacher.deliver(t, control.TopicMuteAll, control.Flag{Focus: true}, "t")
	student.deliver(t, control.TopicMuteAll, control.Flag{Focus: true}, "t")

	require.Empty(t, teacher.mutes)
	require.Equal(t, []bool{true}, student.mutes)
	require.True(t, hs.State().Muted)
}

func TestRemovalLeavesAndNavigates(t *testing.T) {
	f := newFakeMeet("me")
	var navigated bool
	var attendance int
	h := NewRemoval(context.Background(), f, domain.RoleStudent,
		func() { navigated = true },
		func(context.Context) error { attendance++; return nil })
	defer h.Close()

	f.deliver(t, control.TopicRemoveAttendee, control.Flag{Focus: true, TargetID: "other"}, "teacher")
	require.Empty(t, f.left)

	f.deliver(t, control.TopicRemoveAttendee, control.Flag{Focus: true, TargetID: "me"}, "teacher")
	require.Equal(t, []bool{false}, f.left)
	require.True(t, navigated)
	require.Equal(t, 1, attendance)
}

func TestRemovalTeacherSkipsAttendance(t *testing.T) {
	f := newFakeMeet("me")
	var attendance int
	h := NewRemoval(context.Background(), f, domain.RoleTeacher, nil,
		func(context.Context) error { attendance++; return nil })
	defer h.Close()

	f.deliver(t, control.TopicRemoveAttendee, control.Flag{Focus: true, TargetID: "me"}, "x")
	require.Equal(t, []bool{false}, f.left)
	require.Zero(t, attendance)
}

func TestRaisedHandsManualDismiss(t *testing.T) {
	f := newFakeMeet("me")
	h := NewRaisedHands(f, nil, WithDismissDelay(time.Hour))
	defer h.Close()

	f.deliver(t, control.TopicRaiseHand, "a-1", "a-1")
	f.deliver(t, control.TopicRaiseHand, "a-2", "a-2")
	require.Equal(t, []domain.AttendeeID{"a-1", "a-2"}, h.Raised())

	f.deliver(t, control.TopicDismissHand, "a-1", "a-1")
	require.Equal(t, []domain.AttendeeID{"a-2"}, h.Raised())

	// Dismissing an unraised hand changes nothing.
	f.deliver(t, control.TopicDismissHand, "ghost", "ghost")
	require.Equal(t, []domain.AttendeeID{"a-2"}, h.Raised())
}

func TestRaisedHandsAutoDismiss(t *testing.T) {
	f := newFakeMeet("me")
	h := NewRaisedHands(f, nil, WithDismissDelay(30*time.Millisecond))
	defer h.Close()

	f.deliver(t, control.TopicRaiseHand, "a-1", "a-1")
	require.Len(t, h.Raised(), 1)
	require.Eventually(t, func() bool { return len(h.Raised()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHostTransferRefetchesFlag(t *testing.T) {
	f := newFakeMeet("me")
	var fetches int
	h := NewHostTransfer(context.Background(), f, false,
		func(context.Context) (*domain.AttendeeInfo, error) {
			fetches++
			return &domain.AttendeeInfo{Name: "Me", Host: true}, nil
		})
	defer h.Close()

	f.deliver(t, control.TopicMakeHost, control.Flag{Focus: true, TargetID: "other"}, "x")
	require.Zero(t, fetches)
	require.False(t, h.IsHost())

	f.deliver(t, control.TopicMakeHost, control.Flag{Focus: true, TargetID: "me"}, "x")
	require.Equal(t, 1, fetches)
	require.True(t, h.IsHost())
}

func TestChatFiltersChannel(t *testing.T) {
	f := newFakeMeet("me")
	private := control.PrivateChannel("me", "a-1")
	h := NewChat(f, private, nil)
	defer h.Close()

	f.deliver(t, control.TopicGroupChat, control.ChatPayload{SendingMessage: "to us", Channel: private}, "a-1")
	f.deliver(t, control.TopicGroupChat, control.ChatPayload{SendingMessage: "elsewhere", Channel: control.PublicChannel}, "a-2")

	tr := h.Transcript()
	require.Len(t, tr, 1)
	require.Equal(t, "to us", tr[0].Text)
	require.Equal(t, domain.AttendeeID("a-1"), tr[0].Sender)
}

func TestRemoteVideoTargeted(t *testing.T) {
	f := newFakeMeet("me")
	h := NewRemoteVideo(f)
	defer h.Close()

	f.deliver(t, control.TopicRemoteVideo, control.Flag{Focus: true, TargetID: "me"}, "teacher")
	f.deliver(t, control.TopicRemoteVideo, control.Flag{Focus: false, TargetID: "me"}, "teacher")
	f.deliver(t, control.TopicRemoteVideo, control.Flag{Focus: true, TargetID: "other"}, "teacher")

	require.Equal(t, 1, f.videoStarts)
	require.Equal(t, 1, f.videoStops)
}

func TestSharePermitPersists(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	f := newFakeMeet("me")
	h := NewSharePermit(f, st)
	defer h.Close()

	require.False(t, h.Allowed())
	f.deliver(t, control.TopicSharePermit, control.Flag{Focus: true, TargetID: "me"}, "teacher")
	require.True(t, h.Allowed())

	v, ok := st.Get(store.KeySharePermit)
	require.True(t, ok)
	require.Equal(t, strconv.FormatBool(true), v)

	// A fresh hook reads the cached flag back.
	h2 := NewSharePermit(newFakeMeet("me"), st)
	defer h2.Close()
	require.True(t, h2.Allowed())
}
