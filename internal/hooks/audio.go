package hooks

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/pubsub"
	"github.com/lumeet/classmeet/internal/rtc"
)

// AudioState is the local microphone view: whether it is muted, whether
// the user may unmute it, and whether focus mode is holding it down.
type AudioState struct {
	Muted     bool
	CanUnmute bool
	Focus     bool
}

// LocalAudio reacts to the focus, remote-mute-unmute and mute-all topics
// and owns the local unmute-capability latch.
type LocalAudio struct {
	meet   AudioController
	role   domain.Role
	isHost func() bool

	mu      sync.Mutex
	state   AudioState
	bus     *pubsub.Bus[AudioState]
	cancels []func()
}

func NewLocalAudio(meet AudioController, role domain.Role, isHost func() bool) *LocalAudio {
	if isHost == nil {
		isHost = func() bool { return false }
	}
	h := &LocalAudio{
		meet:   meet,
		role:   role,
		isHost: isHost,
		state:  AudioState{CanUnmute: true},
		bus:    pubsub.NewBus[AudioState](),
	}
	h.cancels = append(h.cancels,
		meet.SubscribeMessages(string(control.TopicFocus), h.onFocus),
		meet.SubscribeMessages(string(control.TopicRemoteMute), h.onRemoteMute),
		meet.SubscribeMessages(string(control.TopicMuteAll), h.onMuteAll),
	)
	return h
}

func (h *LocalAudio) Close() {
	for _, cancel := range h.cancels {
		cancel()
	}
}

func (h *LocalAudio) State() AudioState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *LocalAudio) Subscribe(fn func(AudioState)) func() { return h.bus.Subscribe(fn) }

// Mute mutes the local microphone on the user's behalf.
func (h *LocalAudio) Mute() {
	h.mu.Lock()
	h.state.Muted = true
	state := h.state
	h.mu.Unlock()
	h.meet.MuteLocal(true)
	h.bus.Publish(state)
}

// Unmute is refused while the unmute capability is latched off.
func (h *LocalAudio) Unmute() bool {
	h.mu.Lock()
	if !h.state.CanUnmute {
		h.mu.Unlock()
		return false
	}
	h.state.Muted = false
	state := h.state
	h.mu.Unlock()
	h.meet.MuteLocal(false)
	h.bus.Publish(state)
	return true
}

// onFocus mutes non-host receivers and takes their unmute capability
// while focus mode is on; switching it off restores the capability only.
func (h *LocalAudio) onFocus(msg rtc.Message) {
	var f control.Flag
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		log.Error().Err(err).Str("module", "hooks.audio").Msg("bad focus payload")
		return
	}
	if h.isHost() {
		return
	}
	h.mu.Lock()
	h.state.Focus = f.Focus
	if f.Focus {
		h.state.Muted = true
		h.state.CanUnmute = false
	} else {
		h.state.CanUnmute = true
	}
	state := h.state
	h.mu.Unlock()
	if f.Focus {
		h.meet.MuteLocal(true)
	}
	h.bus.Publish(state)
}

// onRemoteMute applies a targeted mute or unmute. Messages addressed to
// somebody else change nothing.
func (h *LocalAudio) onRemoteMute(msg rtc.Message) {
	var f control.Flag
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		log.Error().Err(err).Str("module", "hooks.audio").Msg("bad mute payload")
		return
	}
	if f.TargetID != h.meet.LocalID() {
		return
	}
	h.mu.Lock()
	h.state.Muted = f.Focus
	h.state.CanUnmute = !f.Focus
	state := h.state
	h.mu.Unlock()
	h.meet.MuteLocal(f.Focus)
	h.bus.Publish(state)
}

// onMuteAll mutes every non-teacher receiver.
func (h *LocalAudio) onMuteAll(msg rtc.Message) {
	var f control.Flag
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		log.Error().Err(err).Str("module", "hooks.audio").Msg("bad mute-all payload")
		return
	}
	if !f.Focus || h.role == domain.RoleTeacher {
		return
	}
	h.mu.Lock()
	h.state.Muted = true
	state := h.state
	h.mu.Unlock()
	h.meet.MuteLocal(true)
	h.bus.Publish(state)
}
