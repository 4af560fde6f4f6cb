package control

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/domain"
)

// Sender is the one primitive the protocol needs from the media facade.
// Sends are fire-and-forget; the facade echoes locally.
type Sender interface {
	SendMessage(topic string, payload []byte)
}

// Moderator issues protocol messages on behalf of the local attendee.
type Moderator struct {
	send  Sender
	local domain.AttendeeID
}

func NewModerator(send Sender, local domain.AttendeeID) *Moderator {
	return &Moderator{send: send, local: local}
}

// RaiseHand announces the local attendee's raised hand. The payload is
// the sender's own id as plain text.
func (m *Moderator) RaiseHand() {
	m.send.SendMessage(string(TopicRaiseHand), []byte(m.local))
}

func (m *Moderator) DismissHand() {
	m.send.SendMessage(string(TopicDismissHand), []byte(m.local))
}

// SendChat posts text on the given channel id.
func (m *Moderator) SendChat(channel, text string) {
	m.flag(TopicGroupChat, ChatPayload{SendingMessage: text, Channel: channel})
}

// SetFocus switches focus mode for every non-host receiver.
func (m *Moderator) SetFocus(on bool) {
	m.flag(TopicFocus, Flag{Focus: on})
}

// MuteAttendee (or unmutes) one attendee remotely.
func (m *Moderator) MuteAttendee(target domain.AttendeeID, mute bool) {
	m.flag(TopicRemoteMute, Flag{Focus: mute, TargetID: target})
}

// RemoveAttendee forces target out of the meeting.
func (m *Moderator) RemoveAttendee(target domain.AttendeeID) {
	m.flag(TopicRemoveAttendee, Flag{Focus: true, TargetID: target})
}

// SetVideo turns target's video tile on or off.
func (m *Moderator) SetVideo(target domain.AttendeeID, on bool) {
	m.flag(TopicRemoteVideo, Flag{Focus: on, TargetID: target})
}

// PermitShare grants or revokes target's screen-share permission.
func (m *Moderator) PermitShare(target domain.AttendeeID, allow bool) {
	m.flag(TopicSharePermit, Flag{Focus: allow, TargetID: target})
}

// MakeHost tells target to re-fetch its host flag from the server.
func (m *Moderator) MakeHost(target domain.AttendeeID) {
	m.flag(TopicMakeHost, Flag{Focus: true, TargetID: target})
}

// MuteAll mutes every non-teacher receiver.
func (m *Moderator) MuteAll() {
	m.flag(TopicMuteAll, Flag{Focus: true})
}

func (m *Moderator) flag(topic Topic, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "control").Str("topic", string(topic)).Msg("marshal payload")
		return
	}
	m.send.SendMessage(string(topic), raw)
}
