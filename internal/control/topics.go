// Package control defines the in-band moderation protocol: a closed set
// of message topics carried as opaque data messages over the session's
// generic channel. Delivery guarantees are whatever the channel provides;
// this layer adds no retries, so every receiver effect must be idempotent
// and tolerate duplicate or out-of-order arrival.
package control

import (
	"sort"
	"strings"
	"time"

	"github.com/lumeet/classmeet/internal/domain"
)

type Topic string

const (
	TopicGroupChat      Topic = "group-chat-message"
	TopicRaiseHand      Topic = "raise-hand"
	TopicDismissHand    Topic = "dismiss-hand"
	TopicFocus          Topic = "focus"
	TopicRemoteMute     Topic = "remote-mute-unmute"
	TopicRemoveAttendee Topic = "remove-attendee"
	TopicRemoteVideo    Topic = "remote-video-on-off"
	TopicSharePermit    Topic = "screen-share-permit"
	TopicMakeHost       Topic = "make-host"
	TopicMuteAll        Topic = "mute-all"
)

// Topics lists every protocol topic. Receivers subscribe to all of them.
func Topics() []Topic {
	return []Topic{
		TopicGroupChat, TopicRaiseHand, TopicDismissHand, TopicFocus,
		TopicRemoteMute, TopicRemoveAttendee, TopicRemoteVideo,
		TopicSharePermit, TopicMakeHost, TopicMuteAll,
	}
}

// PublicChannel is the well-known id of the everyone chat channel.
const PublicChannel = "group-chat"

// HandDismissDelay auto-lowers a raised hand that nobody dismissed.
const HandDismissDelay = 10 * time.Second

// Flag is the shared payload of the moderation topics: a boolean plus an
// optional target. Topics without a target leave TargetID empty.
type Flag struct {
	Focus    bool              `json:"focus"`
	TargetID domain.AttendeeID `json:"targetId,omitempty"`
}

// ChatPayload is the body of a group-chat-message.
type ChatPayload struct {
	SendingMessage string `json:"sendingMessage"`
	Channel        string `json:"channel"`
}

// PrivateChannel derives the 1:1 chat channel id for two attendees.
// Both sides compute the identical id without coordination.
func PrivateChannel(a, b domain.AttendeeID) string {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return strings.Join(ids, "-")
}
