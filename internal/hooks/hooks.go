// Package hooks projects the roster machine and the control-message
// protocol into per-concern reactive state. Each hook subscribes on
// construction and releases every subscription in Close; consumers read
// snapshots or register callbacks, never shared mutable state.
//
// Every handler applies absolute state, so duplicate or out-of-order
// control messages are harmless.
package hooks

import (
	"context"

	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/rtc"
)

// MessageSource is the slice of the media facade every hook needs:
// topic subscription plus the local identity for target matching.
type MessageSource interface {
	SubscribeMessages(topic string, fn func(rtc.Message)) func()
	LocalID() domain.AttendeeID
}

// AudioController mutes and unmutes the local microphone.
type AudioController interface {
	MessageSource
	MuteLocal(muted bool)
}

// VideoController toggles the local video tile.
type VideoController interface {
	MessageSource
	StartLocalVideo()
	StopLocalVideo()
}

// SessionLeaver tears the session down on remote removal.
type SessionLeaver interface {
	MessageSource
	LeaveSession(ctx context.Context, endMeeting bool)
}
