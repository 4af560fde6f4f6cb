// Package rtc wraps exactly one real-time media session behind the Meet
// facade. The Driver interfaces below are the boundary to the media SDK;
// everything above them treats the session as an opaque capability.
package rtc

import (
	"context"
	"time"

	"github.com/lumeet/classmeet/internal/domain"
)

// MessageLifetime bounds how long the transport may consider a data
// message valid or retryable. Fixed for every message this client sends.
const MessageLifetime = 10 * time.Second

// Capabilities describe what the runtime supports. Resolved once when the
// session is constructed and queried as plain data afterwards.
type Capabilities struct {
	AudioOutputSelection bool
	Simulcast            bool
}

// SessionConfig is everything a driver needs to build a session.
type SessionConfig struct {
	Title     string
	Join      domain.JoinInfo
	Simulcast bool
}

// Message is one data message on the session's generic channel.
type Message struct {
	Topic            string
	Payload          []byte
	Sender           domain.AttendeeID
	SenderExternalID string
	Timestamp        time.Time
	Lifetime         time.Duration
}

// MediaSink receives decoded program audio. The join flow requires one
// before the session starts.
type MediaSink interface {
	WritePCM(samples []byte) error
}

// NullSink discards program audio. Used by headless agents.
type NullSink struct{}

func (NullSink) WritePCM([]byte) error { return nil }

// Session is one live connection to the media service. Implementations
// dispatch their event callbacks from a single goroutine; subscribers get
// a cancel func with the usual unsubscribe-on-dispose semantics.
type Session interface {
	Capabilities() Capabilities

	BindOutput(sink MediaSink) error
	Start(ctx context.Context) error
	Stop() error

	SelectAudioInput(deviceID string) error
	SelectAudioOutput(deviceID string) error
	SelectVideoInput(deviceID string) error

	StartLocalVideo() error
	StopLocalVideo() error
	SetLocalMute(muted bool) error

	Send(msg Message) error

	OnPresence(fn func(domain.PresenceEvent)) (cancel func())
	OnVolume(attendee domain.AttendeeID, fn func(domain.VolumeUpdate)) (cancel func())
	OnMessage(topic string, fn func(Message)) (cancel func())
}

// DeviceLister enumerates media endpoints and reports list changes.
type DeviceLister interface {
	Devices(ctx context.Context, kind domain.DeviceKind) ([]domain.Device, error)
	OnDeviceChange(fn func(kind domain.DeviceKind)) (cancel func())
}

// Driver builds sessions. There is exactly one driver per process.
type Driver interface {
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
	Devices() DeviceLister
}
