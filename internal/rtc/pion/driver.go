// Package pion is the reference media driver: signaling over a websocket,
// the generic data channel over a pion/webrtc peer connection, and device
// enumeration through pion/mediadevices. It implements the rtc driver
// boundary; nothing above it imports pion types.
package pion

import (
	"context"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/rtc"
)

const devicePollInterval = 5 * time.Second

type Driver struct {
	devices *deviceLister
}

func New() *Driver {
	return &Driver{devices: newDeviceLister()}
}

func (d *Driver) NewSession(ctx context.Context, cfg rtc.SessionConfig) (rtc.Session, error) {
	caps := rtc.Capabilities{Simulcast: cfg.Simulcast}
	if outs, err := d.devices.Devices(ctx, domain.AudioOutput); err == nil && len(outs) > 0 {
		caps.AudioOutputSelection = true
	}
	return newSession(cfg, caps)
}

func (d *Driver) Devices() rtc.DeviceLister { return d.devices }

// deviceLister adapts mediadevices enumeration to the driver boundary.
// The platform gives no change notifications, so a poller diffs the
// lists and synthesizes per-kind change events.
type deviceLister struct {
	mu        sync.Mutex
	changeFns map[int]func(domain.DeviceKind)
	seq       int
	last      map[domain.DeviceKind][]domain.Device
	pollOnce  sync.Once
	stopPoll  chan struct{}
}

func newDeviceLister() *deviceLister {
	return &deviceLister{
		changeFns: make(map[int]func(domain.DeviceKind)),
		last:      make(map[domain.DeviceKind][]domain.Device),
		stopPoll:  make(chan struct{}),
	}
}

func (l *deviceLister) Devices(_ context.Context, kind domain.DeviceKind) ([]domain.Device, error) {
	return enumerate(kind), nil
}

func (l *deviceLister) OnDeviceChange(fn func(domain.DeviceKind)) func() {
	l.mu.Lock()
	id := l.seq
	l.seq++
	l.changeFns[id] = fn
	l.mu.Unlock()

	l.pollOnce.Do(func() { go l.poll() })

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.changeFns, id)
			l.mu.Unlock()
		})
	}
}

func (l *deviceLister) poll() {
	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopPoll:
			return
		case <-ticker.C:
			for _, kind := range domain.DeviceKinds() {
				fresh := enumerate(kind)
				l.mu.Lock()
				changed := !sameDevices(l.last[kind], fresh)
				l.last[kind] = fresh
				fns := make([]func(domain.DeviceKind), 0, len(l.changeFns))
				for _, fn := range l.changeFns {
					fns = append(fns, fn)
				}
				l.mu.Unlock()
				if !changed {
					continue
				}
				log.Debug().Str("module", "rtc.pion").Str("kind", string(kind)).Int("count", len(fresh)).Msg("device list changed")
				for _, fn := range fns {
					fn(kind)
				}
			}
		}
	}
}

func enumerate(kind domain.DeviceKind) []domain.Device {
	var want mediadevices.MediaDeviceType
	switch kind {
	case domain.AudioInput:
		want = mediadevices.AudioInput
	case domain.AudioOutput:
		want = mediadevices.AudioOutput
	case domain.VideoInput:
		want = mediadevices.VideoInput
	default:
		return nil
	}
	var out []domain.Device
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind != want {
			continue
		}
		out = append(out, domain.Device{ID: info.DeviceID, Label: info.Label})
	}
	return out
}

func sameDevices(a, b []domain.Device) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
