package hooks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/pubsub"
	"github.com/lumeet/classmeet/internal/rtc"
)

// HostTransfer tracks whether the local attendee is the host. A make-host
// message addressed to us does not carry the new flag; we re-fetch it
// from the attendee lookup collaborator.
type HostTransfer struct {
	ctx    context.Context
	src    MessageSource
	fetch  func(ctx context.Context) (*domain.AttendeeInfo, error)
	mu     sync.Mutex
	host   bool
	bus    *pubsub.Bus[bool]
	cancel func()
}

func NewHostTransfer(ctx context.Context, src MessageSource, initialHost bool, fetch func(context.Context) (*domain.AttendeeInfo, error)) *HostTransfer {
	h := &HostTransfer{
		ctx:   ctx,
		src:   src,
		fetch: fetch,
		host:  initialHost,
		bus:   pubsub.NewBus[bool](),
	}
	h.cancel = src.SubscribeMessages(string(control.TopicMakeHost), h.onMakeHost)
	return h
}

func (h *HostTransfer) Close() { h.cancel() }

func (h *HostTransfer) IsHost() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.host
}

func (h *HostTransfer) Subscribe(fn func(bool)) func() { return h.bus.Subscribe(fn) }

func (h *HostTransfer) onMakeHost(msg rtc.Message) {
	var f control.Flag
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		log.Error().Err(err).Str("module", "hooks.host").Msg("bad make-host payload")
		return
	}
	if f.TargetID != h.src.LocalID() {
		return
	}
	info, err := h.fetch(h.ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "hooks.host").Msg("host flag refetch")
		return
	}
	h.mu.Lock()
	changed := h.host != info.Host
	h.host = info.Host
	host := h.host
	h.mu.Unlock()
	if changed {
		h.bus.Publish(host)
	}
}
