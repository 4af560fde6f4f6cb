package hooks

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/rtc"
	"github.com/lumeet/classmeet/internal/store"
)

// SharePermit caches the local screen-share permission, both in memory
// and in local storage so a reloaded client keeps it.
type SharePermit struct {
	src    MessageSource
	st     *store.Local
	mu     sync.Mutex
	allow  bool
	cancel func()
}

func NewSharePermit(src MessageSource, st *store.Local) *SharePermit {
	h := &SharePermit{src: src, st: st}
	if st != nil {
		if v, ok := st.Get(store.KeySharePermit); ok {
			h.allow, _ = strconv.ParseBool(v)
		}
	}
	h.cancel = src.SubscribeMessages(string(control.TopicSharePermit), h.onPermit)
	return h
}

func (h *SharePermit) Close() { h.cancel() }

func (h *SharePermit) Allowed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allow
}

func (h *SharePermit) onPermit(msg rtc.Message) {
	var f control.Flag
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		log.Error().Err(err).Str("module", "hooks.share").Msg("bad permit payload")
		return
	}
	if f.TargetID != h.src.LocalID() {
		return
	}
	h.mu.Lock()
	h.allow = f.Focus
	h.mu.Unlock()
	if h.st != nil {
		if err := h.st.Set(store.KeySharePermit, strconv.FormatBool(f.Focus)); err != nil {
			log.Error().Err(err).Str("module", "hooks.share").Msg("persist permit flag")
		}
	}
}
