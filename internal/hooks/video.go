package hooks

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/rtc"
)

// RemoteVideo starts or stops the local video tile on a targeted
// remote-video-on-off message.
type RemoteVideo struct {
	meet   VideoController
	cancel func()
}

func NewRemoteVideo(meet VideoController) *RemoteVideo {
	h := &RemoteVideo{meet: meet}
	h.cancel = meet.SubscribeMessages(string(control.TopicRemoteVideo), h.onVideo)
	return h
}

func (h *RemoteVideo) Close() { h.cancel() }

func (h *RemoteVideo) onVideo(msg rtc.Message) {
	var f control.Flag
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		log.Error().Err(err).Str("module", "hooks.video").Msg("bad video payload")
		return
	}
	if f.TargetID != h.meet.LocalID() {
		return
	}
	if f.Focus {
		h.meet.StartLocalVideo()
	} else {
		h.meet.StopLocalVideo()
	}
}
