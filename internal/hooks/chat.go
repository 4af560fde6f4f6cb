package hooks

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/pubsub"
	"github.com/lumeet/classmeet/internal/roster"
	"github.com/lumeet/classmeet/internal/rtc"
)

// ChatMessage is one transcript line of a chat channel.
type ChatMessage struct {
	Sender  domain.AttendeeID
	Text    string
	Channel string
	At      time.Time
}

// Chat collects group-chat-message traffic for one channel id. Messages
// on other channels are invisible to this hook; the sender's own messages
// arrive through the facade's local echo.
type Chat struct {
	channel string
	rost    *roster.Machine

	mu         sync.Mutex
	transcript []ChatMessage
	bus        *pubsub.Bus[ChatMessage]
	cancel     func()
}

func NewChat(src MessageSource, channel string, rost *roster.Machine) *Chat {
	h := &Chat{
		channel: channel,
		rost:    rost,
		bus:     pubsub.NewBus[ChatMessage](),
	}
	h.cancel = src.SubscribeMessages(string(control.TopicGroupChat), h.onChat)
	return h
}

func (h *Chat) Close() { h.cancel() }

// Transcript copies the messages received so far.
func (h *Chat) Transcript() []ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ChatMessage(nil), h.transcript...)
}

func (h *Chat) Subscribe(fn func(ChatMessage)) func() { return h.bus.Subscribe(fn) }

func (h *Chat) onChat(msg rtc.Message) {
	var p control.ChatPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		log.Error().Err(err).Str("module", "hooks.chat").Msg("bad chat payload")
		return
	}
	if p.Channel != h.channel {
		return
	}
	cm := ChatMessage{
		Sender:  msg.Sender,
		Text:    p.SendingMessage,
		Channel: p.Channel,
		At:      msg.Timestamp,
	}
	h.mu.Lock()
	h.transcript = append(h.transcript, cm)
	h.mu.Unlock()
	if h.rost != nil {
		h.rost.UpdateChatCount(msg.Sender)
	}
	h.bus.Publish(cm)
}
