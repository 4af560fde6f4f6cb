package pion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/pubsub"
	"github.com/lumeet/classmeet/internal/rtc"
)

var (
	ErrNoSignalingURL = errors.New("join descriptor has no signaling url")
	ErrClosed         = errors.New("session closed")
	ErrBackpressure   = errors.New("backpressure")
)

// wireEnvelope is the single frame shape on the signaling socket. Type
// discriminates; unrelated fields stay empty.
type wireEnvelope struct {
	Type string `json:"type"`

	Attendee   domain.AttendeeID `json:"attendee,omitempty"`
	ExternalID string            `json:"externalId,omitempty"`
	Present    *bool             `json:"present,omitempty"`

	Volume *float64 `json:"volume,omitempty"`
	Muted  *bool    `json:"muted,omitempty"`
	Signal *float64 `json:"signal,omitempty"`

	Topic            string            `json:"topic,omitempty"`
	Payload          []byte            `json:"payload,omitempty"`
	Sender           domain.AttendeeID `json:"sender,omitempty"`
	SenderExternalID string            `json:"senderExternalId,omitempty"`
	TimestampMs      int64             `json:"timestampMs,omitempty"`
	LifetimeMs       int64             `json:"lifetimeMs,omitempty"`

	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`

	DeviceKind string `json:"deviceKind,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	Video      *bool  `json:"video,omitempty"`
}

type session struct {
	cfg       rtc.SessionConfig
	caps      rtc.Capabilities
	signalURL string

	mu     sync.Mutex
	conn   *websocket.Conn
	send   chan []byte
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	sink   rtc.MediaSink
	cancel context.CancelFunc
	closed bool

	presence *pubsub.Bus[domain.PresenceEvent]
	volume   map[domain.AttendeeID]*pubsub.Bus[domain.VolumeUpdate]
	msgs     map[string]*pubsub.Bus[rtc.Message]
}

func newSession(cfg rtc.SessionConfig, caps rtc.Capabilities) (*session, error) {
	var meeting struct {
		MediaPlacement struct {
			SignalingURL string `json:"SignalingUrl"`
		} `json:"MediaPlacement"`
	}
	if err := json.Unmarshal(cfg.Join.Meeting, &meeting); err != nil {
		return nil, err
	}
	if meeting.MediaPlacement.SignalingURL == "" {
		return nil, ErrNoSignalingURL
	}
	return &session{
		cfg:       cfg,
		caps:      caps,
		signalURL: meeting.MediaPlacement.SignalingURL,
		send:      make(chan []byte, 64),
		presence:  pubsub.NewBus[domain.PresenceEvent](),
		volume:    make(map[domain.AttendeeID]*pubsub.Bus[domain.VolumeUpdate]),
		msgs:      make(map[string]*pubsub.Bus[rtc.Message]),
	}, nil
}

func (s *session) Capabilities() rtc.Capabilities { return s.caps }

func (s *session) BindOutput(sink rtc.MediaSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	return nil
}

func defaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

func (s *session) Start(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-Join-Token", s.cfg.Join.Attendee.JoinToken)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.signalURL, header)
	if err != nil {
		return err
	}

	pc, err := webrtc.NewPeerConnection(defaultWebRTCConfig())
	if err != nil {
		_ = conn.Close()
		return err
	}
	dc, err := pc.CreateDataChannel("messaging", nil)
	if err != nil {
		_ = conn.Close()
		_ = pc.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.pc = pc
	s.dc = dc
	s.cancel = cancel
	s.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) { s.handleFrame(msg.Data) })
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		s.trySendEnvelope(wireEnvelope{Type: "candidate", Candidate: &init})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc.pion").Str("peer_state", state.String()).Msg("peer state")
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			cancel()
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go s.drainTrack(ctx, track)
	})

	go s.writePump(ctx)
	go s.readPump(ctx)

	s.trySendEnvelope(wireEnvelope{
		Type:       "join",
		Attendee:   s.cfg.Join.Attendee.AttendeeID,
		ExternalID: s.cfg.Join.Attendee.ExternalUserID,
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	<-gathered
	s.trySendEnvelope(wireEnvelope{Type: "offer", SDP: pc.LocalDescription().SDP})
	return nil
}

func (s *session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	conn := s.conn
	pc := s.pc
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc.pion").Msg("close peer connection")
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

func (s *session) SelectAudioInput(id string) error {
	return s.trySendEnvelope(wireEnvelope{Type: "select-device", DeviceKind: string(domain.AudioInput), DeviceID: id})
}

func (s *session) SelectAudioOutput(id string) error {
	return s.trySendEnvelope(wireEnvelope{Type: "select-device", DeviceKind: string(domain.AudioOutput), DeviceID: id})
}

func (s *session) SelectVideoInput(id string) error {
	return s.trySendEnvelope(wireEnvelope{Type: "select-device", DeviceKind: string(domain.VideoInput), DeviceID: id})
}

func (s *session) StartLocalVideo() error {
	on := true
	return s.trySendEnvelope(wireEnvelope{Type: "video", Video: &on})
}

func (s *session) StopLocalVideo() error {
	on := false
	return s.trySendEnvelope(wireEnvelope{Type: "video", Video: &on})
}

func (s *session) SetLocalMute(muted bool) error {
	return s.trySendEnvelope(wireEnvelope{Type: "mute", Muted: &muted})
}

// Send ships one data message, preferring the data channel and falling
// back to the signaling socket while the channel is still negotiating.
func (s *session) Send(msg rtc.Message) error {
	env := wireEnvelope{
		Type:             "message",
		Topic:            msg.Topic,
		Payload:          msg.Payload,
		Sender:           msg.Sender,
		SenderExternalID: msg.SenderExternalID,
		TimestampMs:      msg.Timestamp.UnixMilli(),
		LifetimeMs:       msg.Lifetime.Milliseconds(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()
	if dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen {
		return dc.Send(raw)
	}
	return s.trySend(raw)
}

func (s *session) OnPresence(fn func(domain.PresenceEvent)) func() {
	return s.presence.Subscribe(fn)
}

func (s *session) OnVolume(id domain.AttendeeID, fn func(domain.VolumeUpdate)) func() {
	s.mu.Lock()
	bus, ok := s.volume[id]
	if !ok {
		bus = pubsub.NewBus[domain.VolumeUpdate]()
		s.volume[id] = bus
	}
	s.mu.Unlock()
	return bus.Subscribe(fn)
}

func (s *session) OnMessage(topic string, fn func(rtc.Message)) func() {
	s.mu.Lock()
	bus, ok := s.msgs[topic]
	if !ok {
		bus = pubsub.NewBus[rtc.Message]()
		s.msgs[topic] = bus
	}
	s.mu.Unlock()
	return bus.Subscribe(fn)
}

func (s *session) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-s.send:
			if !ok {
				return
			}
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "rtc.pion").Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "rtc.pion").Msg("writePump write error")
				return
			}
		}
	}
}

func (s *session) readPump(ctx context.Context) {
	defer func() {
		log.Info().Str("module", "rtc.pion").Msg("readPump closing")
		_ = s.Stop()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Str("module", "rtc.pion").Msg("readPump read error")
				}
				return
			}
			s.handleFrame(data)
		}
	}
}

func (s *session) handleFrame(data []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "rtc.pion").Msg("bad frame")
		return
	}
	switch env.Type {
	case "presence":
		present := env.Present != nil && *env.Present
		s.presence.Publish(domain.PresenceEvent{
			Attendee:   env.Attendee,
			ExternalID: env.ExternalID,
			Present:    present,
		})
	case "volume":
		s.mu.Lock()
		bus := s.volume[env.Attendee]
		s.mu.Unlock()
		if bus == nil {
			return
		}
		bus.Publish(domain.VolumeUpdate{
			Attendee: env.Attendee,
			Volume:   env.Volume,
			Muted:    env.Muted,
			Signal:   env.Signal,
		})
	case "message":
		lifetime := time.Duration(env.LifetimeMs) * time.Millisecond
		if lifetime > 0 && time.Since(time.UnixMilli(env.TimestampMs)) > lifetime {
			return
		}
		s.mu.Lock()
		bus := s.msgs[env.Topic]
		s.mu.Unlock()
		if bus == nil {
			return
		}
		bus.Publish(rtc.Message{
			Topic:            env.Topic,
			Payload:          env.Payload,
			Sender:           env.Sender,
			SenderExternalID: env.SenderExternalID,
			Timestamp:        time.UnixMilli(env.TimestampMs),
			Lifetime:         lifetime,
		})
	case "answer":
		s.mu.Lock()
		pc := s.pc
		s.mu.Unlock()
		if pc == nil {
			return
		}
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: env.SDP}
		if err := pc.SetRemoteDescription(desc); err != nil {
			log.Error().Err(err).Str("module", "rtc.pion").Msg("set remote description")
		}
	case "candidate":
		s.mu.Lock()
		pc := s.pc
		s.mu.Unlock()
		if pc == nil || env.Candidate == nil {
			return
		}
		if err := pc.AddICECandidate(*env.Candidate); err != nil {
			log.Error().Err(err).Str("module", "rtc.pion").Msg("add ice candidate")
		}
	default:
		log.Warn().Str("module", "rtc.pion").Str("type", env.Type).Msg("unknown frame")
	}
}

// drainTrack feeds remote audio payloads into the bound sink.
func (s *session) drainTrack(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		if sink == nil {
			continue
		}
		if err := sink.WritePCM(pkt.Payload); err != nil {
			log.Error().Err(err).Str("module", "rtc.pion").Msg("write media sink")
			return
		}
	}
}

func (s *session) trySendEnvelope(env wireEnvelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.trySend(raw)
}

func (s *session) trySend(data []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}
