package hooks

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/rtc"
)

// Removal leaves the session when a remove-attendee message addressed to
// the local attendee arrives, then navigates home. Non-teacher roles also
// report the departure to the attendance webhook, best-effort.
type Removal struct {
	ctx            context.Context
	meet           SessionLeaver
	role           domain.Role
	navigateHome   func()
	attendanceLeft func(ctx context.Context) error
	cancel         func()
}

func NewRemoval(ctx context.Context, meet SessionLeaver, role domain.Role, navigateHome func(), attendanceLeft func(context.Context) error) *Removal {
	h := &Removal{
		ctx:            ctx,
		meet:           meet,
		role:           role,
		navigateHome:   navigateHome,
		attendanceLeft: attendanceLeft,
	}
	h.cancel = meet.SubscribeMessages(string(control.TopicRemoveAttendee), h.onRemove)
	return h
}

func (h *Removal) Close() { h.cancel() }

func (h *Removal) onRemove(msg rtc.Message) {
	var f control.Flag
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		log.Error().Err(err).Str("module", "hooks.removal").Msg("bad remove payload")
		return
	}
	if !f.Focus || f.TargetID != h.meet.LocalID() {
		return
	}
	log.Info().Str("module", "hooks.removal").Str("by", string(msg.Sender)).Msg("removed from meeting")
	h.meet.LeaveSession(h.ctx, false)
	if h.role != domain.RoleTeacher && h.attendanceLeft != nil {
		if err := h.attendanceLeft(h.ctx); err != nil {
			log.Error().Err(err).Str("module", "hooks.removal").Msg("attendance left callback")
		}
	}
	if h.navigateHome != nil {
		h.navigateHome()
	}
}
