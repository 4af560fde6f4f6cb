// Package session turns a (meeting, user, role) tuple into an initialized
// media session. A join descriptor cached in local storage short-circuits
// the join service, so a restarted client resumes the meeting without a
// second join POST.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/api"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/rtc"
	"github.com/lumeet/classmeet/internal/store"
)

var (
	ErrMissingMeetingID = errors.New("meeting id required")
	ErrMissingUserName  = errors.New("user name required")
	ErrMissingRole      = errors.New("role required")
)

type Bootstrap struct {
	api   *api.Client
	store *store.Local
	meet  *rtc.Meet

	mu     sync.Mutex
	params CreateParams
	taskID string
}

func New(apiClient *api.Client, st *store.Local, meet *rtc.Meet) *Bootstrap {
	return &Bootstrap{api: apiClient, store: st, meet: meet}
}

// CreateParams is the full join tuple. OrgID doubles as the internal
// meeting id the attendance webhook wants.
type CreateParams struct {
	MeetingName string
	MeetingID   string
	OrgID       string
	BatchID     string
	UserName    string
	UserID      string
	Duration    int
	IsRecording bool
	Role        domain.Role
	Simulcast   bool
}

// CreateSession validates the parameters, obtains a join descriptor
// (cached or fresh) and initializes the media session. Only descriptor
// and initialization failures propagate; the attendance webhook is
// best-effort.
func (b *Bootstrap) CreateSession(ctx context.Context, p CreateParams) error {
	switch {
	case p.MeetingID == "":
		return ErrMissingMeetingID
	case p.UserName == "":
		return ErrMissingUserName
	case p.Role == "":
		return ErrMissingRole
	}
	if p.UserID == "" {
		p.UserID = uuid.NewString()
	}

	join := b.cachedJoin()
	if join == nil {
		region := b.api.NearestRegion(ctx)
		fresh, err := b.api.Join(ctx, api.JoinRequest{
			Title:       p.MeetingName,
			Name:        p.UserName,
			Region:      region,
			Role:        p.Role,
			MeetingName: p.MeetingName,
			ID:          p.MeetingID,
			BatchID:     p.BatchID,
			UserID:      p.UserID,
			Duration:    p.Duration,
			IsRecording: p.IsRecording,
		})
		if err != nil {
			return err
		}
		join = fresh
		b.persistJoin(p, join)
	} else {
		log.Info().Str("module", "session").Str("meeting", p.MeetingID).Msg("resuming from cached join descriptor")
	}

	if err := b.meet.InitializeSession(ctx, rtc.SessionConfig{
		Title:     p.MeetingName,
		Join:      *join,
		Simulcast: p.Simulcast,
	}); err != nil {
		return err
	}

	b.mu.Lock()
	b.params = p
	b.mu.Unlock()

	if p.Role != domain.RoleTeacher {
		if err := b.api.Attendance(ctx, b.attendanceEvent(p, true)); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("attendance join webhook")
		}
	}
	return nil
}

// AttendanceLeft reports the local user's departure; wired into the
// removal hook for non-teacher roles.
func (b *Bootstrap) AttendanceLeft(ctx context.Context) error {
	b.mu.Lock()
	p := b.params
	b.mu.Unlock()
	return b.api.Attendance(ctx, b.attendanceEvent(p, false))
}

// Leave tears the session down via the facade, which clears storage.
func (b *Bootstrap) Leave(ctx context.Context, endMeeting bool) {
	b.meet.LeaveSession(ctx, endMeeting)
}

// StartRecording launches the recorder and keeps its task id for Stop.
func (b *Bootstrap) StartRecording(ctx context.Context, meetingURL string) error {
	taskID, err := b.api.StartRecording(ctx, meetingURL)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.taskID = taskID
	b.mu.Unlock()
	return nil
}

func (b *Bootstrap) StopRecording(ctx context.Context) error {
	b.mu.Lock()
	taskID := b.taskID
	b.taskID = ""
	b.mu.Unlock()
	if taskID == "" {
		return nil
	}
	return b.api.StopRecording(ctx, taskID)
}

func (b *Bootstrap) cachedJoin() *domain.JoinInfo {
	blob, ok := b.store.Get(store.KeyMeetingConfig)
	if !ok {
		return nil
	}
	var join domain.JoinInfo
	if err := json.Unmarshal([]byte(blob), &join); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("discarding unreadable cached join descriptor")
		return nil
	}
	return &join
}

func (b *Bootstrap) persistJoin(p CreateParams, join *domain.JoinInfo) {
	blob, err := json.Marshal(join)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("marshal join descriptor")
		return
	}
	for key, val := range map[string]string{
		store.KeyMeetingConfig: string(blob),
		store.KeyMeetingID:     p.MeetingID,
		store.KeyAttendeeID:    string(join.Attendee.AttendeeID),
		store.KeyClassMode:     string(p.Role),
	} {
		if err := b.store.Set(key, val); err != nil {
			log.Error().Err(err).Str("module", "session").Str("key", key).Msg("persist session state")
		}
	}
}

func (b *Bootstrap) attendanceEvent(p CreateParams, isJoin bool) api.AttendanceEvent {
	return api.AttendanceEvent{
		MeetingID:         p.MeetingID,
		InternalMeetingID: p.OrgID,
		UserID:            p.UserID,
		BatchID:           p.BatchID,
		IsJoin:            isJoin,
	}
}
