// Package api holds the HTTP collaborators of the client: the
// session-credential (join) service, the recording controller, and the
// attendance webhook. Only join and attendee lookup failures matter to
// callers; everything else is best-effort and logged at the call site.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/domain"
)

// DefaultRegionURL answers with the media region closest to the caller.
const DefaultRegionURL = "https://nearest-media-region.l.chime.aws"

const defaultRegion = "us-east-1"

var (
	ErrJoinRejected     = errors.New("join rejected")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

type Client struct {
	base      string
	recording string
	webhook   string
	regionURL string
	http      *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithRegionURL(u string) Option        { return func(c *Client) { c.regionURL = u } }

func New(base, recording, webhook string, opts ...Option) *Client {
	c := &Client{
		base:      base,
		recording: recording,
		webhook:   webhook,
		regionURL: DefaultRegionURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// JoinRequest carries everything the join endpoint wants as query params.
type JoinRequest struct {
	Title       string
	Name        string
	Region      string
	Role        domain.Role
	MeetingName string
	ID          string
	BatchID     string
	UserID      string
	Duration    int
	IsRecording bool
}

type joinResponse struct {
	JoinInfo *domain.JoinInfo `json:"JoinInfo"`
	Error    string           `json:"error"`
}

// Join requests meeting + attendee credentials. This is the only call in
// the package whose failure is fatal to the join flow.
func (c *Client) Join(ctx context.Context, req JoinRequest) (*domain.JoinInfo, error) {
	q := url.Values{}
	q.Set("title", req.Title)
	q.Set("name", req.Name)
	q.Set("region", req.Region)
	q.Set("role", string(req.Role))
	q.Set("meetingName", req.MeetingName)
	q.Set("id", req.ID)
	q.Set("batchId", req.BatchID)
	q.Set("userID", req.UserID)
	q.Set("duration", strconv.Itoa(req.Duration))
	q.Set("isRecording", strconv.FormatBool(req.IsRecording))

	var resp joinResponse
	if err := c.do(ctx, http.MethodPost, c.base+"/join?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrJoinRejected, resp.Error)
	}
	if resp.JoinInfo == nil {
		return nil, fmt.Errorf("%w: empty join info", ErrJoinRejected)
	}
	return resp.JoinInfo, nil
}

type attendeeResponse struct {
	AttendeeInfo *domain.AttendeeInfo `json:"AttendeeInfo"`
}

// Attendee resolves the display name and host flag for one attendee.
func (c *Client) Attendee(ctx context.Context, title string, attendee domain.AttendeeID) (*domain.AttendeeInfo, error) {
	q := url.Values{}
	q.Set("title", title)
	q.Set("attendee", string(attendee))

	var resp attendeeResponse
	if err := c.do(ctx, http.MethodGet, c.base+"/attendee?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.AttendeeInfo == nil {
		return nil, errors.New("empty attendee info")
	}
	return resp.AttendeeInfo, nil
}

// End tells the server the meeting is over.
func (c *Client) End(ctx context.Context, title string) error {
	q := url.Values{}
	q.Set("title", title)
	return c.do(ctx, http.MethodPost, c.base+"/end?"+q.Encode(), nil, nil)
}

// ChangeHost flips the host flag of one attendee on the server.
func (c *Client) ChangeHost(ctx context.Context, title string, attendee domain.AttendeeID, host bool) error {
	q := url.Values{}
	q.Set("title", title)
	q.Set("attendee", string(attendee))
	q.Set("host", strconv.FormatBool(host))
	return c.do(ctx, http.MethodPost, c.base+"/change-host?"+q.Encode(), nil, nil)
}

type recordingResponse struct {
	TaskID string `json:"taskId"`
}

// StartRecording launches the recorder against meetingURL and returns the
// task id needed to stop it.
func (c *Client) StartRecording(ctx context.Context, meetingURL string) (string, error) {
	q := url.Values{}
	q.Set("recordingAction", "start")
	q.Set("meetingURL", meetingURL)

	var resp recordingResponse
	if err := c.do(ctx, http.MethodPost, c.recording+"/recording?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

func (c *Client) StopRecording(ctx context.Context, taskID string) error {
	q := url.Values{}
	q.Set("recordingAction", "stop")
	q.Set("taskId", taskID)
	return c.do(ctx, http.MethodPost, c.recording+"/recording?"+q.Encode(), nil, nil)
}

// AttendanceEvent reports a join/leave to the attendance webhook.
type AttendanceEvent struct {
	MeetingID         string `json:"meetingId"`
	InternalMeetingID string `json:"internal_meeting_id"`
	UserID            string `json:"user_id"`
	BatchID           string `json:"batch_id"`
	IsJoin            bool   `json:"isJoin"`
}

// Attendance posts ev to the webhook. Callers treat failures as
// best-effort; the error is returned only so they can log it.
func (c *Client) Attendance(ctx context.Context, ev AttendanceEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.webhook+"/bbb-callback", body, nil)
}

// NearestRegion asks the region hint service which media region to join.
// Falls back to a default region on any failure.
func (c *Client) NearestRegion(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.regionURL, nil)
	if err != nil {
		return defaultRegion
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "api").Msg("nearest region lookup failed")
		return defaultRegion
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil || resp.StatusCode != http.StatusOK || len(raw) == 0 {
		return defaultRegion
	}
	return string(bytes.TrimSpace(raw))
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s -> %d", ErrUnexpectedStatus, method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
