package domain

import "encoding/json"

// Credentials identify the local attendee within one meeting.
type Credentials struct {
	AttendeeID     AttendeeID `json:"AttendeeId"`
	ExternalUserID string     `json:"ExternalUserId"`
	JoinToken      string     `json:"JoinToken"`
}

// JoinInfo is the join descriptor returned by the session-credential
// service. Meeting stays opaque here; only the media driver interprets it.
type JoinInfo struct {
	Meeting  json.RawMessage `json:"Meeting"`
	Attendee Credentials     `json:"Attendee"`
	EndTime  string          `json:"EndTime,omitempty"`
}
