// Package domain contains entity without logic, just meta-data
package domain

import "strings"

// ContentShareSuffix marks the secondary identity the media service issues
// for an attendee's screen-share source.
const ContentShareSuffix = "#content"

// RecorderDisplayName is the reserved display name of the recording bot.
// An attendee resolving to this name never appears in the roster.
const RecorderDisplayName = "«Recording»"

// AttendeeID is an opaque identifier issued by the session-credential service.
type AttendeeID string

// Base strips the content-share suffix, mapping a screen-share
// pseudo-identity back to the attendee that owns it.
func (id AttendeeID) Base() AttendeeID {
	return AttendeeID(strings.TrimSuffix(string(id), ContentShareSuffix))
}

// IsContentShare reports whether id is a screen-share pseudo-identity.
func (id AttendeeID) IsContentShare() bool {
	return strings.HasSuffix(string(id), ContentShareSuffix)
}

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// AttendeeInfo is the lookup result for one attendee of one meeting.
type AttendeeInfo struct {
	Name string `json:"Name"`
	Host bool   `json:"Host"`
}
