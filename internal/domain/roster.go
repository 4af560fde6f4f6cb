package domain

// RosterEntry is the merged display state of one present attendee.
// Muted is tri-state: MutedKnown is false until the first volume event
// carries a mute flag.
type RosterEntry struct {
	Name       string
	Muted      bool
	MutedKnown bool
	Volume     int // 0..100
	Signal     int // 0..100
	Active     bool
	Host       bool
	Presenter  bool
	HandRaised bool
	ChatCount  int
}

// VolumeUpdate is one event from the per-attendee volume-indicator stream.
// Nil fields mean "unchanged"; volume and signal arrive in the 0..1 range.
type VolumeUpdate struct {
	Attendee AttendeeID
	Volume   *float64
	Muted    *bool
	Signal   *float64
}

// PresenceEvent is one event from the attendee-presence stream.
type PresenceEvent struct {
	Attendee   AttendeeID
	ExternalID string
	Present    bool
}
