package domain

type DeviceKind string

const (
	AudioInput  DeviceKind = "audio-input"
	AudioOutput DeviceKind = "audio-output"
	VideoInput  DeviceKind = "video-input"
)

// DeviceKinds lists every device class the session tracks, in a fixed order.
func DeviceKinds() []DeviceKind {
	return []DeviceKind{AudioInput, AudioOutput, VideoInput}
}

// Device is one enumerated media endpoint.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DeviceState pairs the current selection with the available list for one
// device class. Selected is nil when no device of the class exists.
type DeviceState struct {
	Selected  *Device  `json:"selected"`
	Available []Device `json:"available"`
}
