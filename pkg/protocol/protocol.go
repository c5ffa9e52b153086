// Package protocol defines the JSON messages exchanged between the
// voltray client and the voltrayd host daemon.
package protocol

// Message types carried in the envelope's "type" field.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Operation names a client may request.
const (
	OpVolumeUp   = "volume_up"
	OpVolumeDown = "volume_down"
	OpGetVolume  = "get_volume"
	OpSetVolume  = "set_volume"
)

// EventVolumeChanged is published by the host whenever the volume
// changes, regardless of what caused the change. It carries no payload;
// clients are expected to re-query.
const EventVolumeChanged = "volume-changed"

// Request asks the host to perform a named operation. Volume is only
// meaningful for OpSetVolume.
type Request struct {
	Type   string  `json:"type"`
	ID     string  `json:"id"`
	Op     string  `json:"op"`
	Volume float64 `json:"volume,omitempty"`
}

// Response answers exactly one Request, matched by ID. On success Volume
// holds the host's volume after the operation; on failure Error holds a
// human-readable description and Volume is meaningless.
type Response struct {
	Type   string  `json:"type"`
	ID     string  `json:"id"`
	Volume float64 `json:"volume"`
	Error  string  `json:"error,omitempty"`
}

// Event is an unsolicited notification from the host.
type Event struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

// Envelope is the minimal decode target used to dispatch an inbound
// message before unmarshalling it into its concrete type.
type Envelope struct {
	Type string `json:"type"`
}
