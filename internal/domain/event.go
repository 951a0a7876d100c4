package domain

// EventKind classifies inbound events.
type EventKind string

const (
	EventText     EventKind = "text"
	EventCommand  EventKind = "command"
	EventCallback EventKind = "callback"
	EventFile     EventKind = "file"
)

// Event is a transport-neutral inbound message.
type Event struct {
	ID       string    `json:"id,omitempty"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Kind     EventKind `json:"kind"`
	FromBot  bool      `json:"from_bot,omitempty"`

	// Text carries the message body, or the arguments of a command.
	Text string `json:"text,omitempty"`
	// Command is the command name without the leading slash.
	Command string `json:"command,omitempty"`
	// Data is the callback token of a button press.
	Data string `json:"data,omitempty"`

	FileName string `json:"file_name,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
}

// Button is an inline button attached to a reply.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Reply is an outbound message for the user of the originating event.
type Reply struct {
	Text    string     `json:"text"`
	Buttons [][]Button `json:"buttons,omitempty"`
	// Alert asks the transport to show the text as a popup answer to a
	// callback instead of a chat message.
	Alert bool `json:"alert,omitempty"`
}
