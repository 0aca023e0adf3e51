package types

// Inbound event types accepted over a client connection.
const (
	EventJoin    = "join"
	EventLeave   = "leave"
	EventMessage = "message"
)

// Outbound event types emitted to a client connection.
const (
	EventResponse  = "response"
	EventStatus    = "status"
	EventError     = "error"
	EventAuthError = "auth_error"
)

// ClientEvent is the envelope for everything a client sends.
// Room is set for join/leave, Text for message.
type ClientEvent struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
	Text string `json:"text,omitempty"`
}

// ServerEvent is the envelope for everything the engine emits.
// Which fields are populated depends on Type:
//
//	response   -> Message, From
//	status     -> Message
//	error      -> Code, Message
//	auth_error -> Message
type ServerEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	From    string `json:"from,omitempty"`
	Code    string `json:"code,omitempty"`
}

// NewResponseEvent builds an assistant reply event.
func NewResponseEvent(message string) ServerEvent {
	return ServerEvent{Type: EventResponse, Message: message, From: MessageRoleAssistant}
}

// NewStatusEvent builds an ephemeral progress notice.
func NewStatusEvent(message string) ServerEvent {
	return ServerEvent{Type: EventStatus, Message: message}
}

// NewErrorEvent builds a recoverable error event.
func NewErrorEvent(code, message string) ServerEvent {
	return ServerEvent{Type: EventError, Code: code, Message: message}
}

// NewAuthErrorEvent builds the terminal auth failure event sent
// immediately before a forced disconnect.
func NewAuthErrorEvent(message string) ServerEvent {
	return ServerEvent{Type: EventAuthError, Message: message}
}
