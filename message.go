package cdp

import (
	"encoding/json"
	"fmt"
)

// message is the single wire shape for both directions of the channel.
// Outbound it carries {id, method, params}; inbound it is either a response
// ({id, result} or {id, error}) or an event notification ({method, params}).
// A nil ID distinguishes events from responses.
type message struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

// wireError is the error payload a response may carry instead of a result.
type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// isResponse reports whether the message answers a previously sent command.
func (m *message) isResponse() bool {
	return m.ID != nil
}

// isEvent reports whether the message is an unsolicited notification.
func (m *message) isEvent() bool {
	return m.ID == nil && m.Method != ""
}

// ProtocolError is the typed form of a wire-level error payload. It is what a
// rejected call's Result.Err carries when the remote target answered the
// command with an error instead of a result.
type ProtocolError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
	}
	return "protocol error: " + e.Message
}

func (w *wireError) toProtocolError() *ProtocolError {
	return &ProtocolError{Code: w.Code, Message: w.Message, Data: w.Data}
}
