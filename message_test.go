package cdp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Classification(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		response bool
		event    bool
	}{
		{
			name:     "response with result",
			raw:      `{"id":7,"result":{}}`,
			response: true,
		},
		{
			name:     "response with error",
			raw:      `{"id":7,"error":{"code":-32000,"message":"boom"}}`,
			response: true,
		},
		{
			name:  "event",
			raw:   `{"method":"Page.loadEventFired","params":{"timestamp":1}}`,
			event: true,
		},
		{
			// An id always wins classification, even next to a method name.
			name:     "id and method",
			raw:      `{"id":3,"method":"Page.navigate"}`,
			response: true,
		},
		{
			name: "neither",
			raw:  `{"params":{"stray":true}}`,
		},
		{
			name: "null id without method",
			raw:  `{"id":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg message
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))
			assert.Equal(t, tt.response, msg.isResponse())
			assert.Equal(t, tt.event, msg.isEvent())
		})
	}
}

func TestProtocolError(t *testing.T) {
	var msg message
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"error":{"code":-32601,"message":"method not found","data":"Page.bogus"}}`), &msg))
	require.NotNil(t, msg.Error)

	perr := msg.Error.toProtocolError()
	assert.Equal(t, -32601, perr.Code)
	assert.Equal(t, "method not found", perr.Message)
	assert.JSONEq(t, `"Page.bogus"`, string(perr.Data))
	assert.Contains(t, perr.Error(), "method not found")
	assert.Contains(t, perr.Error(), "-32601")

	codeless := (&wireError{Message: "just text"}).toProtocolError()
	assert.Equal(t, "protocol error: just text", codeless.Error())
}

func TestMessage_OutboundShape(t *testing.T) {
	id := int64(12)
	raw, err := json.Marshal(&message{ID: &id, Method: "Page.navigate", Params: json.RawMessage(`{"url":"http://x"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":12,"method":"Page.navigate","params":{"url":"http://x"}}`, string(raw))

	// Absent params stay absent on the wire.
	raw, err = json.Marshal(&message{ID: &id, Method: "Page.enable"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":12,"method":"Page.enable"}`, string(raw))
}
