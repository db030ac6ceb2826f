package cdp

import (
	"context"
	"encoding/json"
)

// Transport is the channel abstraction beneath the Conn. Implementations must
// preserve message boundaries and deliver messages reliably and in order.
// Receive blocks until a message arrives and returns a non-nil error once the
// channel is severed; after that the transport is dead for good.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Receive() ([]byte, error)
	Close() error
}

// EventHandler receives the params payload of one event notification.
type EventHandler func(params json.RawMessage)

// Result is the settlement of one command. Exactly one of Value and Err is
// meaningful: Value holds the response's result payload, Err a *ProtocolError
// for a wire-level error or ErrClosed when the connection went down first.
type Result struct {
	Value json.RawMessage
	Err   error
}

// Connection is the contract the Conn exposes to its controller.
type Connection interface {
	Send(ctx context.Context, method string, params any) (<-chan Result, error)
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	On(method string, h EventHandler) (off func())
	SetVerbose(enabled bool)
	Verbose() bool
	Done() <-chan struct{}
	Close() error
}
