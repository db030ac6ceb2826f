package cdp

import (
	"encoding/json"
	"log/slog"
	"time"
)

// receiver is the goroutine that drains the transport and classifies every
// inbound message: a message carrying a correlation id settles the matching
// pending call; a message carrying only a method name fans out to event
// handlers; anything else is malformed and dropped. It terminates when the
// transport fails or is closed, taking the whole connection down with it.
func (c *Conn) receiver() {
	defer c.wg.Done()
	defer c.log.Debug("receiver closed")
	c.log.Debug("receiver started")

	for {
		raw, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.ctx.Done():
				// Close initiated the teardown; the error is just the
				// transport reporting it.
			default:
				c.log.Error("receive failed", slog.String("error", err.Error()))
			}
			c.shutdown(err)
			return
		}

		c.trace("recv", raw)

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.metrics.malformedMessage()
			c.log.Warn("dropping malformed message", slog.String("error", err.Error()))
			continue
		}

		switch {
		case msg.isResponse():
			c.dispatchResponse(&msg)
		case msg.isEvent():
			c.dispatchEvent(&msg)
		default:
			c.metrics.malformedMessage()
			c.log.Warn("dropping message with neither id nor method")
		}
	}
}

// dispatchResponse settles the pending call matching the response id. An id
// with no pending entry is a tolerated anomaly: late arrival after the caller
// abandoned the call, or a peer talking out of turn.
func (c *Conn) dispatchResponse(msg *message) {
	id := *msg.ID

	c.pendingLock.Lock()
	pc, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingLock.Unlock()

	if !ok {
		c.metrics.unmatchedResponse()
		c.log.Debug("unmatched response", slog.Int64("id", id))
		return
	}

	res := Result{Value: msg.Result}
	status := "ok"
	if msg.Error != nil {
		res = Result{Err: msg.Error.toProtocolError()}
		status = "error"
	}
	c.metrics.responseSettled(status)
	c.log.Debug("settled call",
		slog.Int64("id", id),
		slog.String("method", pc.method),
		slog.String("status", status),
		slog.Duration("took", time.Since(pc.issuedAt)))

	pc.respChan <- res
	close(pc.respChan)
}

// dispatchEvent invokes every handler registered for the event's method, in
// registration order, against a snapshot of the registry so that handlers
// registering or removing handlers never affect the current delivery. Events
// with no handler are discarded silently; unknown names are not errors.
func (c *Conn) dispatchEvent(msg *message) {
	c.handlersLock.RLock()
	seq := c.handlers[msg.Method]
	snapshot := make([]*handlerEntry, len(seq))
	copy(snapshot, seq)
	c.handlersLock.RUnlock()

	c.metrics.eventDispatched(msg.Method)

	if len(snapshot) == 0 {
		c.log.Debug("unhandled event", slog.String("method", msg.Method))
		return
	}

	c.log.Debug("dispatching event",
		slog.String("method", msg.Method),
		slog.Int("handlers", len(snapshot)))
	for _, entry := range snapshot {
		entry.fn(msg.Params)
	}
}
