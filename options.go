package cdp

import "time"

// ConnOpt configures a Conn at construction time.
type ConnOpt func(c *Conn)

// WithCallTimeout gives Call a default deadline applied whenever the caller's
// context carries none. The zero default preserves the protocol's native
// behavior: a call stays pending until its response arrives or the connection
// closes.
func WithCallTimeout(d time.Duration) ConnOpt {
	return func(c *Conn) {
		c.callTimeout = d
	}
}

// WithMetrics instruments the Conn with Prometheus counters. A nil Metrics is
// allowed and equivalent to no instrumentation.
func WithMetrics(m *Metrics) ConnOpt {
	return func(c *Conn) {
		c.metrics = m
	}
}
