package link

import "time"

// Timeouts bounds the link engine's idle deadlines. Callers source these
// from config.Config.HandshakeTimeout/ClientReadTimeout so operators can
// tune them per analyzer without a rebuild, instead of the engine hardcoding
// its own constants.
type Timeouts struct {
	// Handshake bounds the ENQ/ACK establishment exchange: how long the
	// sender waits for a reply after writing ENQ, and how long the receiver
	// idles waiting for an incoming ENQ.
	Handshake time.Duration
	// FrameAck bounds how long the sender waits for ACK/NAK after writing
	// one data frame.
	FrameAck time.Duration
}

// DefaultTimeouts is used by callers with no config to source timeouts
// from (unit tests, and the initial value coordinator.New sets).
func DefaultTimeouts() Timeouts {
	return Timeouts{Handshake: 15 * time.Second, FrameAck: 10 * time.Second}
}
