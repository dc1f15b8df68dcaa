package link

import "errors"

// Sentinel errors, wrapped with fmt.Errorf("%w: %v", ...) at the call site
// so callers can classify failures via errors.Is, mirroring the teacher's
// internal/server/errors.go convention.
var (
	// ErrNotReady is returned when the analyzer NAKs the opening ENQ.
	ErrNotReady = errors.New("link: remote not ready (NAK on ENQ)")
	// ErrEstablishmentFailed covers ENQ timeout or an unexpected byte in reply.
	ErrEstablishmentFailed = errors.New("link: establishment failed")
	// ErrRetryExhausted is returned after six failed attempts to get a frame ACKed.
	ErrRetryExhausted = errors.New("link: frame retry exhausted")
	// ErrChecksum names a received frame whose checksum does not verify. The
	// receiver answers such a frame with NAK and waits for retransmission, so
	// ReceiveMessage does not return this error.
	ErrChecksum = errors.New("link: frame checksum mismatch")
	// ErrAborted covers a truncated or malformed frame that forces the
	// connection to be torn down per spec.md §7.
	ErrAborted = errors.New("link: message aborted")
)
