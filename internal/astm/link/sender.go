package link

import (
	"fmt"

	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/frame"
)

const (
	maxFrameAttempts = 6

	// frameBudget resolves spec.md §9's open question on ETB multi-frame
	// sends: payload bytes per frame before a continuation (ETB) frame is
	// needed. 240 sits comfortably under the 8-bit, typically ~250-byte
	// buffers common on serial-to-TCP Sysmex XP bridges.
	frameBudget = 240
)

// SendMessage drives the sender side of spec.md §4.B: ENQ/ACK
// establishment, then each record framed (splitting into ETB-terminated
// continuation frames when a record exceeds frameBudget, ETX on the final
// chunk), each attempted up to six times, then EOT. t bounds the
// establishment and per-frame ACK waits.
//
// records are ASTM record lines without their trailing CR; SendMessage
// appends it, since the receiver reconstructs the message by concatenating
// raw frame payloads and only then splitting on CR (spec.md §4.B step 3 /
// §4.C).
func SendMessage(conn Conn, records []string, t Timeouts) error {
	if err := establish(conn, t); err != nil {
		return err
	}

	frameNo := uint8(1)
	for _, rec := range records {
		payload := append([]byte(rec), '\r')
		chunks := splitChunks(payload, frameBudget)
		for i, chunk := range chunks {
			final := i == len(chunks)-1
			if err := sendFrameWithRetry(conn, chunk, frameNo, final, t); err != nil {
				_ = writeByte(conn, frame.EOT)
				return err
			}
			frameNo = (frameNo + 1) % 8
		}
	}
	return writeByte(conn, frame.EOT)
}

// establish performs the ENQ/ACK handshake that precedes a transfer.
func establish(conn Conn, t Timeouts) error {
	if err := writeByte(conn, frame.ENQ); err != nil {
		return fmt.Errorf("%w: write ENQ: %v", ErrEstablishmentFailed, err)
	}
	if err := setDeadline(conn, t.Handshake); err != nil {
		return fmt.Errorf("%w: set deadline: %v", ErrEstablishmentFailed, err)
	}
	b, err := readByte(conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEstablishmentFailed, err)
	}
	switch b {
	case frame.ACK:
		return nil
	case frame.NAK:
		return ErrNotReady
	default:
		return fmt.Errorf("%w: unexpected byte 0x%02X", ErrEstablishmentFailed, b)
	}
}

// sendFrameWithRetry writes one frame, retrying on NAK/timeout/garbage up
// to maxFrameAttempts times, retransmitting the same frame number each time.
func sendFrameWithRetry(conn Conn, payload []byte, frameNo uint8, final bool, t Timeouts) error {
	wire := frame.Encode(payload, frameNo, final)
	for attempt := 1; attempt <= maxFrameAttempts; attempt++ {
		if _, err := conn.Write(wire); err != nil {
			return fmt.Errorf("%w: write frame: %v", ErrRetryExhausted, err)
		}
		if err := setDeadline(conn, t.FrameAck); err != nil {
			return fmt.Errorf("%w: set deadline: %v", ErrRetryExhausted, err)
		}
		resp, err := readByte(conn)
		if err != nil {
			continue // timeout or read error: retry
		}
		switch resp {
		case frame.ACK:
			return nil
		case frame.NAK:
			continue // retry same frame number
		default:
			continue // unexpected byte: retry
		}
	}
	return ErrRetryExhausted
}

// splitChunks splits payload into chunks of at most size bytes. An empty
// payload still yields one (empty) chunk, so a record with no body still
// gets a frame.
func splitChunks(payload []byte, size int) [][]byte {
	if len(payload) == 0 {
		return [][]byte{payload}
	}
	var chunks [][]byte
	for len(payload) > 0 {
		n := size
		if n > len(payload) {
			n = len(payload)
		}
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}
	return chunks
}
