package link

import (
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/frame"
	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/record"
)

// ReceiveMessage drives the receiver side of spec.md §4.B for one TCP
// connection: it blocks until a complete, non-empty ASTM message has been
// assembled, retrying internally across empty establishments (an ENQ
// immediately followed by EOT with nothing in between), and returns io.EOF
// once the connection has ended. t.Handshake bounds the idle wait for ENQ.
func ReceiveMessage(conn Conn, t Timeouts) (string, error) {
	for {
		msg, err := receiveOnce(conn, t)
		if err != nil {
			return "", err
		}
		if msg != "" {
			return msg, nil
		}
	}
}

func receiveOnce(conn Conn, t Timeouts) (string, error) {
	if err := waitForEstablishment(conn, t); err != nil {
		return "", err
	}
	return assembleMessage(conn)
}

// waitForEstablishment blocks (with a t.Handshake idle deadline, retried
// indefinitely) until ENQ arrives, then ACKs it. Any non-timeout read
// error — including a clean EOF — ends the connection.
func waitForEstablishment(conn Conn, t Timeouts) error {
	for {
		if err := setDeadline(conn, t.Handshake); err != nil {
			return err
		}
		b, err := readByte(conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return io.EOF
		}
		if b != frame.ENQ {
			continue // noise: ignore and keep waiting
		}
		if err := writeByte(conn, frame.ACK); err != nil {
			return fmt.Errorf("%w: ack enq: %v", ErrAborted, err)
		}
		return nil
	}
}

// assembleMessage reads frames until EOT, ACKing good frames and NAKing bad
// checksums (without appending), then normalizes and returns the
// concatenated payload. Inter-frame reads are unbounded, per spec.md §5.
func assembleMessage(conn Conn) (string, error) {
	if err := setDeadline(conn, 0); err != nil {
		return "", err
	}
	var buf []byte
	for {
		b, err := readByte(conn)
		if err != nil {
			return "", io.EOF
		}
		switch b {
		case frame.EOT:
			return record.NormalizeMessage(string(buf)), nil
		case frame.STX:
			fr, ferr := frame.ReadBody(conn)
			if ferr != nil {
				var chkErr *frame.ChecksumError
				if errors.As(ferr, &chkErr) {
					if err := writeByte(conn, frame.NAK); err != nil {
						return "", fmt.Errorf("%w: nak: %v", ErrAborted, err)
					}
					continue // wait for retransmission; do not append
				}
				return "", fmt.Errorf("%w: %v", ErrAborted, ferr)
			}
			if err := writeByte(conn, frame.ACK); err != nil {
				return "", fmt.Errorf("%w: ack frame: %v", ErrAborted, err)
			}
			buf = append(buf, fr.Payload...)
		default:
			// unexpected byte outside a frame: ignore and resync.
		}
	}
}
