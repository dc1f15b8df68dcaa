// Package link drives the ASTM E1381 link-layer state machine described in
// spec.md §4.B, from both the sending side (host→analyzer) and the
// receiving side (analyzer→host), over any connection that can set a read
// deadline — in practice a *net.TCPConn.
package link

import (
	"io"
	"time"
)

// Conn is the minimal surface the link engine needs from a transport
// connection. *net.TCPConn and every net.Conn implementation satisfy it.
type Conn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

func setDeadline(c Conn, d time.Duration) error {
	if d <= 0 {
		return c.SetReadDeadline(time.Time{})
	}
	return c.SetReadDeadline(time.Now().Add(d))
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
