package link

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/frame"
)

// fakeConn is a scripted Conn for unit-level sender/receiver tests: Read
// drains a fixed byte sequence (io.EOF once exhausted, mirroring a closed
// connection), Write appends to an inspectable buffer, and deadlines are
// no-ops; if timeoutAfter is set, that Read returns a timeout error instead.
type fakeConn struct {
	in  *bytes.Buffer
	out bytes.Buffer

	timeoutAfter int // if > 0, the timeoutAfter'th Read returns a timeout error
	reads        int
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func (f *fakeConn) Read(p []byte) (int, error) {
	f.reads++
	if f.timeoutAfter > 0 && f.reads == f.timeoutAfter {
		return 0, timeoutErr{}
	}
	return f.in.Read(p)
}

func (f *fakeConn) Write(p []byte) (int, error) { return f.out.Write(p) }

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

func newFakeConn(script ...byte) *fakeConn {
	return &fakeConn{in: bytes.NewBuffer(script)}
}

func TestSendMessage_Success(t *testing.T) {
	// ACK the ENQ, then ACK every frame.
	conn := newFakeConn(frame.ACK, frame.ACK, frame.ACK)
	if err := SendMessage(conn, []string{"H|\\^&", "L|1|N"}, DefaultTimeouts()); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if conn.out.Len() == 0 {
		t.Fatal("expected bytes written")
	}
	if last := conn.out.Bytes()[conn.out.Len()-1]; last != frame.EOT {
		t.Fatalf("expected trailing EOT, got 0x%02X", last)
	}
	if conn.out.Bytes()[0] != frame.ENQ {
		t.Fatalf("expected leading ENQ, got 0x%02X", conn.out.Bytes()[0])
	}
}

func TestSendMessage_NAKOnEstablishment(t *testing.T) {
	conn := newFakeConn(frame.NAK)
	err := SendMessage(conn, []string{"H|\\^&"}, DefaultTimeouts())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestSendMessage_RetriesFrameOnNAKThenSucceeds(t *testing.T) {
	conn := newFakeConn(frame.ACK, frame.NAK, frame.ACK)
	if err := SendMessage(conn, []string{"H|\\^&"}, DefaultTimeouts()); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
}

func TestSendMessage_RetryExhausted(t *testing.T) {
	script := make([]byte, 0, 1+maxFrameAttempts)
	script = append(script, frame.ACK)
	for i := 0; i < maxFrameAttempts; i++ {
		script = append(script, frame.NAK)
	}
	conn := newFakeConn(script...)
	err := SendMessage(conn, []string{"H|\\^&"}, DefaultTimeouts())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
}

func TestSendMessage_SplitsOversizedRecordAcrossFrames(t *testing.T) {
	big := make([]byte, frameBudget+50)
	for i := range big {
		big[i] = 'A'
	}
	conn := newFakeConn(frame.ACK, frame.ACK, frame.ACK)
	if err := SendMessage(conn, []string{string(big)}, DefaultTimeouts()); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	etbCount := bytes.Count(conn.out.Bytes(), []byte{frame.ETB})
	if etbCount == 0 {
		t.Fatal("expected at least one ETB continuation frame for an oversized record")
	}
}

func encodeFrame(t *testing.T, payload string, num uint8, final bool) []byte {
	t.Helper()
	return frame.Encode([]byte(payload), num, final)
}

func TestReceiveMessage_HappyPath(t *testing.T) {
	var script bytes.Buffer
	script.WriteByte(frame.ENQ)
	script.Write(encodeFrame(t, "H|\\^&\r", 1, false))
	script.Write(encodeFrame(t, "L|1|N\r", 2, true))
	script.WriteByte(frame.EOT)

	conn := newFakeConn(script.Bytes()...)
	msg, err := ReceiveMessage(conn, DefaultTimeouts())
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	want := "H|\\^&\rL|1|N"
	if msg != want {
		t.Fatalf("got %q want %q", msg, want)
	}

	// One ACK for ENQ plus one ACK per frame.
	wantWrites := []byte{frame.ACK, frame.ACK, frame.ACK}
	if !bytes.Equal(conn.out.Bytes(), wantWrites) {
		t.Fatalf("writes = % X want % X", conn.out.Bytes(), wantWrites)
	}
}

func TestReceiveMessage_ChecksumMismatchTriggersNAKAndRetransmit(t *testing.T) {
	good := encodeFrame(t, "H|\\^&\r", 1, true)
	bad := make([]byte, len(good))
	copy(bad, good)
	// Corrupt the checksum's first hex digit without touching the trailer shape.
	idx := len(bad) - 4
	if bad[idx] == '0' {
		bad[idx] = '1'
	} else {
		bad[idx] = '0'
	}

	var script bytes.Buffer
	script.WriteByte(frame.ENQ)
	script.Write(bad)
	script.Write(good)
	script.WriteByte(frame.EOT)

	conn := newFakeConn(script.Bytes()...)
	msg, err := ReceiveMessage(conn, DefaultTimeouts())
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg != "H|\\^&" {
		t.Fatalf("got %q", msg)
	}
	want := []byte{frame.ACK, frame.NAK, frame.ACK}
	if !bytes.Equal(conn.out.Bytes(), want) {
		t.Fatalf("writes = % X want % X", conn.out.Bytes(), want)
	}
}

func TestReceiveMessage_IgnoresNoiseBeforeENQ(t *testing.T) {
	var script bytes.Buffer
	script.WriteByte(0x00)
	script.WriteByte(0xFF)
	script.WriteByte(frame.ENQ)
	script.Write(encodeFrame(t, "L|1|N\r", 1, true))
	script.WriteByte(frame.EOT)

	conn := newFakeConn(script.Bytes()...)
	msg, err := ReceiveMessage(conn, DefaultTimeouts())
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg != "L|1|N" {
		t.Fatalf("got %q", msg)
	}
}

func TestReceiveMessage_EmptyEstablishmentLoopsForNext(t *testing.T) {
	var script bytes.Buffer
	script.WriteByte(frame.ENQ)
	script.WriteByte(frame.EOT) // empty message: no frames at all
	script.WriteByte(frame.ENQ)
	script.Write(encodeFrame(t, "L|1|N\r", 1, true))
	script.WriteByte(frame.EOT)

	conn := newFakeConn(script.Bytes()...)
	msg, err := ReceiveMessage(conn, DefaultTimeouts())
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg != "L|1|N" {
		t.Fatalf("got %q", msg)
	}
}

func TestReceiveMessage_EOFEndsConnection(t *testing.T) {
	conn := newFakeConn() // empty: immediate EOF while waiting for ENQ
	_, err := ReceiveMessage(conn, DefaultTimeouts())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

// TestSendReceive_RoundTrip exercises the sender and receiver against each
// other over a real net.Conn pair (net.Pipe supports deadlines since Go 1.10).
func TestSendReceive_RoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	records := []string{"H|\\^&|||Sysmex", "P|1|12345", "L|1|N"}

	errCh := make(chan error, 1)
	go func() {
		errCh <- SendMessage(client, records, DefaultTimeouts())
	}()

	msg, err := ReceiveMessage(server, DefaultTimeouts())
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	want := "H|\\^&|||Sysmex\rP|1|12345\rL|1|N"
	if msg != want {
		t.Fatalf("got %q want %q", msg, want)
	}
}
