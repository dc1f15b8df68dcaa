// Package upstream implements the concrete HL7 LIS client: posting a
// synthesized HL7 message to the configured MLLP-adapter URL and returning
// the raw reply bytes, per spec.md §6's "LIS side" external interface.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors, classified for metrics via errors.Is, mirroring the
// teacher's internal/server/errors.go convention.
var (
	ErrSend = errors.New("upstream: send failed")
	ErrRead = errors.New("upstream: read reply failed")
)

// Client posts HL7 ER7 payloads to an external MLLP-to-HTTP adapter and
// returns its reply. The wire format on the LIS side is plain HL7 ER7 in
// the request/response body; MLLP framing itself is the external adapter's
// concern, per spec.md's GLOSSARY entry for MLLP.
type Client struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New returns a Client with a sane default timeout, matching the teacher's
// pattern of bounding every blocking I/O call with an explicit deadline.
func New() *Client {
	return &Client{
		HTTPClient: &http.Client{},
		Timeout:    10 * time.Second,
	}
}

// Send posts hl7 to url and returns the reply body. A non-2xx response
// still returns the body (callers, e.g. hl7translate.ParseUpstreamACK,
// decide how to interpret a malformed or rejecting reply).
func (c *Client) Send(ctx context.Context, url string, hl7 []byte) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(hl7))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSend, err)
	}
	req.Header.Set("Content-Type", "application/hl7-v2; charset=us-ascii")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSend, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return body, nil
}
