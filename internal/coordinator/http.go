package coordinator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// lab28RequestTimeout bounds how long an inbound HTTP order waits for the
// analyzer's link to go idle and accept it before the caller gets an error
// back instead of hanging forever with no analyzer connected.
const lab28RequestTimeout = 30 * time.Second

// LAB28Handler is the HTTP entry point for spec.md's "lab28" operation: the
// LIS posts an HL7 OML^O33 order and receives the HL7 ACK^R22
// synchronously once the order has actually been delivered to the
// analyzer over its live connection, or an error if it could not be.
func (c *Coordinator) LAB28Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), lab28RequestTimeout)
		defer cancel()

		ack, err := c.EnqueueOrder(ctx, body)
		if err != nil {
			c.logger().Warn("lab28_http_order_failed", "error", err)
			http.Error(w, fmt.Sprintf("order not delivered: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/hl7-v2; charset=us-ascii")
		_, _ = w.Write([]byte(ack))
	}
}

// StartHTTP serves the lab28 order-intake endpoint at addr, mirroring
// internal/metrics.StartHTTP's shape: a background ListenAndServe whose
// *http.Server the caller shuts down on exit.
func (c *Coordinator) StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/lab28", c.LAB28Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		c.logger().Info("lab28_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger().Error("lab28_http_error", "error", err)
		}
	}()
	return srv
}
