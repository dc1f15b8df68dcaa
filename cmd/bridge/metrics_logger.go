package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/sysmex-astm-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"astm_rx", snap.ASTMRx,
					"astm_tx", snap.ASTMTx,
					"checksum_errors", snap.ChecksumErrors,
					"retries", snap.Retries,
					"hl7_upstream", snap.HL7Upstream,
					"hl7_downstream", snap.HL7Downstream,
					"lab27", snap.LAB27,
					"lab28", snap.LAB28,
					"lab29", snap.LAB29,
					"background_checks", snap.BackgroundCheck,
					"mapping_misses", snap.MappingMisses,
					"reconnects", snap.Reconnects,
					"errors", snap.Errors,
					"active_connections", snap.ActiveConns,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
