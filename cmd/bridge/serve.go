package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/kstaniek/sysmex-astm-bridge/internal/archive"
	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/link"
	"github.com/kstaniek/sysmex-astm-bridge/internal/config"
	"github.com/kstaniek/sysmex-astm-bridge/internal/coordinator"
	"github.com/kstaniek/sysmex-astm-bridge/internal/hl7translate"
	"github.com/kstaniek/sysmex-astm-bridge/internal/mapping"
	"github.com/kstaniek/sysmex-astm-bridge/internal/metrics"
	"github.com/kstaniek/sysmex-astm-bridge/internal/supervisor"
	"github.com/kstaniek/sysmex-astm-bridge/internal/upstream"
)

// runServe wires the mapping table, archiver, upstream client and
// coordinator to a connection supervisor and runs until a shutdown signal
// arrives, mirroring cmd/can-server/main.go's wiring shape.
func runServe(cfg *config.Config) error {
	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	var tbl *mapping.Table
	if cfg.MappingPath != "" {
		var err error
		tbl, err = mapping.Load(cfg.MappingPath)
		if err != nil {
			return fmt.Errorf("mapping: %w", err)
		}
		l.Info("mapping_loaded", "path", cfg.MappingPath)
	}

	var arch *archive.Archiver
	if cfg.ArchiveMsg != "" {
		arch = archive.New(cfg.ArchiveMsg)
	}

	co := coordinator.New()
	co.AnalyzerID = cfg.IDAnalyzer
	co.Archiver = arch
	co.Upstream = upstream.New()
	co.Mapping = tbl
	co.Endpoints = hl7translate.DefaultEndpoints()
	co.URLLAB27 = cfg.URLUpstreamLAB27
	co.URLLAB29 = cfg.URLUpstreamLAB29
	co.Logger = l
	co.Timeouts = link.Timeouts{Handshake: cfg.HandshakeTimeout, FrameAck: cfg.ClientReadTimeout}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.LogMetricsInterval, l, &wg)

	mode := supervisor.ModeServer
	addr := fmt.Sprintf(":%d", cfg.PortAnalyzer)
	if cfg.Mode == "client" {
		mode = supervisor.ModeClient
		addr = net.JoinHostPort(cfg.IPAnalyzer, strconv.Itoa(int(cfg.PortAnalyzer)))
	}
	sup := supervisor.New(mode, addr, co.HandleConnection)
	sup.Logger = l

	supErr := make(chan error, 1)
	go func() { supErr <- sup.Start(ctx) }()

	go func() {
		if !cfg.MDNSEnable {
			return
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, int(cfg.PortAnalyzer))
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.MDNSName)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		return ctx.Err() == nil && sup.IsListening()
	})
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}
	if cfg.LAB28Addr != "" {
		lab28Srv := co.StartHTTP(cfg.LAB28Addr)
		defer func() { _ = lab28Srv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case err := <-supErr:
		if err != nil {
			l.Error("supervisor_error", "error", err)
		}
	}
	cancel()
	sup.Stop()
	wg.Wait()
	return nil
}
