package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/sysmex-astm-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	ASTMFramesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astm_frames_rx_total",
		Help: "Total assembled ASTM messages received from analyzer connections (one increment per message, not per frame).",
	})
	ASTMFramesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astm_frames_tx_total",
		Help: "Total ASTM link-layer frames sent to analyzer connections.",
	})
	ASTMChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astm_checksum_errors_total",
		Help: "Total ASTM frames rejected for a checksum mismatch.",
	})
	ASTMRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astm_frame_retries_total",
		Help: "Total ASTM frame retransmission attempts.",
	})
	HL7MessagesUpstream = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hl7_messages_upstream_total",
		Help: "Total HL7 messages sent to the LIS upstream.",
	})
	HL7MessagesDownstream = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hl7_messages_downstream_total",
		Help: "Total HL7 messages received from the LIS upstream.",
	})
	LAB27Requests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lab27_requests_total",
		Help: "Total worklist query (LAB-27) transactions processed.",
	})
	LAB28Requests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lab28_requests_total",
		Help: "Total order download (LAB-28) transactions processed.",
	})
	LAB29Requests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lab29_requests_total",
		Help: "Total result upload (LAB-29) transactions processed.",
	})
	BackgroundChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "background_check_total",
		Help: "Total background-check query/result short-circuits handled without an upstream round trip.",
	})
	MappingMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapping_misses_total",
		Help: "Total result codes with no matching row in the vendor-to-LIS mapping table.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconnects_total",
		Help: "Total failed analyzer dial attempts in client mode, each followed by a backoff and a reconnect.",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_connections",
		Help: "Current number of active analyzer TCP connections.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrAnalyzerRead  = "analyzer_read"
	ErrAnalyzerWrite = "analyzer_write"
	ErrEstablishment = "establishment"
	ErrUpstreamSend  = "upstream_send"
	ErrUpstreamRead  = "upstream_read"
	ErrArchive       = "archive"
	ErrMapping       = "mapping"
	ErrDispatch      = "dispatch"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging without scraping
// Prometheus in-process.
var (
	localASTMRx        uint64
	localASTMTx        uint64
	localChecksumErr   uint64
	localRetries       uint64
	localHL7Up         uint64
	localHL7Down       uint64
	localLAB27         uint64
	localLAB28         uint64
	localLAB29         uint64
	localBackgroundChk uint64
	localMappingMiss   uint64
	localReconnects    uint64
	localErrors        uint64
	localActiveConns   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	ASTMRx          uint64
	ASTMTx          uint64
	ChecksumErrors  uint64
	Retries         uint64
	HL7Upstream     uint64
	HL7Downstream   uint64
	LAB27           uint64
	LAB28           uint64
	LAB29           uint64
	BackgroundCheck uint64
	MappingMisses   uint64
	Reconnects      uint64
	Errors          uint64
	ActiveConns     uint64
}

func Snap() Snapshot {
	return Snapshot{
		ASTMRx:          atomic.LoadUint64(&localASTMRx),
		ASTMTx:          atomic.LoadUint64(&localASTMTx),
		ChecksumErrors:  atomic.LoadUint64(&localChecksumErr),
		Retries:         atomic.LoadUint64(&localRetries),
		HL7Upstream:     atomic.LoadUint64(&localHL7Up),
		HL7Downstream:   atomic.LoadUint64(&localHL7Down),
		LAB27:           atomic.LoadUint64(&localLAB27),
		LAB28:           atomic.LoadUint64(&localLAB28),
		LAB29:           atomic.LoadUint64(&localLAB29),
		BackgroundCheck: atomic.LoadUint64(&localBackgroundChk),
		MappingMisses:   atomic.LoadUint64(&localMappingMiss),
		Reconnects:      atomic.LoadUint64(&localReconnects),
		Errors:          atomic.LoadUint64(&localErrors),
		ActiveConns:     atomic.LoadUint64(&localActiveConns),
	}
}

// Wrapper helpers to keep call sites simple.
func IncASTMRx() {
	ASTMFramesRx.Inc()
	atomic.AddUint64(&localASTMRx, 1)
}

func IncASTMTx() {
	ASTMFramesTx.Inc()
	atomic.AddUint64(&localASTMTx, 1)
}

func IncChecksumError() {
	ASTMChecksumErrors.Inc()
	atomic.AddUint64(&localChecksumErr, 1)
}

func IncRetry() {
	ASTMRetries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func IncHL7Upstream() {
	HL7MessagesUpstream.Inc()
	atomic.AddUint64(&localHL7Up, 1)
}

func IncHL7Downstream() {
	HL7MessagesDownstream.Inc()
	atomic.AddUint64(&localHL7Down, 1)
}

func IncLAB27() {
	LAB27Requests.Inc()
	atomic.AddUint64(&localLAB27, 1)
}

func IncLAB28() {
	LAB28Requests.Inc()
	atomic.AddUint64(&localLAB28, 1)
}

func IncLAB29() {
	LAB29Requests.Inc()
	atomic.AddUint64(&localLAB29, 1)
}

func IncBackgroundCheck() {
	BackgroundChecks.Inc()
	atomic.AddUint64(&localBackgroundChk, 1)
}

func IncMappingMiss() {
	MappingMisses.Inc()
	atomic.AddUint64(&localMappingMiss, 1)
}

func IncReconnect() {
	Reconnects.Inc()
	atomic.AddUint64(&localReconnects, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func SetActiveConnections(n int) {
	ActiveConnections.Set(float64(n))
	atomic.StoreUint64(&localActiveConns, uint64(n))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so the first error does not pay
	// a registration latency hit.
	for _, lbl := range []string{
		ErrAnalyzerRead, ErrAnalyzerWrite, ErrEstablishment,
		ErrUpstreamSend, ErrUpstreamRead, ErrArchive, ErrMapping, ErrDispatch,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not set yet: treat as ready so the probe doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
