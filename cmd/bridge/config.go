package main

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/kstaniek/sysmex-astm-bridge/internal/config"
)

// flagValues holds the cobra/pflag-bound values for every config.Config
// field, generalizing the teacher's parseFlags (cmd/can-server/config.go)
// from the stdlib flag package to pflag's richer types (Duration, Uint16).
type flagValues struct {
	configPath string

	idAnalyzer    string
	versionField  string
	urlLAB27      string
	urlLAB29      string
	typeCnx       string
	typeMsg       string
	archiveMsg    string
	operationMode string
	mode          string
	ipAnalyzer    string
	portAnalyzer  uint16
	mappingPath   string

	logFormat          string
	logLevel           string
	metricsAddr        string
	handshakeTimeout   time.Duration
	clientReadTimeout  time.Duration
	mdnsEnable         bool
	mdnsName           string
	logMetricsInterval time.Duration
	lab28Addr          string
}

func bindConfigFlags(fs *pflag.FlagSet) *flagValues {
	d := config.Defaults()
	fv := &flagValues{}
	fs.StringVar(&fv.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&fv.idAnalyzer, "id-analyzer", d.IDAnalyzer, "Analyzer identifier (archive and log label)")
	fs.StringVar(&fv.versionField, "version-field", d.Version, "ASTM/HL7 interface version field")
	fs.StringVar(&fv.urlLAB27, "url-upstream-lab27", d.URLUpstreamLAB27, "LIS endpoint for LAB-27 worklist queries")
	fs.StringVar(&fv.urlLAB29, "url-upstream-lab29", d.URLUpstreamLAB29, "LIS endpoint for LAB-29 result uploads")
	fs.StringVar(&fv.typeCnx, "type-cnx", d.TypeCnx, "Connection type: socket|socket_E1381")
	fs.StringVar(&fv.typeMsg, "type-msg", d.TypeMsg, "Message type: astm")
	fs.StringVar(&fv.archiveMsg, "archive-msg", d.ArchiveMsg, "Directory to archive raw messages under (empty disables archiving)")
	fs.StringVar(&fv.operationMode, "operation-mode", d.OperationMode, "Operation mode: batch")
	fs.StringVar(&fv.mode, "mode", d.Mode, "TCP role: client|server")
	fs.StringVar(&fv.ipAnalyzer, "ip-analyzer", d.IPAnalyzer, "Analyzer IP address (client mode)")
	fs.Uint16Var(&fv.portAnalyzer, "port-analyzer", d.PortAnalyzer, "Analyzer TCP port")
	fs.StringVar(&fv.mappingPath, "mapping-path", d.MappingPath, "Path to the vendor-to-LIS code mapping TOML file")
	fs.StringVar(&fv.logFormat, "log-format", d.LogFormat, "Log format: text|json")
	fs.StringVar(&fv.logLevel, "log-level", d.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&fv.metricsAddr, "metrics-addr", d.MetricsAddr, "Metrics HTTP listen address (e.g. :9100); empty disables")
	fs.DurationVar(&fv.handshakeTimeout, "handshake-timeout", d.HandshakeTimeout, "ENQ/ACK establishment idle timeout (link layer)")
	fs.DurationVar(&fv.clientReadTimeout, "client-read-timeout", d.ClientReadTimeout, "Per-frame ACK read deadline during an established transfer (link layer)")
	fs.BoolVar(&fv.mdnsEnable, "mdns-enable", d.MDNSEnable, "Enable mDNS/Avahi advertisement")
	fs.StringVar(&fv.mdnsName, "mdns-name", d.MDNSName, "mDNS instance name (default sysmex-bridge-<hostname>)")
	fs.DurationVar(&fv.logMetricsInterval, "log-metrics-interval", d.LogMetricsInterval, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.StringVar(&fv.lab28Addr, "lab28-addr", d.LAB28Addr, "HTTP listen address for the LIS order-intake endpoint (POST /lab28); empty disables it")
	return fv
}

// resolveConfig layers default < file < env < flag, per spec.md §6's
// precedence rule, and validates the result.
func resolveConfig(fs *pflag.FlagSet, fv *flagValues) (*config.Config, error) {
	cfg := config.Defaults()
	setFlags := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) { setFlags[f.Name] = true })

	if err := config.LoadFile(fv.configPath, &cfg, setFlags); err != nil {
		return nil, err
	}
	if err := config.ApplyEnvOverrides(&cfg, setFlags); err != nil {
		return nil, err
	}

	apply := func(name string, fn func()) {
		if setFlags[name] {
			fn()
		}
	}
	apply("id-analyzer", func() { cfg.IDAnalyzer = fv.idAnalyzer })
	apply("version-field", func() { cfg.Version = fv.versionField })
	apply("url-upstream-lab27", func() { cfg.URLUpstreamLAB27 = fv.urlLAB27 })
	apply("url-upstream-lab29", func() { cfg.URLUpstreamLAB29 = fv.urlLAB29 })
	apply("type-cnx", func() { cfg.TypeCnx = fv.typeCnx })
	apply("type-msg", func() { cfg.TypeMsg = fv.typeMsg })
	apply("archive-msg", func() { cfg.ArchiveMsg = fv.archiveMsg })
	apply("operation-mode", func() { cfg.OperationMode = fv.operationMode })
	apply("mode", func() { cfg.Mode = fv.mode })
	apply("ip-analyzer", func() { cfg.IPAnalyzer = fv.ipAnalyzer })
	apply("port-analyzer", func() { cfg.PortAnalyzer = fv.portAnalyzer })
	apply("mapping-path", func() { cfg.MappingPath = fv.mappingPath })
	apply("log-format", func() { cfg.LogFormat = fv.logFormat })
	apply("log-level", func() { cfg.LogLevel = fv.logLevel })
	apply("metrics-addr", func() { cfg.MetricsAddr = fv.metricsAddr })
	apply("handshake-timeout", func() { cfg.HandshakeTimeout = fv.handshakeTimeout })
	apply("client-read-timeout", func() { cfg.ClientReadTimeout = fv.clientReadTimeout })
	apply("mdns-enable", func() { cfg.MDNSEnable = fv.mdnsEnable })
	apply("mdns-name", func() { cfg.MDNSName = fv.mdnsName })
	apply("log-metrics-interval", func() { cfg.LogMetricsInterval = fv.logMetricsInterval })
	apply("lab28-addr", func() { cfg.LAB28Addr = fv.lab28Addr })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
