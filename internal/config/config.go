// Package config defines the bridge's flat application configuration and
// its flag/env/file precedence rule, generalizing the teacher's
// cmd/can-server/config.go parseFlags/applyEnvOverrides pattern to this
// domain's keys (spec.md §6) plus the ambient fields SPEC_FULL.md adds.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the bridge's flat application configuration (SPEC_FULL.md §3
// AppConfig). Field names mirror spec.md §6's flat key-value list.
type Config struct {
	IDAnalyzer       string `mapstructure:"id_analyzer"`
	Version          string `mapstructure:"version"`
	URLUpstreamLAB27 string `mapstructure:"url_upstream_lab27"`
	URLUpstreamLAB29 string `mapstructure:"url_upstream_lab29"`
	TypeCnx          string `mapstructure:"type_cnx"`
	TypeMsg          string `mapstructure:"type_msg"`
	ArchiveMsg       string `mapstructure:"archive_msg"`
	OperationMode    string `mapstructure:"operation_mode"`
	Mode             string `mapstructure:"mode"`
	IPAnalyzer       string `mapstructure:"ip_analyzer"`
	PortAnalyzer     uint16 `mapstructure:"port_analyzer"`
	MappingPath      string `mapstructure:"mapping_path"`

	// Ambient fields, not part of spec.md's core flat keys but required for
	// a runnable service (SPEC_FULL.md §3).
	LogFormat          string        `mapstructure:"log_format"`
	LogLevel           string        `mapstructure:"log_level"`
	MetricsAddr        string        `mapstructure:"metrics_addr"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout"`
	ClientReadTimeout  time.Duration `mapstructure:"client_read_timeout"`
	MDNSEnable         bool          `mapstructure:"mdns_enable"`
	MDNSName           string        `mapstructure:"mdns_name"`
	LogMetricsInterval time.Duration `mapstructure:"log_metrics_interval"`

	// LAB28Addr is the HTTP listen address for the LIS-facing order-intake
	// endpoint (POST /lab28) that drives spec.md's "lab28" operation
	// end-to-end; empty disables it.
	LAB28Addr string `mapstructure:"lab28_addr"`
}

// Defaults returns the configuration baseline, applied before any file,
// env, or flag override.
func Defaults() Config {
	return Config{
		Version:           "1",
		TypeCnx:           "socket",
		TypeMsg:           "astm",
		OperationMode:     "batch",
		Mode:              "server",
		PortAnalyzer:      20000,
		LogFormat:         "text",
		LogLevel:          "info",
		HandshakeTimeout:  3 * time.Second,
		ClientReadTimeout: 60 * time.Second,
		LAB28Addr:         ":20028",
	}
}

// Validate performs basic semantic validation of the parsed configuration.
// It does not open sockets or files — only checks values/ranges, mirroring
// the teacher's appConfig.validate().
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.TypeCnx {
	case "socket", "socket_E1381":
	default:
		return fmt.Errorf("invalid type_cnx: %s", c.TypeCnx)
	}
	switch c.Mode {
	case "client", "server":
	default:
		return fmt.Errorf("invalid mode: %s", c.Mode)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	if c.Mode == "client" && c.IPAnalyzer == "" {
		return errors.New("ip_analyzer is required in client mode")
	}
	if c.PortAnalyzer == 0 {
		return errors.New("port_analyzer must be > 0")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be > 0")
	}
	if c.ClientReadTimeout <= 0 {
		return errors.New("client_read_timeout must be > 0")
	}
	return nil
}

// LoadFile overlays YAML config at path onto cfg via viper, for every field
// not present in setFlags (a flag explicitly given always wins over the
// file). A missing path is not an error: the file layer is optional.
func LoadFile(path string, cfg *Config, setFlags map[string]bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fileCfg Config
	if err := v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	overlay(cfg, &fileCfg, setFlags)
	return nil
}

// overlay copies every non-zero field of src into dst, except fields named
// in skip (flags explicitly set by the operator).
func overlay(dst, src *Config, skip map[string]bool) {
	apply := func(flagName string, fn func()) {
		if skip[flagName] {
			return
		}
		fn()
	}
	apply("id-analyzer", func() {
		if src.IDAnalyzer != "" {
			dst.IDAnalyzer = src.IDAnalyzer
		}
	})
	apply("version", func() {
		if src.Version != "" {
			dst.Version = src.Version
		}
	})
	apply("url-upstream-lab27", func() {
		if src.URLUpstreamLAB27 != "" {
			dst.URLUpstreamLAB27 = src.URLUpstreamLAB27
		}
	})
	apply("url-upstream-lab29", func() {
		if src.URLUpstreamLAB29 != "" {
			dst.URLUpstreamLAB29 = src.URLUpstreamLAB29
		}
	})
	apply("type-cnx", func() {
		if src.TypeCnx != "" {
			dst.TypeCnx = src.TypeCnx
		}
	})
	apply("type-msg", func() {
		if src.TypeMsg != "" {
			dst.TypeMsg = src.TypeMsg
		}
	})
	apply("archive-msg", func() {
		if src.ArchiveMsg != "" {
			dst.ArchiveMsg = src.ArchiveMsg
		}
	})
	apply("operation-mode", func() {
		if src.OperationMode != "" {
			dst.OperationMode = src.OperationMode
		}
	})
	apply("mode", func() {
		if src.Mode != "" {
			dst.Mode = src.Mode
		}
	})
	apply("ip-analyzer", func() {
		if src.IPAnalyzer != "" {
			dst.IPAnalyzer = src.IPAnalyzer
		}
	})
	apply("port-analyzer", func() {
		if src.PortAnalyzer != 0 {
			dst.PortAnalyzer = src.PortAnalyzer
		}
	})
	apply("mapping-path", func() {
		if src.MappingPath != "" {
			dst.MappingPath = src.MappingPath
		}
	})
	apply("log-format", func() {
		if src.LogFormat != "" {
			dst.LogFormat = src.LogFormat
		}
	})
	apply("log-level", func() {
		if src.LogLevel != "" {
			dst.LogLevel = src.LogLevel
		}
	})
	apply("metrics-addr", func() {
		if src.MetricsAddr != "" {
			dst.MetricsAddr = src.MetricsAddr
		}
	})
	apply("handshake-timeout", func() {
		if src.HandshakeTimeout != 0 {
			dst.HandshakeTimeout = src.HandshakeTimeout
		}
	})
	apply("client-read-timeout", func() {
		if src.ClientReadTimeout != 0 {
			dst.ClientReadTimeout = src.ClientReadTimeout
		}
	})
	apply("mdns-enable", func() {
		if src.MDNSEnable {
			dst.MDNSEnable = src.MDNSEnable
		}
	})
	apply("mdns-name", func() {
		if src.MDNSName != "" {
			dst.MDNSName = src.MDNSName
		}
	})
	apply("log-metrics-interval", func() {
		if src.LogMetricsInterval != 0 {
			dst.LogMetricsInterval = src.LogMetricsInterval
		}
	})
	apply("lab28-addr", func() {
		if src.LAB28Addr != "" {
			dst.LAB28Addr = src.LAB28Addr
		}
	})
}

// envPrefix is the environment variable prefix for every override, mirroring
// the teacher's CAN_SERVER_* convention renamed to this domain.
const envPrefix = "SYSMEX_BRIDGE_"

// ApplyEnvOverrides maps SYSMEX_BRIDGE_* environment variables onto cfg,
// unless the corresponding flag was explicitly set (flag wins), exactly as
// the teacher's applyEnvOverrides does for CAN_SERVER_*.
func ApplyEnvOverrides(cfg *Config, setFlags map[string]bool) error {
	var firstErr error
	get := func(suffix string) (string, bool) {
		v, ok := os.LookupEnv(envPrefix + suffix)
		return strings.TrimSpace(v), ok
	}
	str := func(flagName, envSuffix string, dst *string) {
		if setFlags[flagName] {
			return
		}
		if v, ok := get(envSuffix); ok && v != "" {
			*dst = v
		}
	}
	str("id-analyzer", "ID_ANALYZER", &cfg.IDAnalyzer)
	str("version", "VERSION", &cfg.Version)
	str("url-upstream-lab27", "URL_UPSTREAM_LAB27", &cfg.URLUpstreamLAB27)
	str("url-upstream-lab29", "URL_UPSTREAM_LAB29", &cfg.URLUpstreamLAB29)
	str("type-cnx", "TYPE_CNX", &cfg.TypeCnx)
	str("type-msg", "TYPE_MSG", &cfg.TypeMsg)
	str("archive-msg", "ARCHIVE_MSG", &cfg.ArchiveMsg)
	str("operation-mode", "OPERATION_MODE", &cfg.OperationMode)
	str("mode", "MODE", &cfg.Mode)
	str("ip-analyzer", "IP_ANALYZER", &cfg.IPAnalyzer)
	str("mapping-path", "MAPPING_PATH", &cfg.MappingPath)
	str("log-format", "LOG_FORMAT", &cfg.LogFormat)
	str("log-level", "LOG_LEVEL", &cfg.LogLevel)
	str("metrics-addr", "METRICS_ADDR", &cfg.MetricsAddr)
	str("mdns-name", "MDNS_NAME", &cfg.MDNSName)
	str("lab28-addr", "LAB28_ADDR", &cfg.LAB28Addr)

	if !setFlags["port-analyzer"] {
		if v, ok := get("PORT_ANALYZER"); ok && v != "" {
			if n, err := strconv.ParseUint(v, 10, 16); err == nil && n > 0 {
				cfg.PortAnalyzer = uint16(n)
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %sPORT_ANALYZER: %w", envPrefix, err)
			}
		}
	}
	if !setFlags["handshake-timeout"] {
		if v, ok := get("HANDSHAKE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.HandshakeTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %sHANDSHAKE_TIMEOUT: %w", envPrefix, err)
			}
		}
	}
	if !setFlags["client-read-timeout"] {
		if v, ok := get("CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.ClientReadTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %sCLIENT_READ_TIMEOUT: %w", envPrefix, err)
			}
		}
	}
	if !setFlags["mdns-enable"] {
		if v, ok := get("MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				cfg.MDNSEnable = true
			case "0", "false", "no", "off":
				cfg.MDNSEnable = false
			}
		}
	}
	if !setFlags["log-metrics-interval"] {
		if v, ok := get("LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				cfg.LogMetricsInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %sLOG_METRICS_INTERVAL: %w", envPrefix, err)
			}
		}
	}
	return firstErr
}
