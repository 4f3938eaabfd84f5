package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type appConfig struct {
	listenAddr       string
	listenBacklog    int
	requiredAgencies int
	storePath        string
	statusPath       string
	statusInterval   time.Duration
	handshakeTO      time.Duration
	readTimeout      time.Duration
	maxBatchBytes    int
	logFormat        string
	logLevel         string
	metricsAddr      string
	mdnsEnable       bool
	mdnsName         string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	port := pflag.Int("port", 12345, "TCP listen port")
	backlog := pflag.Int("listen-backlog", 5, "TCP listen backlog")
	requiredAgencies := pflag.Int("required-agencies", 5, "Number of agencies that must signal END before winners are served")
	storePath := pflag.String("store-path", "bets.csv", "Path to the append-only bet store")
	statusPath := pflag.String("status-path", "", "If set, periodically write a JSON status snapshot to this path")
	statusInterval := pflag.Duration("status-interval", 0, "Status snapshot write interval; 0 disables periodic snapshots")
	handshakeTO := pflag.Duration("handshake-timeout", 3*time.Second, "Client handshake timeout")
	readTimeout := pflag.Duration("read-timeout", 60*time.Second, "Per-connection read deadline")
	maxBatchBytes := pflag.Int("max-batch-bytes", 8192, "Maximum declared BET batch payload size in bytes")
	logFormat := pflag.String("log-format", "text", "Log format: text|json")
	logLevel := pflag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := pflag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	mdnsEnable := pflag.Bool("mdns-enable", false, "Enable mDNS advertisement of this server")
	mdnsName := pflag.String("mdns-name", "", "mDNS instance name (default lottery-server-<hostname>)")
	showVersion := pflag.Bool("version", false, "Print version and exit")
	pflag.Parse()

	setFlags := map[string]struct{}{}
	pflag.Visit(func(f *pflag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = fmt.Sprintf(":%d", *port)
	cfg.listenBacklog = *backlog
	cfg.requiredAgencies = *requiredAgencies
	cfg.storePath = *storePath
	cfg.statusPath = *statusPath
	cfg.statusInterval = *statusInterval
	cfg.handshakeTO = *handshakeTO
	cfg.readTimeout = *readTimeout
	cfg.maxBatchBytes = *maxBatchBytes
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation of the parsed configuration. It
// does not open the store file or listener, only checks value ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.requiredAgencies <= 0 {
		return fmt.Errorf("required-agencies must be > 0 (got %d)", c.requiredAgencies)
	}
	if c.listenBacklog <= 0 {
		return fmt.Errorf("listen-backlog must be > 0 (got %d)", c.listenBacklog)
	}
	if c.storePath == "" {
		return errors.New("store-path must not be empty")
	}
	if c.handshakeTO <= 0 {
		return errors.New("handshake-timeout must be > 0")
	}
	if c.readTimeout <= 0 {
		return errors.New("read-timeout must be > 0")
	}
	if c.maxBatchBytes <= 0 {
		return fmt.Errorf("max-batch-bytes must be > 0 (got %d)", c.maxBatchBytes)
	}
	if c.statusInterval < 0 {
		return errors.New("status-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps LOTTERY_SERVER_* environment variables to
// config fields unless the corresponding flag was explicitly set (flag
// wins over env).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["port"]; !ok {
		if v, ok := get("LOTTERY_SERVER_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.listenAddr = fmt.Sprintf(":%d", n)
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_PORT: %w", err)
			}
		}
	}
	if _, ok := set["listen-backlog"]; !ok {
		if v, ok := get("LOTTERY_SERVER_BACKLOG"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.listenBacklog = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_BACKLOG: %w", err)
			}
		}
	}
	if _, ok := set["required-agencies"]; !ok {
		if v, ok := get("LOTTERY_SERVER_AGENCIES"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.requiredAgencies = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_AGENCIES: %w", err)
			}
		}
	}
	if _, ok := set["store-path"]; !ok {
		if v, ok := get("LOTTERY_SERVER_STORE_PATH"); ok && v != "" {
			c.storePath = v
		}
	}
	if _, ok := set["status-path"]; !ok {
		if v, ok := get("LOTTERY_SERVER_STATUS_PATH"); ok {
			c.statusPath = v
		}
	}
	if _, ok := set["status-interval"]; !ok {
		if v, ok := get("LOTTERY_SERVER_STATUS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.statusInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_STATUS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["handshake-timeout"]; !ok {
		if v, ok := get("LOTTERY_SERVER_HANDSHAKE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.handshakeTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_HANDSHAKE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["read-timeout"]; !ok {
		if v, ok := get("LOTTERY_SERVER_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.readTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["max-batch-bytes"]; !ok {
		if v, ok := get("LOTTERY_SERVER_MAX_BATCH_BYTES"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxBatchBytes = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_MAX_BATCH_BYTES: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("LOTTERY_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("LOTTERY_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("LOTTERY_SERVER_METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("LOTTERY_SERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("LOTTERY_SERVER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
