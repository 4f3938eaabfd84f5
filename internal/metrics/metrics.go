// Package metrics exposes Prometheus counters/gauges for the lottery
// server, plus cheap local atomic mirrors for in-process snapshotting
// (status logging, tests) without round-tripping through the registry.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tp0-distribuidos/lottery-server/internal/logging"
)

var (
	SessionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_accepted_total",
		Help: "Total TCP connections accepted.",
	})
	SessionsHandshakeFail = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_handshake_fail_total",
		Help: "Total sessions that failed the agency-id handshake.",
	})
	BetsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bets_stored_total",
		Help: "Total bets appended to the store.",
	})
	BatchesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_accepted_total",
		Help: "Total BET batches successfully stored.",
	})
	BatchesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batches_rejected_total",
		Help: "Total BET batches rejected (parse/protocol errors).",
	})
	BytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bytes_read_total",
		Help: "Total BET batch payload bytes read off the wire.",
	})
	AgenciesNotified = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agencies_notified",
		Help: "Current number of agencies that have signaled END.",
	})
	WinnersServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winners_served_total",
		Help: "Total WINNER frames streamed back to agencies.",
	})
	WinnersRequestsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winners_requests_rejected_total",
		Help: "Total WINNERS requests closed without service because the barrier was unmet.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem/kind.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrIO       = "io"
	ErrEOF      = "unexpected_eof"
	ErrProtocol = "protocol"
	ErrParse    = "parse"
	ErrScan     = "scan"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe
// at /ready on addr.
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
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap, registry-free snapshotting.
var (
	localSessionsAccepted uint64
	localHandshakeFail    uint64
	localBetsStored       uint64
	localBatchesAccepted  uint64
	localBatchesRejected  uint64
	localBytesRead        uint64
	localWinnersServed    uint64
	localWinnersRejected  uint64
	localErrors           uint64
	localAgenciesNotified uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	SessionsAccepted      uint64
	SessionsHandshakeFail uint64
	BetsStored            uint64
	BatchesAccepted       uint64
	BatchesRejected       uint64
	BytesRead             uint64
	WinnersServed         uint64
	WinnersRejected       uint64
	Errors                uint64
	AgenciesNotified      uint64
}

func Snap() Snapshot {
	return Snapshot{
		SessionsAccepted:      atomic.LoadUint64(&localSessionsAccepted),
		SessionsHandshakeFail: atomic.LoadUint64(&localHandshakeFail),
		BetsStored:            atomic.LoadUint64(&localBetsStored),
		BatchesAccepted:       atomic.LoadUint64(&localBatchesAccepted),
		BatchesRejected:       atomic.LoadUint64(&localBatchesRejected),
		BytesRead:             atomic.LoadUint64(&localBytesRead),
		WinnersServed:         atomic.LoadUint64(&localWinnersServed),
		WinnersRejected:       atomic.LoadUint64(&localWinnersRejected),
		Errors:                atomic.LoadUint64(&localErrors),
		AgenciesNotified:      atomic.LoadUint64(&localAgenciesNotified),
	}
}

func IncSessionsAccepted() {
	SessionsAccepted.Inc()
	atomic.AddUint64(&localSessionsAccepted, 1)
}

func IncHandshakeFail() {
	SessionsHandshakeFail.Inc()
	atomic.AddUint64(&localHandshakeFail, 1)
}

func AddBetsStored(n int) {
	BetsStored.Add(float64(n))
	atomic.AddUint64(&localBetsStored, uint64(n))
}

func IncBatchesAccepted() {
	BatchesAccepted.Inc()
	atomic.AddUint64(&localBatchesAccepted, 1)
}

func IncBatchesRejected() {
	BatchesRejected.Inc()
	atomic.AddUint64(&localBatchesRejected, 1)
}

func AddBytesRead(n int) {
	BytesRead.Add(float64(n))
	atomic.AddUint64(&localBytesRead, uint64(n))
}

func SetAgenciesNotified(n int) {
	AgenciesNotified.Set(float64(n))
	atomic.StoreUint64(&localAgenciesNotified, uint64(n))
}

func IncWinnersServed() {
	WinnersServed.Inc()
	atomic.AddUint64(&localWinnersServed, 1)
}

func IncWinnersRequestsRejected() {
	WinnersRequestsRejected.Inc()
	atomic.AddUint64(&localWinnersRejected, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetReadinessFunc registers the function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function, defaulting to true
// when none is registered yet so the metrics endpoint doesn't flap.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
