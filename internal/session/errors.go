package session

import (
	"errors"

	"github.com/tp0-distribuidos/lottery-server/internal/bet"
	"github.com/tp0-distribuidos/lottery-server/internal/metrics"
	"github.com/tp0-distribuidos/lottery-server/internal/wire"
)

// Sentinel errors used for wrapping so callers can classify via
// errors.Is, mirroring the teacher's session-error taxonomy.
var (
	ErrIO        = errors.New("io error")
	ErrHandshake = errors.New("handshake error")
)

// mapErrToMetric maps a session-terminating error to a bounded
// Prometheus label, following the teacher's mapErrToMetric shape.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, wire.ErrUnexpectedEOF):
		return metrics.ErrEOF
	case errors.Is(err, wire.ErrTruncatedRecord):
		// A batch record that overruns its own declared length is a
		// malformed-content failure, not a framing violation, even
		// though it wraps ErrProtocol under the hood.
		return metrics.ErrParse
	case errors.Is(err, wire.ErrProtocol):
		return metrics.ErrProtocol
	case errors.Is(err, bet.ErrParse):
		return metrics.ErrParse
	case errors.Is(err, bet.ErrScan):
		return metrics.ErrScan
	default:
		return metrics.ErrIO
	}
}
