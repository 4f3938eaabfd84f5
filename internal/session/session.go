// Package session implements the per-connection lottery protocol state
// machine: handshake, BET-batch loop, END signal, and WINNERS service,
// converging every error path at one close-and-log point (spec.md §4.4,
// §7). Grounded on the teacher's reader/writer goroutine structure in
// internal/server (deadline-per-read-loop, errors.Is classification)
// and on original_source/server.py's __handle_client_connection
// try/except/finally shape.
package session

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/tp0-distribuidos/lottery-server/internal/bet"
	"github.com/tp0-distribuidos/lottery-server/internal/coordinator"
	"github.com/tp0-distribuidos/lottery-server/internal/draw"
	"github.com/tp0-distribuidos/lottery-server/internal/metrics"
	"github.com/tp0-distribuidos/lottery-server/internal/store"
	"github.com/tp0-distribuidos/lottery-server/internal/wire"
)

// Deps bundles the shared, process-wide references every session
// consults or mutates: the serialized bet store and the
// NotificationSet barrier. Passed in explicitly rather than reached
// for as globals, per the spec's design note on process-wide state.
type Deps struct {
	Store         *store.Store
	Coordinator   *coordinator.Coordinator
	ReadTimeout   time.Duration
	HandshakeTO   time.Duration
	MaxBatchBytes int
}

// Handle runs one connection's full session lifecycle to completion. It
// never returns an error to its caller: every failure is logged and the
// socket is closed here, so a session can never take down the
// supervisor (spec.md §7 propagation rule).
func Handle(conn net.Conn, deps Deps, logger *slog.Logger) {
	defer conn.Close()

	c := wire.NewConn(conn)

	if deps.HandshakeTO > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(deps.HandshakeTO))
	}
	agencyID, err := readHandshake(c)
	if err != nil {
		metrics.IncHandshakeFail()
		metrics.IncError(mapErrToMetric(err))
		logger.Warn("handshake_failed", "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	logger = logger.With("agency", agencyID)
	logger.Info("session_started")

	for {
		if deps.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(deps.ReadTimeout))
		}
		tag, err := c.ReadTag()
		if err != nil {
			metrics.IncError(mapErrToMetric(err))
			logger.Info("session_closed", "reason", "read_tag", "error", err)
			return
		}

		switch tag {
		case wire.TagBet:
			if err := handleBet(c, agencyID, deps, logger); err != nil {
				metrics.IncBatchesRejected()
				metrics.IncError(mapErrToMetric(err))
				logger.Error("batch_failed", "error", err)
				return
			}
			metrics.IncBatchesAccepted()

		case wire.TagEnd:
			deps.Coordinator.Mark(agencyID)
			metrics.SetAgenciesNotified(deps.Coordinator.Count())
			logger.Info("agency_notified", "notified_count", deps.Coordinator.Count())
			return

		case wire.TagWinners:
			handleWinners(c, agencyID, deps, logger)
			return

		default:
			err := fmt.Errorf("%w: unknown tag %d", wire.ErrProtocol, tag)
			metrics.IncError(mapErrToMetric(err))
			logger.Error("session_closed", "reason", "bad_tag", "error", err)
			return
		}
	}
}

func readHandshake(c *wire.Conn) (int, error) {
	line, err := c.ReadHandshake()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	id, err := strconv.Atoi(line)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: malformed agency id %q (%w)", ErrHandshake, line, wire.ErrProtocol)
	}
	return id, nil
}

// handleBet reads one BET frame, parses its batch, appends it
// atomically to the store, and acknowledges with the unprefixed OK
// confirmation. No bets from a failed batch are stored.
func handleBet(c *wire.Conn, agencyID int, deps Deps, logger *slog.Logger) error {
	payload, err := c.ReadBatch(deps.MaxBatchBytes)
	if err != nil {
		return err
	}
	metrics.AddBytesRead(len(payload))
	records, err := wire.DecodeBatchRecords(payload)
	if err != nil {
		return err
	}
	bets := make([]bet.Bet, 0, len(records))
	for _, record := range records {
		b, err := bet.ParsePayload(agencyID, record)
		if err != nil {
			return err
		}
		bets = append(bets, b)
	}
	if err := deps.Store.Append(bets); err != nil {
		return fmt.Errorf("%w: store append: %w", ErrIO, err)
	}
	metrics.AddBetsStored(len(bets))
	logger.Info("batch_stored", "bets", len(bets))
	if err := c.WriteConfirmation(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// handleWinners services (or silently declines) a WINNERS request. If
// the barrier is unmet the session closes without responding; the
// client is expected to retry. Every error path here still converges
// on a plain return — the caller always closes the socket.
func handleWinners(c *wire.Conn, agencyID int, deps Deps, logger *slog.Logger) {
	if !deps.Coordinator.AllReceived() {
		metrics.IncWinnersRequestsRejected()
		logger.Info("winners_declined", "reason", "barrier_unmet")
		return
	}

	sent := 0
	err := deps.Store.Scan(func(b bet.Bet) error {
		if b.Agency != agencyID || !draw.HasWon(b) {
			return nil
		}
		if err := c.WriteWinner(b.Serialize()); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
		sent++
		metrics.IncWinnersServed()
		return nil
	})
	if err != nil {
		metrics.IncError(mapErrToMetric(err))
		logger.Error("winners_scan_failed", "error", err)
		return
	}
	if err := c.WriteEnd(); err != nil {
		err = fmt.Errorf("%w: %w", ErrIO, err)
		metrics.IncError(mapErrToMetric(err))
		logger.Error("winners_end_failed", "error", err)
		return
	}
	logger.Info("winners_served", "count", sent)
}
