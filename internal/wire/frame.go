package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame tags. BET and END are bidirectional/client->server as noted;
// WINNER is normatively tag 3 per the spec's resolution of the
// two-iteration tag ambiguity in the source material.
const (
	TagBet     byte = 0
	TagEnd     byte = 1
	TagWinners byte = 2
	TagWinner  byte = 3
)

// Confirmation is the two raw ASCII bytes sent in response to a BET
// batch. Deliberately NOT tag-prefixed or length-prefixed; the client
// recognizes it positionally.
var Confirmation = []byte("OK")

// ErrProtocol marks unknown frame tags, oversized batch declarations,
// and other framing-level violations.
var ErrProtocol = errors.New("protocol error")

// ErrTruncatedRecord marks a batch record whose declared inner length
// runs past the end of the payload. It wraps ErrProtocol (it is a
// framing-level inconsistency) but is also distinctly matchable so
// callers can classify it as a parse failure, per the worked example
// of a batch payload containing a record that overruns it.
var ErrTruncatedRecord = fmt.Errorf("%w: truncated batch record", ErrProtocol)

// MaxBatchBytes is the default bound on the declared length of a BET
// frame's payload, used when a caller doesn't supply its own (e.g.
// package tests). The running server threads its configured
// --max-batch-bytes value through ReadBatch instead.
const MaxBatchBytes = 8 * 1024

// ReadHandshake reads the newline-terminated ASCII agency id that opens
// every session.
func (c *Conn) ReadHandshake() (string, error) {
	return c.ReadLineUntil('\n')
}

// ReadTag reads the one-byte frame tag that begins every frame after
// the handshake.
func (c *Conn) ReadTag() (byte, error) {
	b, err := c.ReadExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBatch reads a BET frame's body: a 4-byte big-endian length L,
// then exactly L bytes of batch payload. maxBytes bounds the declared
// length; a value <= 0 falls back to MaxBatchBytes.
func (c *Conn) ReadBatch(maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = MaxBatchBytes
	}
	lb, err := c.ReadExact(4)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lb)
	if length > uint32(maxBytes) {
		return nil, fmt.Errorf("%w: batch length %d exceeds %d byte bound", ErrProtocol, length, maxBytes)
	}
	return c.ReadExact(int(length))
}

// DecodeBatchRecords splits a batch payload into its constituent
// UTF-8 records, each prefixed by a 1-byte length (1..255). It fails
// if the payload is not exactly consumed by the declared record
// lengths.
func DecodeBatchRecords(payload []byte) ([]string, error) {
	var records []string
	i := 0
	for i < len(payload) {
		recLen := int(payload[i])
		i++
		if recLen == 0 || i+recLen > len(payload) {
			return nil, ErrTruncatedRecord
		}
		records = append(records, string(payload[i:i+recLen]))
		i += recLen
	}
	return records, nil
}

// WriteConfirmation sends the unprefixed "OK" acknowledgment for a
// stored BET batch.
func (c *Conn) WriteConfirmation() error {
	return c.WriteAll(Confirmation)
}

// WriteWinner sends a WINNER frame carrying record as its UTF-8 payload.
func (c *Conn) WriteWinner(record string) error {
	if len(record) > 255 {
		return fmt.Errorf("%w: winner record too long (%d bytes)", ErrProtocol, len(record))
	}
	buf := make([]byte, 0, 2+len(record))
	buf = append(buf, TagWinner, byte(len(record)))
	buf = append(buf, record...)
	return c.WriteAll(buf)
}

// WriteEnd sends a bare END frame (tag 1, no payload), used both to
// close out a WINNER stream and as the client's end-of-submission
// signal.
func (c *Conn) WriteEnd() error {
	return c.WriteAll([]byte{TagEnd})
}
