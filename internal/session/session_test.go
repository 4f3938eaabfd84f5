package session

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tp0-distribuidos/lottery-server/internal/bet"
	"github.com/tp0-distribuidos/lottery-server/internal/coordinator"
	"github.com/tp0-distribuidos/lottery-server/internal/store"
	"github.com/tp0-distribuidos/lottery-server/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pipe(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serverCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverCh <- c
	}()
	client, err = net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server = <-serverCh
	return client, server
}

func encodeBatch(records []string) []byte {
	var payload []byte
	for _, r := range records {
		payload = append(payload, byte(len(r)))
		payload = append(payload, r...)
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))
	out := append([]byte{wire.TagBet}, lenBuf...)
	return append(out, payload...)
}

func newDeps(t *testing.T) (Deps, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bets.csv")
	return Deps{
		Store:         store.Open(path),
		Coordinator:   coordinator.New(1),
		ReadTimeout:   2 * time.Second,
		HandshakeTO:   2 * time.Second,
		MaxBatchBytes: wire.MaxBatchBytes,
	}, path
}

// S1: a well-formed single-record batch is stored and acknowledged.
func TestHandle_BetBatchStoredAndAcked(t *testing.T) {
	client, server := pipe(t)
	defer client.Close()

	deps, path := newDeps(t)
	done := make(chan struct{})
	go func() {
		Handle(server, deps, testLogger())
		close(done)
	}()

	client.Write([]byte("1\n"))
	client.Write(encodeBatch([]string{"Ana;Gomez;40000001;2000-01-02;1234"}))

	ack := make([]byte, 2)
	if _, err := io.ReadFull(client, ack); err != nil {
		t.Fatalf("reading ack: %v", err)
	}
	if string(ack) != "OK" {
		t.Fatalf("ack = %q, want OK", ack)
	}

	client.Close()
	<-done

	n, err := store.Open(path).Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("stored count = %d, want 1", n)
	}
}

// S2: END marks the coordinator's notification set for this agency.
func TestHandle_EndMarksCoordinator(t *testing.T) {
	client, server := pipe(t)
	defer client.Close()

	deps, _ := newDeps(t)
	done := make(chan struct{})
	go func() {
		Handle(server, deps, testLogger())
		close(done)
	}()

	client.Write([]byte("1\n"))
	client.Write([]byte{wire.TagEnd})
	client.Close()
	<-done

	if !deps.Coordinator.AllReceived() {
		t.Fatalf("coordinator not marked after END")
	}
}

// S3: a batch declaring more bytes than it contains closes the
// connection without an ack, and stores nothing.
func TestHandle_MalformedBatchClosesWithoutAck(t *testing.T) {
	client, server := pipe(t)
	defer client.Close()

	deps, path := newDeps(t)
	done := make(chan struct{})
	go func() {
		Handle(server, deps, testLogger())
		close(done)
	}()

	client.Write([]byte("1\n"))
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, 20)
	client.Write(append([]byte{wire.TagBet}, lenBuf...))
	client.Write([]byte{5, 'a', 'b', 'c'}) // declares 5, supplies 3

	client.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 2)
	_, err := io.ReadFull(client, buf)
	if err == nil {
		t.Fatalf("expected no ack for malformed batch, got %q", buf)
	}
	<-done

	n, _ := store.Open(path).Count()
	if n != 0 {
		t.Fatalf("stored count = %d, want 0 for rejected batch", n)
	}
}

// S5: WINNERS before the barrier is satisfied is declined silently
// (connection closes without a response).
func TestHandle_WinnersDeclinedBeforeBarrier(t *testing.T) {
	client, server := pipe(t)
	defer client.Close()

	deps, _ := newDeps(t)
	deps.Coordinator = coordinator.New(2) // requires 2, none notified

	done := make(chan struct{})
	go func() {
		Handle(server, deps, testLogger())
		close(done)
	}()

	client.Write([]byte("1\n"))
	client.Write([]byte{wire.TagWinners})

	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected connection close with no response, got byte %v", buf)
	}
	<-done
}

// Winners are filtered to the requesting agency and the known winning
// number, with a trailing END frame closing the stream.
func TestHandle_WinnersStreamsMatchesAndEnds(t *testing.T) {
	deps, _ := newDeps(t)
	deps.Coordinator.Mark(1)

	if err := deps.Store.Append(mustBets(t,
		"1;Ana;Gomez;40000001;2000-01-02;7574",  // agency 1, winner
		"1;Bob;Lee;40000002;2000-01-03;1",       // agency 1, loser
		"2;Cy;Doe;40000003;2000-01-04;7574",     // agency 2, winner (not ours)
	)); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	client, server := pipe(t)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		Handle(server, deps, testLogger())
		close(done)
	}()

	client.Write([]byte("1\n"))
	client.Write([]byte{wire.TagWinners})

	c := wire.NewConn(client)
	tag, err := c.ReadTag()
	if err != nil {
		t.Fatalf("read winner tag: %v", err)
	}
	if tag != wire.TagWinner {
		t.Fatalf("tag = %d, want TagWinner", tag)
	}
	lenByte, err := c.ReadExact(1)
	if err != nil {
		t.Fatalf("read winner len: %v", err)
	}
	rec, err := c.ReadExact(int(lenByte[0]))
	if err != nil {
		t.Fatalf("read winner record: %v", err)
	}
	if string(rec) != "1;Ana;Gomez;40000001;2000-01-02;7574" {
		t.Fatalf("winner record = %q", rec)
	}

	endTag, err := c.ReadTag()
	if err != nil {
		t.Fatalf("read end tag: %v", err)
	}
	if endTag != wire.TagEnd {
		t.Fatalf("final tag = %d, want TagEnd (no second winner expected)", endTag)
	}
	<-done
}

func mustBets(t *testing.T, lines ...string) []bet.Bet {
	t.Helper()
	var out []bet.Bet
	for _, l := range lines {
		b, err := bet.ParseStoreLine(l)
		if err != nil {
			t.Fatalf("parse seed line %q: %v", l, err)
		}
		out = append(out, b)
	}
	return out
}
