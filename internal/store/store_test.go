package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tp0-distribuidos/lottery-server/internal/bet"
)

func mustBet(t *testing.T, agency int, record string) bet.Bet {
	t.Helper()
	b, err := bet.ParsePayload(agency, record)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	return b
}

func TestAppendThenScan(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "bets.csv"))
	b1 := mustBet(t, 1, "Ana;Gomez;40000001;2000-01-02;1234")
	b2 := mustBet(t, 1, "Bob;Smith;40000002;2000-01-03;5678")
	if err := s.Append([]bet.Bet{b1, b2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	var got []bet.Bet
	if err := s.Scan(func(b bet.Bet) error {
		got = append(got, b)
		return nil
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 || got[0].Document != "40000001" || got[1].Document != "40000002" {
		t.Fatalf("scan order mismatch: %+v", got)
	}
}

func TestAppend_RunsAppendHookOnSuccessOnly(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "bets.csv"))
	var calls int
	s.SetAppendHook(func() { calls++ })

	b := mustBet(t, 1, "Ana;Gomez;40000001;2000-01-02;1234")
	if err := s.Append([]bet.Bet{b}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if calls != 1 {
		t.Fatalf("append hook called %d times, want 1", calls)
	}

	s2 := Open(filepath.Join(t.TempDir(), "nonexistent-dir", "bets.csv"))
	s2.SetAppendHook(func() { calls++ })
	if err := s2.Append([]bet.Bet{b}); err == nil {
		t.Fatalf("expected Append to fail against an unwritable path")
	}
	if calls != 1 {
		t.Fatalf("append hook ran after a failed append, calls = %d", calls)
	}
}

func TestScanEmptyStore(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "bets.csv"))
	n := 0
	if err := s.Scan(func(bet.Bet) error { n++; return nil }); err != nil {
		t.Fatalf("Scan on absent file: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no bets, got %d", n)
	}
}

// TestConcurrentAppendsPreserveAgencyOrder exercises the S6 scenario:
// two agencies append 100 bets each concurrently; scan yields 200 bets
// and each agency's 100 bets appear in submission order relative to
// each other (no cross-interleaving within one Append call).
func TestConcurrentAppendsPreserveAgencyOrder(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "bets.csv"))
	const perAgency = 100

	build := func(agency int) []bet.Bet {
		bets := make([]bet.Bet, 0, perAgency)
		for i := 1; i <= perAgency; i++ {
			record := fmt.Sprintf("First%d;Last%d;doc%d;2000-01-01;%d", i, i, i, i)
			bets = append(bets, mustBet(t, agency, record))
		}
		return bets
	}

	var wg sync.WaitGroup
	for _, agency := range []int{1, 2} {
		agency := agency
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Append(build(agency)); err != nil {
				t.Errorf("Append agency %d: %v", agency, err)
			}
		}()
	}
	wg.Wait()

	var all []bet.Bet
	if err := s.Scan(func(b bet.Bet) error {
		all = append(all, b)
		return nil
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(all) != 2*perAgency {
		t.Fatalf("expected %d bets, got %d", 2*perAgency, len(all))
	}

	seqByAgency := map[int][]int{}
	for _, b := range all {
		seqByAgency[b.Agency] = append(seqByAgency[b.Agency], b.Number)
	}
	for agency, seq := range seqByAgency {
		if len(seq) != perAgency {
			t.Fatalf("agency %d: expected %d bets, got %d", agency, perAgency, len(seq))
		}
		for i, n := range seq {
			if n != i+1 {
				t.Fatalf("agency %d: bets out of submission order at index %d: %v", agency, i, seq)
			}
		}
	}
}
