// Package store implements the append-only persistent bet store.
//
// A single process-wide mutex (the "store lock") guards both Append and
// Scan in their entirety: readers during the winners phase must see the
// complete submitted dataset, and no agency sends both bets and a
// winners request at the same time, so contention is benign.
package store

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/tp0-distribuidos/lottery-server/internal/bet"
)

// Store is a persistent, append-only sequence of Bet records backed by
// a single text file. The zero value is not usable; construct with Open.
type Store struct {
	mu   sync.Mutex
	path string

	hookMu sync.RWMutex
	hook   func()
}

// Open prepares a Store backed by path. The backing file is created on
// first Append if it does not already exist.
func Open(path string) *Store {
	return &Store{path: path}
}

// SetAppendHook registers fn to run after every successful Append. fn
// runs synchronously on the appending goroutine and must not block;
// it exists so an on-disk status snapshot can be refreshed immediately
// rather than waiting for the next periodic tick.
func (s *Store) SetAppendHook(fn func()) {
	s.hookMu.Lock()
	s.hook = fn
	s.hookMu.Unlock()
}

func (s *Store) runAppendHook() {
	s.hookMu.RLock()
	fn := s.hook
	s.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Append atomically (with respect to concurrent appenders) appends all
// given bets, in order, to the backing file, and syncs it. A write
// error part-way through is returned as is; lines already written for
// the batch are not removed from the file.
func (s *Store) Append(bets []bet.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open for append: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, b := range bets {
		if _, err := w.WriteString(b.Serialize()); err != nil {
			return fmt.Errorf("store: write: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("store: write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("store: sync: %w", err)
	}
	s.runAppendHook()
	return nil
}

// Scan invokes onBet for every bet stored so far, in append order. It
// holds the store lock for the full duration of the scan, excluding
// concurrent appenders per the store's one-writer-or-many-readers
// contract (the simple implementation takes an exclusive lock for
// both). A parse failure on any stored line aborts the scan and
// returns a wrapped bet.ErrScan.
func (s *Store) Scan(onBet func(bet.Bet) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing appended yet
		}
		return fmt.Errorf("store: open for scan: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		b, err := bet.ParseStoreLine(line)
		if err != nil {
			return fmt.Errorf("store: scan: %w", err)
		}
		if err := onBet(b); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("store: scan: %w", err)
	}
	return nil
}

// Count returns the number of bets currently stored. Intended for
// status reporting; it performs a full scan under the store lock.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.Scan(func(bet.Bet) error {
		n++
		return nil
	})
	return n, err
}
