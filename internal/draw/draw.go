// Package draw implements the one-shot lottery draw predicate.
package draw

import "github.com/tp0-distribuidos/lottery-server/internal/bet"

// winningNumber is the placeholder draw rule: a pure, deterministic
// function of the bet's fields so tests can pin expected winners from
// literal inputs. Real draw logic is out of scope for the core.
const winningNumber = 7574

// HasWon reports whether b matches the configured draw.
func HasWon(b bet.Bet) bool {
	return b.Number == winningNumber
}
