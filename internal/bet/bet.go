// Package bet defines the Bet value and its wire/store textual forms.
package bet

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Bet is an immutable lottery entry.
type Bet struct {
	Agency    int
	FirstName string
	LastName  string
	Document  string
	Birthdate time.Time
	Number    int
}

// ParsePayload parses the semicolon-separated wire form of a single bet
// record as carried inside a BET frame: "<first>;<last>;<document>;<birthdate>;<number>".
// agencyID is the session's trusted agency id; it is never read from the
// payload itself, per the server's tag-don't-trust invariant.
func ParsePayload(agencyID int, record string) (Bet, error) {
	fields := strings.Split(record, ";")
	if len(fields) != 5 {
		return Bet{}, fmt.Errorf("%w: want 5 fields, got %d", ErrParse, len(fields))
	}
	return build(agencyID, fields[0], fields[1], fields[2], fields[3], fields[4])
}

// ParseStoreLine parses one line of the persistent store format
// ("<agency>;<first>;<last>;<document>;<birthdate>;<number>").
func ParseStoreLine(line string) (Bet, error) {
	fields := strings.Split(line, ";")
	if len(fields) != 6 {
		return Bet{}, fmt.Errorf("%w: want 6 fields, got %d", ErrScan, len(fields))
	}
	agency, err := strconv.Atoi(fields[0])
	if err != nil {
		return Bet{}, fmt.Errorf("%w: agency: %v", ErrScan, err)
	}
	b, err := build(agency, fields[1], fields[2], fields[3], fields[4], fields[5])
	if err != nil {
		return Bet{}, fmt.Errorf("%w: %v", ErrScan, err)
	}
	return b, nil
}

func build(agencyID int, first, last, document, birthdate, number string) (Bet, error) {
	if agencyID <= 0 {
		return Bet{}, fmt.Errorf("%w: agency must be positive, got %d", ErrParse, agencyID)
	}
	if first == "" || last == "" || document == "" || birthdate == "" || number == "" {
		return Bet{}, fmt.Errorf("%w: empty field in record", ErrParse)
	}
	n, err := strconv.Atoi(number)
	if err != nil || n <= 0 {
		return Bet{}, fmt.Errorf("%w: number must be a positive integer, got %q", ErrParse, number)
	}
	d, err := time.Parse(dateLayout, birthdate)
	if err != nil {
		return Bet{}, fmt.Errorf("%w: birthdate: %v", ErrParse, err)
	}
	return Bet{
		Agency:    agencyID,
		FirstName: first,
		LastName:  last,
		Document:  document,
		Birthdate: d,
		Number:    n,
	}, nil
}

// Serialize renders the bet as one line of the persistent store format,
// without the trailing newline.
func (b Bet) Serialize() string {
	return fmt.Sprintf("%d;%s;%s;%s;%s;%d",
		b.Agency, b.FirstName, b.LastName, b.Document,
		b.Birthdate.Format(dateLayout), b.Number)
}
