package bet

import "errors"

// ErrParse is returned when a wire-form batch record is structurally
// invalid (wrong field count, empty field, non-positive session agency
// id, non-integer or non-positive number, unparseable birthdate).
var ErrParse = errors.New("parse error")

// ErrScan is returned when a line read back from the persistent store
// cannot be parsed into a Bet.
var ErrScan = errors.New("scan error")
