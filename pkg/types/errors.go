package types

import "errors"

// ErrFormat marks malformed input: unparsable fields, column-count mismatch,
// non-increasing cycles. Always fatal.
var ErrFormat = errors.New("format error")

// ErrSchema marks a structural mismatch: a missing expected column, an empty
// feature selection, or a produced schema that differs from the fitted one.
// Always fatal.
var ErrSchema = errors.New("schema error")
