package sacn

import (
	"errors"
	"fmt"
)

// Decode failure categories. A *DecodeError wraps one of these.
var (
	ErrShortPacket = errors.New("sacn: packet too short")
	ErrIdentifier  = errors.New("sacn: bad ACN packet identifier")
	ErrPreamble    = errors.New("sacn: bad preamble size")
	ErrPostamble   = errors.New("sacn: bad postamble size")
	ErrFlags       = errors.New("sacn: bad PDU flags")
	ErrLength      = errors.New("sacn: inconsistent PDU length")
	ErrVector      = errors.New("sacn: unsupported vector")
	ErrPriority    = errors.New("sacn: priority above 200")
	ErrDMPFormat   = errors.New("sacn: bad DMP layer format")
)

// DecodeError describes why a packet was rejected.
type DecodeError struct {
	// Field names the offending packet field, e.g. "root.length".
	Field  string
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (%s)", e.Err, e.Field)
	}
	return fmt.Sprintf("%v (%s: %s)", e.Err, e.Field, e.Detail)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(err error, field, format string, args ...any) *DecodeError {
	return &DecodeError{Field: field, Detail: fmt.Sprintf(format, args...), Err: err}
}
