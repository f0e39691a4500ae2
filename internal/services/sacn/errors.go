package sacn

import "errors"

var (
	ErrPriority      = errors.New("sacn: priority above 200")
	ErrSourceName    = errors.New("sacn: source name longer than 64 bytes")
	ErrCID           = errors.New("sacn: missing or malformed CID")
	ErrUniverse      = errors.New("sacn: universe out of range")
	ErrNoUniverses   = errors.New("sacn: source has no universes")
	ErrDestination   = errors.New("sacn: invalid destination address")
	ErrAlreadyActive = errors.New("sacn: source already started")
)
