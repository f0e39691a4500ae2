package fixture

import "errors"

var (
	// ErrUnsupportedAttribute is returned when a fixture's mode has no channel for an attribute.
	ErrUnsupportedAttribute = errors.New("fixture: attribute not supported by mode")
	// ErrMissingMapping is returned when an attribute mapping has no channel offsets.
	ErrMissingMapping = errors.New("fixture: attribute mapping has no channels")
	// ErrResolution is returned for mappings wider than 16 bits.
	ErrResolution = errors.New("fixture: unsupported channel resolution")
	// ErrInvalidAttribute is returned when an attribute name cannot be parsed.
	ErrInvalidAttribute = errors.New("fixture: invalid attribute")
	// ErrDuplicateFixture is returned when two patched fixtures share an ID.
	ErrDuplicateFixture = errors.New("fixture: duplicate fixture id")
	// ErrNotPatched is returned when a fixture ID is absent from the patch.
	ErrNotPatched = errors.New("fixture: not patched")
)
