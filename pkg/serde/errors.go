package serde

import "errors"

// Error kinds surfaced by the serializer core. Envelope and registry
// failures propagate as wire.ErrInvalidWireFormat and
// registry.ErrSchemaNotFound respectively; everything here is produced by
// the core itself. All kinds are distinguishable with errors.Is.
var (
	// ErrSerialization is returned when a record fails to encode against its
	// own derived schema.
	ErrSerialization = errors.New("serde: serialization failed")

	// ErrDeserialization is returned when a payload fails to decode against
	// the writer schema, typically corrupt or truncated data.
	ErrDeserialization = errors.New("serde: deserialization failed")

	// ErrSchemaMismatch is returned when the writer and reader schemas are
	// structurally incompatible.
	ErrSchemaMismatch = errors.New("serde: schema mismatch")

	// ErrSchemaMatch is returned when automatic schema matching finds zero or
	// more than one compatible candidate.
	ErrSchemaMatch = errors.New("serde: automatic schema match failed")
)

// IsSchemaMismatch checks if the error is a writer/reader incompatibility.
func IsSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}

// IsSchemaMatch checks if the error came from automatic schema matching.
func IsSchemaMatch(err error) bool {
	return errors.Is(err, ErrSchemaMatch)
}
