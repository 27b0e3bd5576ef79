package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the token fingerprint serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every fingerprint already stored in a program cache.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing fingerprints.
const HashVersion byte = 1

// Token record tags. Each tag uniquely identifies a record kind in the
// serialized byte stream.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	TagWord   byte = 0x01 // keyword, identifier, operator or delimiter: its text
	TagInt    byte = 0x02 // integer literal: decoded value
	TagFloat  byte = 0x03 // float literal: IEEE 754 bits
	TagString byte = 0x04 // string literal: decoded contents
	TagLine   byte = 0x05 // the following tokens start on this line

	// Reserved 0xFE-0xFF
)

// allTags lists every assigned tag, for uniqueness checks.
var allTags = []byte{
	TagReservedZero,
	TagWord,
	TagInt,
	TagFloat,
	TagString,
	TagLine,
}
