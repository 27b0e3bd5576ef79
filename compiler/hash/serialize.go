package hash

import (
	"encoding/binary"
	"math"

	"github.com/chazu/synapse/compiler"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of a token stream.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - A TagLine record (uint32 big-endian line) precedes the first token of
//     every line that has tokens
//   - Integers: int64 big-endian; floats: IEEE 754 big-endian 8B
//   - Strings and words: uint32 big-endian length + UTF-8 bytes
//   - The EOF token is not written
//
// Comments and spacing within a line never reach the stream; line breaks
// do, because compiled programs record source lines for error traces.
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of tokens.
// The returned bytes are suitable for hashing with SHA-256.
func Serialize(tokens []compiler.Token) []byte {
	s := &serializer{buf: make([]byte, 0, 16*len(tokens)+1)}
	s.writeByte(HashVersion)
	line := 0
	for _, tok := range tokens {
		if tok.Type == compiler.TokenEOF {
			break
		}
		if tok.Span.Start.Line != line {
			line = tok.Span.Start.Line
			s.writeByte(TagLine)
			s.writeUint32(uint32(line))
		}
		s.serializeToken(tok)
	}
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint32(v uint32) {
	s.buf = binary.BigEndian.AppendUint32(s.buf, v)
}

func (s *serializer) writeInt64(v int64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, uint64(v))
}

func (s *serializer) writeFloat64(v float64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, math.Float64bits(v))
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) serializeToken(tok compiler.Token) {
	switch tok.Type {
	case compiler.TokenInteger:
		s.writeByte(TagInt)
		s.writeInt64(tok.Int)
	case compiler.TokenFloat:
		s.writeByte(TagFloat)
		s.writeFloat64(tok.Float)
	case compiler.TokenString:
		s.writeByte(TagString)
		s.writeString(tok.Str)
	default:
		s.writeByte(TagWord)
		s.writeString(tok.Literal)
	}
}
