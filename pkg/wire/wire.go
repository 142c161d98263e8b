// Package wire implements the Confluent Schema Registry wire format: a
// single magic byte followed by a big-endian uint32 schema ID and the raw
// Avro binary payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode"
)

const (
	// HeaderSize is the length of the framing header: magic byte (1) + schema ID (4).
	HeaderSize = 5

	magicByte = 0x00

	// How many leading bytes Decode inspects when guessing whether a
	// rejected input is actually text rather than a framed message.
	textSniffLen = 16
)

// ErrInvalidWireFormat is returned when a message does not carry the
// Confluent framing header.
var ErrInvalidWireFormat = errors.New("invalid wire format")

// Encode frames an Avro binary payload with the Confluent header.
func Encode(schemaID uint32, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:HeaderSize], schemaID)
	copy(out[HeaderSize:], payload)
	return out
}

// Decode splits a framed message into its schema ID and Avro binary payload.
// The payload may be empty. It fails with ErrInvalidWireFormat when the
// message is shorter than HeaderSize or does not start with the magic byte.
func Decode(msg []byte) (schemaID uint32, payload []byte, err error) {
	if len(msg) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: message is %d bytes, need at least %d",
			ErrInvalidWireFormat, len(msg), HeaderSize)
	}
	if msg[0] != magicByte {
		if looksLikeText(msg) {
			return 0, nil, fmt.Errorf("%w: leading byte 0x%02x is not the magic byte 0x00; "+
				"the input looks like text, pass the raw message bytes rather than a decoded string",
				ErrInvalidWireFormat, msg[0])
		}
		return 0, nil, fmt.Errorf("%w: leading byte 0x%02x is not the magic byte 0x00",
			ErrInvalidWireFormat, msg[0])
	}
	return binary.BigEndian.Uint32(msg[1:HeaderSize]), msg[HeaderSize:], nil
}

// IsInvalid reports whether err signals a malformed framing header.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidWireFormat)
}

// looksLikeText reports whether the message prefix is entirely printable,
// which is the usual symptom of a caller handing over a JSON or string
// rendering of a message instead of its raw bytes.
func looksLikeText(msg []byte) bool {
	n := len(msg)
	if n > textSniffLen {
		n = textSniffLen
	}
	for _, b := range msg[:n] {
		if b > unicode.MaxASCII {
			return false
		}
		if !unicode.IsPrint(rune(b)) && b != '\n' && b != '\r' && b != '\t' {
			return false
		}
	}
	return true
}
