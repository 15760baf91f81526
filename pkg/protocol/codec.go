package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPacket means the client sent a packet id this build has no
	// decoder for. The dispatch loop logs and skips it.
	ErrUnknownPacket = errors.New("unknown packet id")

	// ErrUnsupportedPacket means this build predates the packet; callers
	// encoding a broadcast should skip the recipient silently.
	ErrUnsupportedPacket = errors.New("packet not supported by this client build")

	// ErrBadPayloadType means an encoder was handed the wrong domain object.
	ErrBadPayloadType = errors.New("wrong payload type for packet")
)

// Decoder turns a request payload into a domain object.
type Decoder func(r *Reader) (any, error)

// Encoder serializes a domain object into a response payload.
type Encoder func(w *Writer, v any) error

// Codec is the fully materialized encoder/decoder table for one client
// build. Tables are flat: inheritance between builds is resolved once at
// registry construction, never chased at runtime.
type Codec struct {
	Build           int
	ProtocolVersion int
	Framing         Framing
	RawStrings      bool

	decoders map[PacketID]Decoder
	encoders map[PacketID]Encoder
}

// DecodeRequest decodes a request payload into a domain object.
func (c *Codec) DecodeRequest(id PacketID, payload []byte) (any, error) {
	dec, ok := c.decoders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacket, id)
	}
	r := NewReader(payload)
	r.RawStrings = c.RawStrings
	return dec(r)
}

// CanDecode reports whether the build defines a decoder for id.
func (c *Codec) CanDecode(id PacketID) bool {
	_, ok := c.decoders[id]
	return ok
}

// CanEncode reports whether the build defines an encoder for id.
func (c *Codec) CanEncode(id PacketID) bool {
	_, ok := c.encoders[id]
	return ok
}

// EncodePacket serializes a domain object and frames it for the wire.
// Returns ErrUnsupportedPacket when the build predates the packet id.
func (c *Codec) EncodePacket(id PacketID, v any) ([]byte, error) {
	enc, ok := c.encoders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPacket, id)
	}
	w := &Writer{RawStrings: c.RawStrings}
	if err := enc(w, v); err != nil {
		return nil, err
	}
	return c.Framing.WritePacket(id, w.Bytes())
}

// clone copies the codec with fresh table maps so a derived build can
// override entries without touching its parent.
func (c *Codec) clone() *Codec {
	out := &Codec{
		Build:           c.Build,
		ProtocolVersion: c.ProtocolVersion,
		Framing:         c.Framing,
		RawStrings:      c.RawStrings,
		decoders:        make(map[PacketID]Decoder, len(c.decoders)),
		encoders:        make(map[PacketID]Encoder, len(c.encoders)),
	}
	for id, dec := range c.decoders {
		out.decoders[id] = dec
	}
	for id, enc := range c.encoders {
		out.encoders[id] = enc
	}
	return out
}

func badPayload(id PacketID) error {
	return fmt.Errorf("%w: %s", ErrBadPayloadType, id)
}
