package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
)

// MaxPacketSize is the maximum allowed payload size (1 MB). Anything larger
// is a protocol violation, not a packet.
const MaxPacketSize = 1024 * 1024

var ErrPacketTooLarge = errors.New("packet exceeds maximum size (1 MB)")

// Framing describes how a particular client build frames packets on the wire.
//
// Layout: [u16 packet-id][bool compressed][u32 payload-length][payload].
// Builds at or below build 323 omit the compressed flag and gzip every
// payload unconditionally.
type Framing struct {
	HasCompressionFlag bool
	CompressOut        bool
}

// ModernFraming is the framing of every build newer than 323: flag present,
// never set on outgoing packets.
var ModernFraming = Framing{HasCompressionFlag: true, CompressOut: false}

// LegacyFraming compresses outgoing payloads and still carries the flag
// (builds 324..~20121008 understood but rarely required it).
var LegacyFraming = Framing{HasCompressionFlag: true, CompressOut: true}

// AncientFraming is the flagless always-compressed layout of builds <= 323.
var AncientFraming = Framing{HasCompressionFlag: false, CompressOut: true}

func gzipCompress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, ErrMalformed
	}
	out, err := io.ReadAll(io.LimitReader(zr, MaxPacketSize+1))
	if err != nil {
		return nil, ErrMalformed
	}
	if len(out) > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}
	return out, nil
}

// WritePacket frames a payload, returning the complete wire bytes. This is
// the "header after the fact" step: callers serialize the payload first and
// only then learn its length.
func (f Framing) WritePacket(id PacketID, payload []byte) ([]byte, error) {
	compressed := false
	if f.CompressOut {
		z, err := gzipCompress(payload)
		if err != nil {
			return nil, err
		}
		payload = z
		compressed = true
	}
	if len(payload) > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}

	headerLen := 7
	if !f.HasCompressionFlag {
		headerLen = 6
	}
	out := make([]byte, 0, headerLen+len(payload))
	out = binary.LittleEndian.AppendUint16(out, uint16(id))
	if f.HasCompressionFlag {
		if compressed {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...), nil
}

// ReadPacket reads one framed packet from r, decompressing the payload when
// the frame says so. io.EOF at the first header byte means a clean end of
// stream; a truncated header or payload surfaces as io.ErrUnexpectedEOF so
// the transport can wait for more bytes.
func (f Framing) ReadPacket(r io.Reader) (PacketID, []byte, error) {
	var head [7]byte
	headerLen := 7
	if !f.HasCompressionFlag {
		headerLen = 6
	}
	if _, err := io.ReadFull(r, head[:2]); err != nil {
		return 0, nil, err
	}
	if _, err := io.ReadFull(r, head[2:headerLen]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}

	id := PacketID(binary.LittleEndian.Uint16(head[:2]))
	compressed := !f.HasCompressionFlag
	lenOff := 2
	if f.HasCompressionFlag {
		compressed = head[2] != 0
		lenOff = 3
	}
	length := binary.LittleEndian.Uint32(head[lenOff : lenOff+4])
	if length > MaxPacketSize {
		return 0, nil, ErrPacketTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, nil, err
		}
	}

	if compressed && len(payload) > 0 {
		out, err := gzipDecompress(payload)
		if err != nil {
			return 0, nil, err
		}
		payload = out
	}

	return id, payload, nil
}
