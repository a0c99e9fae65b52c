// Package frame implements the GPCP wire framing: a length-prefixed,
// type-tagged header followed by a body, plus the single-byte KEEP_ALIVE
// shorthand.
//
// Frame format (big-endian):
//
//	byte 0: bits 7..4 = packetType (0..15), bits 3..0 = top 4 bits of length
//	bytes 1..3        = remaining 24 bits of length (big-endian)
//	bytes 4..4+length = body
//
// KEEP_ALIVE frames are a single 0x00 byte — the remaining header bytes are
// omitted entirely, and any reader that sees a first header byte of 0x00
// treats it as a keep-alive ping without reading further.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"gpcp/gpcperr"
)

// PacketType is the 4-bit tag carried in the top nibble of a frame header.
type PacketType byte

const (
	KeepAlive    PacketType = 0
	ConnShutdown PacketType = 1
	Request      PacketType = 8
	Response     PacketType = 9
	Push         PacketType = 10
	PacketError  PacketType = 15
)

// MaxLength is the largest body length a 28-bit field can carry.
const MaxLength = 0x0FFFFFFF

// HeaderSize is the size of a non-KEEP_ALIVE header.
const HeaderSize = 4

func validPacketType(t PacketType) bool {
	switch t {
	case KeepAlive, ConnShutdown, Request, Response, Push, PacketError:
		return true
	default:
		return false
	}
}

// EncodeHeader builds the 4-byte header for length/packetType, or the single
// 0x00 byte for a KEEP_ALIVE frame.
func EncodeHeader(length uint32, packetType PacketType) ([]byte, error) {
	const op = "frame: encode header"

	if !validPacketType(packetType) {
		return nil, gpcperr.New(gpcperr.UnknownType, op, nil)
	}
	if packetType == KeepAlive {
		return []byte{0x00}, nil
	}
	if length > MaxLength {
		return nil, gpcperr.New(gpcperr.LengthOverflow, op, errors.New("length too large to fit in 28 bits"))
	}

	header := make([]byte, HeaderSize)
	header[0] = byte(packetType)<<4 | byte((length>>24)&0x0F)
	header[1] = byte(length >> 16)
	header[2] = byte(length >> 8)
	header[3] = byte(length)
	return header, nil
}

// DecodeHeader extracts the length and packet type from a 4-byte header (or
// recognizes a KEEP_ALIVE from just the first byte).
func DecodeHeader(header []byte) (length uint32, packetType PacketType) {
	if header[0] == 0x00 {
		return 0, KeepAlive
	}

	packetType = PacketType(header[0] >> 4)
	length = uint32(header[0]&0x0F) << 24
	if len(header) > 1 {
		length |= uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3])
	}
	return length, packetType
}

// SendFrame writes packetType and data as one frame, looping on short
// writes. packetType has no default; every caller passes it explicitly.
func SendFrame(w io.Writer, data []byte, packetType PacketType) error {
	const op = "frame: send"

	header, err := EncodeHeader(uint32(len(data)), packetType)
	if err != nil {
		return err
	}

	buf := append(header, data...)
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return gpcperr.New(gpcperr.UnknownType, op, err)
		}
		buf = buf[n:]
	}
	return nil
}

// ReceiveFrame reads one frame from r.
//
// On a KEEP_ALIVE ping it returns (nil, KeepAlive, nil). On a clean peer
// close (EOF on the very first header byte) it returns
// (nil, KeepAlive, gpcperr.Sentinel(gpcperr.PeerClosed)) — callers should
// check errors.Is(err, gpcperr.Sentinel(gpcperr.PeerClosed)). A read
// deadline expiry surfaces as gpcperr.Sentinel(gpcperr.Timeout).
func ReceiveFrame(r io.Reader) ([]byte, PacketType, error) {
	const op = "frame: receive"

	head := make([]byte, 1)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, KeepAlive, wrapReceiveErr(op, err)
	}

	if head[0] == 0x00 {
		return nil, KeepAlive, nil
	}

	rest := make([]byte, HeaderSize-1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, KeepAlive, wrapReceiveErr(op, err)
	}
	header := append(head, rest...)
	length, packetType := DecodeHeader(header)

	if length == 0 {
		return []byte{}, packetType, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, KeepAlive, wrapReceiveErr(op, err)
	}
	return body, packetType, nil
}

func wrapReceiveErr(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gpcperr.New(gpcperr.Timeout, op, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return gpcperr.New(gpcperr.PeerClosed, op, err)
	}
	return gpcperr.New(gpcperr.UnknownType, op, err)
}

// BinaryEncodeUint32 is a small helper shared by the command package for the
// 4-byte correlation id prefix (see command.EncodeRequest and
// command.EncodeResponse).
func BinaryEncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// BinaryDecodeUint32 is the inverse of BinaryEncodeUint32.
func BinaryDecodeUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
