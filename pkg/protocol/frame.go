package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout:
//
//	[4 bytes: body length, big endian][body]
const frameHeaderSize = 4

// DefaultMaxFrameSize bounds the body length accepted by ReadFrame.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a frame announces a body longer than allowed.
var ErrFrameTooLarge = errors.New("frame too large")

// AppendFrame appends a length-prefixed frame carrying body to dst.
func AppendFrame(dst, body []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...)
}

// WriteFrame writes body as a single frame with one call to w.Write.
func WriteFrame(w io.Writer, body []byte) error {
	buf := AppendFrame(make([]byte, 0, frameHeaderSize+len(body)), body)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one frame from r and returns its body. A stream that ends
// cleanly between frames yields io.EOF; one that ends inside a frame yields
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, size, maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WritePacket encodes p and writes it as a single frame.
func WritePacket(w io.Writer, p Packet) error {
	body, err := p.Encode()
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadPacket reads one frame from r and decodes it.
func ReadPacket(r io.Reader, maxSize int) (Packet, error) {
	body, err := ReadFrame(r, maxSize)
	if err != nil {
		return Packet{}, err
	}
	var p Packet
	if err := p.Decode(body); err != nil {
		return Packet{}, err
	}
	return p, nil
}
