package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/omochice/chatwire/pkg/protocol"
)

// countingWriter records how many Write calls were made.
type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func TestWriteFrame_SingleWrite(t *testing.T) {
	var w countingWriter
	if err := protocol.WriteFrame(&w, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if w.writes != 1 {
		t.Errorf("WriteFrame() made %d writes, want 1", w.writes)
	}
	want := []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("WriteFrame() wrote %x, want %x", w.Bytes(), want)
	}
}

func TestReadFrame_Sequence(t *testing.T) {
	var buf bytes.Buffer
	bodies := [][]byte{[]byte("one"), {}, []byte("three")}
	for _, b := range bodies {
		if err := protocol.WriteFrame(&buf, b); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}

	for i, want := range bodies {
		got, err := protocol.ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("ReadFrame() #%d error = %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("ReadFrame() #%d = %q, want %q", i, got, want)
		}
	}

	if _, err := protocol.ReadFrame(&buf, 0); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame() at end = %v, want io.EOF", err)
	}
}

func TestReadFrame_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		max     int
		wantErr error
	}{
		{"truncated header", []byte{0, 0}, 0, io.ErrUnexpectedEOF},
		{"truncated body", []byte{0, 0, 0, 4, 'a'}, 0, io.ErrUnexpectedEOF},
		{"header only", []byte{0, 0, 0, 4}, 0, io.ErrUnexpectedEOF},
		{"too large", []byte{0, 0, 1, 0}, 16, protocol.ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.ReadFrame(bytes.NewReader(tt.data), tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadFrame() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadWritePacket(t *testing.T) {
	var buf bytes.Buffer
	sent := []protocol.Packet{
		protocol.NewPacket(protocol.PacketTypeRegistration, "-1", "alice"),
		protocol.NewPacket(protocol.PacketTypeMessage, "1", "alice", "hi"),
		protocol.NewPacket(protocol.PacketTypeQuit, "1", "1"),
	}
	for _, p := range sent {
		if err := protocol.WritePacket(&buf, p); err != nil {
			t.Fatalf("WritePacket() error = %v", err)
		}
	}

	for i, want := range sent {
		got, err := protocol.ReadPacket(&buf, 0)
		if err != nil {
			t.Fatalf("ReadPacket() #%d error = %v", i, err)
		}
		if !samePacket(got, want) {
			t.Errorf("ReadPacket() #%d = %+v, want %+v", i, got, want)
		}
	}
}

func TestReadPacket_MalformedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := protocol.WriteFrame(&buf, []byte{0xff}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if _, err := protocol.ReadPacket(&buf, 0); !errors.Is(err, protocol.ErrMalformedPacket) {
		t.Errorf("ReadPacket() error = %v, want ErrMalformedPacket", err)
	}
}
