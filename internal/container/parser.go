// Package container strips the canonical PCM WAV header produced by the
// transcoder and exposes the raw sample payload.
//
// The parser expects a 44-byte RIFF/WAVE header (fmt and data chunks, no
// metadata chunks) and strips exactly that many bytes. Other header layouts
// are rejected rather than generalized.
package container

import (
	"bytes"
	"fmt"

	"github.com/go-audio/wav"
)

// HeaderSize is the length of the canonical PCM WAV header.
const HeaderSize = 44

// dataChunkOffset is where the data chunk id sits in a canonical header.
const dataChunkOffset = 36

// PCM is the raw sample payload of a container plus its format metadata.
type PCM struct {
	Samples    []byte
	SampleRate int
	Channels   int
	BitDepth   int
}

// Len reports the payload length in bytes.
func (p PCM) Len() int { return len(p.Samples) }

// Expect returns a MalformedError unless the payload has the given channel
// count and bit depth.
func (p PCM) Expect(channels, bitDepth int) error {
	if p.Channels == channels && p.BitDepth == bitDepth {
		return nil
	}
	return &MalformedError{
		Length: len(p.Samples) + HeaderSize,
		Reason: fmt.Sprintf("unsupported format channels=%d bit_depth=%d", p.Channels, p.BitDepth),
	}
}

// MalformedError reports a container that is undersized or whose header
// cannot be read.
type MalformedError struct {
	Length int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed container (%s): bytes=%d", e.Reason, e.Length)
}

// Parse validates b and returns everything after the fixed header.
func Parse(b []byte) (PCM, error) {
	if len(b) <= HeaderSize {
		return PCM{}, &MalformedError{Length: len(b), Reason: "wav too small"}
	}

	dec := wav.NewDecoder(bytes.NewReader(b))
	if !dec.IsValidFile() {
		return PCM{}, &MalformedError{Length: len(b), Reason: "unreadable wav header"}
	}
	if !bytes.Equal(b[dataChunkOffset:dataChunkOffset+4], []byte("data")) {
		return PCM{}, &MalformedError{Length: len(b), Reason: "non-canonical wav header"}
	}

	return PCM{
		Samples:    b[HeaderSize:],
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}, nil
}
