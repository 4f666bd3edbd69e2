package session

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/microtower/internal/bufpool"
)

const (
	// DefaultChunkSize is the read size of ShortRead framing.
	DefaultChunkSize = 1024

	// DefaultMaxFrame caps length-prefixed frames when MaxFrame is 0.
	DefaultMaxFrame = 64 << 10
)

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum.
// The connection is closed since the stream can no longer be resynchronized.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Framer splits a byte stream into request frames and writes response frames.
type Framer interface {
	Name() string

	// NewReader returns a reader bound to one connection. Readers may buffer,
	// so one connection must use a single reader for its whole lifetime.
	NewReader(r io.Reader) FrameReader

	WriteFrame(w io.Writer, frame []byte) error
}

// FrameReader reads one frame at a time. It returns io.EOF when the peer
// closed the stream between frames.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// FramingNames lists the names accepted by ParseFraming.
var FramingNames = []string{"short-read", "length-prefixed", "newline"}

// ParseFraming returns the framer registered under name. maxFrame bounds the
// frame size in bytes. 0 leaves short-read and newline frames unbounded and
// caps length-prefixed frames at DefaultMaxFrame.
func ParseFraming(name string, maxFrame int) (Framer, error) {
	switch strings.ToLower(name) {
	case "", "short-read":
		return ShortRead{ChunkSize: DefaultChunkSize, MaxFrame: maxFrame}, nil
	case "length-prefixed":
		return LengthPrefixed{MaxFrame: maxFrame}, nil
	case "newline", "delimited":
		return Delimited{Delim: '\n', MaxFrame: maxFrame}, nil
	default:
		return nil, fmt.Errorf("unknown framing %q (valid: %s)", name, strings.Join(FramingNames, ", "))
	}
}

// ============================================================================
// Short read
// ============================================================================

// ShortRead accumulates fixed-size reads until one returns fewer bytes than
// the chunk size, and treats the accumulated bytes as one frame. Responses
// are written raw.
//
// This is a heuristic, not a protocol: a message whose length is an exact
// multiple of ChunkSize, or one that arrives in several TCP segments, is
// split or merged incorrectly. It exists for wire compatibility with existing
// clients; prefer LengthPrefixed or Delimited.
type ShortRead struct {
	ChunkSize int
	MaxFrame  int
}

func (ShortRead) Name() string {
	return "short-read"
}

func (s ShortRead) NewReader(r io.Reader) FrameReader {
	size := s.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &shortReader{r: r, chunk: make([]byte, size), max: s.MaxFrame}
}

func (ShortRead) WriteFrame(w io.Writer, frame []byte) error {
	_, err := w.Write(frame)
	return err
}

type shortReader struct {
	r     io.Reader
	chunk []byte
	max   int
}

func (s *shortReader) ReadFrame() ([]byte, error) {
	var frame []byte
	for {
		n, err := s.r.Read(s.chunk)
		frame = append(frame, s.chunk[:n]...)
		if s.max > 0 && len(frame) > s.max {
			return nil, ErrFrameTooLarge
		}

		if err != nil {
			if errors.Is(err, io.EOF) && len(frame) > 0 {
				return frame, nil
			}
			return nil, err
		}
		if n == 0 {
			continue
		}
		if n < len(s.chunk) {
			return frame, nil
		}
	}
}

// ============================================================================
// Length prefixed
// ============================================================================

// LengthPrefixed frames are a 4-byte big-endian payload length followed by
// the payload. The payload buffer is allocated from the header, so the size
// is always bounded: MaxFrame, or DefaultMaxFrame when MaxFrame is 0.
type LengthPrefixed struct {
	MaxFrame int
}

func (LengthPrefixed) Name() string {
	return "length-prefixed"
}

func (l LengthPrefixed) NewReader(r io.Reader) FrameReader {
	limit := l.MaxFrame
	if limit <= 0 {
		limit = DefaultMaxFrame
	}
	return &lengthReader{r: r, max: limit}
}

func (LengthPrefixed) WriteFrame(w io.Writer, frame []byte) error {
	buf := bufpool.Get(4 + len(frame))
	defer bufpool.Put(buf)

	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)
	_, err := w.Write(buf)
	return err
}

type lengthReader struct {
	r      io.Reader
	max    int
	header [4]byte
}

func (l *lengthReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(l.r, l.header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(l.header[:])
	if uint64(size) > uint64(l.max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, l.max)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(l.r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// ============================================================================
// Delimited
// ============================================================================

// Delimited frames end with Delim, which is stripped on read and appended on
// write. Empty frames are skipped. The payload must not contain Delim, so it
// cannot carry binary codecs.
type Delimited struct {
	Delim    byte
	MaxFrame int
}

func (d Delimited) Name() string {
	if d.Delim == '\n' {
		return "newline"
	}
	return "delimited"
}

func (d Delimited) NewReader(r io.Reader) FrameReader {
	return &delimitedReader{r: bufio.NewReader(r), delim: d.Delim, max: d.MaxFrame}
}

func (d Delimited) WriteFrame(w io.Writer, frame []byte) error {
	buf := bufpool.Get(len(frame) + 1)
	defer bufpool.Put(buf)

	copy(buf, frame)
	buf[len(frame)] = d.Delim
	_, err := w.Write(buf)
	return err
}

type delimitedReader struct {
	r     *bufio.Reader
	delim byte
	max   int
}

func (d *delimitedReader) ReadFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := d.r.ReadSlice(d.delim)
		frame = append(frame, chunk...)
		if d.max > 0 && len(frame) > d.max+1 {
			return nil, ErrFrameTooLarge
		}

		switch {
		case err == nil:
			frame = frame[:len(frame)-1]
			if d.delim == '\n' && len(frame) > 0 && frame[len(frame)-1] == '\r' {
				frame = frame[:len(frame)-1]
			}
			if len(frame) == 0 {
				continue
			}
			return frame, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(frame) > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}
