package sensornet

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/juju/errors"
)

const (
	FrameHeaderSize = 4

	DefaultReadLimit = uint32(16 << 10)
)

var (
	// Payload did not parse. Stream stays aligned, next frame may be fine.
	ErrFrameMalformed = fmt.Errorf("frame is malformed")
	// Declared length over the limit. There is no way to resync, fatal.
	ErrFrameTooBig = fmt.Errorf("frame is too large")
)

// FrameMarshal prefixes JSON encoding of e with its length.
func FrameMarshal(e *Envelope) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Annotate(err, "frame marshal")
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrFrameTooBig
	}
	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:FrameHeaderSize], uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)
	return buf, nil
}

// Decoder reads frames from a buffered stream. Payload bytes are always
// consumed before parsing so a malformed frame leaves the stream aligned
// on the next header.
type Decoder struct {
	buf bytes.Buffer
	r   *bufio.Reader
	max uint32
}

func (d *Decoder) Attach(r *bufio.Reader, max uint32) {
	d.max = max
	d.r = r
}

func (d *Decoder) Read() (*Envelope, error) {
	header, err := d.r.Peek(FrameHeaderSize)
	switch err {
	case nil:
	case io.EOF:
		if len(header) == 0 {
			return nil, err
		}
		return nil, errors.Annotate(io.ErrUnexpectedEOF, "header")
	default:
		return nil, errors.Annotate(err, "header")
	}

	frameLen := binary.BigEndian.Uint32(header)
	if frameLen > d.max {
		return nil, errors.Annotatef(ErrFrameTooBig, "length=%d max=%d", frameLen, d.max)
	}
	if _, err = d.r.Discard(FrameHeaderSize); err != nil {
		return nil, errors.Annotate(err, "discard")
	}

	d.buf.Reset()
	d.buf.Grow(int(frameLen))
	buf := d.buf.Bytes()[:frameLen]
	if _, err = io.ReadFull(d.r, buf); err != nil {
		return nil, errors.Annotate(err, "payload")
	}

	if !utf8.Valid(buf) {
		return nil, errors.Annotate(ErrFrameMalformed, "payload is not valid UTF-8")
	}
	e := new(Envelope)
	if err = json.Unmarshal(buf, e); err != nil {
		return nil, errors.Annotatef(ErrFrameMalformed, "json: %v", err)
	}
	return e, nil
}
