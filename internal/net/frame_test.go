package sensornet

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"testing/iotest"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameBytes(t testing.TB, payload string) []byte {
	t.Helper()
	b := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(b, uint32(len(payload)))
	copy(b[FrameHeaderSize:], payload)
	return b
}

func newTestDecoder(input []byte, max uint32) *Decoder {
	d := new(Decoder)
	// one byte at a time to prove reads are exact regardless of chunking
	d.Attach(bufio.NewReader(iotest.OneByteReader(bytes.NewReader(input))), max)
	return d
}

func TestFrameMarshal(t *testing.T) {
	t.Parallel()
	b, err := FrameMarshal(NewCommand(CommandGetSensorData, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 42}, b[:FrameHeaderSize])
	assert.Equal(t, `{"type":"command","cmd":"get_sensor_data"}`, string(b[FrameHeaderSize:]))
}

func TestDecoderStream(t *testing.T) {
	t.Parallel()
	input := bytes.NewBuffer(nil)
	input.Write(frameBytes(t, `{"type":"command","cmd":"get_sensor_data"}`))
	input.Write(frameBytes(t, `{"type":"command","cmd":"set_sampling_rate","params":{"rate_ms":500}}`))
	d := newTestDecoder(input.Bytes(), DefaultReadLimit)

	e, err := d.Read()
	require.NoError(t, err)
	assert.Equal(t, CommandGetSensorData, e.Cmd)

	e, err = d.Read()
	require.NoError(t, err)
	assert.Equal(t, CommandSetSamplingRate, e.Cmd)
	require.NotNil(t, e.Params)
	require.NotNil(t, e.Params.RateMs)
	assert.Equal(t, int64(500), *e.Params.RateMs)

	_, err = d.Read()
	assert.Equal(t, io.EOF, err)
}

func TestDecoderMalformedKeepsAlignment(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		bad  []byte
	}{
		{"broken-json", frameBytes(t, `{"cmd":`)},
		{"empty-payload", frameBytes(t, ``)},
		{"not-utf8", append([]byte{0, 0, 0, 2}, 0xff, 0xfe)},
		{"json-array", frameBytes(t, `[1,2,3]`)},
		{"rate-not-number", frameBytes(t, `{"type":"command","cmd":"set_sampling_rate","params":{"rate_ms":"fast"}}`)},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			input := append(append([]byte(nil), c.bad...), frameBytes(t, `{"type":"command","cmd":"get_sensor_data"}`)...)
			d := newTestDecoder(input, DefaultReadLimit)

			_, err := d.Read()
			require.Error(t, err)
			assert.Equal(t, ErrFrameMalformed, errors.Cause(err), "err=%v", err)

			e, err := d.Read()
			require.NoError(t, err, "stream must stay aligned after malformed frame")
			assert.Equal(t, CommandGetSensorData, e.Cmd)
		})
	}
}

func TestDecoderFatal(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		d := newTestDecoder(nil, DefaultReadLimit)
		_, err := d.Read()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("short-header", func(t *testing.T) {
		t.Parallel()
		d := newTestDecoder([]byte{0, 0}, DefaultReadLimit)
		_, err := d.Read()
		require.Error(t, err)
		assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
	})

	t.Run("short-payload", func(t *testing.T) {
		t.Parallel()
		d := newTestDecoder([]byte{0, 0, 0, 10, '{', '}'}, DefaultReadLimit)
		_, err := d.Read()
		require.Error(t, err)
		assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
	})

	t.Run("too-big", func(t *testing.T) {
		t.Parallel()
		d := newTestDecoder(frameBytes(t, `{"type":"command","cmd":"get_sensor_data"}`), 16)
		_, err := d.Read()
		require.Error(t, err)
		assert.Equal(t, ErrFrameTooBig, errors.Cause(err))
	})
}
