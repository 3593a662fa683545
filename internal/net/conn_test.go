package sensornet

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensord/log2"
)

func testConnPipe(t testing.TB) (*Conn, net.Conn) {
	near, far := net.Pipe()
	c := NewConn(near, ConnOptions{Log: log2.NewTest(t, log2.LDebug)})
	return c, far
}

func TestConnSend(t *testing.T) {
	t.Parallel()
	c, far := testConnPipe(t)
	defer c.Close()
	defer far.Close()

	type raw struct {
		payload []byte
		err     error
	}
	ch := make(chan raw, 1)
	go func() {
		header := make([]byte, FrameHeaderSize)
		if _, err := io.ReadFull(far, header); err != nil {
			ch <- raw{nil, err}
			return
		}
		payload := make([]byte, binary.BigEndian.Uint32(header))
		_, err := io.ReadFull(far, payload)
		ch <- raw{payload, err}
	}()

	require.NoError(t, c.Send(NewResponse(CommandSetSamplingRate, true, "Sampling rate set to 500ms")))
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		assert.Equal(t, `{"type":"response","cmd":"set_sampling_rate","success":true,"message":"Sampling rate set to 500ms"}`, string(r.payload))
	case <-time.After(5 * time.Second):
		t.Fatal("frame did not arrive")
	}
	assert.Equal(t, int64(1), c.Stat().Send.Frames.Value())
}

func TestConnReceive(t *testing.T) {
	t.Parallel()
	c, far := testConnPipe(t)
	defer c.Close()
	defer far.Close()

	go func() {
		_, _ = far.Write(frameBytes(t, `{"type":"command","cmd":"get_sensor_data"}`))
	}()
	e, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, CommandGetSensorData, e.Cmd)
	assert.Equal(t, int64(1), c.Stat().Recv.Frames.Value())
}

func TestConnReceiveMalformedRecoverable(t *testing.T) {
	t.Parallel()
	c, far := testConnPipe(t)
	defer c.Close()
	defer far.Close()

	go func() {
		_, _ = far.Write(frameBytes(t, `{"cmd":`))
		_, _ = far.Write(frameBytes(t, `{"type":"command","cmd":"get_sensor_data"}`))
	}()
	_, err := c.Receive()
	require.Error(t, err)
	assert.Equal(t, ErrFrameMalformed, errors.Cause(err))
	assert.False(t, c.Closed(), "malformed frame must not kill the connection")

	e, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, CommandGetSensorData, e.Cmd)
	assert.Equal(t, int64(1), c.Stat().Recv.Malformed.Value())
}

func TestConnRemoteClose(t *testing.T) {
	t.Parallel()
	c, far := testConnPipe(t)
	defer c.Close()

	go far.Close()
	_, err := c.Receive()
	require.Error(t, err)
	assert.True(t, closedError(err), "err=%v", err)
	assert.True(t, c.Closed())
}

func TestConnCloseIdempotent(t *testing.T) {
	t.Parallel()
	c, far := testConnPipe(t)
	defer far.Close()

	assert.Equal(t, ErrClosing, errors.Cause(c.Close()))
	assert.Equal(t, ErrClosing, errors.Cause(c.Close()))
	assert.True(t, c.Closed())

	_, err := c.Receive()
	assert.Equal(t, ErrClosing, errors.Cause(err))
	err = c.Send(NewCommand(CommandGetSensorData, nil))
	assert.Error(t, err)
}

func TestConnTCPReadLimit(t *testing.T) {
	t.Parallel()
	ll, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ll.Close()
	dialed, err := net.Dial("tcp", ll.Addr().String())
	require.NoError(t, err)
	defer dialed.Close()
	accepted, err := ll.Accept()
	require.NoError(t, err)

	c := NewConn(accepted, ConnOptions{Log: log2.NewTest(t, log2.LDebug), ReadLimit: 64})
	defer c.Close()

	// declared length over the limit, nothing else on the wire
	_, err = dialed.Write([]byte{0, 0, 1, 0})
	require.NoError(t, err)
	_, err = c.Receive()
	require.Error(t, err)
	assert.Equal(t, ErrFrameTooBig, errors.Cause(err))
	assert.True(t, c.Closed())

	// remote observes the close
	require.NoError(t, dialed.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := bufio.NewReader(dialed)
	_, err = buf.ReadByte()
	assert.Equal(t, io.EOF, err)
}
