package tftpd

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentPacket struct {
	addr net.Addr
	data []byte
	op   Opcode
}

type fakeSender struct {
	sent []sentPacket
}

func (f *fakeSender) sendTo(addr net.Addr, data []byte, op Opcode) error {
	f.sent = append(f.sent, sentPacket{addr: addr, data: data, op: op})
	return nil
}

func (f *fakeSender) last() sentPacket {
	return f.sent[len(f.sent)-1]
}

var testPeer net.Addr = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}

func newTestConnection(kind Kind, rfc OptionSet, sender *fakeSender) *Connection {
	opts := Options{Retries: 3, RetransmitTimeout: time.Second}
	c := newConnection(kind, "boot.img", "octet", testPeer, rfc, opts, sender)
	return c
}

func TestConnectionRRQExactMultipleOfBlockSize(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConnection(KindRRQ, nil, sender)
	c.Handle = bytes.NewReader([]byte("data")) // exactly one block

	c.negotiate(2)
	c.Blocksize = 4 // after negotiate, which resets it to the default
	res := c.start()
	assert.False(t, res.Terminal)

	data, err := Unmarshal(sender.last().data)
	require.NoError(t, err)
	d := data.(*DataPacket)
	assert.EqualValues(t, 1, d.Block)
	assert.Equal(t, []byte("data"), d.Payload)

	res = c.ReceiveAck(1)
	assert.False(t, res.Terminal)
	data, err = Unmarshal(sender.last().data)
	require.NoError(t, err)
	d = data.(*DataPacket)
	assert.EqualValues(t, 2, d.Block)
	assert.Empty(t, d.Payload)

	res = c.ReceiveAck(2)
	assert.True(t, res.Terminal)
	assert.Empty(t, res.Err)
}

func TestConnectionRRQShortFinalBlock(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConnection(KindRRQ, nil, sender)
	c.Blocksize = 8
	c.Handle = bytes.NewReader([]byte("hello")) // shorter than one block

	c.negotiate(2)
	res := c.start()
	assert.False(t, res.Terminal)

	res = c.ReceiveAck(1)
	assert.True(t, res.Terminal)
	assert.Empty(t, res.Err)
}

func TestConnectionRRQWithNegotiatedOptionSendsOackFirst(t *testing.T) {
	sender := &fakeSender{}
	rfc := OptionSet{{Name: "blksize", Value: "16"}}
	c := newTestConnection(KindRRQ, rfc, sender)
	c.Handle = bytes.NewReader([]byte("0123456789abcdef"))

	c.negotiate(2)
	res := c.start()
	assert.False(t, res.Terminal)
	assert.Equal(t, OpOACK, sender.last().op)

	res = c.ReceiveAck(0)
	assert.False(t, res.Terminal)
	data, err := Unmarshal(sender.last().data)
	require.NoError(t, err)
	d := data.(*DataPacket)
	assert.EqualValues(t, 1, d.Block)
}

func TestConnectionRRQReadErrorSendsFileNotFound(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConnection(KindRRQ, nil, sender)
	c.Handle = &failingReader{}

	c.negotiate(2)
	res := c.start()
	require.True(t, res.Terminal)
	assert.Contains(t, res.Err, "File not found")
	assert.Equal(t, OpERROR, sender.last().op)
}

type failingReader struct{}

func (f *failingReader) ReadAt(p []byte, off int64) (int, error) {
	return 0, assert.AnError
}

func TestConnectionWRQIngestShortFinalBlock(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConnection(KindWRQ, nil, sender)
	c.Blocksize = 8
	var buf bytes.Buffer
	c.Handle = &buf

	c.negotiate(2)
	res := c.start()
	assert.False(t, res.Terminal)
	assert.Equal(t, OpACK, sender.last().op)

	res = c.ReceiveData(1, []byte("short")) // < blocksize
	assert.True(t, res.Terminal)
	assert.Empty(t, res.Err)
	assert.Equal(t, "short", buf.String())
}

func TestConnectionWRQTsizeExceeded(t *testing.T) {
	sender := &fakeSender{}
	rfc := OptionSet{{Name: "tsize", Value: "4"}}
	c := newTestConnection(KindWRQ, rfc, sender)
	c.Blocksize = 8
	var buf bytes.Buffer
	c.Handle = &buf

	c.negotiate(2)
	require.True(t, c.HasFilesize)
	require.EqualValues(t, 4, c.Filesize)
	c.start()

	res := c.ReceiveData(1, []byte("toolong!"))
	require.True(t, res.Terminal)
	assert.Contains(t, res.Err, "Disk full")
	assert.Equal(t, 0, buf.Len())
}

func TestConnectionReceiveDataDuringRRQIsIllegal(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConnection(KindRRQ, nil, sender)
	c.Handle = bytes.NewReader([]byte("x"))
	c.negotiate(2)
	c.start()

	res := c.ReceiveData(1, []byte("x"))
	assert.True(t, res.Terminal)
	assert.Equal(t, OpERROR, sender.last().op)
}

func TestConnectionReceiveAckStaleDecrementsRetries(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConnection(KindRRQ, nil, sender)
	c.Blocksize = 4
	c.Handle = bytes.NewReader([]byte("0123456789"))
	c.negotiate(2)
	c.start() // sends block 1, retries still 3

	res := c.ReceiveAck(99) // stale/out of order
	assert.False(t, res.Terminal)
	assert.Equal(t, 2, c.Retries)
}

// chunkOnlyHandle implements ChunkHandle but deliberately not ReaderHandle,
// so attaching it exercises readHandleAt's ChunkHandle branch rather than
// the ReaderHandle one.
type chunkOnlyHandle struct {
	data []byte
}

func (h *chunkOnlyHandle) GetChunk(offset int64, length int) ([]byte, error) {
	if offset >= int64(len(h.data)) {
		return nil, nil
	}
	end := offset + int64(length)
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return h.data[offset:end], nil
}

func TestConnectionRRQWithChunkHandleServesShortFinalBlock(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConnection(KindRRQ, nil, sender)
	c.Blocksize = 8
	c.Handle = &chunkOnlyHandle{data: []byte("hello")} // shorter than one block

	c.negotiate(2)
	res := c.start()
	assert.False(t, res.Terminal)

	data, err := Unmarshal(sender.last().data)
	require.NoError(t, err)
	d := data.(*DataPacket)
	assert.EqualValues(t, 1, d.Block)
	assert.Equal(t, "hello", string(d.Payload))

	res = c.ReceiveAck(1)
	assert.True(t, res.Terminal)
	assert.Empty(t, res.Err)
}

func TestConnectionRetransmitResendsLastWireAndExhaustsRetries(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConnection(KindRRQ, nil, sender)
	c.Retries = 1
	c.Blocksize = 4
	c.Handle = bytes.NewReader([]byte("0123456789"))
	c.negotiate(2)
	c.start()
	firstSend := sender.last().data

	res := c.Retransmit()
	assert.False(t, res.Terminal)
	assert.Equal(t, firstSend, sender.last().data)

	res = c.Retransmit()
	assert.True(t, res.Terminal)
}
