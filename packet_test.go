package tftpd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRequest(t *testing.T) {
	req := &RequestPacket{
		Op:       OpRRQ,
		Filename: "boot.img",
		Mode:     "octet",
		Options:  OptionSet{{Name: "blksize", Value: "1024"}},
	}
	data, err := Marshal(req)
	require.NoError(t, err)

	pkt, err := Unmarshal(data)
	require.NoError(t, err)

	got, ok := pkt.(*RequestPacket)
	require.True(t, ok)
	assert.Equal(t, req.Op, got.Op)
	assert.Equal(t, req.Filename, got.Filename)
	assert.Equal(t, req.Mode, got.Mode)
	v, ok := got.Options.Get("blksize")
	assert.True(t, ok)
	assert.Equal(t, "1024", v)
}

func TestMarshalUnmarshalData(t *testing.T) {
	data, err := Marshal(&DataPacket{Block: 7, Payload: []byte("hello")})
	require.NoError(t, err)

	pkt, err := Unmarshal(data)
	require.NoError(t, err)
	got, ok := pkt.(*DataPacket)
	require.True(t, ok)
	assert.EqualValues(t, 7, got.Block)
	assert.Equal(t, []byte("hello"), got.Payload)
}

func TestMarshalUnmarshalAck(t *testing.T) {
	data, err := Marshal(&AckPacket{Block: 42})
	require.NoError(t, err)

	pkt, err := Unmarshal(data)
	require.NoError(t, err)
	got, ok := pkt.(*AckPacket)
	require.True(t, ok)
	assert.EqualValues(t, 42, got.Block)
}

func TestMarshalUnmarshalError(t *testing.T) {
	orig := newErrorPacket("file_not_found", "")
	data, err := Marshal(orig)
	require.NoError(t, err)

	pkt, err := Unmarshal(data)
	require.NoError(t, err)
	got, ok := pkt.(*ErrorPacket)
	require.True(t, ok)
	assert.Equal(t, ErrFileNotFound, got.Code)
	assert.Equal(t, "File not found", got.Message)
	assert.Equal(t, "File not found", got.Error())
}

func TestMarshalUnmarshalOack(t *testing.T) {
	oack := &OackPacket{Options: OptionSet{{Name: "tsize", Value: "1024"}}}
	data, err := Marshal(oack)
	require.NoError(t, err)

	pkt, err := Unmarshal(data)
	require.NoError(t, err)
	got, ok := pkt.(*OackPacket)
	require.True(t, ok)
	v, ok := got.Options.Get("tsize")
	assert.True(t, ok)
	assert.Equal(t, "1024", v)
}

func TestUnmarshalShortPacket(t *testing.T) {
	_, err := Unmarshal([]byte{0})
	assert.Error(t, err)

	_, err = Unmarshal(OpACK.bytes())
	assert.Error(t, err)
}

// bytes is a tiny test-only helper so TestUnmarshalShortPacket can build a
// truncated ACK without hand-rolling big-endian encoding twice.
func (o Opcode) bytes() []byte {
	return []byte{byte(o >> 8), byte(o)}
}

func TestUnmarshalTolerantOfMissingOptionValue(t *testing.T) {
	// "blksize\0" with no terminating value string at all.
	raw := []byte{0, byte(OpRRQ)}
	raw = append(raw, 'a', 0, 'o', 'c', 't', 'e', 't', 0)
	raw = append(raw, 'b', 'l', 'k', 's', 'i', 'z', 'e', 0)

	pkt, err := Unmarshal(raw)
	require.NoError(t, err)
	got, ok := pkt.(*RequestPacket)
	require.True(t, ok)
	v, ok := got.Options.Get("blksize")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestUnmarshalUnknownOpcode(t *testing.T) {
	_, err := Unmarshal([]byte{0, 99, 0, 0})
	assert.Error(t, err)
}
