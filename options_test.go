package tftpd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateOptionsBlockSize(t *testing.T) {
	req := OptionSet{{Name: "blksize", Value: "1024"}}
	n := negotiateOptions(req, true, 0, 2)
	assert.EqualValues(t, 1024, n.blockSize)
	v, ok := n.echo.Get("blksize")
	assert.True(t, ok)
	assert.Equal(t, "1024", v)
}

func TestNegotiateOptionsBlockSizeClamped(t *testing.T) {
	req := OptionSet{{Name: "blksize", Value: "99999"}}
	n := negotiateOptions(req, true, 0, 2)
	assert.Equal(t, MaxBlockSize, n.blockSize)

	req = OptionSet{{Name: "blksize", Value: "1"}}
	n = negotiateOptions(req, true, 0, 2)
	assert.Equal(t, MinBlockSize, n.blockSize)
}

func TestNegotiateOptionsTimeoutOutOfRangeIgnored(t *testing.T) {
	req := OptionSet{{Name: "timeout", Value: "999"}}
	n := negotiateOptions(req, true, 0, 2)
	assert.Equal(t, 2, n.timeoutSecs)
	_, ok := n.echo.Get("timeout")
	assert.False(t, ok)
}

func TestNegotiateOptionsTsizeRRQEchoesFilesize(t *testing.T) {
	req := OptionSet{{Name: "tsize", Value: "0"}}
	n := negotiateOptions(req, true, 4096, 2)
	v, ok := n.echo.Get("tsize")
	assert.True(t, ok)
	assert.Equal(t, "4096", v)
}

func TestNegotiateOptionsTsizeWRQRecordsUploadCap(t *testing.T) {
	req := OptionSet{{Name: "tsize", Value: "2048"}}
	n := negotiateOptions(req, false, 0, 2)
	assert.True(t, n.tsizeWRQ)
	assert.EqualValues(t, 2048, n.transferSize)
}

func TestNegotiateOptionsNoOptionsNoEcho(t *testing.T) {
	n := negotiateOptions(nil, true, 0, 2)
	assert.Empty(t, n.echo)
	assert.Equal(t, DefaultBlockSize, n.blockSize)
}

func TestOptionSetGetSet(t *testing.T) {
	var s OptionSet
	s = s.Set("BlkSize", "512")
	v, ok := s.Get("blksize")
	assert.True(t, ok)
	assert.Equal(t, "512", v)

	s = s.Set("blksize", "1024")
	assert.Len(t, s, 1)
	v, _ = s.Get("blksize")
	assert.Equal(t, "1024", v)
}
