package tftpd

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, opts Options) (*Server, net.Addr) {
	t.Helper()
	if opts.Listen == "" {
		opts.Listen = "127.0.0.1:0"
	}
	if opts.Retries == 0 {
		opts.Retries = 3
	}
	if opts.RetransmitTimeout == 0 {
		// Retransmit timeouts are negotiated in whole seconds (RFC 2349);
		// defaultTimeoutSeconds floors the configured Duration to whole
		// seconds, so keep the test default a whole number of seconds.
		opts.RetransmitTimeout = 2 * time.Second
	}
	if opts.MaxConnections == 0 {
		opts.MaxConnections = 10
	}
	srv := NewServer(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	addrCtx, addrCancel := context.WithTimeout(context.Background(), time.Second)
	defer addrCancel()
	addr, err := srv.Addr(addrCtx)
	require.NoError(t, err)
	return srv, addr
}

func TestServerRRQEndToEnd(t *testing.T) {
	srv, addr := startTestServer(t, Options{})
	srv.OnRRQ(func(c *Connection) {
		c.Handle = bytes.NewReader([]byte("hello world"))
		c.Filesize = 11
	})

	finished := make(chan string, 1)
	srv.OnFinish(func(c *Connection, errStr string) { finished <- errStr })

	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	req, err := Marshal(&RequestPacket{Op: OpRRQ, Filename: "boot.img", Mode: "octet"})
	require.NoError(t, err)
	_, err = client.WriteTo(req, addr)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, peer, err := client.ReadFrom(buf)
	require.NoError(t, err)

	pkt, err := Unmarshal(buf[:n])
	require.NoError(t, err)
	data, ok := pkt.(*DataPacket)
	require.True(t, ok)
	require.EqualValues(t, 1, data.Block)
	require.Equal(t, "hello world", string(data.Payload))

	ack, err := Marshal(&AckPacket{Block: 1})
	require.NoError(t, err)
	_, err = client.WriteTo(ack, peer)
	require.NoError(t, err)

	select {
	case errStr := <-finished:
		require.Empty(t, errStr)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finish event")
	}
}

func TestServerUnknownTransferIDEmitsServerErrorWithoutReply(t *testing.T) {
	srv, addr := startTestServer(t, Options{})

	serverErrs := make(chan string, 1)
	srv.OnError(func(msg string) {
		select {
		case serverErrs <- msg:
		default:
		}
	})

	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	ack, err := Marshal(&AckPacket{Block: 1})
	require.NoError(t, err)
	_, err = client.WriteTo(ack, addr)
	require.NoError(t, err)

	select {
	case msg := <-serverErrs:
		require.Contains(t, msg, "unknown transfer ID")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server error event")
	}

	// No reply datagram should arrive for an unknown transfer ID.
	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err = client.ReadFrom(buf)
	require.Error(t, err)
}

func TestServerNewRequestWithoutSubscriberEmitsCannotHandle(t *testing.T) {
	srv, addr := startTestServer(t, Options{})

	serverErrs := make(chan string, 1)
	srv.OnError(func(msg string) {
		select {
		case serverErrs <- msg:
		default:
		}
	})
	// Deliberately no OnRRQ/OnWRQ subscriber registered.

	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	req, err := Marshal(&RequestPacket{Op: OpRRQ, Filename: "boot.img", Mode: "octet"})
	require.NoError(t, err)
	_, err = client.WriteTo(req, addr)
	require.NoError(t, err)

	select {
	case msg := <-serverErrs:
		require.Contains(t, msg, "Cannot handle")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server error event")
	}
}
