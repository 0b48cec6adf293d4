/*
 * Copyright (c) 2013 author: LiTao
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions
 * are met:
 * 1. Redistributions of source code must retain the above copyright
 *    notice, this list of conditions and the following disclaimer.
 * 2. Redistributions in binary form must reproduce the above copyright
 *    notice, this list of conditions and the following disclaimer in the
 *    documentation and/or other materials provided with the distribution.
 * 3. All advertising materials mentioning features or use of this software
 *    must display the following acknowledgement:
 *	This product includes software developed by the University of
 *	California, Berkeley and its contributors.
 * 4. Neither the name of the University nor the names of its contributors
 *    may be used to endorse or promote products derived from this software
 *    without specific prior written permission.
 *
 * THIS SOFTWARE IS PROVIDED BY THE REGENTS AND CONTRIBUTORS ``AS IS'' AND
 * ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
 * IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
 * ARE DISCLAIMED.  IN NO EVENT SHALL THE REGENTS OR CONTRIBUTORS BE LIABLE
 * FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
 * DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS
 * OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
 * HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT
 * LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY
 * OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF
 * SUCH DAMAGE.
 */

package tftpd

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// datagram is a single inbound UDP read, handed from the reader goroutine
// to the dispatch loop.
type datagram struct {
	peer net.Addr
	data []byte
}

// timerFire marks that a connection's retransmit timer has expired. Like
// datagram, it flows into the single dispatch channel so the loop remains
// the sole mutator of the connection table.
type timerFire struct {
	peer       string
	generation uint64
}

// Server runs a single-socket TFTP reactor: one UDP socket, one
// connection table keyed by peer endpoint, and one goroutine that is the
// sole mutator of that table.
type Server struct {
	opts    Options
	events  eventBus
	metrics *metrics
	limiter *rate.Limiter

	conn net.PacketConn

	mu          sync.Mutex
	connections map[string]*serverConn

	incoming chan interface{}
	stopOnce sync.Once
	stop     chan struct{}
	group    *errgroup.Group
	ready    chan struct{}
}

// serverConn pairs a live Connection with its retransmit timer's
// generation counter, so a timer firing after the connection has already
// moved on (or been removed) is recognized as stale and ignored.
type serverConn struct {
	conn       *Connection
	generation uint64
	timer      *time.Timer
}

// NewServer constructs a Server. Call OnRRQ/OnWRQ to attach handles
// before calling Run.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:        opts,
		metrics:     newMetrics(),
		connections: make(map[string]*serverConn),
		incoming:    make(chan interface{}, 256),
		stop:        make(chan struct{}),
		ready:       make(chan struct{}),
	}
	if opts.AdmissionRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.AdmissionRate), opts.AdmissionBurst)
	}
	return s
}

// OnRRQ registers fn to attach a ReaderHandle/ChunkHandle (and optionally
// set Filesize) when a read request arrives.
func (s *Server) OnRRQ(fn func(*Connection)) { s.events.OnRRQ(fn) }

// OnWRQ registers fn to attach a WriterHandle when a write request arrives.
func (s *Server) OnWRQ(fn func(*Connection)) { s.events.OnWRQ(fn) }

// OnFinish registers fn to observe every connection's terminal outcome.
func (s *Server) OnFinish(fn func(*Connection, string)) { s.events.OnFinish(fn) }

// OnError registers fn to observe server-level problems not attributable
// to any single connection.
func (s *Server) OnError(fn func(string)) { s.events.OnError(fn) }

// RegisterMetrics adds the server's Prometheus collectors to reg, so the
// embedding application can expose them on its own registry.
func (s *Server) RegisterMetrics(reg prometheus.Registerer) error {
	return s.metrics.Register(reg)
}

// Addr blocks until the server has bound its socket (or ctx is done) and
// returns the address it bound. Primarily useful in tests that need to
// learn an ephemeral port.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		return s.conn.LocalAddr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run binds the configured listen address and drives the reactor until
// ctx is canceled or Stop is called. It blocks until shutdown completes.
func (s *Server) Run(ctx context.Context) error {
	addr, err := resolveListenAddr(s.opts.Listen)
	if err != nil {
		return err
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		err = errors.Wrapf(err, "tftpd: listen on %s", addr)
		s.events.emitError(err.Error())
		return err
	}
	s.conn = conn
	close(s.ready)
	log.WithField("addr", addr).Info("tftpd listening")

	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	group.Go(func() error {
		return s.readLoop(gctx)
	})
	group.Go(func() error {
		return s.dispatchLoop(gctx)
	})
	group.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.stop:
		}
		return s.shutdown()
	})

	return group.Wait()
}

// Stop requests an orderly shutdown; Run's caller should also cancel its
// context, but Stop lets a caller without a cancelable context still ask
// the reactor to exit.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Server) shutdown() error {
	s.Stop()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// readLoop is the only goroutine that calls ReadFrom; every datagram is
// forwarded to the dispatch loop so the connection table has a single
// writer.
func (s *Server) readLoop(ctx context.Context) error {
	buf := make([]byte, int(MaxBlockSize)+4)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		default:
		}

		n, peer, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.stop:
				return nil
			default:
			}
			s.events.emitError(errors.Wrap(err, "tftpd: read").Error())
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		select {
		case s.incoming <- datagram{peer: peer, data: data}:
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatchLoop is the sole mutator of s.connections: every table read
// and write happens here, never in the reader goroutine or a timer
// callback directly.
func (s *Server) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case ev := <-s.incoming:
			switch v := ev.(type) {
			case datagram:
				s.handleDatagram(v.peer, v.data)
			case timerFire:
				s.handleTimerFire(v.peer, v.generation)
			}
		}
	}
}

func (s *Server) handleDatagram(peer net.Addr, data []byte) {
	pkt, err := Unmarshal(data)
	if err != nil {
		s.events.emitError(errors.Wrapf(err, "tftpd: malformed packet from %s", peer).Error())
		return
	}
	if s.metrics != nil {
		s.metrics.packetsReceived.WithLabelValues(opcodeLabel(pkt.Opcode())).Inc()
	}

	key := peer.String()

	if req, ok := pkt.(*RequestPacket); ok {
		s.newRequest(peer, key, req)
		return
	}

	s.mu.Lock()
	sc, ok := s.connections[key]
	s.mu.Unlock()
	if !ok {
		// Unknown transfer ID: surfaced as a server-level event, not a
		// wire reply to the sender.
		s.events.emitError("tftpd: datagram from " + key + " matches no connection (unknown transfer ID)")
		return
	}

	var res stepResult
	switch v := pkt.(type) {
	case *AckPacket:
		res = sc.conn.ReceiveAck(v.Block)
	case *DataPacket:
		res = sc.conn.ReceiveData(v.Block, v.Payload)
	case *ErrorPacket:
		res = stepTerminal(v.Message)
	default:
		res = stepTerminal("Unknown opcode")
	}
	s.settle(key, sc, res)
}

// newRequest handles a fresh RRQ/WRQ: admission control, connection
// construction, handle attachment via the rrq/wrq event, option
// negotiation, and the connection's first transmitted packet.
func (s *Server) newRequest(peer net.Addr, key string, req *RequestPacket) {
	s.mu.Lock()
	_, exists := s.connections[key]
	count := len(s.connections)
	s.mu.Unlock()
	if exists {
		// A second request from a peer already in flight is treated as a
		// retransmitted request and silently dropped; the existing
		// connection's own retransmit timer is authoritative.
		return
	}

	kind := KindRRQ
	if req.Op == OpWRQ {
		kind = KindWRQ
	}

	if (kind == KindRRQ && !s.events.hasRRQ()) || (kind == KindWRQ && !s.events.hasWRQ()) {
		s.events.emitError("tftpd: Cannot handle " + kind.String() + " from " + key + ": no subscriber registered")
		return
	}
	// The admission limiter is additive policy layered in front of
	// max_connections; it drops silently, consistent with how
	// max_connections is handled below.
	if s.limiter != nil && !s.limiter.Allow() {
		s.events.emitError("tftpd: admission rate exceeded, dropping " + kind.String() + " from " + key)
		return
	}
	if count >= s.opts.MaxConnections {
		s.events.emitError("tftpd: Max connections reached, dropping " + kind.String() + " from " + key)
		return
	}

	conn := newConnection(kind, req.Filename, req.Mode, peer, req.Options, s.opts, s)

	if kind == KindRRQ {
		s.events.emitRRQ(conn)
	} else {
		s.events.emitWRQ(conn)
	}

	// Register before any possible termination below so settle's removal,
	// metrics, and finish event apply uniformly to every connection,
	// including one that never gets past handle attachment.
	sc := &serverConn{conn: conn}
	s.mu.Lock()
	s.connections[key] = sc
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.connectionsActive.Inc()
	}

	if conn.LastOp == OpERROR {
		// The rrq/wrq subscriber already terminated the connection with its
		// own SendError (e.g. file_exists on an existing wrq target);
		// the dispatcher's own fallback error below must not also fire.
		s.settle(key, sc, stepTerminal(conn.Err))
		return
	}
	if conn.Handle == nil {
		res := conn.SendError("file_not_found", "no handle attached")
		s.settle(key, sc, res)
		return
	}

	conn.negotiate(defaultTimeoutSeconds(s.opts.RetransmitTimeout))

	res := conn.start()
	s.settle(key, sc, res)
}

// settle applies a step's result: schedule the retransmit timer on
// continue, or remove the connection and emit finish on terminal.
func (s *Server) settle(key string, sc *serverConn, res stepResult) {
	if res.Terminal {
		s.removeConnection(key, sc)
		if s.metrics != nil {
			s.metrics.connectionsActive.Dec()
			if res.Err == "" {
				s.metrics.connectionsOK.Inc()
			} else {
				s.metrics.connectionsFailed.Inc()
			}
		}
		s.events.emitFinish(sc.conn, res.Err)
		closeHandle(sc.conn.Handle)
		return
	}
	s.armTimer(key, sc)
}

func (s *Server) armTimer(key string, sc *serverConn) {
	sc.generation++
	gen := sc.generation
	if sc.timer != nil {
		sc.timer.Stop()
	}
	d := sc.conn.Timeout
	sc.timer = time.AfterFunc(d, func() {
		select {
		case s.incoming <- timerFire{peer: key, generation: gen}:
		case <-s.stop:
		}
	})
}

func (s *Server) handleTimerFire(key string, generation uint64) {
	s.mu.Lock()
	sc, ok := s.connections[key]
	s.mu.Unlock()
	if !ok || sc.generation != generation {
		return // stale timer: connection moved on or was removed
	}
	if s.metrics != nil {
		s.metrics.retransmits.Inc()
	}
	res := sc.conn.Retransmit()
	s.settle(key, sc, res)
}

func (s *Server) removeConnection(key string, sc *serverConn) {
	if sc.timer != nil {
		sc.timer.Stop()
	}
	s.mu.Lock()
	delete(s.connections, key)
	s.mu.Unlock()
}

// defaultTimeoutSeconds floors RetransmitTimeout to whole seconds per RFC
// 2349's timeout option, with a 1 second minimum: a sub-second configured
// value would otherwise truncate to 0 and arm an immediately-firing timer.
func defaultTimeoutSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if secs < MinTimeout {
		return MinTimeout
	}
	return secs
}

// sendTo implements packetSender, letting every Connection write through
// the server's single shared socket.
func (s *Server) sendTo(addr net.Addr, data []byte, op Opcode) error {
	if s.metrics != nil {
		s.metrics.packetsSent.WithLabelValues(opcodeLabel(op)).Inc()
		if op == OpDATA {
			s.metrics.bytesServed.Add(float64(len(data)))
		}
	}
	_, err := s.conn.WriteTo(data, addr)
	return err
}
