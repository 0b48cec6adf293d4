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
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind distinguishes a read request (server-to-client) connection from a
// write request (client-to-server) connection.
type Kind uint8

const (
	KindRRQ Kind = iota
	KindWRQ
)

func (k Kind) String() string {
	if k == KindWRQ {
		return "wrq"
	}
	return "rrq"
}

// packetSender is the single shared UDP socket a Connection sends
// through; Server implements it. Keeping it as an interface lets tests
// substitute a recording fake without binding a real socket.
type packetSender interface {
	sendTo(addr net.Addr, data []byte, op Opcode) error
}

// stepResult is the outcome of a Connection state transition. A zero
// value means "continue"; Terminal means the connection has reached a
// terminal state and the dispatcher must remove it and emit finish.
type stepResult struct {
	Terminal bool
	Err      string // empty denotes success
}

var stepContinue = stepResult{}

func stepTerminal(errStr string) stepResult {
	return stepResult{Terminal: true, Err: errStr}
}

func stepSuccess() stepResult {
	return stepResult{Terminal: true, Err: ""}
}

// Connection is the per-peer transfer state machine. Exactly one exists
// per active transfer, keyed by Peer for its entire lifetime.
type Connection struct {
	ID   uuid.UUID
	Type Kind
	File string
	Mode string
	Peer net.Addr
	RFC  OptionSet

	// Handle is attached by the application during the rrq/wrq event. It
	// must satisfy ReaderHandle or ChunkHandle (rrq) or WriterHandle (wrq).
	Handle interface{}

	HasFilesize bool
	Filesize    int64

	Blocksize uint16
	Timeout   time.Duration
	Retries   int

	SequenceNumber uint16
	LastOp         Opcode
	Err            string

	hasLastSequenceNumber bool
	lastSequenceNumber    uint16

	echo     OptionSet
	lastWire []byte // last DATA/ACK/OACK payload sent, for Retransmit
	written  int64  // cumulative bytes ingested, for wrq tsize enforcement

	sender packetSender
	log    *logrus.Entry
}

func newConnection(kind Kind, file, mode string, peer net.Addr, rfc OptionSet, opts Options, sender packetSender) *Connection {
	id := uuid.New()
	c := &Connection{
		ID:        id,
		Type:      kind,
		File:      file,
		Mode:      mode,
		Peer:      peer,
		RFC:       rfc,
		Blocksize: DefaultBlockSize,
		Timeout:   opts.RetransmitTimeout,
		Retries:   opts.Retries,
		SequenceNumber: 1,
		sender:    sender,
	}
	c.log = log.WithFields(logrus.Fields{
		"peer": peer.String(),
		"id":   id.String(),
		"type": kind.String(),
		"file": file,
	})
	return c
}

// negotiate applies RFC 2347/2348/2349 option-negotiation rules. It
// must run after the rrq/wrq event so that an application-supplied
// Filesize is available to echo as tsize on an rrq.
func (c *Connection) negotiate(defaultTimeoutSecs int) {
	n := negotiateOptions(c.RFC, c.Type == KindRRQ, c.Filesize, defaultTimeoutSecs)
	c.Blocksize = n.blockSize
	c.Timeout = time.Duration(n.timeoutSecs) * time.Second
	c.echo = n.echo
	if c.Type == KindWRQ && n.tsizeWRQ {
		c.HasFilesize = true
		c.Filesize = n.transferSize
	}
}

func (c *Connection) hasNegotiatedOptions() bool {
	return len(c.echo) > 0
}

// start sends the connection's first wire packet: OACK if any option
// was negotiated, else DATA block 1 for an rrq or ACK(0) for a wrq.
func (c *Connection) start() stepResult {
	if c.hasNegotiatedOptions() {
		return c.SendOack()
	}
	if c.Type == KindRRQ {
		return c.sendNextData()
	}
	return c.SendAck(0)
}

// transmit marshals and sends p, remembering the wire bytes of anything
// retransmittable (everything but ERROR) so Retransmit can resend the
// exact same datagram.
func (c *Connection) transmit(p Packet) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if p.Opcode() != OpERROR {
		c.lastWire = data
	}
	return c.sender.sendTo(c.Peer, data, p.Opcode())
}

// SendOack transmits an OACK for the options negotiated so far.
func (c *Connection) SendOack() stepResult {
	if err := c.transmit(&OackPacket{Options: c.echo}); err != nil {
		c.log.WithError(err).Warn("send OACK failed")
	}
	c.LastOp = OpOACK
	return stepContinue
}

// SendAck transmits an ACK for block.
func (c *Connection) SendAck(block uint16) stepResult {
	if err := c.transmit(&AckPacket{Block: block}); err != nil {
		c.log.WithError(err).Warn("send ACK failed")
	}
	c.LastOp = OpACK
	return stepContinue
}

// SendError transmits an ERROR built from the catalogue entry name, with
// an optional detail appended, and terminates the connection. ERROR
// packets are fire-and-forget: no further transitions occur.
func (c *Connection) SendError(name, detail string) stepResult {
	pkt := newErrorPacket(name, detail)
	if err := c.transmit(pkt); err != nil {
		c.log.WithError(err).Warn("send ERROR failed")
	}
	c.LastOp = OpERROR
	c.Err = pkt.Message
	return stepTerminal(pkt.Message)
}

// sendNextData reads and sends the DATA block for c.SequenceNumber.
func (c *Connection) sendNextData() stepResult {
	buf := make([]byte, c.Blocksize)
	off := int64(c.SequenceNumber-1) * int64(c.Blocksize)
	n, err := readHandleAt(c.Handle, buf, off)
	if err != nil && err != io.EOF {
		return c.SendError("file_not_found", err.Error())
	}
	if n < int(c.Blocksize) {
		c.hasLastSequenceNumber = true
		c.lastSequenceNumber = c.SequenceNumber
	}
	if err := c.transmit(&DataPacket{Block: c.SequenceNumber, Payload: buf[:n]}); err != nil {
		c.log.WithError(err).Warn("send DATA failed")
	}
	c.LastOp = OpDATA
	return stepContinue
}

// ReceiveAck implements the RRQ ACK transitions.
func (c *Connection) ReceiveAck(n uint16) stepResult {
	if c.Type != KindRRQ {
		return c.SendError("illegal_operation", "unexpected ACK during wrq")
	}
	if c.hasLastSequenceNumber && n == c.lastSequenceNumber {
		return stepSuccess()
	}
	if n == c.SequenceNumber {
		c.SequenceNumber++
		return c.sendNextData()
	}
	if n == 0 && c.LastOp == OpOACK {
		return c.sendNextData()
	}
	return c.decrementRetries()
}

// ReceiveData implements the WRQ DATA transitions.
func (c *Connection) ReceiveData(n uint16, payload []byte) stepResult {
	if c.Type != KindWRQ {
		return c.SendError("illegal_operation", "unexpected DATA during rrq")
	}
	if n != c.SequenceNumber {
		return c.decrementRetries()
	}

	if c.HasFilesize && c.written+int64(len(payload)) > c.Filesize {
		return c.SendError("disk_full", "tsize exceeded")
	}

	writer, ok := c.Handle.(WriterHandle)
	if !ok {
		return c.SendError("illegal_operation", "attached handle is not writable")
	}
	wn, err := writer.Write(payload)
	if err != nil {
		return c.SendError("illegal_operation", fmt.Sprintf("Write: %s", err))
	}
	c.written += int64(wn)

	short := len(payload) < int(c.Blocksize)
	if short {
		c.hasLastSequenceNumber = true
		c.lastSequenceNumber = n
	}
	c.SequenceNumber++
	c.SendAck(n)

	if short {
		return stepSuccess()
	}
	return stepContinue
}

// Retransmit resends the most recent DATA, ACK, or OACK (whichever
// matches LastOp) and decrements the retry budget.
func (c *Connection) Retransmit() stepResult {
	if res := c.decrementRetries(); res.Terminal {
		return res
	}
	if c.LastOp == OpERROR || c.lastWire == nil {
		return stepTerminal("nothing to retransmit")
	}
	if err := c.sender.sendTo(c.Peer, c.lastWire, c.LastOp); err != nil {
		c.log.WithError(err).Warn("retransmit failed")
	}
	return stepContinue
}

// decrementRetries implements the shared "stale packet" / "timer fired
// without progress" accounting: retries never goes below zero while the
// connection is live; crossing that boundary terminates the connection.
func (c *Connection) decrementRetries() stepResult {
	c.Retries--
	if c.Retries < 0 {
		return stepTerminal("retry budget exhausted")
	}
	return stepContinue
}
