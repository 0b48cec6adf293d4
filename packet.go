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
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Opcode is the 2-byte big-endian value that begins every TFTP packet.
type Opcode uint16

// Opcodes defined by RFC 1350 and RFC 2347.
const (
	OpRRQ   Opcode = 1
	OpWRQ   Opcode = 2
	OpDATA  Opcode = 3
	OpACK   Opcode = 4
	OpERROR Opcode = 5
	OpOACK  Opcode = 6
)

var errShortPacket = errors.New("tftpd: packet too short")

// Packet is satisfied by every decoded wire packet type.
type Packet interface {
	Opcode() Opcode
}

// RequestPacket represents a decoded RRQ or WRQ.
type RequestPacket struct {
	Op       Opcode // OpRRQ or OpWRQ
	Filename string
	Mode     string
	Options  OptionSet
}

// Opcode implements Packet.
func (p *RequestPacket) Opcode() Opcode { return p.Op }

// DataPacket represents a decoded DATA packet.
type DataPacket struct {
	Block   uint16
	Payload []byte
}

// Opcode implements Packet.
func (p *DataPacket) Opcode() Opcode { return OpDATA }

// AckPacket represents a decoded ACK packet.
type AckPacket struct {
	Block uint16
}

// Opcode implements Packet.
func (p *AckPacket) Opcode() Opcode { return OpACK }

// OackPacket represents a decoded option-acknowledgment packet.
type OackPacket struct {
	Options OptionSet
}

// Opcode implements Packet.
func (p *OackPacket) Opcode() Opcode { return OpOACK }

// ErrorPacket represents a decoded ERROR packet. It implements the error
// interface so it can be returned and compared like any other Go error.
type ErrorPacket struct {
	Code    ErrorCode
	Message string
}

// Opcode implements Packet.
func (p *ErrorPacket) Opcode() Opcode { return OpERROR }

// Error implements the error interface.
func (p *ErrorPacket) Error() string {
	return p.Message
}

// Marshal encodes p into its wire representation.
func Marshal(p Packet) ([]byte, error) {
	buf := new(bytes.Buffer)
	switch v := p.(type) {
	case *RequestPacket:
		if err := binary.Write(buf, binary.BigEndian, v.Op); err != nil {
			return nil, err
		}
		buf.WriteString(v.Filename)
		buf.WriteByte(0)
		buf.WriteString(v.Mode)
		buf.WriteByte(0)
		for _, opt := range v.Options {
			buf.WriteString(opt.Name)
			buf.WriteByte(0)
			buf.WriteString(opt.Value)
			buf.WriteByte(0)
		}
	case *DataPacket:
		binary.Write(buf, binary.BigEndian, OpDATA)
		binary.Write(buf, binary.BigEndian, v.Block)
		buf.Write(v.Payload)
	case *AckPacket:
		binary.Write(buf, binary.BigEndian, OpACK)
		binary.Write(buf, binary.BigEndian, v.Block)
	case *ErrorPacket:
		binary.Write(buf, binary.BigEndian, OpERROR)
		binary.Write(buf, binary.BigEndian, uint16(v.Code))
		buf.WriteString(v.Message)
		buf.WriteByte(0)
	case *OackPacket:
		binary.Write(buf, binary.BigEndian, OpOACK)
		for _, opt := range v.Options {
			buf.WriteString(opt.Name)
			buf.WriteByte(0)
			buf.WriteString(opt.Value)
			buf.WriteByte(0)
		}
	default:
		return nil, errors.Errorf("tftpd: unknown packet type %T", p)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a raw datagram into one of the Packet types. Decoding
// is tolerant: extra trailing bytes on ACK/ERROR are ignored, and a
// missing option value yields an empty string rather than an error.
func Unmarshal(data []byte) (Packet, error) {
	if len(data) < 2 {
		return nil, errShortPacket
	}
	op := Opcode(binary.BigEndian.Uint16(data[:2]))
	rest := data[2:]

	switch op {
	case OpRRQ, OpWRQ:
		return unmarshalRequest(op, rest)
	case OpDATA:
		if len(rest) < 2 {
			return nil, errShortPacket
		}
		return &DataPacket{
			Block:   binary.BigEndian.Uint16(rest[:2]),
			Payload: append([]byte(nil), rest[2:]...),
		}, nil
	case OpACK:
		if len(rest) < 2 {
			return nil, errShortPacket
		}
		return &AckPacket{Block: binary.BigEndian.Uint16(rest[:2])}, nil
	case OpERROR:
		if len(rest) < 2 {
			return nil, errShortPacket
		}
		code := binary.BigEndian.Uint16(rest[:2])
		msg, _ := readCString(rest[2:])
		return &ErrorPacket{Code: ErrorCode(code), Message: msg}, nil
	case OpOACK:
		opts := parseOptionPairs(rest)
		return &OackPacket{Options: opts}, nil
	default:
		return nil, errors.Errorf("tftpd: unknown opcode %d", op)
	}
}

func unmarshalRequest(op Opcode, rest []byte) (*RequestPacket, error) {
	filename, n := readCString(rest)
	rest = rest[n:]
	mode, n := readCString(rest)
	rest = rest[n:]
	opts := parseOptionPairs(rest)
	return &RequestPacket{Op: op, Filename: filename, Mode: mode, Options: opts}, nil
}

// readCString reads a NUL-terminated string from b, returning the string
// (without the terminator) and the number of bytes consumed including the
// terminator. If b has no NUL byte, the whole of b is returned as the
// string and no terminator is counted, matching the tolerant-decode rule
// for a malformed or truncated field.
func readCString(b []byte) (string, int) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1
		}
	}
	return string(b), len(b)
}

// parseOptionPairs reads zero or more NUL-terminated name/value pairs. A
// trailing name with no value yields an empty-string value rather than
// an error.
func parseOptionPairs(b []byte) OptionSet {
	var opts OptionSet
	for len(b) > 0 {
		name, n := readCString(b)
		b = b[n:]
		if name == "" && len(b) == 0 {
			break
		}
		var value string
		if len(b) > 0 {
			value, n = readCString(b)
			b = b[n:]
		}
		opts = opts.Set(name, value)
	}
	return opts
}
