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
	"strconv"
	"strings"
)

// Option names recognized per RFC 2347/2348/2349.
const (
	optBlockSize    = "blksize"
	optTimeout      = "timeout"
	optTransferSize = "tsize"
)

const (
	// DefaultBlockSize is the DATA payload size used absent a blksize option.
	DefaultBlockSize uint16 = 512
	// MinBlockSize and MaxBlockSize bound a negotiated blksize, per RFC 2348.
	MinBlockSize uint16 = 8
	MaxBlockSize uint16 = 65464

	// MinTimeout and MaxTimeout bound a negotiated timeout, per RFC 2349.
	MinTimeout = 1
	MaxTimeout = 255
)

// Option is a single name/value pair carried in a request or echoed in an
// OACK.
type Option struct {
	Name  string
	Value string
}

// OptionSet is an ordered option table: lowercased name to string value.
// Order is preserved from parse (or insertion) because RFC 2347 OACK
// replies are conventionally echoed in the order the client sent them.
type OptionSet []Option

// Get returns the value for name and whether it was present.
func (s OptionSet) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, opt := range s {
		if opt.Name == name {
			return opt.Value, true
		}
	}
	return "", false
}

// Set replaces name's value in place if it is present, otherwise appends
// name/value; it returns the resulting slice, which may share s's storage.
func (s OptionSet) Set(name, value string) OptionSet {
	name = strings.ToLower(name)
	for i, opt := range s {
		if opt.Name == name {
			s[i].Value = value
			return s
		}
	}
	return append(s, Option{Name: name, Value: value})
}

// negotiated is the outcome of applying a request's OptionSet against
// server defaults and the application-supplied file size, producing the
// OACK contents to echo back.
type negotiated struct {
	echo         OptionSet
	blockSize    uint16
	timeoutSecs  int
	transferSize int64 // upload cap advertised by a wrq client; 0 if absent
	tsizeWRQ     bool  // true if tsize was present in the original wrq
}

// negotiateOptions applies RFC 2348/2349 negotiation rules for blksize,
// timeout, and tsize. filesize is the byte length to echo for an rrq's
// tsize (0 and "unknown" are the same wire value); defaultTimeoutSecs is
// the server's configured retransmit timeout.
func negotiateOptions(req OptionSet, isRRQ bool, filesize int64, defaultTimeoutSecs int) negotiated {
	out := negotiated{blockSize: DefaultBlockSize, timeoutSecs: defaultTimeoutSecs}

	if v, ok := req.Get(optBlockSize); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			bs := clampBlockSize(n)
			out.blockSize = bs
			out.echo = out.echo.Set(optBlockSize, strconv.Itoa(int(bs)))
		}
	}

	if v, ok := req.Get(optTimeout); ok {
		n, err := strconv.Atoi(v)
		if err == nil && n >= MinTimeout && n <= MaxTimeout {
			out.timeoutSecs = n
			out.echo = out.echo.Set(optTimeout, strconv.Itoa(n))
		}
	}

	if v, ok := req.Get(optTransferSize); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			if isRRQ {
				out.echo = out.echo.Set(optTransferSize, strconv.FormatInt(filesize, 10))
			} else {
				out.transferSize = n
				out.tsizeWRQ = true
			}
		}
	}

	return out
}

// clampBlockSize enforces the blocksize invariant: blocksize in
// [MinBlockSize, MaxBlockSize].
func clampBlockSize(n int) uint16 {
	if n < int(MinBlockSize) {
		return MinBlockSize
	}
	if n > int(MaxBlockSize) {
		return MaxBlockSize
	}
	return uint16(n)
}
