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

import "github.com/pkg/errors"

var errNoReaderCapability = errors.New("tftpd: attached handle supports neither ReaderHandle nor ChunkHandle")

// ReaderHandle is the capability an application attaches during an rrq
// event for a random-access byte source: a positioned read of at most
// len(p) bytes at off, returning the actual bytes read.
type ReaderHandle interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// ChunkHandle is the alternative rrq capability for a streaming or asset
// abstraction that does not support positioned reads directly but can
// still serve an arbitrary (offset, length) window. Detected by a type
// assertion against the attached handle, not by concrete type.
type ChunkHandle interface {
	GetChunk(offset int64, length int) ([]byte, error)
}

// WriterHandle is the capability an application attaches during a wrq
// event: an append-write sink for inbound DATA payloads, in block order.
type WriterHandle interface {
	Write(p []byte) (n int, err error)
}

// Closer is an optional capability: if the attached handle implements it,
// the connection calls Close when the transfer ends, successfully or not.
type Closer interface {
	Close() error
}

// readHandleAt reads up to len(buf) bytes at off from handle, dispatching
// on whichever of ReaderHandle or ChunkHandle the application attached.
func readHandleAt(handle interface{}, buf []byte, off int64) (int, error) {
	switch h := handle.(type) {
	case ReaderHandle:
		return h.ReadAt(buf, off)
	case ChunkHandle:
		chunk, err := h.GetChunk(off, len(buf))
		if err != nil {
			return 0, err
		}
		n := copy(buf, chunk)
		return n, nil
	default:
		return 0, errNoReaderCapability
	}
}

func closeHandle(handle interface{}) {
	if c, ok := handle.(Closer); ok {
		_ = c.Close()
	}
}
