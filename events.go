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

import "sync"

// eventBus is a minimal fan-out observer: each event name supports any
// number of subscribers, invoked in subscription order. Subscribers run
// on the dispatcher's single loop goroutine (see server.go), so they must
// not block.
type eventBus struct {
	mu     sync.Mutex
	rrq    []func(*Connection)
	wrq    []func(*Connection)
	finish []func(*Connection, string)
	errs   []func(string)
}

// OnRRQ registers fn to be called when a read request is accepted and a
// Connection has been constructed for it, before any handle is attached.
func (b *eventBus) OnRRQ(fn func(*Connection)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rrq = append(b.rrq, fn)
}

// OnWRQ registers fn to be called when a write request is accepted.
func (b *eventBus) OnWRQ(fn func(*Connection)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wrq = append(b.wrq, fn)
}

// OnFinish registers fn to be called exactly once per connection after
// termination. errStr is empty on success.
func (b *eventBus) OnFinish(fn func(conn *Connection, errStr string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finish = append(b.finish, fn)
}

// OnError registers fn to be called for server-level problems that are
// not attributable to a single connection (bind failure, capacity
// exhaustion, datagrams with no matching connection).
func (b *eventBus) OnError(fn func(message string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, fn)
}

func (b *eventBus) emitRRQ(c *Connection) {
	b.mu.Lock()
	subs := append([]func(*Connection){}, b.rrq...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

func (b *eventBus) emitWRQ(c *Connection) {
	b.mu.Lock()
	subs := append([]func(*Connection){}, b.wrq...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

func (b *eventBus) emitFinish(c *Connection, errStr string) {
	b.mu.Lock()
	subs := append([]func(*Connection, string){}, b.finish...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(c, errStr)
	}
}

func (b *eventBus) emitError(message string) {
	b.mu.Lock()
	subs := append([]func(string){}, b.errs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(message)
	}
}

func (b *eventBus) hasRRQ() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rrq) > 0
}

func (b *eventBus) hasWRQ() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.wrq) > 0
}
