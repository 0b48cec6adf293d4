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

import "time"

// Options configures a Server. The zero value is not usable; call
// DefaultOptions and override fields as needed.
type Options struct {
	// Listen is a "[scheme://]host[:port]" address expression, e.g.
	// "udp://0.0.0.0:69", "*:69", or ":69".
	Listen string

	// MaxConnections is the hard cap on concurrent connections.
	MaxConnections int

	// Retries is the retransmit budget given to each new connection.
	Retries int

	// RetransmitTimeout is the per-connection idle/retransmit timeout
	// used absent a negotiated "timeout" option.
	RetransmitTimeout time.Duration

	// AdmissionRate and AdmissionBurst bound the rate of new RRQ/WRQ
	// admissions before MaxConnections is even consulted. Zero disables
	// the limiter (MaxConnections alone still applies).
	AdmissionRate  float64
	AdmissionBurst int
}

// DefaultOptions returns the stock configuration: listen ":69", 1000
// max connections, 3 retries, a 2 second retransmit timeout, and a
// generous default admission rate.
func DefaultOptions() Options {
	return Options{
		Listen:            ":69",
		MaxConnections:    1000,
		Retries:           3,
		RetransmitTimeout: 2 * time.Second,
		AdmissionRate:     500,
		AdmissionBurst:    100,
	}
}
