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
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const defaultTFTPPort = "69"

// resolveListenAddr parses the "[scheme://]host[:port]" listen grammar,
// with "*" meaning 0.0.0.0. A scheme present without an explicit port is
// resolved against the system service database; failing that, it falls
// back to port 69.
func resolveListenAddr(spec string) (string, error) {
	host, port, scheme, err := splitListenSpec(spec)
	if err != nil {
		return "", errors.Wrapf(err, "tftpd: invalid listen spec %q", spec)
	}

	if host == "*" || host == "" {
		host = "0.0.0.0"
	}

	if port == "" {
		if scheme != "" {
			if p, err := net.LookupPort("udp", scheme); err == nil {
				port = strconv.Itoa(p)
			}
		}
		if port == "" {
			port = defaultTFTPPort
		}
	}

	return net.JoinHostPort(host, port), nil
}

// splitListenSpec pulls apart "[scheme://]host[:port]" without the full
// generality (and import weight) of net/url, since a TFTP listen spec is
// never more than a scheme, host and port.
func splitListenSpec(spec string) (host, port, scheme string, err error) {
	rest := spec
	if idx := strings.Index(rest, "://"); idx != -1 {
		scheme = rest[:idx]
		rest = rest[idx+3:]
	}

	if rest == "*" {
		return "*", "", scheme, nil
	}

	h, p, splitErr := net.SplitHostPort(rest)
	if splitErr == nil {
		return h, p, scheme, nil
	}

	// No port present at all (SplitHostPort's error is ambiguous between
	// "missing port" and "malformed address"); treat the whole remainder
	// as a bare host, which is the common case for a listen spec.
	return rest, "", scheme, nil
}

