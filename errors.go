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

import "fmt"

// ErrorCode is the 2-byte numeric code carried on the wire by an ERROR
// packet, per RFC 1350 section 5.
type ErrorCode uint16

// Error codes defined by RFC 1350.
const (
	ErrNotDefined          ErrorCode = 0
	ErrFileNotFound        ErrorCode = 1
	ErrAccessViolation     ErrorCode = 2
	ErrDiskFull            ErrorCode = 3
	ErrIllegalOperation    ErrorCode = 4
	ErrUnknownTransferID   ErrorCode = 5
	ErrFileAlreadyExists   ErrorCode = 6
	ErrNoSuchUser          ErrorCode = 7
)

type catalogueEntry struct {
	code    ErrorCode
	message string
}

// catalogue is the fixed table of symbolic error names to RFC 1350
// numeric code and default human string.
var catalogue = map[string]catalogueEntry{
	"not_defined":          {ErrNotDefined, "Not defined, see error message"},
	"unknown_opcode":       {ErrNotDefined, "Unknown opcode"},
	"no_connection":        {ErrNotDefined, "No connection"},
	"file_not_found":       {ErrFileNotFound, "File not found"},
	"access_violation":     {ErrAccessViolation, "Access violation"},
	"disk_full":            {ErrDiskFull, "Disk full or allocation exceeded"},
	"illegal_operation":    {ErrIllegalOperation, "Illegal TFTP operation"},
	"unknown_transfer_id":  {ErrUnknownTransferID, "Unknown transfer ID"},
	"file_exists":          {ErrFileAlreadyExists, "File already exists"},
	"no_such_user":         {ErrNoSuchUser, "No such user"},
}

// newErrorPacket builds an ErrorPacket from a catalogue name. If detail is
// non-empty it is appended to the catalogue's default message, letting a
// caller add context ("tsize exceeded", a wrapped I/O error) while keeping
// the default string for the common case.
func newErrorPacket(name, detail string) *ErrorPacket {
	entry, ok := catalogue[name]
	if !ok {
		entry = catalogue["not_defined"]
	}
	msg := entry.message
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", entry.message, detail)
	}
	return &ErrorPacket{Code: entry.code, Message: msg}
}
