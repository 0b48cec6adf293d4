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

import "github.com/prometheus/client_golang/prometheus"

// metrics is the Prometheus instrumentation surface for a Server. It is
// additive: nothing in the connection state machine depends on it, and a
// Server created without registering it still runs correctly.
type metrics struct {
	connectionsActive prometheus.Gauge
	packetsSent       *prometheus.CounterVec
	packetsReceived   *prometheus.CounterVec
	retransmits       prometheus.Counter
	connectionsFailed prometheus.Counter
	connectionsOK     prometheus.Counter
	bytesServed       prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tftpd",
			Name:      "connections_active",
			Help:      "Number of TFTP connections currently in progress.",
		}),
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "packets_sent_total",
			Help:      "TFTP packets sent, by opcode.",
		}, []string{"opcode"}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "packets_received_total",
			Help:      "TFTP packets received, by opcode.",
		}, []string{"opcode"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "retransmits_total",
			Help:      "Retransmitted DATA/ACK/OACK packets.",
		}),
		connectionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "connections_failed_total",
			Help:      "Connections that finished with a non-empty error.",
		}),
		connectionsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "connections_succeeded_total",
			Help:      "Connections that finished successfully.",
		}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "bytes_transferred_total",
			Help:      "Bytes of DATA packets sent, 4-byte header included; received DATA is not counted.",
		}),
	}
}

// Register adds every collector to reg, so the caller's application can
// expose them on its own /metrics endpoint.
func (m *metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.connectionsActive, m.packetsSent, m.packetsReceived,
		m.retransmits, m.connectionsFailed, m.connectionsOK, m.bytesServed,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func opcodeLabel(op Opcode) string {
	switch op {
	case OpRRQ:
		return "rrq"
	case OpWRQ:
		return "wrq"
	case OpDATA:
		return "data"
	case OpACK:
		return "ack"
	case OpERROR:
		return "error"
	case OpOACK:
		return "oack"
	default:
		return "unknown"
	}
}
