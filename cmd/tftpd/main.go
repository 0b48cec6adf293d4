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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/litao91/tftpd"
)

// fileHandle adapts an *os.File to tftpd.ReaderHandle, tftpd.WriterHandle
// and tftpd.Closer: ReadAt is already positioned I/O, and Write here is
// always a sequential append since DATA blocks for a wrq arrive in order.
type fileHandle struct {
	f *os.File
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	return h.f.ReadAt(p, off)
}

func (h *fileHandle) Write(p []byte) (int, error) {
	return h.f.Write(p)
}

func (h *fileHandle) Close() error {
	return h.f.Close()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := tftpd.DefaultOptions()
	var root string
	var metricsAddr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "tftpd",
		Short: "A read/write TFTP daemon serving a single directory root.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				l := logrus.New()
				l.SetLevel(logrus.DebugLevel)
				tftpd.SetLogger(l)
			}
			return run(opts, root, metricsAddr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Listen, "listen", opts.Listen, `listen address, "[scheme://]host[:port]"`)
	flags.IntVar(&opts.MaxConnections, "max-connections", opts.MaxConnections, "maximum concurrent transfers")
	flags.IntVar(&opts.Retries, "retries", opts.Retries, "retransmit budget per connection")
	flags.Float64Var(&opts.AdmissionRate, "admission-rate", opts.AdmissionRate, "new connections per second, 0 disables the limiter")
	flags.IntVar(&opts.AdmissionBurst, "admission-burst", opts.AdmissionBurst, "admission limiter burst size")
	flags.StringVar(&root, "root", ".", "directory served for rrq and accepting wrq")
	flags.StringVar(&metricsAddr, "metrics-listen", "", "if set, serve Prometheus metrics on this address")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}

func run(opts tftpd.Options, root, metricsAddr string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	srv := tftpd.NewServer(opts)

	srv.OnRRQ(func(c *tftpd.Connection) {
		path, ok := safeJoin(absRoot, c.File)
		if !ok {
			return
		}
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		f, err := os.Open(path)
		if err != nil {
			return
		}
		c.Handle = &fileHandle{f: f}
		c.Filesize = info.Size()
	})

	srv.OnWRQ(func(c *tftpd.Connection) {
		path, ok := safeJoin(absRoot, c.File)
		if !ok {
			return
		}
		if _, err := os.Stat(path); err == nil {
			c.SendError("file_exists", "file already exists")
			return
		}
		f, err := os.Create(path)
		if err != nil {
			return
		}
		c.Handle = &fileHandle{f: f}
	})

	srv.OnFinish(func(c *tftpd.Connection, errStr string) {
		entry := logrus.WithFields(logrus.Fields{
			"peer": c.Peer.String(),
			"file": c.File,
			"type": c.Type.String(),
		})
		if errStr == "" {
			entry.Info("transfer complete")
		} else {
			entry.WithField("error", errStr).Warn("transfer failed")
		}
	})

	srv.OnError(func(msg string) {
		logrus.Warn(msg)
	})

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := srv.RegisterMetrics(reg); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go http.ListenAndServe(metricsAddr, mux)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.Run(ctx)
}

// safeJoin confines a client-supplied filename to root, rejecting any
// path that would escape it via "..".
func safeJoin(root, name string) (string, bool) {
	clean := filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	joined := filepath.Join(root, clean)
	if !strings.HasPrefix(joined, root) {
		return "", false
	}
	return joined, true
}
