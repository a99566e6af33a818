// Copyright 2018 The Mangos Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// ipcecho is a drop-in workalike of the original echo server/client pair
// (server/echo.cpp, client/echo_c.cpp): --server listens on an address
// and echoes back every message it receives; --client connects and
// fires a burst of messages at it, checking each echo against what it
// sent.
package main

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/droundy/goopt"

	ipcerr "github.com/demetrix76/uvcomms4/errors"
	"github.com/demetrix76/uvcomms4/framing"
	"github.com/demetrix76/uvcomms4/log"
	"github.com/demetrix76/uvcomms4/piper"
)

var (
	runServer bool
	runClient bool
	address   string
	count     = 100
	verbose   bool
)

func init() {
	goopt.NoArg([]string{"--server", "-s"}, "Run the echo server", func() error {
		runServer = true
		return nil
	})
	goopt.NoArg([]string{"--client", "-c"}, "Run the echo client", func() error {
		runClient = true
		return nil
	})
	goopt.ReqArg([]string{"--addr", "-a"}, "PATH", "Pipe address to listen on or connect to",
		func(v string) error {
			address = v
			return nil
		})
	goopt.ReqArg([]string{"--count", "-n"}, "N", "Number of messages the client sends",
		func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			count = n
			return nil
		})
	goopt.NoArg([]string{"--verbose", "-v"}, "Log to stderr", func() error {
		verbose = true
		return nil
	})

	goopt.Description = func() string {
		return "ipcecho runs a length-prefixed IPC echo server or client."
	}
	goopt.Summary = "echo server/client for the piper IPC transport"
	goopt.Author = "uvcomms4"
}

func fatalf(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func main() {
	goopt.Parse(nil)

	if address == "" {
		fatalf("--addr is required")
	}
	if runServer == runClient {
		fatalf("exactly one of --server or --client is required")
	}

	var logger log.Logger = log.Discard{}
	if verbose {
		logger = log.Stderr{}
	}

	if runServer {
		runEchoServer(address, logger)
	} else {
		runEchoClient(address, count, logger)
	}
}

// echoServerDelegate mirrors echo.cpp's EchoServerDelegate: every
// complete message is written straight back to its sender.
type echoServerDelegate struct {
	server *piper.Piper
	log    log.Logger
}

func (d *echoServerDelegate) Startup(p *piper.Piper) error {
	d.server = p
	fmt.Println("[ipcecho server] started")
	return nil
}

func (d *echoServerDelegate) Shutdown() {
	fmt.Println("[ipcecho server] stopped")
}

func (d *echoServerDelegate) OnNewConnection(listener, pipe piper.Descriptor) {}

func (d *echoServerDelegate) OnPipeClosed(pipe piper.Descriptor, code int) {
	if code != 0 {
		d.log.Warnf("pipe %d closed with code %d", pipe, code)
	}
}

func (d *echoServerDelegate) OnMessage(pipe piper.Descriptor, c *framing.Collector) {
	msg, st := c.ExtractMessage()
	if st != framing.HasMessage {
		return
	}
	go func() {
		if err := d.server.Write(pipe, msg); err != nil {
			d.log.Warnf("echo write failed: %v", err)
		}
	}()
}

func runEchoServer(addr string, logger log.Logger) {
	d := &echoServerDelegate{log: logger}
	p, err := piper.New(d, piper.WithLogger(logger))
	if err != nil {
		fatalf("New: %v", err)
	}
	defer p.Close()

	if _, err := p.Listen(addr); err != nil {
		fatalf("Listen: %v", err)
	}

	fmt.Println("Hit Enter to stop")
	fmt.Fscanln(os.Stdin)
}

// echoClientDelegate mirrors echo_c.cpp's EchoClientDelegate: it sends a
// fixed-size burst of messages over one connection and verifies each
// echo matches what was sent, in order.
type echoClientDelegate struct {
	client *piper.Piper
	log    log.Logger

	mu       sync.Mutex
	expected []string

	sent, received atomic.Int64
	mismatches      atomic.Int64
	done            chan struct{}
}

func newEchoClientDelegate(logger log.Logger) *echoClientDelegate {
	return &echoClientDelegate{log: logger, done: make(chan struct{})}
}

func (d *echoClientDelegate) Startup(p *piper.Piper) error {
	d.client = p
	return nil
}

func (d *echoClientDelegate) Shutdown() {}

func (d *echoClientDelegate) OnNewConnection(listener, pipe piper.Descriptor) {}

func (d *echoClientDelegate) OnPipeClosed(pipe piper.Descriptor, code int) {
	close(d.done)
}

func (d *echoClientDelegate) OnMessage(pipe piper.Descriptor, c *framing.Collector) {
	msg, st := c.ExtractMessage()
	if st != framing.HasMessage {
		return
	}
	d.received.Add(1)

	d.mu.Lock()
	var want string
	if len(d.expected) > 0 {
		want, d.expected = d.expected[0], d.expected[1:]
	}
	d.mu.Unlock()

	if want != string(msg) {
		d.mismatches.Add(1)
		d.log.Errorf("echo mismatch: sent %q, got %q", want, msg)
		go func() { _ = d.client.ClosePipe(pipe, 0) }()
	}
}

func (d *echoClientDelegate) sendNext(pipe piper.Descriptor, remaining int) {
	if remaining <= 0 {
		go func() { _ = d.client.ClosePipe(pipe, 0) }()
		return
	}
	msg := fmt.Sprintf("ipcecho message %d", remaining)
	d.mu.Lock()
	d.expected = append(d.expected, msg)
	d.mu.Unlock()

	if err := d.client.Write(pipe, []byte(msg)); err != nil {
		d.log.Errorf("write failed: %v", err)
		go func() { _ = d.client.ClosePipe(pipe, 0) }()
		return
	}
	d.sent.Add(1)
	d.sendNext(pipe, remaining-1)
}

func runEchoClient(addr string, count int, logger log.Logger) {
	d := newEchoClientDelegate(logger)
	p, err := piper.New(d, piper.WithLogger(logger))
	if err != nil {
		fatalf("New: %v", err)
	}
	defer p.Close()

	pipe, err := p.DialWithRetry(addr)
	if err != nil {
		fatalf("Connect: %v", err)
	}

	d.sendNext(pipe, count)

	select {
	case <-d.done:
	case <-time.After(30 * time.Second):
		fatalf("timed out waiting for echo exchange to finish")
	}

	fmt.Printf("sent=%d received=%d mismatches=%d\n", d.sent.Load(), d.received.Load(), d.mismatches.Load())
	if d.mismatches.Load() != 0 {
		os.Exit(int(-ipcerr.CodeUnspecified))
	}
}
