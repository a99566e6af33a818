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

// ipcstress is a standalone, full-scale run of the load scenario that
// piper/stress_test.go exercises at reduced size: a configurable number
// of worker clients, each opening a configurable number of connections,
// each exchanging a configurable number of messages with one echo
// server in the same process. It reports the same named counters the
// original test harness (test/echotest.h) asserted on.
package main

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/droundy/goopt"

	"github.com/demetrix76/uvcomms4/framing"
	"github.com/demetrix76/uvcomms4/piper"
)

var (
	addr                                          string
	workers, connsPerWorker, messagesPerConn      = 3, 3, 1000
)

func init() {
	goopt.ReqArg([]string{"--addr", "-a"}, "PATH", "Pipe address to use",
		func(v string) error { addr = v; return nil })
	goopt.ReqArg([]string{"--workers", "-w"}, "N", "Number of client workers",
		intFlag(&workers))
	goopt.ReqArg([]string{"--conns", "-c"}, "N", "Connections per worker",
		intFlag(&connsPerWorker))
	goopt.ReqArg([]string{"--messages", "-m"}, "N", "Messages per connection",
		intFlag(&messagesPerConn))

	goopt.Summary = "full-scale echo load generator for the piper IPC transport"
	goopt.Author = "uvcomms4"
}

func intFlag(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

// serverCounters mirrors echotest.h's EchoServerDelegate counters.
type serverCounters struct {
	newConnections      atomic.Int64
	closeCount          atomic.Int64
	closedWithError     atomic.Int64
	messagesReceived    atomic.Int64
	messagesSent        atomic.Int64
	writeErrors         atomic.Int64
}

type stressServerDelegate struct {
	server *piper.Piper
	counters serverCounters
}

func (d *stressServerDelegate) Startup(p *piper.Piper) error { d.server = p; return nil }
func (d *stressServerDelegate) Shutdown()                    {}

func (d *stressServerDelegate) OnNewConnection(listener, pipe piper.Descriptor) {
	d.counters.newConnections.Add(1)
}

func (d *stressServerDelegate) OnPipeClosed(pipe piper.Descriptor, code int) {
	d.counters.closeCount.Add(1)
	if code != 0 {
		d.counters.closedWithError.Add(1)
	}
}

func (d *stressServerDelegate) OnMessage(pipe piper.Descriptor, c *framing.Collector) {
	msg, st := c.ExtractMessage()
	if st != framing.HasMessage {
		return
	}
	d.counters.messagesReceived.Add(1)
	go func() {
		if err := d.server.Write(pipe, msg); err != nil {
			d.counters.writeErrors.Add(1)
		} else {
			d.counters.messagesSent.Add(1)
		}
	}()
}

// clientCounters mirrors echotest.h's EchoClientDelegate counters.
type clientCounters struct {
	newConnections      atomic.Int64
	closeCount          atomic.Int64
	closedWithError     atomic.Int64
	messagesReceived    atomic.Int64
	messagesSent        atomic.Int64
	writeErrors         atomic.Int64
	badMessages         atomic.Int64
	successfulConnects  atomic.Int64
}

type stressClientDelegate struct {
	client   *piper.Piper
	counters *clientCounters

	mu       sync.Mutex
	expected map[piper.Descriptor][]string
}

func newStressClientDelegate(counters *clientCounters) *stressClientDelegate {
	return &stressClientDelegate{counters: counters, expected: make(map[piper.Descriptor][]string)}
}

func (d *stressClientDelegate) Startup(p *piper.Piper) error { d.client = p; return nil }
func (d *stressClientDelegate) Shutdown()                    {}

func (d *stressClientDelegate) OnNewConnection(listener, pipe piper.Descriptor) {
	d.counters.newConnections.Add(1)
}

func (d *stressClientDelegate) OnPipeClosed(pipe piper.Descriptor, code int) {
	d.counters.closeCount.Add(1)
	if code != 0 {
		d.counters.closedWithError.Add(1)
	}
}

func (d *stressClientDelegate) OnMessage(pipe piper.Descriptor, c *framing.Collector) {
	msg, st := c.ExtractMessage()
	if st != framing.HasMessage {
		return
	}
	d.counters.messagesReceived.Add(1)

	d.mu.Lock()
	queue := d.expected[pipe]
	var want string
	if len(queue) > 0 {
		want, d.expected[pipe] = queue[0], queue[1:]
	}
	d.mu.Unlock()

	if want != string(msg) {
		d.counters.badMessages.Add(1)
		go func() { _ = d.client.ClosePipe(pipe, 0) }()
	}
}

// run drives one connection's full send/receive exchange, mirroring
// EchoClientDelegate::sendRandomMessage's recursive continuation chain
// (test/echotest.h) as a plain sequential loop.
func (d *stressClientDelegate) run(pipe piper.Descriptor, messageCount int) {
	for i := 0; i < messageCount; i++ {
		msg := fmt.Sprintf("stress message %d", i)
		d.mu.Lock()
		d.expected[pipe] = append(d.expected[pipe], msg)
		d.mu.Unlock()

		if err := d.client.Write(pipe, []byte(msg)); err != nil {
			d.counters.writeErrors.Add(1)
			break
		}
		d.counters.messagesSent.Add(1)
	}
	_ = d.client.ClosePipe(pipe, 0)
}

func main() {
	goopt.Parse(nil)
	if addr == "" {
		fmt.Fprintln(os.Stderr, "--addr is required")
		os.Exit(1)
	}

	srvDelegate := &stressServerDelegate{}
	srv, err := piper.New(srvDelegate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server New: %v\n", err)
		os.Exit(1)
	}
	defer srv.Close()

	if _, err := srv.Listen(addr); err != nil {
		fmt.Fprintf(os.Stderr, "server Listen: %v\n", err)
		os.Exit(1)
	}

	clientCounters := &clientCounters{}
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			d := newStressClientDelegate(clientCounters)
			cli, err := piper.New(d)
			if err != nil {
				fmt.Fprintf(os.Stderr, "client New: %v\n", err)
				return
			}
			defer cli.Close()

			var connWG sync.WaitGroup
			for c := 0; c < connsPerWorker; c++ {
				connWG.Add(1)
				go func() {
					defer connWG.Done()
					pipe, err := cli.DialWithRetry(addr)
					if err != nil {
						return
					}
					clientCounters.successfulConnects.Add(1)
					d.run(pipe, messagesPerConn)
				}()
			}
			connWG.Wait()
		}()
	}

	wg.Wait()
	// give the server a moment to finish draining in-flight echoes and
	// deliver the matching OnPipeClosed upcalls.
	time.Sleep(200 * time.Millisecond)

	totalConns := clientCounters.successfulConnects.Load()
	wantMessages := totalConns * int64(messagesPerConn)

	fmt.Printf("server: new_connections=%d close_count=%d closed_with_error=%d messages_received=%d messages_sent=%d write_errors=%d\n",
		srvDelegate.counters.newConnections.Load(),
		srvDelegate.counters.closeCount.Load(),
		srvDelegate.counters.closedWithError.Load(),
		srvDelegate.counters.messagesReceived.Load(),
		srvDelegate.counters.messagesSent.Load(),
		srvDelegate.counters.writeErrors.Load())

	fmt.Printf("client: successful_connections=%d close_count=%d closed_with_error=%d messages_received=%d messages_sent=%d write_errors=%d bad_messages=%d (want %d messages per side)\n",
		totalConns,
		clientCounters.closeCount.Load(),
		clientCounters.closedWithError.Load(),
		clientCounters.messagesReceived.Load(),
		clientCounters.messagesSent.Load(),
		clientCounters.writeErrors.Load(),
		clientCounters.badMessages.Load(),
		wantMessages)

	if clientCounters.badMessages.Load() != 0 || clientCounters.writeErrors.Load() != 0 {
		os.Exit(1)
	}
}
