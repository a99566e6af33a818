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

// ipcbridge exposes one connection to a piper listener as a WebSocket
// endpoint, the way transport/ws/ws.go exposes a mangos socket: each
// inbound WebSocket connection dials the target piper address and
// shuttles whole messages in both directions, so a browser-based
// inspector can watch (or drive) traffic on a local IPC pipe without
// speaking the framing protocol itself.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/droundy/goopt"
	"github.com/gorilla/websocket"

	"github.com/demetrix76/uvcomms4/framing"
	"github.com/demetrix76/uvcomms4/piper"
)

var (
	pipeAddr string
	httpAddr string
)

func init() {
	goopt.ReqArg([]string{"--pipe", "-p"}, "PATH", "piper address to bridge to",
		func(v string) error { pipeAddr = v; return nil })
	goopt.ReqArg([]string{"--listen", "-l"}, "HOST:PORT", "HTTP address to serve the WebSocket endpoint on",
		func(v string) error { httpAddr = v; return nil })

	goopt.Summary = "bridges one piper connection to a WebSocket endpoint"
	goopt.Author = "uvcomms4"
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bridgeDelegate hands every message the piper side receives to
// handleConn through outbound for writing onto the WebSocket, dropping
// messages while outbound is full; handleConn's reader goroutine carries
// WebSocket messages the other way.
type bridgeDelegate struct {
	client   *piper.Piper
	pipe     piper.Descriptor
	outbound chan []byte
	closed   chan int
}

func (d *bridgeDelegate) Startup(p *piper.Piper) error { d.client = p; return nil }
func (d *bridgeDelegate) Shutdown()                    {}

func (d *bridgeDelegate) OnNewConnection(listener, pipe piper.Descriptor) {}

func (d *bridgeDelegate) OnPipeClosed(pipe piper.Descriptor, code int) {
	select {
	case d.closed <- code:
	default:
	}
}

func (d *bridgeDelegate) OnMessage(pipe piper.Descriptor, c *framing.Collector) {
	for {
		msg, st := c.ExtractMessage()
		if st != framing.HasMessage {
			return
		}
		select {
		case d.outbound <- msg:
		default:
			// slow WebSocket reader: drop rather than block the loop
			// goroutine, matching wsPipe.Send's fire-and-forget stance
			// on a full send queue.
		}
	}
}

func handleConn(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	d := &bridgeDelegate{outbound: make(chan []byte, 64), closed: make(chan int, 1)}
	cli, err := piper.New(d)
	if err != nil {
		ws.WriteMessage(websocket.TextMessage, []byte("piper New failed: "+err.Error()))
		return
	}
	defer cli.Close()

	pipe, err := cli.Connect(pipeAddr)
	if err != nil {
		ws.WriteMessage(websocket.TextMessage, []byte("connect failed: "+err.Error()))
		return
	}
	d.pipe = pipe

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, body, err := ws.ReadMessage()
			if err != nil {
				_ = cli.ClosePipe(pipe, 0)
				return
			}
			if err := cli.Write(pipe, body); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-d.outbound:
			if err := ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-d.closed:
			return
		case <-done:
			return
		}
	}
}

func main() {
	goopt.Parse(nil)
	if pipeAddr == "" || httpAddr == "" {
		fmt.Fprintln(os.Stderr, "--pipe and --listen are both required")
		os.Exit(1)
	}

	http.HandleFunc("/bridge", handleConn)
	fmt.Printf("bridging %s <-> ws://%s/bridge\n", pipeAddr, httpAddr)
	if err := http.ListenAndServe(httpAddr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "ListenAndServe: %v\n", err)
		os.Exit(1)
	}
}
