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

package piper

import (
	"net"

	"github.com/demetrix76/uvcomms4/framing"
	"github.com/demetrix76/uvcomms4/internal/ospipe"
)

// writeJob is one queued Write/WriteAsync request, with its wire-format
// header already computed, waiting for its turn on the pipe's write
// queue (see (*Piper).pumpWrites in piper.go).
type writeJob struct {
	header  [framing.HeaderSize]byte
	payload []byte
	sink    *errSink
}

// pipe wraps one OS handle -- a connected net.Conn, or a listener --
// together with its framing buffer and at most one pending close-request
// (spec section 3's Pipe data model, section 4.2's Pipe object
// contract). All fields are touched only on the I/O loop goroutine.
type pipe struct {
	desc Descriptor

	isListener bool
	conn       net.Conn        // nil for listener pipes
	listener   ospipe.Listener // nil for connected pipes

	recvBufHint int
	collector   framing.Collector

	pendingClose *closeRequest

	closed bool

	// stopAccept signals the listener's accept loop to exit.
	stopAccept chan struct{}

	// writeQueue holds writes not yet handed to a write goroutine;
	// writing is true while one write goroutine is in flight. Together
	// they serialize writes on this pipe into submission order (spec
	// section 5: "writes on the same descriptor enqueued from a single
	// thread complete in submission order") without serializing writes
	// across different pipes.
	writeQueue []*writeJob
	writing    bool
}

func newConnPipe(desc Descriptor, conn net.Conn) *pipe {
	return &pipe{
		desc: desc,
		conn: conn,
	}
}

func newListenerPipe(desc Descriptor, l ospipe.Listener) *pipe {
	return &pipe{
		desc:       desc,
		isListener: true,
		listener:   l,
		stopAccept: make(chan struct{}),
	}
}

// setCloseRequest attaches req to this pipe. Returns false if a
// close-request is already attached, per spec section 4.2: "at most one
// pending close-request"; the caller must then complete the new request
// with Unsupported rather than racing to replace the slot.
func (p *pipe) setCloseRequest(req *closeRequest) bool {
	if p.pendingClose != nil {
		return false
	}
	p.pendingClose = req
	return true
}
