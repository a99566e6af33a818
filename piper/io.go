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
	"errors"
	"net"
	"time"
)

// acceptEvent, readEvent and writeDoneEvent are the I/O-completion
// events fed back into the loop goroutine's mailbox by the per-pipe
// goroutines below. They play the role the library callbacks play in
// spec section 4.4's original design: all Delegate upcalls they trigger
// still happen on the single loop goroutine.
type acceptEvent struct {
	listenerDesc Descriptor
	conn         net.Conn
}

type readEvent struct {
	desc Descriptor
	data []byte
	err  error
}

type writeDoneEvent struct {
	desc Descriptor
	sink *errSink
	err  error
}

// acceptLoop mirrors internal/core/listener.go's (*listener).serve():
// spin accepting connections, debouncing briefly on transient errors,
// and returning quietly once the listener has been closed.
func acceptLoop(p *Piper, pp *pipe, desc Descriptor) {
	for {
		conn, err := pp.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-pp.stopAccept:
				return
			case <-p.stopCh:
				return
			case <-time.After(time.Second / 100):
			}
			continue
		}

		select {
		case p.mailbox <- acceptEvent{listenerDesc: desc, conn: conn}:
		case <-pp.stopAccept:
			conn.Close()
			return
		case <-p.stopCh:
			conn.Close()
			return
		}
	}
}

// startReadLoop spawns the per-pipe reader goroutine (the Go analogue of
// Pipe.read_start in spec section 4.2: probe-then-install-callbacks
// becomes probe-then-spawn-goroutine). Zero-byte reads are legal and are
// silently dropped, per spec section 6.
func (p *Piper) startReadLoop(pp *pipe) {
	go func() {
		buf := make([]byte, pp.recvBufHint)
		for {
			n, err := pp.conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				p.postEvent(readEvent{desc: pp.desc, data: data})
			}
			if err != nil {
				p.postEvent(readEvent{desc: pp.desc, err: err})
				return
			}
		}
	}()
}
