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
	"sync"

	ipcerr "github.com/demetrix76/uvcomms4/errors"
)

// pipeResult is the (descriptor, code) tuple spec section 4.3 specifies
// for listen/connect completions, expressed the Go way as a descriptor
// plus an error.
type pipeResult struct {
	Desc Descriptor
	Err  error
}

// pipeSink is the completion sink for listen/connect requests: either a
// channel (future form) or a callback (callback form). It is invoked
// exactly once, per spec section 3's Request invariant.
type pipeSink struct {
	once sync.Once
	ch   chan pipeResult
	cb   func(Descriptor, error)
}

func newPipeFuture() (*pipeSink, chan pipeResult) {
	ch := make(chan pipeResult, 1)
	return &pipeSink{ch: ch}, ch
}

func newPipeCallback(cb func(Descriptor, error)) *pipeSink {
	return &pipeSink{cb: cb}
}

func (s *pipeSink) complete(desc Descriptor, err error) {
	s.once.Do(func() {
		if s.ch != nil {
			s.ch <- pipeResult{Desc: desc, Err: err}
			close(s.ch)
		}
		if s.cb != nil {
			s.cb(desc, err)
		}
	})
}

// errSink is the completion sink for write/close requests, which
// complete with just an error (spec section 4.3's integer code,
// expressed as a Go error).
type errSink struct {
	once sync.Once
	ch   chan error
	cb   func(error)
}

func newErrFuture() (*errSink, chan error) {
	ch := make(chan error, 1)
	return &errSink{ch: ch}, ch
}

func newErrCallback(cb func(error)) *errSink {
	return &errSink{cb: cb}
}

func (s *errSink) complete(err error) {
	s.once.Do(func() {
		if s.ch != nil {
			s.ch <- err
			close(s.ch)
		}
		if s.cb != nil {
			s.cb(err)
		}
	})
}

// request is the tagged-variant Request object of spec section 3/4.3.
// Each concrete kind below dispatches to its own handler method on the
// loop goroutine; abort() is called on every still-queued request when
// the Piper is shutting down (spec section 4.3: "Cancellation").
type request interface {
	dispatch(p *Piper)
	abort()
}

type listenRequest struct {
	addr string
	sink *pipeSink
}

func (r *listenRequest) dispatch(p *Piper) { p.handleListen(r) }
func (r *listenRequest) abort()            { r.sink.complete(0, ipcerr.ErrCancelled) }

type connectRequest struct {
	addr string
	sink *pipeSink
}

func (r *connectRequest) dispatch(p *Piper) { p.handleConnect(r) }
func (r *connectRequest) abort()            { r.sink.complete(0, ipcerr.ErrCancelled) }

type writeRequest struct {
	desc    Descriptor
	payload []byte
	sink    *errSink
}

func (r *writeRequest) dispatch(p *Piper) { p.handleWrite(r) }
func (r *writeRequest) abort()            { r.sink.complete(ipcerr.ErrCancelled) }

type closeRequest struct {
	desc   Descriptor
	reason int
	sink   *errSink
}

func (r *closeRequest) dispatch(p *Piper) { p.handleClose(r) }
func (r *closeRequest) abort()            { r.sink.complete(ipcerr.ErrCancelled) }
