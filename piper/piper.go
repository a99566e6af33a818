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

// Package piper implements the Piper: a single reusable component that
// hosts both the listening and connecting roles of the length-prefixed,
// point-to-point local IPC transport on one dedicated I/O goroutine.
// User code on any other goroutine talks to it through a lock-protected
// (channel-backed) request queue and a Delegate.
package piper

import (
	"errors"
	"io"
	"net"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	ipcerr "github.com/demetrix76/uvcomms4/errors"
	"github.com/demetrix76/uvcomms4/framing"
	"github.com/demetrix76/uvcomms4/internal/ospipe"
)

// processSetup runs the process-wide platform setup the original
// performs once in main() (configure_signals(), fd-limit raise) --
// idempotent across any number of Pipers created in one process.
var processSetup sync.Once

func doProcessSetup() {
	processSetup.Do(func() {
		ospipe.MaskSigpipe()
		_ = ospipe.RaiseFDLimit()
	})
}

// Piper owns the I/O loop goroutine, the descriptor table, and the
// cross-goroutine request mailbox. It hosts both the listener and
// dialer roles for any number of pipes simultaneously.
type Piper struct {
	delegate Delegate
	opts     options

	mailbox chan interface{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	// loopGoroutine identifies the I/O loop's goroutine, used to reject
	// future-returning API calls made from inside a Delegate callback
	// (spec section 5's thread-affinity contract: "must not be called
	// from the I/O thread; they would deadlock on the future").
	loopGoroutine atomic.Uint64

	// I/O-loop-exclusive state; never touched from any other goroutine.
	table      map[Descriptor]*pipe
	nextDesc   Descriptor
}

// New constructs a Piper, starts its I/O loop goroutine, and calls
// delegate.Startup on the calling goroutine once the loop is running. If
// Startup returns an error, the loop is stopped and joined, and the
// error is returned (spec section 4.4: "Construction").
func New(delegate Delegate, opts ...Option) (*Piper, error) {
	doProcessSetup()

	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	p := &Piper{
		delegate: delegate,
		opts:     o,
		mailbox:  make(chan interface{}, 256),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		table:    make(map[Descriptor]*pipe),
		nextDesc: 1,
	}

	ready := make(chan struct{})
	go p.loop(ready)
	<-ready

	if err := delegate.Startup(p); err != nil {
		p.requestStop()
		<-p.doneCh
		return nil, err
	}
	return p, nil
}

// Close shuts the Piper down: calls delegate.Shutdown on the calling
// goroutine, then signals the I/O loop to stop and joins it. Any pipes
// still open are closed by the loop before it exits, each firing a final
// OnPipeClosed with ConnectionAborted if not already closed gracefully
// (spec section 4.4: "Destruction").
func (p *Piper) Close() error {
	p.delegate.Shutdown()
	p.requestStop()
	<-p.doneCh
	return nil
}

func (p *Piper) requestStop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

func (p *Piper) nextDescriptor() Descriptor {
	d := p.nextDesc
	p.nextDesc++
	return d
}

// loop is the I/O loop goroutine body (spec section 4.4: "Main loop").
func (p *Piper) loop(ready chan struct{}) {
	p.loopGoroutine.Store(currentGoroutineID())
	close(ready)

	for {
		select {
		case <-p.stopCh:
			p.drainAndAbort()
			p.closeAllPipes()
			close(p.doneCh)
			return
		case m := <-p.mailbox:
			p.dispatch(m)
		}
	}
}

func (p *Piper) dispatch(m interface{}) {
	switch v := m.(type) {
	case request:
		v.dispatch(p)
	case acceptEvent:
		p.onAccept(v)
	case readEvent:
		p.onRead(v)
	case writeDoneEvent:
		p.onWriteDone(v)
	}
}

// drainAndAbort completes every still-queued request with Cancelled
// (spec section 4.3: "Cancellation") before the loop exits. Non-request
// mailbox entries (stray I/O events racing the stop signal) are simply
// discarded.
func (p *Piper) drainAndAbort() {
	for {
		select {
		case m := <-p.mailbox:
			if r, ok := m.(request); ok {
				r.abort()
			}
		default:
			return
		}
	}
}

// closeAllPipes tears down every pipe still registered when the loop is
// stopping (spec section 4.4: "Destruction").
func (p *Piper) closeAllPipes() {
	for _, pp := range p.table {
		p.teardownPipe(pp, ipcerr.CodeConnectionAborted)
	}
}

//==============================================================================
// Request handlers (I/O loop goroutine only)
//==============================================================================

func (p *Piper) handleListen(r *listenRequest) {
	// Mirrors the original's ensure_socket_directory_exists +
	// delete_socket_file, run once per bind attempt right before it; both
	// are no-ops on Windows, where named pipes live outside the
	// filesystem (internal/ospipe/setup_windows.go).
	if err := ospipe.EnsureSocketDirectory(filepath.Dir(r.addr)); err != nil {
		p.opts.logger.Warnf("listen %s: could not ensure socket directory: %v", r.addr, err)
	}
	if err := ospipe.DeleteStaleSocket(r.addr); err != nil {
		p.opts.logger.Warnf("listen %s: could not remove stale socket: %v", r.addr, err)
	}

	l, err := ospipe.Listen(r.addr, p.opts.listenerOptions())
	if err != nil {
		r.sink.complete(0, err)
		return
	}
	desc := p.nextDescriptor()
	pp := newListenerPipe(desc, l)
	p.table[desc] = pp

	go acceptLoop(p, pp, desc)

	r.sink.complete(desc, nil)
}

func (p *Piper) handleConnect(r *connectRequest) {
	conn, err := ospipe.Dial(r.addr)
	if err != nil {
		r.sink.complete(0, err)
		return
	}
	desc := p.nextDescriptor()
	pp := newConnPipe(desc, conn)
	pp.recvBufHint = ospipe.ProbeRecvBuffer(conn)
	p.table[desc] = pp

	p.startReadLoop(pp)

	r.sink.complete(desc, nil)
}

// handleWrite enqueues a write on its pipe's writeQueue rather than
// firing its own goroutine directly: two writes on the same descriptor
// submitted in order must reach the socket in that order (spec section
// 5), but a goroutine-per-write design gives no such guarantee between
// two independently scheduled goroutines. pumpWrites below ensures at
// most one write goroutine is ever in flight per pipe at a time.
func (p *Piper) handleWrite(r *writeRequest) {
	pp, ok := p.table[r.desc]
	if !ok {
		r.sink.complete(ipcerr.ErrNotConnected)
		return
	}
	if pp.isListener {
		r.sink.complete(ipcerr.ErrUnsupported)
		return
	}

	job := &writeJob{
		header:  framing.PackHeader(len(r.payload)),
		payload: r.payload,
		sink:    r.sink,
	}
	pp.writeQueue = append(pp.writeQueue, job)
	p.pumpWrites(pp)
}

// pumpWrites starts a write goroutine for the next queued job on pp, if
// none is already in flight. It is called after a job is enqueued and
// again from onWriteDone once the in-flight write completes, so the
// queue drains one job at a time, in order.
func (p *Piper) pumpWrites(pp *pipe) {
	if pp.writing || len(pp.writeQueue) == 0 {
		return
	}
	job := pp.writeQueue[0]
	pp.writeQueue = pp.writeQueue[1:]
	pp.writing = true

	conn, desc := pp.conn, pp.desc
	go func() {
		buffers := net.Buffers{append([]byte(nil), job.header[:]...), job.payload}
		_, err := buffers.WriteTo(conn)
		p.postEvent(writeDoneEvent{desc: desc, sink: job.sink, err: err})
	}()
}

func (p *Piper) handleClose(r *closeRequest) {
	pp, ok := p.table[r.desc]
	if !ok {
		r.sink.complete(ipcerr.ErrNotConnected)
		return
	}
	if !pp.setCloseRequest(r) {
		r.sink.complete(ipcerr.ErrUnsupported)
		return
	}
	p.teardownPipe(pp, r.reason)
}

//==============================================================================
// I/O event handlers (I/O loop goroutine only)
//==============================================================================

func (p *Piper) onAccept(ev acceptEvent) {
	desc := p.nextDescriptor()
	pp := newConnPipe(desc, ev.conn)
	pp.recvBufHint = ospipe.ProbeRecvBuffer(ev.conn)
	p.table[desc] = pp

	p.startReadLoop(pp)
	p.safeOnNewConnection(ev.listenerDesc, desc)
}

func (p *Piper) onRead(ev readEvent) {
	pp, ok := p.table[ev.desc]
	if !ok || pp.closed {
		return // stale event for an already-torn-down pipe
	}

	if ev.err != nil {
		if errors.Is(ev.err, io.EOF) {
			if pp.collector.Contains(1) {
				p.opts.logger.Warnf("pipe %d: EOF with %d+ unparsed bytes buffered", pp.desc, 1)
			}
			p.teardownPipe(pp, ipcerr.CodeOK)
		} else {
			p.opts.logger.Warnf("pipe %d: read error: %v", pp.desc, ev.err)
			p.teardownPipe(pp, ipcerr.CodeUnspecified)
		}
		return
	}

	pp.collector.Append(ev.data)
	for {
		// Peek the declared length as soon as the header is parsed,
		// before waiting for the full body to arrive: mirrors
		// transport/conn.go's maxrx check, which rejects an oversized
		// message at header-parse time rather than buffering it first
		// (spec section 6's recv-size cap; avoids a peer forcing
		// unbounded buffering with one oversized header).
		length := pp.collector.MessageLength(false)
		switch length {
		case framing.MoreData:
			return
		case framing.DataCorrupt:
			p.teardownPipe(pp, ipcerr.CodeConnectionAborted)
			return
		default:
			if p.opts.maxRecvSize > 0 && length > int64(p.opts.maxRecvSize) {
				p.opts.logger.Warnf("pipe %d: message length %d exceeds configured max %d", pp.desc, length, p.opts.maxRecvSize)
				p.teardownPipe(pp, ipcerr.Code(ipcerr.ErrTooLong))
				return
			}
			if pp.collector.Status() != framing.HasMessage {
				return
			}
			p.safeOnMessage(pp.desc, &pp.collector)
		}
	}
}

func (p *Piper) onWriteDone(ev writeDoneEvent) {
	if pp, ok := p.table[ev.desc]; ok {
		pp.writing = false
		if ev.err != nil {
			p.opts.logger.Warnf("pipe %d: write error: %v", pp.desc, ev.err)
			p.teardownPipe(pp, ipcerr.CodeUnspecified)
		} else {
			p.pumpWrites(pp)
		}
	}
	ev.sink.complete(ev.err)
}

// teardownPipe is the close path of spec section 4.4: remove the pipe
// from the descriptor table, close its OS handle, fire OnPipeClosed,
// then resolve any attached close-request.
//
// The original two-phase design (ask the library to close; the close
// callback later fires the notification) collapses into one synchronous
// step here because Go's net.Conn.Close has no async completion of its
// own to wait for -- the only asynchrony in the original comes from the
// underlying event-loop library, which this port replaces with direct
// goroutines (see SPEC_FULL.md section 0).
func (p *Piper) teardownPipe(pp *pipe, code int) {
	if pp.closed {
		return
	}
	pp.closed = true
	delete(p.table, pp.desc)

	for _, job := range pp.writeQueue {
		job.sink.complete(ipcerr.ErrCancelled)
	}
	pp.writeQueue = nil

	if pp.isListener {
		close(pp.stopAccept)
		pp.listener.Close()
	} else {
		pp.conn.Close()
	}

	p.safeOnPipeClosed(pp.desc, code)

	if pp.pendingClose != nil {
		pp.pendingClose.sink.complete(nil)
	}
}

//==============================================================================
// Delegate call guards (spec section 7: upcalls must not unwind through
// a library callback)
//==============================================================================

func (p *Piper) safeOnNewConnection(listener, pipe Descriptor) {
	defer p.recoverDelegate("OnNewConnection")
	p.delegate.OnNewConnection(listener, pipe)
}

func (p *Piper) safeOnPipeClosed(pipe Descriptor, code int) {
	defer p.recoverDelegate("OnPipeClosed")
	p.delegate.OnPipeClosed(pipe, code)
}

func (p *Piper) safeOnMessage(pipe Descriptor, c *framing.Collector) {
	defer p.recoverDelegate("OnMessage")
	p.delegate.OnMessage(pipe, c)
}

func (p *Piper) recoverDelegate(method string) {
	if r := recover(); r != nil {
		p.opts.logger.Errorf("delegate.%s panicked: %v", method, r)
	}
}

//==============================================================================
// Cross-goroutine plumbing
//==============================================================================

// postEvent delivers an internal I/O event to the loop goroutine,
// tolerating a concurrent shutdown.
func (p *Piper) postEvent(ev interface{}) {
	select {
	case p.mailbox <- ev:
	case <-p.stopCh:
	}
}

func (p *Piper) postRequest(r request) {
	select {
	case p.mailbox <- r:
	case <-p.stopCh:
		r.abort()
	}
}

func (p *Piper) requireNonLoopGoroutine() {
	if p.loopGoroutine.Load() == currentGoroutineID() {
		panic("piper: a future-returning API method was called from the I/O goroutine; it would deadlock on its own future")
	}
}

// currentGoroutineID extracts the calling goroutine's id from its stack
// trace header ("goroutine 123 [running]:"). This is the conventional
// Go debug-assertion trick for the "am I on thread X" check spec section
// 4.4 calls for ("implementations enforce this with a thread-id check in
// debug builds") -- Go has no public goroutine-local storage, so this
// stands in for the teacher's native thread::id comparison.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for _, b := range buf[len("goroutine "):n] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + uint64(b-'0')
	}
	return id
}

//==============================================================================
// Public API
//==============================================================================

// Listen binds addr and starts accepting connections, blocking until the
// result is available. Must not be called from the I/O goroutine (i.e.
// from inside a Delegate callback) -- use ListenAsync there instead.
func (p *Piper) Listen(addr string) (Descriptor, error) {
	p.requireNonLoopGoroutine()
	sink, ch := newPipeFuture()
	p.postRequest(&listenRequest{addr: addr, sink: sink})
	res := <-ch
	return res.Desc, res.Err
}

// ListenAsync is the callback-returning form of Listen; cb is invoked on
// the I/O goroutine and may be called from any goroutine.
func (p *Piper) ListenAsync(addr string, cb func(Descriptor, error)) {
	p.postRequest(&listenRequest{addr: addr, sink: newPipeCallback(cb)})
}

// Connect dials addr, blocking until the result is available. Must not
// be called from the I/O goroutine.
func (p *Piper) Connect(addr string) (Descriptor, error) {
	p.requireNonLoopGoroutine()
	sink, ch := newPipeFuture()
	p.postRequest(&connectRequest{addr: addr, sink: sink})
	res := <-ch
	return res.Desc, res.Err
}

// ConnectAsync is the callback-returning form of Connect.
func (p *Piper) ConnectAsync(addr string, cb func(Descriptor, error)) {
	p.postRequest(&connectRequest{addr: addr, sink: newPipeCallback(cb)})
}

// DialWithRetry calls Connect up to the Piper's configured number of
// attempts, sleeping the configured backoff after each failed attempt
// (WithConnectRetry; 10 attempts / 50ms by default), for the transient
// "connection refused"/"try again" failures spec section 8 scenario S5
// describes when a listener's backlog is saturated. It surfaces the last
// error if every attempt fails. A configured attempt count <= 0 falls
// back to the default of 10 attempts.
func (p *Piper) DialWithRetry(addr string) (Descriptor, error) {
	attempts := p.opts.connectRetries
	if attempts <= 0 {
		attempts = defaultOptions().connectRetries
	}
	backoff := p.opts.connectBackoff
	var lastErr error
	for i := 0; i < attempts; i++ {
		desc, err := p.Connect(addr)
		if err == nil {
			return desc, nil
		}
		lastErr = err
		time.Sleep(backoff)
	}
	return 0, lastErr
}

// Write sends payload on desc, blocking until the result is available.
// Must not be called from the I/O goroutine.
func (p *Piper) Write(desc Descriptor, payload []byte) error {
	p.requireNonLoopGoroutine()
	sink, ch := newErrFuture()
	p.postRequest(&writeRequest{desc: desc, payload: payload, sink: sink})
	return <-ch
}

// WriteAsync is the callback-returning form of Write.
func (p *Piper) WriteAsync(desc Descriptor, payload []byte, cb func(error)) {
	p.postRequest(&writeRequest{desc: desc, payload: payload, sink: newErrCallback(cb)})
}

// ClosePipe closes desc with the given reason code, blocking until the
// pipe has actually been destroyed (the completion fires after
// OnPipeClosed, per spec section 4.3). Must not be called from the I/O
// goroutine.
func (p *Piper) ClosePipe(desc Descriptor, reason int) error {
	p.requireNonLoopGoroutine()
	sink, ch := newErrFuture()
	p.postRequest(&closeRequest{desc: desc, reason: reason, sink: sink})
	return <-ch
}

// ClosePipeAsync is the callback-returning form of ClosePipe.
func (p *Piper) ClosePipeAsync(desc Descriptor, reason int, cb func(error)) {
	p.postRequest(&closeRequest{desc: desc, reason: reason, sink: newErrCallback(cb)})
}
