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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	ipcerr "github.com/demetrix76/uvcomms4/errors"
	"github.com/demetrix76/uvcomms4/framing"
)

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX UNIX-domain-socket addressing; see internal/ospipe for the Windows backend")
	}
}

func tempAddr(t *testing.T, name string) string {
	dir := t.TempDir()
	return filepath.Join(dir, name)
}

// recordingDelegate is the test harness's Delegate: it records new
// connections and closes in mutex-guarded slices and delivers messages
// on a channel, so tests can assert ordering and exactly-once delivery
// (spec section 8's testable properties).
type recordingDelegate struct {
	mu sync.Mutex

	newConns  []struct{ listener, pipe Descriptor }
	closed    []struct {
		desc Descriptor
		code int
	}
	messages chan struct {
		desc Descriptor
		data []byte
	}

	onMessageFn func(desc Descriptor, c *framing.Collector)
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{
		messages: make(chan struct {
			desc Descriptor
			data []byte
		}, 64),
	}
}

func (d *recordingDelegate) Startup(p *Piper) error { return nil }
func (d *recordingDelegate) Shutdown()              {}

func (d *recordingDelegate) OnNewConnection(listener, pipe Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newConns = append(d.newConns, struct{ listener, pipe Descriptor }{listener, pipe})
}

func (d *recordingDelegate) OnPipeClosed(pipe Descriptor, code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = append(d.closed, struct {
		desc Descriptor
		code int
	}{pipe, code})
}

func (d *recordingDelegate) OnMessage(pipe Descriptor, c *framing.Collector) {
	if d.onMessageFn != nil {
		d.onMessageFn(pipe, c)
		return
	}
	msg, st := c.ExtractMessage()
	if st != framing.HasMessage {
		return
	}
	d.messages <- struct {
		desc Descriptor
		data []byte
	}{pipe, msg}
}

func (d *recordingDelegate) closedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.closed)
}

// TestEchoLoopback implements spec section 8 scenario S1: a server
// Piper listens, a client Piper connects and writes "hello", the server
// echoes it back, and after ClosePipe the client observes exactly one
// OnPipeClosed for its pipe.
func TestEchoLoopback(t *testing.T) {
	skipOnWindows(t)

	addr := tempAddr(t, "s1.sock")

	var srv *Piper

	srvDelegate := newRecordingDelegate()
	srvDelegate.onMessageFn = func(desc Descriptor, c *framing.Collector) {
		msg, st := c.ExtractMessage()
		if st != framing.HasMessage {
			return
		}
		go func() {
			if err := srv.Write(desc, msg); err != nil {
				t.Errorf("server echo write: %v", err)
			}
		}()
	}

	srv, err := New(srvDelegate)
	if err != nil {
		t.Fatalf("server New: %v", err)
	}
	defer srv.Close()

	if _, err := srv.Listen(addr); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	cliDelegate := newRecordingDelegate()
	cli, err := New(cliDelegate)
	if err != nil {
		t.Fatalf("client New: %v", err)
	}
	defer cli.Close()

	desc, err := cli.Connect(addr)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := cli.Write(desc, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case m := <-cliDelegate.messages:
		if string(m.data) != "hello" {
			t.Fatalf("got %q, want %q", m.data, "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	if err := cli.ClosePipe(desc, 0); err != nil {
		t.Fatalf("ClosePipe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for cliDelegate.closedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if cliDelegate.closedCount() != 1 {
		t.Fatalf("client: want exactly one OnPipeClosed, got %d", cliDelegate.closedCount())
	}
}

// TestWriteToListenerRejected implements spec section 8 scenario S6.
func TestWriteToListenerRejected(t *testing.T) {
	skipOnWindows(t)

	addr := tempAddr(t, "s6.sock")
	d := newRecordingDelegate()
	p, err := New(d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	desc, err := p.Listen(addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	err = p.Write(desc, []byte("nope"))
	if err != ipcerr.ErrUnsupported {
		t.Fatalf("Write to listener: got %v, want %v", err, ipcerr.ErrUnsupported)
	}
}

// TestCloseUnknownDescriptor exercises the NotConnected branch of spec
// section 4.3's Close contract.
func TestCloseUnknownDescriptor(t *testing.T) {
	d := newRecordingDelegate()
	p, err := New(d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.ClosePipe(Descriptor(999), 0); err != ipcerr.ErrNotConnected {
		t.Fatalf("ClosePipe(unknown): got %v, want %v", err, ipcerr.ErrNotConnected)
	}
}

// TestDoubleCloseRequestUnsupported exercises spec section 4.3's "at
// most one pending close-request per pipe" invariant.
func TestDoubleCloseRequestUnsupported(t *testing.T) {
	skipOnWindows(t)

	addr := tempAddr(t, "doubleclose.sock")
	d := newRecordingDelegate()
	p, err := New(d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	desc, err := p.Listen(addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = p.ClosePipe(desc, 0)
		}()
	}
	wg.Wait()

	okCount, unsupportedCount := 0, 0
	for _, e := range results {
		switch e {
		case nil:
			okCount++
		case ipcerr.ErrUnsupported:
			unsupportedCount++
		default:
			t.Fatalf("unexpected close result: %v", e)
		}
	}
	if okCount != 1 || unsupportedCount != 1 {
		t.Fatalf("want exactly one success and one Unsupported, got %d/%d", okCount, unsupportedCount)
	}
}

// TestDescriptorsNeverRepeat implements spec section 8's descriptor
// uniqueness invariant across repeated listen/close cycles.
func TestDescriptorsNeverRepeat(t *testing.T) {
	skipOnWindows(t)

	d := newRecordingDelegate()
	p, err := New(d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	seen := make(map[Descriptor]bool)
	for i := 0; i < 20; i++ {
		addr := tempAddr(t, fmt.Sprintf("uniq-%d.sock", i))
		desc, err := p.Listen(addr)
		if err != nil {
			t.Fatalf("Listen %d: %v", i, err)
		}
		if seen[desc] {
			t.Fatalf("descriptor %d reused", desc)
		}
		seen[desc] = true
		if err := p.ClosePipe(desc, 0); err != nil {
			t.Fatalf("ClosePipe %d: %v", i, err)
		}
	}
}

// TestDialWithRetrySucceedsOnceListenerStarts implements spec section 8
// scenario S5: a client dials before any listener exists at that
// address, gets a transient connection-refused-style failure, and
// DialWithRetry's backoff loop must still succeed once the listener
// starts shortly afterward.
func TestDialWithRetrySucceedsOnceListenerStarts(t *testing.T) {
	skipOnWindows(t)

	addr := tempAddr(t, "s5.sock")

	cliDelegate := newRecordingDelegate()
	cli, err := New(cliDelegate, WithConnectRetry(50, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("client New: %v", err)
	}
	defer cli.Close()

	descCh := make(chan Descriptor, 1)
	errCh := make(chan error, 1)
	go func() {
		desc, err := cli.DialWithRetry(addr)
		descCh <- desc
		errCh <- err
	}()

	// Give the first few attempts a chance to fail against a
	// nonexistent listener before the listener comes up.
	time.Sleep(100 * time.Millisecond)

	srvDelegate := newRecordingDelegate()
	srv, err := New(srvDelegate)
	if err != nil {
		t.Fatalf("server New: %v", err)
	}
	defer srv.Close()

	if _, err := srv.Listen(addr); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("DialWithRetry: %v", err)
		}
		if <-descCh == 0 {
			t.Fatalf("DialWithRetry returned a zero descriptor on success")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DialWithRetry never succeeded after the listener started")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
