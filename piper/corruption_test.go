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
	"testing"
	"time"

	ipcerr "github.com/demetrix76/uvcomms4/errors"
	"github.com/demetrix76/uvcomms4/framing"

	. "github.com/smartystreets/goconvey/convey"
)

// TestCorruptionShutdown implements spec section 8 scenario S3: a raw
// peer writes one valid message followed by a garbage header. The
// server must deliver the first message, then close the pipe with
// ConnectionAborted, and must not invoke OnMessage again for that
// descriptor.
func TestCorruptionShutdown(t *testing.T) {
	skipOnWindows(t)

	Convey("A peer that sends a corrupt header after one valid message", t, func() {
		addr := tempAddr(t, "s3.sock")

		d := newRecordingDelegate()
		srv, err := New(d)
		So(err, ShouldBeNil)
		defer srv.Close()

		_, err = srv.Listen(addr)
		So(err, ShouldBeNil)

		raw, err := net.Dial("unix", addr)
		So(err, ShouldBeNil)
		defer raw.Close()

		h := framing.PackHeader(len("first"))
		_, err = raw.Write(h[:])
		So(err, ShouldBeNil)
		_, err = raw.Write([]byte("first"))
		So(err, ShouldBeNil)

		var got struct {
			desc Descriptor
			data []byte
		}
		select {
		case got = <-d.messages:
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for first message")
		}
		So(string(got.data), ShouldEqual, "first")

		// garbage header: four 0xFF length bytes paired with a
		// zeroed hash will not match any valid check-hash.
		_, err = raw.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00})
		So(err, ShouldBeNil)

		deadline := time.Now().Add(3 * time.Second)
		for d.closedCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		So(d.closedCount(), ShouldEqual, 1)
		d.mu.Lock()
		code := d.closed[0].code
		d.mu.Unlock()
		So(code, ShouldEqual, ipcerr.CodeConnectionAborted)

		// No further message should ever arrive for this descriptor.
		select {
		case m := <-d.messages:
			t.Fatalf("unexpected extra message after corruption: %v", m)
		case <-time.After(200 * time.Millisecond):
		}
	})
}
