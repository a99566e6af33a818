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

package framing

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// frame builds the wire bytes for a single message.
func frame(payload []byte) []byte {
	h := PackHeader(len(payload))
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, h[:]...)
	out = append(out, payload...)
	return out
}

// split chops buf into pieces at the given offsets.
func split(buf []byte, cuts ...int) [][]byte {
	var out [][]byte
	prev := 0
	for _, c := range cuts {
		out = append(out, buf[prev:c])
		prev = c
	}
	out = append(out, buf[prev:])
	return out
}

func TestFrameRoundTrip(t *testing.T) {
	Convey("A single framed message, chunked arbitrarily", t, func() {
		payload := []byte("hello, world")
		wire := frame(payload)

		for cut := 0; cut <= len(wire); cut++ {
			var c Collector
			for _, b := range split(wire, cut) {
				if len(b) > 0 {
					c.Append(append([]byte(nil), b...))
				}
			}
			got, st := c.ExtractMessage()
			So(st, ShouldEqual, HasMessage)
			So(got, ShouldResemble, payload)
			So(c.Status(), ShouldEqual, NoMessage)
		}
	})

	Convey("A zero-length payload still consumes the header", t, func() {
		var c Collector
		c.Append(frame(nil))
		got, st := c.ExtractMessage()
		So(st, ShouldEqual, HasMessage)
		So(len(got), ShouldEqual, 0)
		So(c.Status(), ShouldEqual, NoMessage)
	})
}

func TestMultiMessageRoundTrip(t *testing.T) {
	Convey("Three concatenated messages split arbitrarily", t, func() {
		payloads := [][]byte{
			[]byte("Message1234"),
			[]byte("SomeOtherMessage"),
			[]byte("OneMoreMessage"),
		}
		var wire []byte
		for _, p := range payloads {
			wire = append(wire, frame(p)...)
		}

		// spec S2: split at [0..12), [12..22), [22..65)
		var c Collector
		for _, b := range split(wire, 12, 22) {
			c.Append(append([]byte(nil), b...))
		}

		var got [][]byte
		for c.Status() == HasMessage {
			m, st := c.ExtractMessage()
			So(st, ShouldEqual, HasMessage)
			got = append(got, m)
		}
		So(got, ShouldResemble, payloads)
		So(c.Status(), ShouldEqual, NoMessage)
	})
}

func TestCorruptionDetection(t *testing.T) {
	Convey("A good message followed by a corrupted header", t, func() {
		good := frame([]byte("first message"))
		var c Collector
		c.Append(append([]byte(nil), good...))

		m, st := c.ExtractMessage()
		So(st, ShouldEqual, HasMessage)
		So(m, ShouldResemble, []byte("first message"))
		So(c.Status(), ShouldEqual, NoMessage)

		// garbage header: no valid check-hash will match this.
		c.Append([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00})
		So(c.Status(), ShouldEqual, Corrupt)
	})

	Convey("Flipping a bit in the check-hash region corrupts the header", t, func() {
		wire := frame([]byte("payload"))
		wire[4] ^= 0x01 // flip a bit inside the hash bytes

		var c Collector
		c.Append(wire)
		So(c.Status(), ShouldEqual, Corrupt)
	})
}

func TestContains(t *testing.T) {
	Convey("Contains spans buffer boundaries", t, func() {
		var c Collector
		c.Append([]byte("abc"))
		c.Append([]byte("defg"))

		So(c.Contains(7), ShouldBeTrue)
		So(c.Contains(8), ShouldBeFalse)
		So(c.Contains(0), ShouldBeTrue)
	})
}

func TestMessageLengthAdvanceSemantics(t *testing.T) {
	Convey("An incomplete header does not move the cursor", t, func() {
		var c Collector
		c.Append([]byte{1, 2, 3})
		So(c.MessageLength(true), ShouldEqual, MoreData)
		So(c.Contains(3), ShouldBeTrue) // nothing consumed
	})
}
