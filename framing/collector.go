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

// Package framing implements the length-prefixed message framing used by
// the piper wire protocol: an 8-byte little-endian header (4-byte payload
// length plus a 4-byte check-hash) followed by the payload bytes.
//
// Collector reassembles a stream of arbitrarily-chunked byte buffers into
// whole messages. It is not safe for concurrent use; callers must only
// touch a pipe's Collector from the I/O goroutine that owns that pipe.
package framing

import "encoding/binary"

// HeaderSize is the number of bytes occupied by a message header.
const HeaderSize = 8

// Sentinel return values for MessageLength.
const (
	// MoreData indicates fewer than HeaderSize bytes are available.
	MoreData int64 = -1
	// DataCorrupt indicates the header's check-hash did not match.
	DataCorrupt int64 = -2
)

// Status describes what the Collector currently holds.
type Status int

const (
	// NoMessage means there is not yet a complete message available.
	NoMessage Status = iota
	// HasMessage means a full header and payload are both available.
	HasMessage
	// Corrupt means the last parsed header's check-hash did not match;
	// the owning pipe must be closed with ConnectionAborted and no
	// further messages delivered from it.
	Corrupt
)

// lengthHash computes the check-hash for a payload length, exactly as
// specified: widen into 64 bits, xor-shift mix, xor a fixed constant, and
// reduce modulo a prime below 2^31. This is not a cryptographic MAC; it
// only catches stream desync and random garbage.
func lengthHash(length uint32) uint32 {
	h0 := (uint64(length) << 32) | uint64(length)
	h1 := h0 ^ (h0 << 13)
	h2 := h1 ^ (h1 >> 17)
	h3 := h2 ^ (h2 << 5)
	h4 := h3 ^ 0xABCDABCDABCDABCD
	return uint32(h4 % 2147483629)
}

// packHeader writes the 8-byte header for a payload of the given length.
func packHeader(length uint32, dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], length)
	binary.LittleEndian.PutUint32(dst[4:8], lengthHash(length))
}

// PackHeader returns the 8-byte wire header for a payload of length n.
// Exported for the write path, which needs to scatter [header, payload]
// in a single write call.
func PackHeader(n int) [HeaderSize]byte {
	var h [HeaderSize]byte
	packHeader(uint32(n), h[:])
	return h
}

func unpackHeader(src []byte) (length uint32, hash uint32) {
	return binary.LittleEndian.Uint32(src[0:4]), binary.LittleEndian.Uint32(src[4:8])
}

// Collector accumulates received byte buffers and extracts whole,
// length-prefixed messages from the accumulated stream.
//
// Invariants: a message header always begins in the head buffer at the
// cursor; after a message is extracted, fully-consumed buffers are
// dropped and the cursor is moved forward; the cursor never points past
// the head buffer's end, at which point the head buffer is dropped and
// the cursor reset to zero.
type Collector struct {
	buffers [][]byte
	pos     int
}

// Append takes ownership of buf and appends it to the buffer chain.
// Zero-length buffers must never be appended; callers should filter
// zero-byte reads before calling Append.
func (c *Collector) Append(buf []byte) {
	if len(buf) == 0 {
		return
	}
	c.buffers = append(c.buffers, buf)
}

// Contains reports whether at least n bytes follow the cursor across the
// current buffer chain.
func (c *Collector) Contains(n int) bool {
	pos := c.pos
	for i := 0; n > 0; i++ {
		if i >= len(c.buffers) {
			return false
		}
		remainder := len(c.buffers[i]) - pos
		if n <= remainder {
			return true
		}
		n -= remainder
		pos = 0
	}
	return true
}

// copyTo copies exactly count bytes starting at the cursor into dst
// (which must have length >= count), optionally advancing the cursor and
// dropping fully-consumed buffers. Returns false (dst only partially
// filled) if there is not enough data; in that case the cursor is left
// untouched regardless of advance.
func (c *Collector) copyTo(dst []byte, count int, advance bool) bool {
	bufIdx := 0
	pos := c.pos
	written := 0

	for count > 0 {
		if bufIdx >= len(c.buffers) {
			return false
		}
		buf := c.buffers[bufIdx]
		remainder := len(buf) - pos
		toCopy := count
		if toCopy > remainder {
			toCopy = remainder
		}
		copy(dst[written:written+toCopy], buf[pos:pos+toCopy])
		written += toCopy
		count -= toCopy
		if toCopy < remainder {
			pos += toCopy
		} else {
			pos = 0
			bufIdx++
		}
	}

	if advance {
		c.buffers = append(c.buffers[:0:0], c.buffers[bufIdx:]...)
		c.pos = pos
	}
	return true
}

// MessageLength peeks the 8-byte header spanning any buffer boundary.
// It returns MoreData if fewer than HeaderSize bytes are available,
// DataCorrupt if the check-hash does not match, or the non-negative
// payload length L otherwise.
//
// If advance is true and a full header was available, the cursor moves
// HeaderSize bytes forward (dropping any now-empty head buffers); if the
// header was incomplete, the cursor is left untouched; if the header is
// corrupt, advance has no effect — the pipe is about to be torn down.
func (c *Collector) MessageLength(advance bool) int64 {
	var header [HeaderSize]byte
	if !c.copyTo(header[:], HeaderSize, false) {
		return MoreData
	}

	length, hash := unpackHeader(header[:])
	if lengthHash(length) != hash {
		return DataCorrupt
	}
	if advance {
		c.copyTo(header[:], HeaderSize, true)
	}
	return int64(length)
}

// Status reports whether the Collector currently holds a complete
// message, no message yet, or has detected corruption.
func (c *Collector) Status() Status {
	msgLen := c.MessageLength(false)
	switch msgLen {
	case MoreData:
		return NoMessage
	case DataCorrupt:
		return Corrupt
	default:
		if c.Contains(int(msgLen) + HeaderSize) {
			return HasMessage
		}
		return NoMessage
	}
}

// ExtractMessage returns the current message as a freshly allocated
// slice if Status() == HasMessage, advancing past it. The returned
// Status reflects what was observed before extraction; Corrupt is
// returned (with a nil slice) if the header became corrupt.
func (c *Collector) ExtractMessage() ([]byte, Status) {
	if st := c.Status(); st != HasMessage {
		return nil, st
	}

	size := c.MessageLength(true)
	if size < 0 {
		return nil, Corrupt
	}

	out := make([]byte, size)
	if !c.copyTo(out, int(size), true) {
		return nil, Corrupt
	}
	return out, HasMessage
}

// ExtractMessageTo copies the current message into dst (which must be
// pre-sized to at least the message length — callers typically call
// MessageLength or rely on ExtractMessage instead) if Status() ==
// HasMessage, advancing past it. It exists for callers that want to
// avoid an extra allocation by reusing a buffer; most callers should
// prefer ExtractMessage.
func (c *Collector) ExtractMessageTo(dst []byte) Status {
	if st := c.Status(); st != HasMessage {
		return st
	}
	size := c.MessageLength(true)
	if size < 0 {
		return Corrupt
	}
	if int64(len(dst)) < size {
		return Corrupt
	}
	if !c.copyTo(dst[:size], int(size), true) {
		return Corrupt
	}
	return HasMessage
}
