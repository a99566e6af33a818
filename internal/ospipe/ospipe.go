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

// Package ospipe holds the OS-specific platform glue that sits below the
// piper core: socket-path resolution, directory creation, stale-socket
// cleanup, signal masking, and file-descriptor-limit raising. None of
// this is redesigned by the piper specification; it is the external
// collaborator layer spec section 1 calls out as deliberately out of
// scope for the core itself.
package ospipe

import "net"

// MaxRecvBuffer is the clamp spec section 6 places on the per-read
// allocation after ReadStart probes the kernel receive buffer size.
const MaxRecvBuffer = 64 * 1024

// Dial connects to addr (already stripped of any scheme prefix) and
// returns a stream-oriented net.Conn: a UNIX domain socket on POSIX, or
// a named pipe on Windows.
func Dial(addr string) (net.Conn, error) {
	return dial(addr)
}

// Listener wraps the platform-specific listening primitive. On POSIX
// this is a *net.UnixListener; on Windows, a go-winio pipe listener.
type Listener interface {
	net.Listener
}

// ListenerOptions carries the platform-specific listener configuration.
// Fields only meaningful on one platform are ignored on the other.
type ListenerOptions struct {
	// Backlog is carried for callers; neither platform's listen applies it.
	Backlog int

	// Windows-only named pipe knobs (spec section 6: "Platform setup
	// operations"). Zero buffer sizes fall back to 4096 bytes.
	InputBufferSize    int32
	OutputBufferSize   int32
	SecurityDescriptor string
}

// Listen creates a listener bound to addr (already stripped of scheme).
func Listen(addr string, opts ListenerOptions) (Listener, error) {
	return listen(addr, opts)
}
