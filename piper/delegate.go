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

import "github.com/demetrix76/uvcomms4/framing"

// Delegate receives the upcalls a Piper makes into user code. Every
// method except Startup and Shutdown is called on the Piper's I/O
// goroutine; a Delegate implementation must not block there and must not
// panic (a panic escaping any of these methods is caught and logged by
// the Piper rather than allowed to unwind the loop).
type Delegate interface {
	// Startup is called on the constructor goroutine once the I/O loop
	// is running. Returning a non-nil error aborts Piper construction:
	// the loop is stopped and joined, and the error is returned to the
	// caller of New.
	Startup(p *Piper) error

	// Shutdown is called on the goroutine that calls Piper.Close,
	// before the stop signal is sent to the I/O loop. It must not
	// panic.
	Shutdown()

	// OnNewConnection is called on the I/O goroutine when listener has
	// accepted a new connection identified by pipe. The new pipe is
	// already readable.
	OnNewConnection(listener, pipe Descriptor)

	// OnPipeClosed is called on the I/O goroutine exactly once per
	// descriptor ever published to the delegate (via a successful
	// Listen/Connect/OnNewConnection), after the pipe has already been
	// removed from the descriptor table.
	OnPipeClosed(pipe Descriptor, code int)

	// OnMessage is called on the I/O goroutine when at least one
	// complete message is available from pipe. The implementation
	// must extract at least one message from collector before
	// returning, or the read loop that invokes OnMessage repeatedly
	// for each buffered message will spin indefinitely.
	OnMessage(pipe Descriptor, collector *framing.Collector)
}
