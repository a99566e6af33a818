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
	"time"

	"github.com/demetrix76/uvcomms4/internal/ospipe"
	"github.com/demetrix76/uvcomms4/log"
)

// DefaultBacklog is the default listener backlog per spec section 6.
const DefaultBacklog = 1024

// options collects the knobs a Piper is constructed with. This is the
// typed equivalent of the teacher's options map[string]interface{} /
// GetOption/SetOption pattern (transport/ipc/ipc_unix.go,
// ipc_windows.go) -- we don't need the interface{} map's generality
// because this package speaks only the ipc transport, not arbitrary SP
// transports.
type options struct {
	backlog     int
	maxRecvSize int
	logger      log.Logger

	connectRetries int
	connectBackoff time.Duration

	winInputBufferSize    int32
	winOutputBufferSize   int32
	winSecurityDescriptor string
}

func defaultOptions() options {
	return options{
		backlog:        DefaultBacklog,
		maxRecvSize:    0, // unlimited
		logger:         log.Discard{},
		connectRetries: 10,
		connectBackoff: 50 * time.Millisecond,
	}
}

func (o options) listenerOptions() ospipe.ListenerOptions {
	return ospipe.ListenerOptions{
		Backlog:            o.backlog,
		InputBufferSize:    o.winInputBufferSize,
		OutputBufferSize:   o.winOutputBufferSize,
		SecurityDescriptor: o.winSecurityDescriptor,
	}
}

// Option configures a Piper at construction time.
type Option func(*options)

// WithBacklog sets the backlog value (default 1024) carried in the
// listener options handed to internal/ospipe. Neither listener backend
// applies it: POSIX listeners come from net.ListenUnix, which uses the
// system's default backlog, and go-winio pipe listeners have no backlog
// setting.
func WithBacklog(n int) Option {
	return func(o *options) { o.backlog = n }
}

// WithMaxRecvSize caps the size of any single received message; zero
// means unlimited.
func WithMaxRecvSize(n int) Option {
	return func(o *options) { o.maxRecvSize = n }
}

// WithLogger overrides the default discard logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConnectRetry configures the retry policy used by DialWithRetry
// (spec section 8 scenario S5: retry on transient connection-refused
// errors with backoff).
func WithConnectRetry(attempts int, backoff time.Duration) Option {
	return func(o *options) {
		o.connectRetries = attempts
		o.connectBackoff = backoff
	}
}

// WithWindowsPipeBuffers sets the go-winio named pipe input/output
// buffer sizes (spec section 6, Windows-only; ignored on POSIX).
func WithWindowsPipeBuffers(input, output int32) Option {
	return func(o *options) {
		o.winInputBufferSize = input
		o.winOutputBufferSize = output
	}
}

// WithWindowsSecurityDescriptor sets the SDDL security descriptor a
// listening named pipe is created with (spec section 6, Windows-only).
func WithWindowsSecurityDescriptor(sddl string) Option {
	return func(o *options) { o.winSecurityDescriptor = sddl }
}
