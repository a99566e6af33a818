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

//go:build !windows

package ospipe

import "net"

// dial mirrors transport/ipc/ipc_unix.go's dialer.Dial: addr is an
// absolute filesystem path under a socket directory.
func dial(addr string) (net.Conn, error) {
	a, err := net.ResolveUnixAddr("unix", addr)
	if err != nil {
		return nil, err
	}
	return net.DialUnix("unix", nil, a)
}

type unixListener struct {
	*net.UnixListener
}

func listen(addr string, opts ListenerOptions) (Listener, error) {
	a, err := net.ResolveUnixAddr("unix", addr)
	if err != nil {
		return nil, err
	}
	l, err := net.ListenUnix("unix", a)
	if err != nil {
		return nil, err
	}
	return &unixListener{l}, nil
}
