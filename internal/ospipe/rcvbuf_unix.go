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

import (
	"net"

	"golang.org/x/sys/unix"
)

// ProbeRecvBuffer mirrors uv_recv_buffer_size: it reads the kernel
// SO_RCVBUF size for conn's underlying socket and clamps it to
// MaxRecvBuffer, per spec section 6's receive-buffer hint.
func ProbeRecvBuffer(conn net.Conn) int {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return MaxRecvBuffer
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return MaxRecvBuffer
	}

	size := MaxRecvBuffer
	_ = raw.Control(func(fd uintptr) {
		if v, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF); err == nil && v > 0 {
			size = v
		}
	})

	if size > MaxRecvBuffer {
		size = MaxRecvBuffer
	}
	return size
}
