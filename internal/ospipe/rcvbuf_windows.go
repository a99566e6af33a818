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

//go:build windows

package ospipe

import "net"

// ProbeRecvBuffer has no kernel recv-buffer equivalent for go-winio
// named pipes; we fall back to the fixed clamp from spec section 6.
func ProbeRecvBuffer(conn net.Conn) int {
	return MaxRecvBuffer
}
