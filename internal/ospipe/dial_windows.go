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

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// dial mirrors transport/ipc/ipc_windows.go's dialer.Dial: addr is the
// bare pipe name, without the "\\.\pipe\" prefix (applied here).
func dial(addr string) (net.Conn, error) {
	return winio.DialPipe(`\\.\pipe\`+addr, nil)
}

func listen(addr string, opts ListenerOptions) (Listener, error) {
	cfg := &winio.PipeConfig{
		InputBufferSize:    opts.InputBufferSize,
		OutputBufferSize:   opts.OutputBufferSize,
		SecurityDescriptor: opts.SecurityDescriptor,
		MessageMode:        false,
	}
	if cfg.InputBufferSize == 0 {
		cfg.InputBufferSize = 4096
	}
	if cfg.OutputBufferSize == 0 {
		cfg.OutputBufferSize = 4096
	}

	l, err := winio.ListenPipe(`\\.\pipe\`+addr, cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}
