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
	"os/signal"

	"golang.org/x/sys/unix"
)

// signalIgnoreSigpipe mirrors configure_signals() in the original
// commlib_lin.cpp: signal(SIGPIPE, SIG_IGN).
func signalIgnoreSigpipe() {
	signal.Ignore(unix.SIGPIPE)
}
