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
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// EnsureSocketDirectory creates dir with mode 0777 if it does not
// already exist, mirroring the original's ensure_socket_directory_exists:
// EEXIST is tolerated, a chmod failure on a pre-existing directory is not
// fatal (it may already belong to another user with the right mode).
func EnsureSocketDirectory(dir string) error {
	if err := os.Mkdir(dir, 0777); err != nil && !os.IsExist(err) {
		return err
	}
	_ = os.Chmod(dir, 0777)
	return nil
}

// DeleteStaleSocket removes path before bind, tolerating "does not
// exist".
func DeleteStaleSocket(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RaiseFDLimit raises the per-process open file descriptor soft limit to
// the hard limit, for stress tests that open many pipes concurrently.
func RaiseFDLimit() error {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return err
	}
	if rlim.Cur >= rlim.Max {
		return nil
	}
	rlim.Cur = rlim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		// Not all environments permit raising to the hard limit
		// (e.g. containers); this is advisory, not fatal.
		if errors.Is(err, unix.EPERM) {
			return nil
		}
		return err
	}
	return nil
}

// MaskSigpipe ignores SIGPIPE so an abruptly closed peer's write does
// not terminate the process.
func MaskSigpipe() {
	signalIgnoreSigpipe()
}
