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

// EnsureSocketDirectory is a no-op on Windows: named pipes live in the
// kernel object namespace, not the filesystem.
func EnsureSocketDirectory(dir string) error { return nil }

// DeleteStaleSocket is a no-op on Windows.
func DeleteStaleSocket(path string) error { return nil }

// RaiseFDLimit is a no-op on Windows; there is no analogous
// per-process handle-table limit that needs raising for this use case.
func RaiseFDLimit() error { return nil }

// MaskSigpipe is a no-op on Windows: there is no SIGPIPE.
func MaskSigpipe() {}
