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

// Descriptor names a pipe within one Piper. It is allocated by a
// monotonically increasing counter owned by the I/O loop goroutine, and
// is never reused during that Piper's lifetime. It is not the OS file
// descriptor; it is an opaque, stable key into the descriptor table.
//
// Zero is reserved to mean "none" in return tuples; live pipes always
// have a Descriptor >= 1.
type Descriptor int64
