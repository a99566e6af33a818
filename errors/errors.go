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

// Package errors defines the sentinel errors and negated-POSIX-style
// completion codes used throughout the piper transport.  It is safe to
// import using ".", so that short names can be used without concern about
// unrelated namespace pollution.
package errors

type err string

func (e err) Error() string {
	return string(e)
}

// Predefined error values. Each has a matching negative completion code
// (see Code) for APIs specified in terms of an integer result.
const (
	ErrCancelled         = err("operation cancelled")
	ErrConnectionAborted = err("connection aborted")
	ErrNotConnected      = err("not connected")
	ErrUnsupported       = err("unsupported operation")
	ErrClosed            = err("pipe closed")
	ErrBadAddr           = err("invalid address")
	ErrTooLong           = err("message too long")
	ErrUnspecified       = err("unspecified error")
)

// Distinguished negative completion codes, reusing the underlying
// library's negated-POSIX convention referenced by spec section 6.
const (
	CodeOK                = 0
	CodeCancelled         = -125 // -ECANCELED
	CodeConnectionAborted = -103 // -ECONNABORTED
	CodeNotConnected      = -107 // -ENOTCONN
	CodeUnsupported       = -95  // -EOPNOTSUPP
	CodeTooLong           = -90  // -EMSGSIZE
	CodeUnspecified       = -1
)

// codeTable maps a sentinel error to its negative completion code.
var codeTable = map[error]int{
	ErrCancelled:         CodeCancelled,
	ErrConnectionAborted: CodeConnectionAborted,
	ErrNotConnected:      CodeNotConnected,
	ErrUnsupported:       CodeUnsupported,
	ErrTooLong:           CodeTooLong,
}

// Code returns the negative completion code associated with err, or
// CodeUnspecified if err is not one of the distinguished sentinels and
// is non-nil, or CodeOK if err is nil.
func Code(e error) int {
	if e == nil {
		return CodeOK
	}
	if c, ok := codeTable[e]; ok {
		return c
	}
	return CodeUnspecified
}
