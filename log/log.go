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

// Package log provides the small leveled logger the piper core uses to
// report warnings that must not unwind through a library callback (see
// spec section 7: Delegate upcalls must never throw).
package log

import (
	"bytes"
	"fmt"
	"os"
	"sync"
)

// Logger is the interface the piper core logs through.  Applications may
// supply their own implementation (wrapping *log.Logger, zap, etc); a
// Piper built without WithLogger uses Discard.
type Logger interface {
	Debugf(format string, a ...interface{})
	Warnf(format string, a ...interface{})
	Errorf(format string, a ...interface{})
}

// Buffered is a mutex-guarded in-memory logger, useful for tests that want
// to assert on what was logged without touching stderr.
type Buffered struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *Buffered) Debugf(format string, a ...interface{}) { l.write("DEBUG", format, a...) }
func (l *Buffered) Warnf(format string, a ...interface{})  { l.write("WARN", format, a...) }
func (l *Buffered) Errorf(format string, a ...interface{}) { l.write("ERROR", format, a...) }

func (l *Buffered) write(level, format string, a ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(&l.buf, "[%s] %s\n", level, fmt.Sprintf(format, a...))
}

// String returns everything logged so far.
func (l *Buffered) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// Clear discards everything logged so far.
func (l *Buffered) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Reset()
}

// Stderr is a Logger that writes directly to os.Stderr, for CLI programs.
type Stderr struct{}

func (Stderr) Debugf(format string, a ...interface{}) { fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", a...) }
func (Stderr) Warnf(format string, a ...interface{})  { fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", a...) }
func (Stderr) Errorf(format string, a ...interface{}) { fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", a...) }

// Discard drops everything logged. Used as the zero-value default inside
// the piper when the caller didn't supply a Logger.
type Discard struct{}

func (Discard) Debugf(string, ...interface{}) {}
func (Discard) Warnf(string, ...interface{})  {}
func (Discard) Errorf(string, ...interface{}) {}
