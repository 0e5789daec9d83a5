/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/futexrpc/pkg/channel"
)

type logger struct {
	name      string
	out       io.Writer
	callDepth int
}

var (
	internalLogger = &logger{"", os.Stdout, 3}
	level          int
	debugMode      = false

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelNoPrint
)

func init() {
	level = levelWarn
	if os.Getenv("FUTEXRPC_LOG_LEVEL") != "" {
		if n, err := strconv.Atoi(os.Getenv("FUTEXRPC_LOG_LEVEL")); err == nil {
			if n <= levelNoPrint {
				level = n
			}
		}
	}

	if os.Getenv("FUTEXRPC_DEBUG_MODE") != "" {
		debugMode = true
		level = levelDebug
	}
}

// SetLogLevel used to change the internal logger's level and the default level is Warning.
// The process env `FUTEXRPC_LOG_LEVEL` also could set log level
func SetLogLevel(l int) {
	if l <= levelNoPrint {
		level = l
	}
}

func newLogger(name string, out io.Writer) *logger {
	if out == nil {
		out = os.Stdout
	}
	return &logger{
		name:      name,
		out:       out,
		callDepth: 3,
	}
}

func (l *logger) write(lv int, format string, a ...interface{}) {
	if level > lv {
		return
	}
	if _, err := fmt.Fprintf(l.out, l.prefix(lv)+format+reset+"\n", a...); err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

func (l *logger) errorf(format string, a ...interface{}) {
	l.write(levelError, format, a...)
}

func (l *logger) warnf(format string, a ...interface{}) {
	l.write(levelWarn, format, a...)
}

func (l *logger) infof(format string, a ...interface{}) {
	l.write(levelInfo, format, a...)
}

func (l *logger) debugf(format string, a ...interface{}) {
	l.write(levelDebug, format, a...)
}

func (l *logger) tracef(format string, a ...interface{}) {
	l.write(levelTrace, format, a...)
}

func (l *logger) prefix(level int) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString(colors[level])
	_, _ = buf.WriteString(levelName[level])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.name)
	_ = buf.WriteByte(' ')
	return buf.String()
}

func (l *logger) location() string {
	// write and the level method sit between the caller and prefix
	_, file, line, ok := runtime.Caller(l.callDepth + 1)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}

// DebugChannelDetail prints the channel record stored in the shared memory
// file at path, e.g. a region created with MemMapTypeDevShmFile.
func DebugChannelDetail(w io.Writer, path string) error {
	mem, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ch, err := channel.Attach(mem)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	s := ch.Snapshot()
	_, err = fmt.Fprintf(w, "path:%s state:%v spin:%d stop:%t serverSleeps:%d clientSleeps:%d\n",
		path, s.State, s.SpinBudget, s.StopRequested, s.ServerSleeps, s.ClientSleeps)
	return err
}
