package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type Logger struct {
	// The level at which this logger logs. Any log messages intended for a higher
	// (more verbose) log level are ignored.
	Level

	// Tag used to filter and classify log messages.
	Tag string

	out *destination
}

// destination is shared by all loggers derived from the same root, so that
// SetDestination on the root redirects every tagged logger.
type destination struct {
	w io.Writer

	// Prevents messages from different goroutines from interleaving.
	sync.Mutex
}

// Write to stderr by default.
var DefaultLogger = &Logger{defaultLevel, "", &destination{w: os.Stderr}}

// New creates a root logger writing to out.
func New(tag string, out io.Writer) *Logger {
	return &Logger{determineLevel(tag, defaultLevel), tag, &destination{w: out}}
}

// Override the destination for this logger and every logger derived from it.
func (log *Logger) SetDestination(out io.Writer) {
	log.out.Lock()
	log.out.w = out
	log.out.Unlock()
}

// Package-level loggers derived from DefaultLogger, re-leveled by Configure.
var tagged struct {
	sync.Mutex
	loggers []*Logger
}

// Derive a new logger with the given tag. Look up the level based on the tag.
func (log *Logger) WithTag(tag string) *Logger {
	l := &Logger{determineLevel(tag, log.Level), tag, log.out}
	if log == DefaultLogger {
		tagged.Lock()
		tagged.loggers = append(tagged.loggers, l)
		tagged.Unlock()
	}
	return l
}

// Derive a new logger with the given default level. This can still be
// overridden by LOGLEVEL.
func (log *Logger) WithDefaultLevel(level Level) *Logger {
	return &Logger{determineLevel(log.Tag, level), log.Tag, log.out}
}

// Enabled reports whether messages at the given level would be written. Use it
// to guard expensive argument construction on per-packet paths.
func (log *Logger) Enabled(level Level) bool {
	return level <= log.Level
}

// Wrapper for []byte that implements io.Writer. Simpler and cheaper than
// bytes.Buffer.
type buffer []byte

func (b *buffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// A global buffer pool, shared across all loggers.
var bufPool = sync.Pool{
	New: func() interface{} {
		b := make(buffer, 0, 256)
		return &b
	},
}

// Log a message at the given level. Include the file and line number from
// 'calldepth' steps up the call stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if level > log.Level {
		return
	}

	bp := bufPool.Get().(*buffer)
	buf := (*bp)[:0]
	defer func() {
		*bp = buf[:0]
		bufPool.Put(bp)
	}()

	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}

	timestampColor.Fprint(&buf, time.Now().Format(timestampFormat))
	level.color().Fprintf(&buf, " %c/%s", level.letter(), log.Tag)
	locationColor.Fprintf(&buf, "[%s:%d] ", filepath.Base(file), line)
	fmt.Fprintf(&buf, format, a...)

	if n := len(buf); n == 0 || buf[n-1] != '\n' {
		buf = append(buf, '\n')
	}

	log.out.Lock()
	defer log.out.Unlock()
	if _, err := log.out.w.Write(buf); err != nil {
		panic(fmt.Sprintf("Failed to log to %v: %v", log.out.w, err))
	}
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}

func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}
