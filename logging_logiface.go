package corerun

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
)

// logifaceEvent is a minimal logiface.Event: a flat, ordered slice of
// key=value fields plus the level the factory assigned it. Unlike
// eventloop's testEvent (which exists only to satisfy the interface for
// coverage), this one actually renders a line, the same shape
// logiface-stumpy/-zerolog/-logrus's Event implementations take but without
// pulling in any of those backends.
type logifaceEvent struct {
	logiface.UnimplementedEvent
	lvl    logiface.Level
	fields []string
	msg    string
}

func (e *logifaceEvent) Level() logiface.Level { return e.lvl }

func (e *logifaceEvent) AddField(key string, val any) {
	e.fields = append(e.fields, fmt.Sprintf("%s=%v", key, val))
}

func (e *logifaceEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

func (e *logifaceEvent) AddError(err error) bool {
	e.fields = append(e.fields, fmt.Sprintf("error=%v", err))
	return true
}

func (e *logifaceEvent) AddString(key, val string) bool {
	e.fields = append(e.fields, fmt.Sprintf("%s=%s", key, val))
	return true
}

func (e *logifaceEvent) AddUint64(key string, val uint64) bool {
	e.fields = append(e.fields, fmt.Sprintf("%s=%d", key, val))
	return true
}

// levelToLogiface maps this package's four-level scheme onto logiface's
// syslog-derived scale, following the mapping logiface.Level's own doc
// comment recommends (Error/Warning/Informational/Debug).
func levelToLogiface(l Level) logiface.Level {
	switch l {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

// LogifaceLogger adapts a github.com/joeycumines/logiface.Logger into this
// package's [Logger] interface, plugged in via [WithLogger]; grounded on eventloop's
// own use of logiface (eventloop/coverage_extra_test.go's typedLogger setup)
// and mirroring the Writer/EventFactory shape the logiface-stumpy/-zerolog/
// -logrus adapters use, without depending on any one of those backends.
type LogifaceLogger struct {
	mu     sync.Mutex
	out    io.Writer
	logger *logiface.Logger[*logifaceEvent]
	min    Level
}

// NewLogifaceLogger builds a LogifaceLogger writing min-and-above records to
// out (os.Stderr if nil) as plain "[level] component=... key=val message"
// lines.
func NewLogifaceLogger(out io.Writer, min Level) *LogifaceLogger {
	if out == nil {
		out = os.Stderr
	}
	l := &LogifaceLogger{out: out, min: min}
	l.logger = logiface.New[*logifaceEvent](
		logiface.WithEventFactory[*logifaceEvent](logiface.NewEventFactoryFunc(func(lvl logiface.Level) *logifaceEvent {
			return &logifaceEvent{lvl: lvl}
		})),
		logiface.WithWriter[*logifaceEvent](logiface.NewWriterFunc(l.write)),
		logiface.WithLevel[*logifaceEvent](levelToLogiface(min)),
	)
	return l
}

func (l *LogifaceLogger) write(e *logifaceEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.out, "[%s]", e.lvl)
	if err != nil {
		return err
	}
	for _, f := range e.fields {
		if _, err := fmt.Fprintf(l.out, " %s", f); err != nil {
			return err
		}
	}
	if e.msg != "" {
		if _, err := fmt.Fprintf(l.out, " %s", e.msg); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(l.out)
	return err
}

// IsEnabled implements [Logger].
func (l *LogifaceLogger) IsEnabled(lv Level) bool {
	return l.logger.Build(levelToLogiface(lv)).Enabled()
}

// Log implements [Logger], rendering e as a single structured line.
func (l *LogifaceLogger) Log(e Entry) {
	b := l.logger.Build(levelToLogiface(e.Level))
	if !b.Enabled() {
		return
	}
	b = b.Str("component", e.Component)
	if e.ExecutorID != 0 {
		b = b.Uint64("executor", e.ExecutorID)
	}
	if e.Err != nil {
		b = b.Err(e.Err)
	}
	b.Log(e.Message)
}
