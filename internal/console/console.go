// Package console collects script output and runtime errors.
//
// Messages go into a bounded in-memory queue that frontends drain, and are
// optionally echoed to a writer. The console doubles as the runtime's error
// channel: callback faults land here, and a logrus hook forwards warnings and
// errors logged anywhere in the process.
package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of messages kept when no capacity is given.
const DefaultCapacity = 1000

// Level is the severity of a console message.
type Level int

// Message levels.
const (
	LevelPrint Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns a string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelPrint:
		return "print"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one console entry.
type Message struct {
	Level  Level
	Source string
	Text   string
	Time   time.Time
}

// String formats the message for display.
func (m Message) String() string {
	if m.Source == "" {
		return fmt.Sprintf("[%s] %s", m.Level, m.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", m.Level, m.Source, m.Text)
}

// Console is a bounded message queue.
type Console struct {
	mu       sync.Mutex
	messages []Message
	capacity int
	dropped  int

	out io.Writer
	now func() time.Time
}

// Option configures a Console.
type Option func(*Console)

// WithCapacity sets how many messages are kept. Older messages are dropped
// first.
func WithCapacity(n int) Option {
	return func(c *Console) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithOutput echoes every message to w.
func WithOutput(w io.Writer) Option {
	return func(c *Console) {
		c.out = w
	}
}

// New creates a console.
func New(opts ...Option) *Console {
	c := &Console{
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write appends a message.
func (c *Console) Write(level Level, source, text string) {
	msg := Message{
		Level:  level,
		Source: source,
		Text:   text,
		Time:   c.now(),
	}

	c.mu.Lock()
	if len(c.messages) >= c.capacity {
		n := len(c.messages) - c.capacity + 1
		c.messages = append(c.messages[:0], c.messages[n:]...)
		c.dropped += n
	}
	c.messages = append(c.messages, msg)
	out := c.out
	c.mu.Unlock()

	if out != nil {
		if level == LevelPrint {
			fmt.Fprintln(out, text)
		} else {
			fmt.Fprintln(out, msg.String())
		}
	}
}

// Print appends a plain message.
func (c *Console) Print(source, text string) { c.Write(LevelPrint, source, text) }

// Warn appends a warning.
func (c *Console) Warn(source, text string) { c.Write(LevelWarn, source, text) }

// Error appends an error message.
func (c *Console) Error(source, text string) { c.Write(LevelError, source, text) }

// Report records err on the error channel.
func (c *Console) Report(err error) {
	if err == nil {
		return
	}
	c.Write(LevelError, "runtime", err.Error())
}

// Messages returns a copy of the queued messages, oldest first.
func (c *Console) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Errors returns the queued error messages, oldest first.
func (c *Console) Errors() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Message
	for _, m := range c.messages {
		if m.Level == LevelError {
			out = append(out, m)
		}
	}
	return out
}

// Drain returns the queued messages and empties the queue.
func (c *Console) Drain() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.messages
	c.messages = nil
	return out
}

// Clear empties the queue.
func (c *Console) Clear() {
	c.mu.Lock()
	c.messages = nil
	c.dropped = 0
	c.mu.Unlock()
}

// Len returns the number of queued messages.
func (c *Console) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Dropped returns how many messages were discarded for capacity.
func (c *Console) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// LogHook returns a logrus hook that copies warnings and errors into c.
func (c *Console) LogHook() logrus.Hook {
	return &logHook{console: c}
}

type logHook struct {
	console *Console
}

func (h *logHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
	}
}

func (h *logHook) Fire(entry *logrus.Entry) error {
	level := LevelWarn
	if entry.Level <= logrus.ErrorLevel {
		level = LevelError
	}

	text := entry.Message
	if err, ok := entry.Data[logrus.ErrorKey].(error); ok {
		text += ": " + err.Error()
	}
	source, _ := entry.Data["component"].(string)
	if source == "" {
		source = "log"
	}
	h.console.Write(level, source, text)
	return nil
}
