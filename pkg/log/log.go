// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// ErrInvalidLevel invalid log level.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name, "error", "warning", "info" or "debug".
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
}

// UnixMicro microseconds since the Unix epoch.
type UnixMicro uint64

// Entry log entry.
type Entry struct {
	Level     Level
	Src       string // Source.
	SessionID string // Recording session id.
	Msg       string // Message.
}

// Log defines log entry.
type Log struct {
	Level     Level
	Time      UnixMicro // Timestamp.
	Msg       string    // Message
	Src       string    // Source.
	SessionID string    // Recording session id.
}

// ILogger logger interface.
type ILogger interface {
	Log(Entry)
}

// Feed defines feed of logs.
type Feed <-chan Log
type logFeed chan Log

// Logger logs.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.
	done  chan struct{}

	wg *sync.WaitGroup
}

const feedBufferSize = 64

// NewLogger returns a new logger, Start must be called before use.
func NewLogger(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:  make(logFeed, feedBufferSize),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		done:  make(chan struct{}),

		wg: wg,
	}
}

// Start logger.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)
		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case msg := <-l.feed:
				for ch := range subs {
					ch <- msg
				}
			}
		}
	}()
}

// Log sends the entry to all subscribers.
// Entries are discarded after the logger has stopped.
func (l *Logger) Log(e Entry) {
	log := Log{
		Level:     e.Level,
		Time:      UnixMicro(time.Now().UnixMicro()),
		Msg:       e.Msg,
		Src:       e.Src,
		SessionID: e.SessionID,
	}
	select {
	case l.feed <- log:
	case <-l.done:
	}
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-l.done:
			return
		case <-feed:
		}
	}
}

// LogToStdout prints log feed to Stdout, entries above maxLevel are ignored.
func (l *Logger) LogToStdout(ctx context.Context, maxLevel Level) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case log := <-feed:
			if log.Level > maxLevel {
				continue
			}
			fmt.Println(formatLog(log))
		case <-ctx.Done():
			return
		}
	}
}

func formatLog(log Log) string {
	var output string

	switch log.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if log.SessionID != "" {
		output += log.SessionID + ": "
	}
	if log.Src != "" {
		output += strings.ToUpper(log.Src[:1]) + log.Src[1:] + ": "
	}

	output += log.Msg
	return output
}

type mockLogger struct{}

func (mockLogger) Log(Entry) {}

// NewMockLogger returns a logger that discards everything. Used for testing.
func NewMockLogger() ILogger {
	return mockLogger{}
}
