// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := NewLogger(&sync.WaitGroup{})
	logger.Start(ctx)
	return logger
}

func TestLogger(t *testing.T) {
	t.Run("subscribe", func(t *testing.T) {
		logger := newTestLogger(t)

		feed, cancel := logger.Subscribe()
		defer cancel()

		logger.Log(Entry{Level: LevelInfo, Src: "movie", SessionID: "s1", Msg: "a"})
		log := <-feed

		require.Equal(t, LevelInfo, log.Level)
		require.Equal(t, "movie", log.Src)
		require.Equal(t, "s1", log.SessionID)
		require.Equal(t, "a", log.Msg)
		require.NotZero(t, log.Time)
	})
	t.Run("multipleSubscribers", func(t *testing.T) {
		logger := newTestLogger(t)

		feed1, cancel1 := logger.Subscribe()
		defer cancel1()
		feed2, cancel2 := logger.Subscribe()
		defer cancel2()

		logger.Log(Entry{Msg: "b"})
		require.Equal(t, "b", (<-feed1).Msg)
		require.Equal(t, "b", (<-feed2).Msg)
	})
	t.Run("unsubscribe", func(t *testing.T) {
		logger := newTestLogger(t)

		feed, cancel := logger.Subscribe()
		cancel()

		_, ok := <-feed
		require.False(t, ok)
	})
	t.Run("stopped", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		logger := NewLogger(&wg)
		logger.Start(ctx)

		_, unsub := logger.Subscribe()
		cancel()
		wg.Wait()

		done := make(chan struct{})
		go func() {
			for i := 0; i < feedBufferSize*2; i++ {
				logger.Log(Entry{Msg: "c"})
			}
			unsub()
			_, unsub2 := logger.Subscribe()
			unsub2()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Fatal("logger blocked after stop")
		}
	})
}

func TestFormatLog(t *testing.T) {
	cases := map[string]struct {
		input    Log
		expected string
	}{
		"error": {
			Log{Level: LevelError, Src: "movie", Msg: "a"},
			"[ERROR] Movie: a",
		},
		"session": {
			Log{Level: LevelInfo, Src: "capture", SessionID: "x", Msg: "b"},
			"[INFO] x: Capture: b",
		},
		"noSrc": {
			Log{Level: LevelDebug, Msg: "c"},
			"[DEBUG] c",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, formatLog(tc.input))
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("Debug")
	require.NoError(t, err)
	require.Equal(t, LevelDebug, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, LevelInfo, level)

	_, err = ParseLevel("nil")
	require.ErrorIs(t, err, ErrInvalidLevel)
}
