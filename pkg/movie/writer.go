package movie

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"sampler/pkg/log"

	"github.com/google/uuid"
)

// State of the writer.
type State int32

// States.
const (
	StateUnknown State = iota
	StateWriting
	StateFinalizing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateWriting:
		return "writing"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Errors.
var (
	ErrNotEnoughSpace = errors.New("not enough free disk space")
)

// Config writer configuration.
type Config struct {
	// Output directory, defaults to the temporary directory.
	Dir string

	// File extension, defaults to ".mov".
	Ext string

	// Number of samples per track that may be queued or in
	// the middle of being written. Defaults to 1.
	QueueDepth int

	// Minimum free space in bytes required to start.
	// Only checked when FreeSpace is set.
	MinFreeSpace uint64

	Logger log.ILogger

	// Creates the output file, defaults to an exclusive os.OpenFile.
	CreateFile func(path string) (File, error)

	// Returns the free space in bytes of a directory.
	FreeSpace func(dir string) (uint64, error)
}

func (c *Config) fillMissing() {
	if c.Dir == "" {
		c.Dir = os.TempDir()
	}
	if c.Ext == "" {
		c.Ext = ".mov"
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 1
	}
	if c.Logger == nil {
		c.Logger = log.NewMockLogger()
	}
	if c.CreateFile == nil {
		c.CreateFile = createFile
	}
}

func createFile(path string) (File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Writer writes samples to a QuickTime movie.
//
// Append, Stop and StopAsync must be called from a single goroutine.
// The remaining methods are safe for concurrent use.
type Writer struct {
	id        string
	path      string
	transform Transform
	logger    log.ILogger

	file      File
	container *container
	video     *track
	audio     *track

	state     atomic.Int32
	recording atomic.Bool

	// Producer.
	stopped  bool
	anchored bool
	anchor   time.Duration

	queue chan queuedSample
	done  chan struct{}

	// Set by the I/O goroutine before done is closed.
	result Result
}

// Start creates a new output file with a video track and, if audio
// is not nil, an audio track. The returned writer is recording in
// the unknown state until the first video sample is appended.
func Start(video, audio Settings, transform Transform, cfg Config) (*Writer, error) {
	cfg.fillMissing()

	videoSettings, err := DecodeVideoSettings(video)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		id:        uuid.NewString(),
		transform: transform,
		logger:    cfg.Logger,
		video:     newVideoTrack(videoSettings, cfg.QueueDepth),
		done:      make(chan struct{}),
	}

	queueSize := cfg.QueueDepth
	if audio != nil {
		audioSettings, err := DecodeAudioSettings(audio)
		if err != nil {
			return nil, err
		}
		w.audio = newAudioTrack(audioSettings, cfg.QueueDepth)
		queueSize += cfg.QueueDepth
	}
	w.queue = make(chan queuedSample, queueSize)

	if cfg.FreeSpace != nil && cfg.MinFreeSpace != 0 {
		free, err := cfg.FreeSpace(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("free space: %w", err)
		}
		if free < cfg.MinFreeSpace {
			return nil, fmt.Errorf("%w: %d/%d", ErrNotEnoughSpace, free, cfg.MinFreeSpace)
		}
	}

	w.path = filepath.Join(cfg.Dir, w.id+cfg.Ext)
	w.file, err = cfg.CreateFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	w.container, err = newContainer(w.file)
	if err != nil {
		w.file.Close()
		os.Remove(w.path)
		return nil, err
	}

	w.recording.Store(true)
	go w.run()

	w.logf(log.LevelInfo, "recording to %v", w.path)
	return w, nil
}

// Append forwards the sample to its track. The sample is dropped if the
// track is not ready and skipped if it cannot be placed on the timeline.
// The data is copied and may be reused after Append returns.
// Append never blocks and is a no-op if the writer is not recording.
func (w *Writer) Append(s Sample, isVideo bool) {
	if w == nil || w.stopped || !w.recording.Load() {
		return
	}

	t := w.audio
	if isVideo {
		t = w.video
	}
	if t == nil {
		return
	}

	if !w.anchored {
		// Only video can start the session.
		if !isVideo {
			t.skipped.Add(1)
			return
		}
		w.anchored = true
		w.anchor = s.PTS
		w.state.Store(int32(StateWriting))
	}

	if s.PTS < w.anchor {
		t.skipped.Add(1)
		return
	}

	data := s.Data
	if t.frameSize != 0 {
		data = data[:len(data)-len(data)%t.frameSize]
	}
	if len(data) == 0 {
		t.skipped.Add(1)
		return
	}

	tick := NanoToTimescale(int64(s.PTS-w.anchor), t.timescale)
	if t.hasPrev && tick <= t.prevTick {
		t.skipped.Add(1)
		return
	}
	// The sample duration would not fit in the sample table.
	if t.hasPrev && tick-t.prevTick > math.MaxUint32 {
		t.skipped.Add(1)
		return
	}

	if !t.ready() {
		t.dropped.Add(1)
		return
	}
	t.acquire()

	t.hasPrev = true
	t.prevTick = tick
	t.appended.Add(1)

	buf := make([]byte, len(data))
	copy(buf, data)

	qs := queuedSample{
		track:    t,
		tick:     tick,
		duration: NanoToTimescale(int64(s.Duration), t.timescale),
		keyFrame: s.KeyFrame,
		data:     buf,
	}
	select {
	case w.queue <- qs:
	default:
		// Unreachable while the queue holds the sum of the track depths.
		t.release()
		t.appended.Add(^uint64(0))
		t.dropped.Add(1)
	}
}

// run is the I/O goroutine.
func (w *Writer) run() {
	defer close(w.done)

	var writeErr error
	started := false
	for s := range w.queue {
		if !started {
			started = true
			// Set by Append before the first sample was queued.
			w.logf(log.LevelDebug, "session started at %v", w.anchor)
		}
		if writeErr == nil {
			writeErr = w.container.writeSample(s)
		}
		s.track.release()
	}

	w.result = w.finalize(writeErr)
}

func (w *Writer) finalize(writeErr error) Result {
	err := writeErr
	if err == nil {
		err = w.container.finalize(w.tracks(), w.transform)
	}

	closeErr := w.file.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("close: %w", closeErr)
	}

	stats := w.Stats()
	if err != nil {
		os.Remove(w.path)
		w.state.Store(int32(StateFailed))
		w.logf(log.LevelError, "finalization failed: %v", err)
		return Result{Err: err}
	}

	w.state.Store(int32(StateCompleted))
	w.logf(log.LevelInfo,
		"finalized %v: video %d/%d dropped, audio %d/%d dropped",
		w.path,
		stats.Video.Dropped, stats.Video.Appended+stats.Video.Dropped,
		stats.Audio.Dropped, stats.Audio.Appended+stats.Audio.Dropped,
	)
	return Result{Path: w.path}
}

func (w *Writer) tracks() []*track {
	if w.audio == nil {
		return []*track{w.video}
	}
	return []*track{w.video, w.audio}
}

// StopAsync stops recording and finalizes the movie in the background.
// Only the first call produces a result, later calls receive an empty one.
func (w *Writer) StopAsync() <-chan Result {
	res := make(chan Result, 1)
	if w == nil || w.stopped {
		res <- Result{}
		return res
	}
	w.stopped = true
	w.recording.Store(false)
	w.state.Store(int32(StateFinalizing))
	close(w.queue)

	go func() {
		<-w.done
		res <- w.result
	}()
	return res
}

// Stop stops recording and waits for the movie to be finalized.
// Returns the path of the finished file. Canceling the context
// stops the wait, finalization continues in the background.
func (w *Writer) Stop(ctx context.Context) (string, error) {
	select {
	case res := <-w.StopAsync():
		return res.Path, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Session is a snapshot of the writer.
type Session struct {
	ID         string
	Recording  bool
	Path       string
	VideoReady bool
	AudioReady bool
	State      State
}

// Session returns a snapshot of the writer.
func (w *Writer) Session() Session {
	if w == nil {
		return Session{}
	}
	s := Session{
		ID:         w.id,
		Recording:  w.recording.Load(),
		Path:       w.path,
		VideoReady: w.video.ready(),
		State:      w.State(),
	}
	if w.audio != nil {
		s.AudioReady = w.audio.ready()
	}
	return s
}

// State returns the current state.
func (w *Writer) State() State {
	if w == nil {
		return StateUnknown
	}
	return State(w.state.Load())
}

// Path returns the output file path.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Recording reports whether the writer accepts samples.
func (w *Writer) Recording() bool {
	return w != nil && w.recording.Load()
}

// ID returns the session id.
func (w *Writer) ID() string {
	if w == nil {
		return ""
	}
	return w.id
}

// Stats sample counters.
type Stats struct {
	Video TrackStats
	Audio TrackStats
}

// Stats returns the sample counters.
func (w *Writer) Stats() Stats {
	if w == nil {
		return Stats{}
	}
	return Stats{
		Video: w.video.stats(),
		Audio: w.audio.stats(),
	}
}

func (w *Writer) logf(level log.Level, format string, a ...interface{}) {
	w.logger.Log(log.Entry{
		Level:     level,
		Src:       "writer",
		SessionID: w.id,
		Msg:       fmt.Sprintf(format, a...),
	})
}
