package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sampler/pkg/log"
	"sampler/pkg/movie"
	"sampler/pkg/storage"
)

// Saver takes ownership of a finished recording.
type Saver interface {
	Save(src string, info storage.AssetInfo) (storage.Asset, error)
}

// SaveResult the outcome of a recording.
type SaveResult struct {
	SessionID string
	Asset     storage.Asset
	Err       error
}

// RecorderConfig recorder configuration.
type RecorderConfig struct {
	Source   Source
	Rotation RotationSource // Optional.
	Saver    Saver
	Writer   movie.Config

	// Recordings are stopped automatically after
	// this duration, zero disables.
	MaxDuration time.Duration

	// Called after a recording has been saved or failed.
	OnSave func(SaveResult)

	Logger log.ILogger
}

// Recorder owns the movie writer and forwards samples from the
// source while recording. All writer calls are made from Run.
type Recorder struct {
	source   Source
	rotation RotationSource
	saver    Saver
	cfg      movie.Config
	maxDur   time.Duration
	onSave   func(SaveResult)
	logger   log.ILogger

	toggle chan chan toggleReply
	writer atomic.Pointer[movie.Writer]

	// Pending finalizations.
	saveWG sync.WaitGroup
}

type toggleReply struct {
	recording bool
	err       error
}

// ErrRecorderStopped recorder is not running.
var ErrRecorderStopped = errors.New("recorder stopped")

// NewRecorder returns a new recorder, Run must be called before use.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = log.NewMockLogger()
	}
	if cfg.OnSave == nil {
		cfg.OnSave = func(SaveResult) {}
	}
	cfg.Writer.Logger = cfg.Logger
	return &Recorder{
		source:   cfg.Source,
		rotation: cfg.Rotation,
		saver:    cfg.Saver,
		cfg:      cfg.Writer,
		maxDur:   cfg.MaxDuration,
		onSave:   cfg.OnSave,
		logger:   cfg.Logger,

		toggle: make(chan chan toggleReply),
	}
}

// Run forwards samples until ctx is canceled. An active recording
// is stopped and saved before Run returns.
func (r *Recorder) Run(ctx context.Context) {
	samples := r.source.Samples()

	var angles <-chan float64
	if r.rotation != nil {
		angles = r.rotation.Angles()
	}

	transform := movie.Identity
	var w *movie.Writer
	var timer *time.Timer
	var timeout <-chan time.Time

	stop := func() {
		if timer != nil {
			timer.Stop()
			timer, timeout = nil, nil
		}
		r.finalize(w)
		w = nil
		r.writer.Store(nil)
	}

	for {
		select {
		case <-ctx.Done():
			if w != nil {
				stop()
			}
			r.saveWG.Wait()
			return

		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			// No-op if not recording.
			w.Append(s.Sample, s.IsVideo)

		case angle := <-angles:
			transform = movie.Rotation(angle)
			r.logf(log.LevelDebug, "", "rotation angle: %v", angle)

		case reply := <-r.toggle:
			if w != nil {
				stop()
				reply <- toggleReply{recording: false}
				continue
			}

			var err error
			w, err = r.start(transform)
			if err != nil {
				r.logf(log.LevelError, "", "could not start recording: %v", err)
				reply <- toggleReply{err: err}
				continue
			}
			r.writer.Store(w)
			if r.maxDur != 0 {
				timer = time.NewTimer(r.maxDur)
				timeout = timer.C
			}
			reply <- toggleReply{recording: true}

		case <-timeout:
			if w != nil {
				r.logf(log.LevelInfo, w.ID(), "max duration reached, stopping recording")
				stop()
			}
		}
	}
}

func (r *Recorder) start(transform movie.Transform) (*movie.Writer, error) {
	video, audio, err := r.source.Settings()
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return movie.Start(video, audio, transform, r.cfg)
}

// finalize stops the writer and saves the result in the background.
func (r *Recorder) finalize(w *movie.Writer) {
	id := w.ID()
	res := w.StopAsync()

	r.saveWG.Add(1)
	go func() {
		defer r.saveWG.Done()
		result := r.save(id, <-res)
		r.onSave(result)
	}()
}

func (r *Recorder) save(id string, res movie.Result) SaveResult {
	if res.Err != nil {
		r.logf(log.LevelError, id, "recording failed: %v", res.Err)
		return SaveResult{SessionID: id, Err: res.Err}
	}

	asset, err := r.saver.Save(res.Path, storage.AssetInfo{SessionID: id})
	if err != nil {
		r.logf(log.LevelError, id, "could not save recording: %v", err)
		return SaveResult{SessionID: id, Err: err}
	}

	r.logf(log.LevelInfo, id, "recording saved: %v", asset.ID)
	return SaveResult{SessionID: id, Asset: asset}
}

// Toggle starts a recording if idle and stops it otherwise.
// Returns true if a recording was started.
func (r *Recorder) Toggle(ctx context.Context) (bool, error) {
	reply := make(chan toggleReply, 1)
	select {
	case r.toggle <- reply:
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %v", ErrRecorderStopped, ctx.Err())
	}
	res := <-reply
	return res.recording, res.err
}

// Session returns a snapshot of the active recording.
func (r *Recorder) Session() movie.Session {
	return r.writer.Load().Session()
}

// Recording reports whether a recording is active.
func (r *Recorder) Recording() bool {
	return r.writer.Load().Recording()
}

func (r *Recorder) logf(level log.Level, sessionID string, format string, a ...interface{}) {
	r.logger.Log(log.Entry{
		Level:     level,
		Src:       "recorder",
		SessionID: sessionID,
		Msg:       fmt.Sprintf(format, a...),
	})
}
