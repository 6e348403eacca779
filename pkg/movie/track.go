package movie

import (
	"sync/atomic"

	"sampler/pkg/video/aac"
	"sampler/pkg/video/mp4"
)

// Track IDs.
const (
	videoTrackID = 1
	audioTrackID = 2
)

const (
	videoTimescale = 90000
	movieTimescale = 1000
)

type trackKind uint8

const (
	trackVideo trackKind = iota
	trackAudio
)

func (k trackKind) String() string {
	if k == trackVideo {
		return "video"
	}
	return "audio"
}

type queuedSample struct {
	track    *track
	tick     int64 // Start time in track ticks relative to the anchor.
	duration int64 // Optional, in track ticks.
	keyFrame bool
	data     []byte
}

// track holds the per-track state. The producer fields are only touched by
// the goroutine calling Append, the sample table only by the I/O goroutine.
type track struct {
	kind      trackKind
	id        uint32
	timescale int64

	video *VideoSettings
	audio *AudioSettings

	// Duration in ticks of the last sample when nothing better is known.
	defaultDelta uint32

	// Bytes per frame for LPCM where every frame is a sample, zero otherwise.
	frameSize int

	// Every sample is a sync sample and stss is omitted.
	allSync bool

	depth    int32
	inFlight atomic.Int32

	// Producer.
	hasPrev  bool
	prevTick int64

	appended atomic.Uint64
	dropped  atomic.Uint64
	skipped  atomic.Uint64
	peak     atomic.Int32

	sampleTable
}

func newVideoTrack(s *VideoSettings, depth int) *track {
	return &track{
		kind:         trackVideo,
		id:           videoTrackID,
		timescale:    videoTimescale,
		video:        s,
		defaultDelta: uint32(float64(videoTimescale) / s.FrameRate),
		allSync:      s.Codec == CodecJPEG,
		depth:        int32(depth),
	}
}

func newAudioTrack(s *AudioSettings, depth int) *track {
	t := &track{
		kind:      trackAudio,
		id:        audioTrackID,
		timescale: int64(s.SampleRate),
		audio:     s,
		allSync:   true,
		depth:     int32(depth),
	}
	switch s.Codec {
	case CodecAAC:
		t.defaultDelta = aac.SamplesPerFrame
	case CodecLPCM:
		t.frameSize = s.frameSize()
	}
	return t
}

// ready reports whether the track can accept another sample.
func (t *track) ready() bool {
	return t.inFlight.Load() < t.depth
}

// acquire reserves an in-flight slot.
func (t *track) acquire() {
	n := t.inFlight.Add(1)
	for {
		peak := t.peak.Load()
		if n <= peak || t.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (t *track) release() {
	t.inFlight.Add(-1)
}

// TrackStats sample counters of a single track.
type TrackStats struct {
	// Samples handed to the writer.
	Appended uint64

	// Samples dropped because the track was not ready.
	Dropped uint64

	// Samples before the anchor or out of order.
	Skipped uint64

	// Highest number of samples in flight at once.
	PeakInFlight int
}

func (t *track) stats() TrackStats {
	if t == nil {
		return TrackStats{}
	}
	return TrackStats{
		Appended:     t.appended.Load(),
		Dropped:      t.dropped.Load(),
		Skipped:      t.skipped.Load(),
		PeakInFlight: int(t.peak.Load()),
	}
}

// sampleTable is built by the I/O goroutine while samples are written.
type sampleTable struct {
	stts         []mp4.SttsEntry
	stss         []uint32
	stsc         []mp4.StscEntry
	stsz         []uint32
	chunkOffsets []uint64
	sampleCount  uint32

	started   bool
	firstTick int64

	// The duration of the latest sample is known once the next one arrives.
	pending         bool
	pendingTick     int64
	pendingDuration int64
	lastDelta       uint32

	mediaDuration int64
}

// addSample adds a written sample to the table.
func (t *track) addSample(s queuedSample, offset uint64, newChunk bool) {
	if !t.started {
		t.started = true
		t.firstTick = s.tick
	}

	if t.frameSize != 0 {
		// A gap in the input stretches the last frame.
		if gap := s.tick - t.endTick(); t.sampleCount != 0 && gap > 0 {
			t.stretchLast(uint32(gap))
		}
		frames := uint32(len(s.data) / t.frameSize)
		t.addStts(frames, 1)
		t.addToChunk(frames, offset, newChunk)
		t.sampleCount += frames
		return
	}

	if t.pending {
		delta := uint32(s.tick - t.pendingTick)
		t.addStts(1, delta)
		t.lastDelta = delta
	}
	t.pending = true
	t.pendingTick = s.tick
	t.pendingDuration = s.duration

	t.addToChunk(1, offset, newChunk)
	t.stsz = append(t.stsz, uint32(len(s.data)))
	t.sampleCount++

	if s.keyFrame && !t.allSync {
		t.stss = append(t.stss, t.sampleCount)
	}
}

// Consecutive samples of the same track form a chunk.
func (t *track) addToChunk(samples uint32, offset uint64, newChunk bool) {
	if !newChunk && len(t.stsc) != 0 {
		t.stsc[len(t.stsc)-1].SamplesPerChunk += samples
		return
	}
	t.chunkOffsets = append(t.chunkOffsets, offset)
	t.stsc = append(t.stsc, mp4.StscEntry{
		FirstChunk:             uint32(len(t.chunkOffsets)),
		SamplesPerChunk:        samples,
		SampleDescriptionIndex: 1,
	})
}

func (t *track) addStts(count uint32, delta uint32) {
	t.mediaDuration += int64(count) * int64(delta)
	if len(t.stts) > 0 && t.stts[len(t.stts)-1].SampleDelta == delta {
		t.stts[len(t.stts)-1].SampleCount += count
		return
	}
	t.stts = append(t.stts, mp4.SttsEntry{
		SampleCount: count,
		SampleDelta: delta,
	})
}

// stretchLast adds extra ticks to the duration of the last sample.
func (t *track) stretchLast(extra uint32) {
	last := &t.stts[len(t.stts)-1]
	delta := last.SampleDelta + extra
	t.mediaDuration += int64(extra)

	if last.SampleCount == 1 {
		last.SampleDelta = delta
		return
	}
	last.SampleCount--
	t.stts = append(t.stts, mp4.SttsEntry{
		SampleCount: 1,
		SampleDelta: delta,
	})
}

// close resolves the duration of the last sample.
func (t *track) close() {
	if !t.pending {
		return
	}
	t.pending = false

	delta := uint32(t.pendingDuration)
	if delta == 0 {
		delta = t.lastDelta
	}
	if delta == 0 {
		delta = t.defaultDelta
	}
	t.addStts(1, delta)
}

// compactStsc merges neighboring entries with the same chunk size.
func (t *track) compactStsc() []mp4.StscEntry {
	var out []mp4.StscEntry
	for _, e := range t.stsc {
		if len(out) != 0 && out[len(out)-1].SamplesPerChunk == e.SamplesPerChunk {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (t *track) empty() bool {
	return t == nil || t.sampleCount == 0
}

// endTick track end in ticks relative to the anchor.
func (t *track) endTick() int64 {
	return t.firstTick + t.mediaDuration
}

func (t *track) toMovieTimescale(ticks int64) uint64 {
	return uint64(ticks * movieTimescale / t.timescale)
}
