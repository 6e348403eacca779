package movie

import (
	"math"
	"testing"

	"sampler/pkg/video/mp4"

	"github.com/stretchr/testify/require"
)

func newTestVideoTrack(codec string) *track {
	s := &VideoSettings{Codec: codec, Width: 64, Height: 48, FrameRate: 30}
	return newVideoTrack(s, 1)
}

func TestTrackDurations(t *testing.T) {
	cases := map[string]struct {
		ticks        []int64
		lastDuration int64
		expected     []mp4.SttsEntry
	}{
		"single": {
			ticks:    []int64{0},
			expected: []mp4.SttsEntry{{SampleCount: 1, SampleDelta: 3000}},
		},
		"previousDelta": {
			ticks:    []int64{0, 3000, 6000},
			expected: []mp4.SttsEntry{{SampleCount: 3, SampleDelta: 3000}},
		},
		"lastDuration": {
			ticks:        []int64{0, 3000, 6000},
			lastDuration: 1000,
			expected: []mp4.SttsEntry{
				{SampleCount: 2, SampleDelta: 3000},
				{SampleCount: 1, SampleDelta: 1000},
			},
		},
		"variable": {
			ticks: []int64{0, 2999, 6000, 9000},
			expected: []mp4.SttsEntry{
				{SampleCount: 1, SampleDelta: 2999},
				{SampleCount: 1, SampleDelta: 3001},
				{SampleCount: 2, SampleDelta: 3000},
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tr := newTestVideoTrack(CodecJPEG)
			for i, tick := range tc.ticks {
				s := queuedSample{track: tr, tick: tick, data: []byte{1}}
				if i == len(tc.ticks)-1 {
					s.duration = tc.lastDuration
				}
				tr.addSample(s, uint64(i), false)
			}
			tr.close()
			require.Equal(t, tc.expected, tr.stts)

			var total int64
			for _, e := range tc.expected {
				total += int64(e.SampleCount) * int64(e.SampleDelta)
			}
			require.Equal(t, total, tr.mediaDuration)
		})
	}
}

func TestTrackChunks(t *testing.T) {
	video := newTestVideoTrack(CodecAVC1)
	audio := newAudioTrack(&AudioSettings{Codec: CodecAAC, SampleRate: 48000, Channels: 1}, 1)

	// v v a v a a a
	video.addSample(queuedSample{tick: 0, keyFrame: true, data: make([]byte, 10)}, 100, true)
	video.addSample(queuedSample{tick: 3000, data: make([]byte, 5)}, 110, false)
	audio.addSample(queuedSample{tick: 0, data: make([]byte, 4)}, 115, true)
	video.addSample(queuedSample{tick: 6000, keyFrame: true, data: make([]byte, 7)}, 119, true)
	audio.addSample(queuedSample{tick: 1024, data: make([]byte, 4)}, 126, true)
	audio.addSample(queuedSample{tick: 2048, data: make([]byte, 4)}, 130, false)
	audio.addSample(queuedSample{tick: 3072, data: make([]byte, 4)}, 134, false)

	require.Equal(t, []uint64{100, 119}, video.chunkOffsets)
	require.Equal(t, []mp4.StscEntry{
		{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionIndex: 1},
		{FirstChunk: 2, SamplesPerChunk: 1, SampleDescriptionIndex: 1},
	}, video.compactStsc())
	require.Equal(t, []uint32{10, 5, 7}, video.stsz)
	require.Equal(t, []uint32{1, 3}, video.stss)

	require.Equal(t, []uint64{115, 126}, audio.chunkOffsets)
	require.Equal(t, []mp4.StscEntry{
		{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: 1},
		{FirstChunk: 2, SamplesPerChunk: 3, SampleDescriptionIndex: 1},
	}, audio.compactStsc())
	require.Nil(t, audio.stss)

	audio.close()
	require.Equal(t, []mp4.SttsEntry{{SampleCount: 4, SampleDelta: 1024}}, audio.stts)
}

func TestTrackCompactStsc(t *testing.T) {
	tr := newTestVideoTrack(CodecJPEG)
	for i := 0; i < 3; i++ {
		tr.addSample(queuedSample{tick: int64(i * 3000), data: []byte{1}}, uint64(i*10), true)
	}
	require.Len(t, tr.stsc, 3)
	require.Equal(t, []mp4.StscEntry{
		{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: 1},
	}, tr.compactStsc())
	require.Nil(t, tr.stss)
}

func TestTrackLPCM(t *testing.T) {
	s := &AudioSettings{Codec: CodecLPCM, SampleRate: 8000, Channels: 2, BitsPerSample: 16}
	tr := newAudioTrack(s, 1)

	tr.addSample(queuedSample{tick: 800, data: make([]byte, 400)}, 50, true)
	tr.addSample(queuedSample{tick: 900, data: make([]byte, 400)}, 450, false)
	tr.close()

	require.Equal(t, uint32(200), tr.sampleCount)
	require.Equal(t, []mp4.SttsEntry{{SampleCount: 200, SampleDelta: 1}}, tr.stts)
	require.Equal(t, int64(800), tr.firstTick)
	require.Equal(t, int64(1000), tr.endTick())
	require.Equal(t, uint64(125), tr.toMovieTimescale(tr.endTick()))
}

func TestTrackLPCMGap(t *testing.T) {
	s := &AudioSettings{Codec: CodecLPCM, SampleRate: 8000, Channels: 2, BitsPerSample: 16}

	t.Run("buffers", func(t *testing.T) {
		tr := newAudioTrack(s, 1)
		// 100 frames per buffer.
		for i, tick := range []int64{0, 150, 250, 330} {
			tr.addSample(queuedSample{tick: tick, data: make([]byte, 400)}, uint64(i*400), false)
		}
		tr.close()

		require.Equal(t, uint32(400), tr.sampleCount)
		require.Equal(t, []mp4.SttsEntry{
			{SampleCount: 99, SampleDelta: 1},
			{SampleCount: 1, SampleDelta: 51},
			{SampleCount: 300, SampleDelta: 1},
		}, tr.stts)
		require.Equal(t, int64(450), tr.endTick())
	})
	t.Run("singleFrame", func(t *testing.T) {
		tr := newAudioTrack(s, 1)
		tr.addSample(queuedSample{tick: 0, data: make([]byte, 4)}, 0, false)
		tr.addSample(queuedSample{tick: 10, data: make([]byte, 4)}, 4, false)

		require.Equal(t, []mp4.SttsEntry{
			{SampleCount: 1, SampleDelta: 10},
			{SampleCount: 1, SampleDelta: 1},
		}, tr.stts)
		require.Equal(t, int64(11), tr.mediaDuration)
	})
}

func TestGenerateChunkOffsets(t *testing.T) {
	small := generateChunkOffsets([]uint64{36, 1000})
	require.Equal(t, &mp4.Stco{ChunkOffsets: []uint32{36, 1000}}, small.Box)

	large := generateChunkOffsets([]uint64{36, math.MaxUint32 + 1})
	require.Equal(t, &mp4.Co64{ChunkOffsets: []uint64{36, math.MaxUint32 + 1}}, large.Box)
}
