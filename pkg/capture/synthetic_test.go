package capture

import (
	"bytes"
	"context"
	"image/jpeg"
	"testing"
	"time"

	"sampler/pkg/movie"

	"github.com/stretchr/testify/require"
)

func newTestSynthetic(t *testing.T, frames int) *SyntheticSource {
	s, err := NewSyntheticSource(SyntheticConfig{
		Width:      64,
		Height:     48,
		FrameRate:  30,
		SampleRate: 8000,
		Frames:     frames,
	})
	require.NoError(t, err)
	return s
}

func TestSyntheticSource(t *testing.T) {
	s := newTestSynthetic(t, 3)

	errs := make(chan error, 1)
	go func() { errs <- s.Run(context.Background()) }()

	var samples []SourceSample
	for sample := range s.Samples() {
		samples = append(samples, sample)
	}
	require.NoError(t, <-errs)
	require.Len(t, samples, 6)

	frameDur := time.Second / 30
	for i := 0; i < 3; i++ {
		video := samples[2*i]
		require.True(t, video.IsVideo)
		require.True(t, video.KeyFrame)
		require.Equal(t, time.Duration(i)*frameDur, video.PTS)
		require.Equal(t, frameDur, video.Duration)

		img, err := jpeg.Decode(bytes.NewReader(video.Data))
		require.NoError(t, err)
		require.Equal(t, 64, img.Bounds().Dx())
		require.Equal(t, 48, img.Bounds().Dy())

		require.False(t, samples[2*i+1].IsVideo)
	}

	// 8000/30 frames per video frame, 2 bytes each.
	require.Len(t, samples[1].Data, 2*266)
	require.Len(t, samples[3].Data, 2*267)
	require.Len(t, samples[5].Data, 2*267)

	require.Equal(t, time.Duration(0), samples[1].PTS)
	require.Equal(t, 33250*time.Microsecond, samples[3].PTS)

	// The tone starts at zero.
	require.Equal(t, []byte{0, 0}, samples[1].Data[:2])
}

func TestSyntheticSourceCancel(t *testing.T) {
	s := newTestSynthetic(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- s.Run(ctx) }()

	<-s.Samples()
	cancel()

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("timeout")
	}
	_, ok := <-s.Samples()
	require.False(t, ok)
}

func TestSyntheticSourceSettings(t *testing.T) {
	s := newTestSynthetic(t, 1)
	video, audio, err := s.Settings()
	require.NoError(t, err)

	v, err := movie.DecodeVideoSettings(video)
	require.NoError(t, err)
	require.Equal(t, movie.CodecJPEG, v.Codec)
	require.Equal(t, 30.0, v.FrameRate)

	a, err := movie.DecodeAudioSettings(audio)
	require.NoError(t, err)
	require.Equal(t, movie.CodecLPCM, a.Codec)
	require.Equal(t, 8000, a.SampleRate)
	require.Equal(t, 16, a.BitsPerSample)
}

func TestNewSyntheticSourceInvalid(t *testing.T) {
	cases := map[string]SyntheticConfig{
		"size":       {Width: 0, Height: 48, FrameRate: 30, SampleRate: 8000},
		"frameRate":  {Width: 64, Height: 48, FrameRate: 0, SampleRate: 8000},
		"sampleRate": {Width: 64, Height: 48, FrameRate: 30, SampleRate: 0},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSyntheticSource(c)
			require.ErrorIs(t, err, movie.ErrInvalidSettings)
		})
	}
}
