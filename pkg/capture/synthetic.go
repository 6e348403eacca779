package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"time"

	"sampler/pkg/movie"
)

// SyntheticConfig synthetic source configuration.
type SyntheticConfig struct {
	Width      int
	Height     int
	FrameRate  int
	SampleRate int

	// Tone frequency in Hz, defaults to 440.
	ToneFrequency float64

	// Stop after this many frames, zero is unlimited.
	Frames int

	// Emit samples in real time, otherwise as fast as they are consumed.
	Paced bool
}

// SyntheticSource generates a JPEG test pattern and a PCM tone.
// Each video frame is followed by the audio covering its duration.
type SyntheticSource struct {
	c       SyntheticConfig
	samples chan SourceSample
}

// NewSyntheticSource returns a new synthetic source.
func NewSyntheticSource(c SyntheticConfig) (*SyntheticSource, error) {
	if c.Width <= 0 || c.Height <= 0 {
		return nil, fmt.Errorf("%w: size %vx%v", movie.ErrInvalidSettings, c.Width, c.Height)
	}
	if c.FrameRate <= 0 {
		return nil, fmt.Errorf("%w: frame rate %v", movie.ErrInvalidSettings, c.FrameRate)
	}
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %v", movie.ErrInvalidSettings, c.SampleRate)
	}
	if c.ToneFrequency == 0 {
		c.ToneFrequency = 440
	}
	return &SyntheticSource{
		c:       c,
		samples: make(chan SourceSample),
	}, nil
}

// Samples implements Source.
func (s *SyntheticSource) Samples() <-chan SourceSample {
	return s.samples
}

// Settings implements Source.
func (s *SyntheticSource) Settings() (movie.Settings, movie.Settings, error) {
	video := movie.Settings{
		"codec":     movie.CodecJPEG,
		"width":     s.c.Width,
		"height":    s.c.Height,
		"frameRate": s.c.FrameRate,
	}
	audio := movie.Settings{
		"codec":         movie.CodecLPCM,
		"sampleRate":    s.c.SampleRate,
		"channels":      1,
		"bitsPerSample": 16,
	}
	return video, audio, nil
}

// Run generates samples until ctx is canceled or the frame limit
// is reached. The samples channel is closed when Run returns.
func (s *SyntheticSource) Run(ctx context.Context) error {
	defer close(s.samples)

	frameDur := time.Second / time.Duration(s.c.FrameRate)

	var tick <-chan time.Time
	if s.c.Paced {
		ticker := time.NewTicker(frameDur)
		defer ticker.Stop()
		tick = ticker.C
	}

	var audioFrames int64
	for i := 0; s.c.Frames == 0 || i < s.c.Frames; i++ {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return nil
			}
		}

		pts := time.Duration(i) * frameDur
		frame, err := s.frame(i)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		video := SourceSample{
			Sample: movie.Sample{
				PTS:      pts,
				Duration: frameDur,
				KeyFrame: true,
				Data:     frame,
			},
			IsVideo: true,
		}
		if !s.send(ctx, video) {
			return nil
		}

		// Audio frames up to the end of this video frame.
		end := int64(i+1) * int64(s.c.SampleRate) / int64(s.c.FrameRate)
		audio := SourceSample{
			Sample: movie.Sample{
				PTS:  time.Duration(audioFrames) * time.Second / time.Duration(s.c.SampleRate),
				Data: s.tone(audioFrames, end),
			},
		}
		audioFrames = end
		if !s.send(ctx, audio) {
			return nil
		}
	}
	return nil
}

func (s *SyntheticSource) send(ctx context.Context, sample SourceSample) bool {
	select {
	case s.samples <- sample:
		return true
	case <-ctx.Done():
		return false
	}
}

var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
}

// frame encodes color bars shifted by the frame index.
func (s *SyntheticSource) frame(i int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.c.Width, s.c.Height))
	barWidth := s.c.Width / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	for x := 0; x < s.c.Width; x++ {
		c := barColors[((x+i)/barWidth)%len(barColors)]
		for y := 0; y < s.c.Height; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tone returns 16-bit little-endian mono PCM for frames [start, end).
func (s *SyntheticSource) tone(start, end int64) []byte {
	buf := make([]byte, 2*(end-start))
	for n := start; n < end; n++ {
		t := float64(n) / float64(s.c.SampleRate)
		v := int16(math.Sin(2*math.Pi*s.c.ToneFrequency*t) * math.MaxInt16 / 4)
		binary.LittleEndian.PutUint16(buf[2*(n-start):], uint16(v))
	}
	return buf
}
