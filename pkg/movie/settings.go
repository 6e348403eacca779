package movie

import (
	"errors"
	"fmt"

	"sampler/pkg/video/aac"

	"github.com/mitchellh/mapstructure"
)

// Settings opaque per-track encoder settings, usually
// the settings recommended by the capture pipeline.
type Settings map[string]interface{}

// Codecs.
const (
	CodecJPEG = "jpeg"
	CodecAVC1 = "avc1"
	CodecAAC  = "aac"
	CodecLPCM = "lpcm"
)

// Settings errors.
var (
	ErrInvalidSettings  = errors.New("invalid settings")
	ErrCodecUnsupported = errors.New("codec not supported")
)

// VideoSettings decoded video track settings.
type VideoSettings struct {
	Codec          string  `mapstructure:"codec"`
	Width          int     `mapstructure:"width"`
	Height         int     `mapstructure:"height"`
	FrameRate      float64 `mapstructure:"frameRate"`
	SPS            []byte  `mapstructure:"sps"`
	PPS            []byte  `mapstructure:"pps"`
	CompressorName string  `mapstructure:"compressorName"`
}

const defaultFrameRate = 30

// DecodeVideoSettings decodes and validates video settings.
func DecodeVideoSettings(in Settings) (*VideoSettings, error) {
	var s VideoSettings
	if err := decodeSettings(in, &s); err != nil {
		return nil, fmt.Errorf("video: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("video: %w", err)
	}
	return &s, nil
}

func (s *VideoSettings) validate() error {
	if s.Width <= 0 || s.Width > 65535 || s.Height <= 0 || s.Height > 65535 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidSettings, s.Width, s.Height)
	}
	if s.FrameRate < 0 {
		return fmt.Errorf("%w: frame rate %v", ErrInvalidSettings, s.FrameRate)
	}
	if s.FrameRate == 0 {
		s.FrameRate = defaultFrameRate
	}

	switch s.Codec {
	case CodecJPEG:
		if s.CompressorName == "" {
			s.CompressorName = "Photo - JPEG"
		}
	case CodecAVC1:
		// Profile, compatibility and level are read from the SPS.
		if len(s.SPS) < 4 {
			return fmt.Errorf("%w: sps missing", ErrInvalidSettings)
		}
		if len(s.PPS) == 0 {
			return fmt.Errorf("%w: pps missing", ErrInvalidSettings)
		}
		if s.CompressorName == "" {
			s.CompressorName = "H.264"
		}
	default:
		return fmt.Errorf("%w: %q", ErrCodecUnsupported, s.Codec)
	}
	return nil
}

// AudioSettings decoded audio track settings.
type AudioSettings struct {
	Codec               string `mapstructure:"codec"`
	SampleRate          int    `mapstructure:"sampleRate"`
	Channels            int    `mapstructure:"channels"`
	BitsPerSample       int    `mapstructure:"bitsPerSample"`
	BitRate             int    `mapstructure:"bitRate"`
	AudioSpecificConfig []byte `mapstructure:"audioSpecificConfig"`
}

// DecodeAudioSettings decodes and validates audio settings.
func DecodeAudioSettings(in Settings) (*AudioSettings, error) {
	var s AudioSettings
	if err := decodeSettings(in, &s); err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}
	return &s, nil
}

func (s *AudioSettings) validate() error {
	if s.Codec == CodecAAC && len(s.AudioSpecificConfig) != 0 {
		if err := s.checkAudioSpecificConfig(); err != nil {
			return err
		}
	}
	if s.SampleRate <= 0 || s.SampleRate > 65535 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidSettings, s.SampleRate)
	}
	if s.Channels == 0 {
		s.Channels = 1
	}
	if s.Channels < 0 || s.Channels > 8 {
		return fmt.Errorf("%w: channels %d", ErrInvalidSettings, s.Channels)
	}

	switch s.Codec {
	case CodecAAC:
		if len(s.AudioSpecificConfig) != 0 {
			return nil
		}
		conf := aac.Config{
			Type:         aac.ObjectTypeAACLC,
			SampleRate:   s.SampleRate,
			ChannelCount: s.Channels,
		}
		var err error
		s.AudioSpecificConfig, err = conf.Marshal()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	case CodecLPCM:
		if s.BitsPerSample == 0 {
			s.BitsPerSample = 16
		}
		// Stored as 'sowt', signed 16 bit little-endian.
		if s.BitsPerSample != 16 {
			return fmt.Errorf("%w: bits per sample %d", ErrInvalidSettings, s.BitsPerSample)
		}
	default:
		return fmt.Errorf("%w: %q", ErrCodecUnsupported, s.Codec)
	}
	return nil
}

// checkAudioSpecificConfig fills the sample rate and channel count
// from the config when they are unset and rejects a mismatch.
func (s *AudioSettings) checkAudioSpecificConfig() error {
	var conf aac.Config
	if err := conf.Unmarshal(s.AudioSpecificConfig); err != nil {
		return fmt.Errorf("%w: audio specific config: %v", ErrInvalidSettings, err)
	}

	if s.SampleRate == 0 {
		s.SampleRate = conf.SampleRate
	}
	if s.SampleRate != conf.SampleRate {
		return fmt.Errorf("%w: sample rate %d, audio specific config %d",
			ErrInvalidSettings, s.SampleRate, conf.SampleRate)
	}

	if s.Channels == 0 {
		s.Channels = conf.ChannelCount
	}
	if s.Channels != conf.ChannelCount {
		return fmt.Errorf("%w: channels %d, audio specific config %d",
			ErrInvalidSettings, s.Channels, conf.ChannelCount)
	}
	return nil
}

// frameSize bytes per LPCM frame.
func (s *AudioSettings) frameSize() int {
	return s.Channels * s.BitsPerSample / 8
}

func decodeSettings(in Settings, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(in)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}
