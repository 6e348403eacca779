// SPDX-License-Identifier: GPL-2.0-or-later

// Package aac encodes and decodes MPEG-4 AudioSpecificConfig.
package aac

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

// ObjectType is a MPEG-4 audio object type.
type ObjectType uint8

// Supported object types.
const (
	ObjectTypeAACLC ObjectType = 2
)

// Errors.
var (
	ErrTypeUnsupported     = errors.New("unsupported object type")
	ErrSampleRateInvalid   = errors.New("invalid sample rate")
	ErrChannelCountInvalid = errors.New("invalid channel count")
)

// ref: ISO 14496-3, sampling frequency index.
var sampleRates = []int{
	96000,
	88200,
	64000,
	48000,
	44100,
	32000,
	24000,
	22050,
	16000,
	12000,
	11025,
	8000,
	7350,
}

func sampleRateIndex(rate int) (int, bool) {
	for i, r := range sampleRates {
		if r == rate {
			return i, true
		}
	}
	return 0, false
}

// Config is a MPEG-4 Audio configuration.
type Config struct {
	Type         ObjectType
	SampleRate   int
	ChannelCount int
}

// Marshal encodes the configuration into an AudioSpecificConfig.
func (c Config) Marshal() ([]byte, error) {
	if c.Type != ObjectTypeAACLC {
		return nil, fmt.Errorf("%w: %d", ErrTypeUnsupported, c.Type)
	}
	if c.SampleRate <= 0 || c.SampleRate >= 1<<24 {
		return nil, fmt.Errorf("%w: %d", ErrSampleRateInvalid, c.SampleRate)
	}

	var channelConfig int
	switch {
	case c.ChannelCount >= 1 && c.ChannelCount <= 6:
		channelConfig = c.ChannelCount
	case c.ChannelCount == 8:
		channelConfig = 7
	default:
		return nil, fmt.Errorf("%w: %d", ErrChannelCountInvalid, c.ChannelCount)
	}

	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)

	w.TryWriteBits(uint64(c.Type), 5)
	if index, ok := sampleRateIndex(c.SampleRate); ok {
		w.TryWriteBits(uint64(index), 4)
	} else {
		w.TryWriteBits(15, 4)
		w.TryWriteBits(uint64(c.SampleRate), 24)
	}
	w.TryWriteBits(uint64(channelConfig), 4)

	// GASpecificConfig: frameLengthFlag, dependsOnCoreCoder, extensionFlag.
	w.TryWriteBits(0, 3)

	if w.TryError != nil {
		return nil, w.TryError
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes an AudioSpecificConfig.
func (c *Config) Unmarshal(buf []byte) error {
	r := bitio.NewReader(bytes.NewReader(buf))

	typ := r.TryReadBits(5)
	index := r.TryReadBits(4)
	rate := 0
	switch {
	case index <= 12:
		rate = sampleRates[index]
	case index == 15:
		rate = int(r.TryReadBits(24))
	}
	channelConfig := r.TryReadBits(4)
	if r.TryError != nil {
		return fmt.Errorf("read config: %w", r.TryError)
	}

	c.Type = ObjectType(typ)
	if c.Type != ObjectTypeAACLC {
		return fmt.Errorf("%w: %d", ErrTypeUnsupported, c.Type)
	}
	if rate == 0 {
		return fmt.Errorf("%w: index %d", ErrSampleRateInvalid, index)
	}
	c.SampleRate = rate

	switch {
	case channelConfig >= 1 && channelConfig <= 6:
		c.ChannelCount = int(channelConfig)
	case channelConfig == 7:
		c.ChannelCount = 8
	default:
		return fmt.Errorf("%w: config %d", ErrChannelCountInvalid, channelConfig)
	}
	return nil
}

// SamplesPerFrame is the number of PCM frames in one AAC-LC access unit.
const SamplesPerFrame = 1024
