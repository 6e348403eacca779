package movie

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"sampler/pkg/video/mp4"
	"sampler/pkg/video/mp4/bitio"
)

// File is the output file of a writer.
type File interface {
	io.Writer
	io.WriterAt
	Sync() error
	Close() error
}

// ErrNoSamples no samples were written.
var ErrNoSamples = errors.New("no samples written")

var ftyp = &mp4.Ftyp{
	MajorBrand:   [4]byte{'q', 't', ' ', ' '},
	MinorVersion: 0x20050300,
	CompatibleBrands: []mp4.CompatibleBrandElem{
		{CompatibleBrand: [4]byte{'q', 't', ' ', ' '}},
	},
}

// container writes a QuickTime movie with the mdat box before moov.
// Sample payloads are streamed into mdat as they arrive and the
// index is written after them.
type container struct {
	file File
	out  *bitio.Writer

	mdatStart int64
	lastTrack *track
}

func newContainer(file File) (*container, error) {
	c := &container{
		file: file,
		out:  bitio.NewWriter(file),
	}

	if _, err := mp4.WriteSingleBox(c.out, ftyp); err != nil {
		return nil, fmt.Errorf("write ftyp: %w", err)
	}

	c.mdatStart = c.out.Offset()
	if err := mp4.WriteMdatHeader(c.out, 0); err != nil {
		return nil, fmt.Errorf("write mdat header: %w", err)
	}
	return c, nil
}

func (c *container) writeSample(s queuedSample) error {
	offset := c.out.Offset()
	newChunk := c.lastTrack != s.track
	c.lastTrack = s.track

	if _, err := c.out.Write(s.data); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	s.track.addSample(s, uint64(offset), newChunk)
	return nil
}

// finalize writes moov and patches the mdat size.
func (c *container) finalize(tracks []*track, transform Transform) error {
	var nonEmpty []*track
	for _, t := range tracks {
		if t.empty() {
			continue
		}
		t.close()
		nonEmpty = append(nonEmpty, t)
	}
	if len(nonEmpty) == 0 {
		return ErrNoSamples
	}

	mdatEnd := c.out.Offset()

	bw := bufio.NewWriter(c.file)
	moov := generateMoov(nonEmpty, transform)
	if err := moov.Marshal(bitio.NewWriterAt(bw, mdatEnd)); err != nil {
		return fmt.Errorf("marshal moov: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	// Patch the largesize field.
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(mdatEnd-c.mdatStart))
	if _, err := c.file.WriteAt(size[:], c.mdatStart+8); err != nil {
		return fmt.Errorf("patch mdat size: %w", err)
	}

	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

func generateMoov(tracks []*track, transform Transform) mp4.Boxes {
	/*
	   moov
	   - mvhd
	   - trak (video)
	   - trak (audio)
	*/

	var duration uint64
	var nextTrackID uint32
	for _, t := range tracks {
		if d := t.toMovieTimescale(t.endTick()); d > duration {
			duration = d
		}
		if t.id >= nextTrackID {
			nextTrackID = t.id + 1
		}
	}

	moov := mp4.Boxes{
		Box: &mp4.Moov{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mvhd{
				FullBox:     mp4.FullBox{Version: durationVersion(duration)},
				Timescale:   movieTimescale,
				Duration:    duration,
				Rate:        65536,
				Volume:      256,
				Matrix:      mp4.IdentityMatrix,
				NextTrackID: nextTrackID,
			}},
		},
	}
	for _, t := range tracks {
		moov.Children = append(moov.Children, generateTrak(t, transform))
	}
	return moov
}

func generateTrak(t *track, transform Transform) mp4.Boxes {
	/*
	   trak
	   - tkhd
	   - edts
	     - elst
	   - mdia
	     - mdhd
	     - hdlr
	     - minf
	*/

	duration := t.toMovieTimescale(t.endTick())
	tkhd := &mp4.Tkhd{
		FullBox: mp4.FullBox{
			Version: durationVersion(duration),
			Flags:   [3]byte{0, 0, mp4.TkhdTrackEnabled | mp4.TkhdTrackInMovie},
		},
		TrackID:  t.id,
		Duration: duration,
		Matrix:   mp4.IdentityMatrix,
	}

	hdlr := &mp4.Hdlr{}
	var minf mp4.Boxes

	switch t.kind {
	case trackVideo:
		if !transform.IsZero() {
			tkhd.Matrix = transform.Matrix()
		}
		tkhd.Width = uint32(t.video.Width * 65536)
		tkhd.Height = uint32(t.video.Height * 65536)
		hdlr.HandlerType = [4]byte{'v', 'i', 'd', 'e'}
		hdlr.Name = "VideoHandler"
		minf = generateMinf(t, mp4.Boxes{Box: &mp4.Vmhd{
			FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}},
		}})
	case trackAudio:
		tkhd.AlternateGroup = 1
		tkhd.Volume = 256
		hdlr.HandlerType = [4]byte{'s', 'o', 'u', 'n'}
		hdlr.Name = "SoundHandler"
		minf = generateMinf(t, mp4.Boxes{Box: &mp4.Smhd{}})
	}

	trak := mp4.Boxes{
		Box:      &mp4.Trak{},
		Children: []mp4.Boxes{{Box: tkhd}},
	}

	// A track that starts after time zero is delayed by an empty edit.
	if t.firstTick > 0 {
		trak.Children = append(trak.Children, mp4.Boxes{
			Box: &mp4.Edts{},
			Children: []mp4.Boxes{{Box: &mp4.Elst{
				Entries: []mp4.ElstEntry{
					{
						SegmentDuration:  uint32(t.toMovieTimescale(t.firstTick)),
						MediaTime:        -1,
						MediaRateInteger: 1,
					},
					{
						SegmentDuration:  uint32(t.toMovieTimescale(t.mediaDuration)),
						MediaTime:        0,
						MediaRateInteger: 1,
					},
				},
			}}},
		})
	}

	trak.Children = append(trak.Children, mp4.Boxes{
		Box: &mp4.Mdia{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mdhd{
				FullBox:   mp4.FullBox{Version: durationVersion(uint64(t.mediaDuration))},
				Timescale: uint32(t.timescale),
				Duration:  uint64(t.mediaDuration),
				Language:  [3]byte{'u', 'n', 'd'},
			}},
			{Box: hdlr},
			minf,
		},
	})
	return trak
}

// durationVersion returns the header box version able to hold the duration.
func durationVersion(duration uint64) uint8 {
	if duration > math.MaxUint32 {
		return 1
	}
	return 0
}

func generateMinf(t *track, mediaHeader mp4.Boxes) mp4.Boxes {
	/*
	   minf
	   - vmhd | smhd
	   - dinf
	     - dref
	       - url
	   - stbl
	*/

	return mp4.Boxes{
		Box: &mp4.Minf{},
		Children: []mp4.Boxes{
			mediaHeader,
			{
				Box: &mp4.Dinf{},
				Children: []mp4.Boxes{
					{
						Box: &mp4.Dref{EntryCount: 1},
						Children: []mp4.Boxes{
							{Box: &mp4.URL{
								FullBox: mp4.FullBox{Flags: [3]byte{0, 0, mp4.URLSelfContained}},
							}},
						},
					},
				},
			},
			generateStbl(t),
		},
	}
}

func generateStbl(t *track) mp4.Boxes {
	/*
	   stbl
	   - stsd
	   - stts
	   - stss
	   - stsc
	   - stsz
	   - stco | co64
	*/

	stbl := mp4.Boxes{
		Box: &mp4.Stbl{},
		Children: []mp4.Boxes{
			generateStsd(t),
			{Box: &mp4.Stts{Entries: t.stts}},
		},
	}

	if !t.allSync {
		stbl.Children = append(stbl.Children, mp4.Boxes{
			Box: &mp4.Stss{SampleNumbers: t.stss},
		})
	}

	stbl.Children = append(stbl.Children, mp4.Boxes{
		Box: &mp4.Stsc{Entries: t.compactStsc()},
	})

	if t.frameSize != 0 {
		stbl.Children = append(stbl.Children, mp4.Boxes{Box: &mp4.Stsz{
			SampleSize:  uint32(t.frameSize),
			SampleCount: t.sampleCount,
		}})
	} else {
		stbl.Children = append(stbl.Children, mp4.Boxes{Box: &mp4.Stsz{
			SampleCount: t.sampleCount,
			EntrySizes:  t.stsz,
		}})
	}

	stbl.Children = append(stbl.Children, generateChunkOffsets(t.chunkOffsets))
	return stbl
}

func generateChunkOffsets(offsets []uint64) mp4.Boxes {
	large := len(offsets) != 0 && offsets[len(offsets)-1] > math.MaxUint32
	if large {
		return mp4.Boxes{Box: &mp4.Co64{ChunkOffsets: offsets}}
	}

	stco := make([]uint32, len(offsets))
	for i, offset := range offsets {
		stco[i] = uint32(offset)
	}
	return mp4.Boxes{Box: &mp4.Stco{ChunkOffsets: stco}}
}

func generateStsd(t *track) mp4.Boxes {
	/*
	   stsd
	   - avc1 | jpeg
	     - avcC
	   - mp4a | sowt
	     - esds
	*/

	var entry mp4.Boxes
	switch t.kind {
	case trackVideo:
		entry = generateVisualSampleEntry(t.video)
	case trackAudio:
		entry = generateAudioSampleEntry(t.audio, t.id)
	}

	return mp4.Boxes{
		Box:      &mp4.Stsd{EntryCount: 1},
		Children: []mp4.Boxes{entry},
	}
}

func generateVisualSampleEntry(s *VideoSettings) mp4.Boxes {
	entry := mp4.Boxes{
		Box: &mp4.VisualSampleEntry{
			SampleEntry: mp4.SampleEntry{
				DataReferenceIndex: 1,
			},
			Width:           uint16(s.Width),
			Height:          uint16(s.Height),
			Horizresolution: 4718592, // 72 dpi.
			Vertresolution:  4718592,
			FrameCount:      1,
			Compressorname:  mp4.CompressorName(s.CompressorName),
			Depth:           24,
			PreDefined3:     -1,
		},
	}

	switch s.Codec {
	case CodecJPEG:
		entry.Box.(*mp4.VisualSampleEntry).Format = [4]byte{'j', 'p', 'e', 'g'}
	case CodecAVC1:
		entry.Box.(*mp4.VisualSampleEntry).Format = [4]byte{'a', 'v', 'c', '1'}
		entry.Children = []mp4.Boxes{{Box: &mp4.AvcC{
			ConfigurationVersion:  1,
			Profile:               s.SPS[1],
			ProfileCompatibility:  s.SPS[2],
			Level:                 s.SPS[3],
			LengthSizeMinusOne:    3,
			SequenceParameterSets: []mp4.AVCParameterSet{{NALUnit: s.SPS}},
			PictureParameterSets:  []mp4.AVCParameterSet{{NALUnit: s.PPS}},
		}}}
	}
	return entry
}

func generateAudioSampleEntry(s *AudioSettings, trackID uint32) mp4.Boxes {
	entry := &mp4.AudioSampleEntry{
		SampleEntry: mp4.SampleEntry{
			DataReferenceIndex: 1,
		},
		ChannelCount: uint16(s.Channels),
		SampleSize:   16,
		SampleRate:   uint32(s.SampleRate) << 16,
	}

	switch s.Codec {
	case CodecLPCM:
		entry.Format = [4]byte{'s', 'o', 'w', 't'}
		entry.SampleSize = uint16(s.BitsPerSample)
		return mp4.Boxes{Box: entry}
	default:
		entry.Format = [4]byte{'m', 'p', '4', 'a'}
		return mp4.Boxes{
			Box: entry,
			Children: []mp4.Boxes{{Box: &mp4.Esds{
				ESID:       uint16(trackID),
				MaxBitrate: uint32(s.BitRate),
				AvgBitrate: uint32(s.BitRate),
				Config:     s.AudioSpecificConfig,
			}}},
		}
	}
}
