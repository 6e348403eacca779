// https://github.com/abema/go-mp4

// Copyright (C) 2020 AbemaTV
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package mp4

import (
	"bytes"
	"testing"

	"sampler/pkg/video/mp4/bitio"

	"github.com/stretchr/testify/require"
)

func TestBoxTypes(t *testing.T) {
	testCases := []struct {
		name string
		src  ImmutableBox
		bin  []byte
	}{
		{
			name: "co64",
			src: &Co64{
				ChunkOffsets: []uint64{0x0123456789abcdef, 0x89abcdef01234567},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
				0x89, 0xab, 0xcd, 0xef, 0x01, 0x23, 0x45, 0x67,
			},
		},
		{
			name: "dref",
			src:  &Dref{EntryCount: 0x12345678},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x12, 0x34, 0x56, 0x78, // entry count
			},
		},
		{
			name: "url: self contained",
			src: &URL{
				FullBox: FullBox{Flags: [3]byte{0, 0, 1}},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x01, // flags
			},
		},
		{
			name: "url: location",
			src: &URL{
				Location: "http://",
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				'h', 't', 't', 'p', ':', '/', '/', 0,
			},
		},
		{
			name: "elst",
			src: &Elst{
				Entries: []ElstEntry{
					{SegmentDuration: 0x10, MediaTime: -1, MediaRateInteger: 1},
					{SegmentDuration: 0x2000, MediaTime: 0, MediaRateInteger: 1},
				},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x00, 0x00, 0x00, 0x10, // segment duration
				0xff, 0xff, 0xff, 0xff, // media time
				0x00, 0x01, // media rate integer
				0x00, 0x00, // media rate fraction
				0x00, 0x00, 0x20, 0x00, // segment duration
				0x00, 0x00, 0x00, 0x00, // media time
				0x00, 0x01, // media rate integer
				0x00, 0x00, // media rate fraction
			},
		},
		{
			name: "esds",
			src: &Esds{
				ESID:       2,
				MaxBitrate: 0x1f739,
				AvgBitrate: 0x1f739,
				Config:     []byte{0x12, 0x10},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				ESDescrTag, 0x80, 0x80, 0x80, 34,
				0, 2, // ES_ID
				0, // flags
				DecoderConfigDescrTag, 0x80, 0x80, 0x80, 20,
				0x40,    // object type
				0x15,    // stream type
				0, 0, 0, // buffer size
				0, 1, 0xf7, 0x39, // max bitrate
				0, 1, 0xf7, 0x39, // avg bitrate
				DecSpecificInfoTag, 0x80, 0x80, 0x80, 2,
				0x12, 0x10,
				SLConfigDescrTag, 0x80, 0x80, 0x80, 1, 2,
			},
		},
		{
			name: "ftyp",
			src: &Ftyp{
				MajorBrand:   [4]byte{'q', 't', ' ', ' '},
				MinorVersion: 0x20050300,
				CompatibleBrands: []CompatibleBrandElem{
					{CompatibleBrand: [4]byte{'q', 't', ' ', ' '}},
				},
			},
			bin: []byte{
				'q', 't', ' ', ' ', // major brand
				0x20, 0x05, 0x03, 0x00, // minor version
				'q', 't', ' ', ' ', // compatible brand
			},
		},
		{
			name: "hdlr",
			src: &Hdlr{
				HandlerType: [4]byte{'s', 'o', 'u', 'n'},
				Name:        "Sound",
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x00, // pre-defined
				's', 'o', 'u', 'n', // handler type
				0x00, 0x00, 0x00, 0x00, // reserved
				0x00, 0x00, 0x00, 0x00, // reserved
				0x00, 0x00, 0x00, 0x00, // reserved
				'S', 'o', 'u', 'n', 'd', 0x00, // name
			},
		},
		{
			name: "mdhd",
			src: &Mdhd{
				Timescale: 90000,
				Duration:  270000,
				Language:  [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x00, // creation time
				0x00, 0x00, 0x00, 0x00, // modification time
				0x00, 0x01, 0x5f, 0x90, // timescale
				0x00, 0x04, 0x1e, 0xb0, // duration
				0x55, 0xc4, // language
				0x00, 0x00, // pre defined
			},
		},
		{
			name: "mdhdVersion1",
			src: &Mdhd{
				FullBox:   FullBox{Version: 1},
				Timescale: 90000,
				Duration:  0x0102030405,
				Language:  [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60},
			},
			bin: []byte{
				1,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // creation time
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // modification time
				0x00, 0x01, 0x5f, 0x90, // timescale
				0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, // duration
				0x55, 0xc4, // language
				0x00, 0x00, // pre defined
			},
		},
		{
			name: "smhd",
			src:  &Smhd{Balance: 0x0102},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x01, 0x02, // balance
				0x00, 0x00, // reserved
			},
		},
		{
			name: "stco",
			src: &Stco{
				ChunkOffsets: []uint32{0x01234567, 0x89abcdef},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, // chunk offset
				0x89, 0xab, 0xcd, 0xef, // chunk offset
			},
		},
		{
			name: "stsc",
			src: &Stsc{
				Entries: []StscEntry{
					{FirstChunk: 0x01234567, SamplesPerChunk: 0x23456789, SampleDescriptionIndex: 0x456789ab},
				},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x01, // entry count
				0x01, 0x23, 0x45, 0x67, // first chunk
				0x23, 0x45, 0x67, 0x89, // sample per chunk
				0x45, 0x67, 0x89, 0xab, // sample description index
			},
		},
		{
			name: "stss",
			src: &Stss{
				SampleNumbers: []uint32{0x01234567, 0x89abcdef},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, // sample number
				0x89, 0xab, 0xcd, 0xef, // sample number
			},
		},
		{
			name: "stsz: common sample size",
			src: &Stsz{
				SampleSize:  0x01234567,
				SampleCount: 2,
				EntrySizes:  []uint32{1, 2},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x01, 0x23, 0x45, 0x67, // sample size
				0x00, 0x00, 0x00, 0x02, // sample count
			},
		},
		{
			name: "stsz: sample size array",
			src: &Stsz{
				SampleCount: 2,
				EntrySizes:  []uint32{0x01234567, 0x23456789},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x00, // sample size
				0x00, 0x00, 0x00, 0x02, // sample count
				0x01, 0x23, 0x45, 0x67, // entry size
				0x23, 0x45, 0x67, 0x89, // entry size
			},
		},
		{
			name: "stts",
			src: &Stts{
				Entries: []SttsEntry{
					{SampleCount: 0x01234567, SampleDelta: 0x23456789},
					{SampleCount: 0x456789ab, SampleDelta: 0x6789abcd},
				},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, // sample count
				0x23, 0x45, 0x67, 0x89, // sample delta
				0x45, 0x67, 0x89, 0xab, // sample count
				0x67, 0x89, 0xab, 0xcd, // sample delta
			},
		},
		{
			name: "sowt",
			src: &AudioSampleEntry{
				SampleEntry:  SampleEntry{DataReferenceIndex: 1},
				Format:       [4]byte{'s', 'o', 'w', 't'},
				ChannelCount: 2,
				SampleSize:   16,
				SampleRate:   48000 << 16,
			},
			bin: []byte{
				0, 0, 0, 0, 0, 0, // reserved
				0x00, 0x01, // data reference index
				0x00, 0x00, // entry version
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // reserved
				0x00, 0x02, // channel count
				0x00, 0x10, // sample size
				0x00, 0x00, // pre-defined
				0x00, 0x00, // reserved
				0xbb, 0x80, 0x00, 0x00, // sample rate
			},
		},
		{
			name: "avcC",
			src: &AvcC{
				ConfigurationVersion: 1,
				Profile:              0x64,
				ProfileCompatibility: 0,
				Level:                0x16,
				LengthSizeMinusOne:   3,
				SequenceParameterSets: []AVCParameterSet{
					{NALUnit: []byte{0x67, 0x64}},
				},
				PictureParameterSets: []AVCParameterSet{
					{NALUnit: []byte{0x68}},
				},
			},
			bin: []byte{
				0x01,                   // configuration version
				0x64,                   // profile
				0x00,                   // profile compatibility
				0x16,                   // level
				0xff,                   // reserved and length size minus one
				0xe1,                   // reserved and sps count
				0x00, 0x02, 0x67, 0x64, // sps
				0x01,             // pps count
				0x00, 0x01, 0x68, // pps
			},
		},
		{
			name: "vmhd",
			src: &Vmhd{
				FullBox:      FullBox{Flags: [3]byte{0, 0, 1}},
				Graphicsmode: 0x0123,
				Opcolor:      [3]uint16{0x2345, 0x4567, 0x6789},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x01, // flags
				0x01, 0x23, // graphics mode
				0x23, 0x45, 0x45, 0x67, 0x67, 0x89, // opcolor
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Marshal.
			buf := bytes.NewBuffer(nil)
			w := bitio.NewWriter(buf)
			err := tc.src.Marshal(w)
			require.NoError(t, err)
			require.Equal(t, tc.bin, buf.Bytes())
			require.Equal(t, len(tc.bin), tc.src.Size())
		})
	}
}

func TestVisualSampleEntry(t *testing.T) {
	entry := &VisualSampleEntry{
		SampleEntry:     SampleEntry{DataReferenceIndex: 1},
		Format:          [4]byte{'j', 'p', 'e', 'g'},
		Width:           640,
		Height:          480,
		Horizresolution: 4718592,
		Vertresolution:  4718592,
		FrameCount:      1,
		Compressorname:  CompressorName("Photo - JPEG"),
		Depth:           24,
		PreDefined3:     -1,
	}
	require.Equal(t, BoxType{'j', 'p', 'e', 'g'}, entry.Type())

	buf := bytes.NewBuffer(nil)
	w := bitio.NewWriter(buf)
	require.NoError(t, entry.Marshal(w))
	require.Equal(t, entry.Size(), buf.Len())

	b := buf.Bytes()
	require.Equal(t, []byte{0x02, 0x80, 0x01, 0xe0}, b[24:28])
	require.Equal(t, byte(12), b[42])
	require.Equal(t, []byte("Photo - JPEG"), b[43:55])
	require.Equal(t, []byte{0xff, 0xff}, b[76:78])
}

func TestCompressorName(t *testing.T) {
	long := CompressorName("0123456789012345678901234567890123456789")
	require.Equal(t, byte(31), long[0])
	require.Equal(t, byte('0'), long[1])
	require.Equal(t, byte('0'), long[31])
}

func TestBoxes(t *testing.T) {
	boxes := Boxes{
		Box: &Dinf{},
		Children: []Boxes{
			{
				Box: &Dref{EntryCount: 1},
				Children: []Boxes{
					{Box: &URL{FullBox: FullBox{Flags: [3]byte{0, 0, 1}}}},
				},
			},
		},
	}
	require.Equal(t, 36, boxes.Size())

	buf := bytes.NewBuffer(nil)
	w := bitio.NewWriter(buf)
	require.NoError(t, boxes.Marshal(w))

	expected := []byte{
		0, 0, 0, 0x24, 'd', 'i', 'n', 'f',
		0, 0, 0, 0x1c, 'd', 'r', 'e', 'f',
		0, 0, 0, 0, // fullbox
		0, 0, 0, 1, // entry count
		0, 0, 0, 0xc, 'u', 'r', 'l', ' ',
		0, 0, 0, 1, // fullbox
	}
	require.Equal(t, expected, buf.Bytes())
	require.Equal(t, int64(36), w.Offset())
}

func TestWriteSingleBox(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	w := bitio.NewWriter(buf)

	n, err := WriteSingleBox(w, &Dinf{})
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, []byte{0, 0, 0, 8, 'd', 'i', 'n', 'f'}, buf.Bytes())
}

func TestWriteMdatHeader(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	w := bitio.NewWriterAt(buf, 20)

	require.NoError(t, WriteMdatHeader(w, 0x0102030405))
	expected := []byte{
		0, 0, 0, 1, 'm', 'd', 'a', 't',
		0, 0, 0, 0x01, 0x02, 0x03, 0x04, 0x05,
	}
	require.Equal(t, expected, buf.Bytes())
	require.Equal(t, int64(20+MdatHeaderSize), w.Offset())
}
