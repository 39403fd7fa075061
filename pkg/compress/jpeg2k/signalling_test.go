package jpeg2k

import (
	"bytes"
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSignalling(t *testing.T, comp *Component) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := NewBitWriter(&buf)
	for _, lvl := range comp.Levels {
		for _, b := range lvl.Bands {
			require.NoError(t, b.EncodeSignalling(bw))
		}
	}
	require.NoError(t, bw.Flush())
	return buf.Bytes()
}

func TestSignalling_RoundTrip(t *testing.T) {
	sparse := make([]int, 48*32)
	sparse[0], sparse[47], sparse[48*31+5] = 90, -64, 7

	tests := []struct {
		name    string
		samples []int
		cblk    int // Code-block exponent above 2
		sizes   []byte
	}{
		{"noise", randomSamples(5, 48*32, -128, 127), 2, nil},
		{"sparse small blocks", sparse, 0, nil},
		{"sparse precincts", sparse, 0, []byte{0x22, 0x33, 0x44}},
		{"zero", make([]int, 48*32), 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			build := func() *Component {
				cs := DefaultCodingStyle(2)
				cs.CodeBlockWidthExp, cs.CodeBlockHeightExp = tt.cblk, tt.cblk
				if tt.sizes != nil {
					cs.Scod |= CodingStylePrecinctsUser
					cs.PrecinctSizes = tt.sizes
				}
				comp, err := BuildComponent(image.Rect(0, 0, 48, 32), cs, ReversibleQuantStyle(2, 8, 3), 8, 1, 1)
				require.NoError(t, err)
				return comp
			}
			comp := build()
			_, err := NewTileEncoder(comp, nil).EncodeTile(context.Background(), tt.samples)
			require.NoError(t, err)

			data := encodeSignalling(t, comp)
			assert.Equal(t, data, encodeSignalling(t, comp), "signalling is repeatable")

			fresh := build()
			br := NewBitReader(bytes.NewReader(data))
			for _, lvl := range fresh.Levels {
				for _, b := range lvl.Bands {
					require.NoError(t, b.DecodeSignalling(br))
				}
			}
			want, got := collectJobs(comp), collectJobs(fresh)
			require.Equal(t, len(want), len(got))
			for i := range want {
				assert.Equal(t, want[i].cb.Zero, got[i].cb.Zero, "%v", want[i].cb.Bounds)
				assert.Equal(t, want[i].cb.ZeroBitPlanes, got[i].cb.ZeroBitPlanes, "%v", want[i].cb.Bounds)
				assert.Equal(t, want[i].cb.NonZeroBits, got[i].cb.NonZeroBits, "%v", want[i].cb.Bounds)
				assert.Equal(t, want[i].cb.NumPasses, got[i].cb.NumPasses, "%v", want[i].cb.Bounds)
				assert.Equal(t, len(want[i].cb.Data), got[i].cb.Length, "%v", want[i].cb.Bounds)
				assert.Equal(t, want[i].cb.Lblock, got[i].cb.Lblock, "%v", want[i].cb.Bounds)
			}
		})
	}
}

func TestSignalling_Truncated(t *testing.T) {
	comp, err := BuildComponent(image.Rect(0, 0, 16, 16), DefaultCodingStyle(1), ReversibleQuantStyle(1, 8, 2), 8, 1, 1)
	require.NoError(t, err)
	err = comp.Levels[0].Bands[0].DecodeSignalling(NewBitReader(bytes.NewReader(nil)))
	assert.Error(t, err)
}

func TestSignalling_PassCount(t *testing.T) {
	codewords := []struct {
		n    int
		bits string
	}{
		{1, "0"},
		{2, "10"},
		{3, "1100"},
		{5, "1110"},
		{6, "111100000"},
		{36, "111111110"},
		{37, "1111111110000000"},
		{164, "1111111111111111"},
	}
	for _, tt := range codewords {
		var buf bytes.Buffer
		bw := NewBitWriter(&buf)
		require.NoError(t, writePassCount(bw, tt.n))
		assert.Equal(t, len(tt.bits), bw.Len(), "%d", tt.n)
		require.NoError(t, bw.Flush())

		br := NewBitReader(bytes.NewReader(buf.Bytes()))
		var got []byte
		for range tt.bits {
			bit, err := br.ReadBit()
			require.NoError(t, err)
			got = append(got, byte('0'+bit))
		}
		assert.Equal(t, tt.bits, string(got), "%d", tt.n)
	}

	var buf bytes.Buffer
	bw := NewBitWriter(&buf)
	for n := 1; n <= maxSignalledPasses; n++ {
		require.NoError(t, writePassCount(bw, n))
	}
	require.NoError(t, bw.Flush())
	br := NewBitReader(bytes.NewReader(buf.Bytes()))
	for n := 1; n <= maxSignalledPasses; n++ {
		got, err := readPassCount(br)
		require.NoError(t, err)
		require.Equal(t, n, got)
	}

	for _, n := range []int{0, maxSignalledPasses + 1} {
		assert.ErrorIs(t, writePassCount(NewBitWriter(&bytes.Buffer{}), n), ErrCapacityExceeded)
	}
}

func TestSignalling_Length(t *testing.T) {
	tests := []struct {
		passes int
		length int
		lblock int
	}{
		{1, 0, 3},
		{1, 7, 3},
		{1, 8, 4},
		{4, 31, 3},
		{4, 32, 4},
		{10, 5000, 10},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		bw := NewBitWriter(&buf)
		enc := &Codeblock{NumPasses: tt.passes}
		require.NoError(t, writeLength(bw, enc, tt.length))
		assert.Equal(t, tt.lblock, enc.Lblock, "%d bytes in %d passes", tt.length, tt.passes)
		require.NoError(t, bw.Flush())

		dec := &Codeblock{NumPasses: tt.passes, Lblock: 3}
		got, err := readLength(NewBitReader(bytes.NewReader(buf.Bytes())), dec)
		require.NoError(t, err)
		assert.Equal(t, tt.length, got)
		assert.Equal(t, tt.lblock, dec.Lblock)
	}

	err := writeLength(NewBitWriter(&bytes.Buffer{}), &Codeblock{NumPasses: 1}, 1<<maxLengthBits)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// A run of ones never ends in a valid field
	_, err = readLength(NewBitReader(bytes.NewReader(bytes.Repeat([]byte{0xFF}, 8))), &Codeblock{NumPasses: 1, Lblock: 3})
	assert.ErrorIs(t, err, ErrConsistency)
}

func TestSignalling_Align(t *testing.T) {
	comp, err := BuildComponent(image.Rect(0, 0, 32, 32), DefaultCodingStyle(1), ReversibleQuantStyle(1, 8, 2), 8, 1, 1)
	require.NoError(t, err)
	_, err = NewTileEncoder(comp, nil).EncodeTile(context.Background(), randomSamples(9, 32*32, -128, 127))
	require.NoError(t, err)

	// Byte fields written after the signalling are read back after Align
	var buf bytes.Buffer
	bw := NewByteWriter(&buf)
	sig := bw.BitWriter()
	for _, b := range comp.Levels[1].Bands {
		require.NoError(t, b.EncodeSignalling(sig))
	}
	require.NoError(t, sig.Flush())
	require.NoError(t, bw.WriteUint32(0xCAFEF00D))
	require.NoError(t, bw.Flush())

	br := NewByteReader(&buf)
	rs := br.BitReader()
	for _, b := range comp.Levels[1].Bands {
		require.NoError(t, b.DecodeSignalling(rs))
	}
	rs.Align()
	v, err := br.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEF00D), v)
}
